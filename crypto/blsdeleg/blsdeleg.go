// Package blsdeleg implements an optional BLS12-381 co-signer backend for
// third-party block delegation (§4.3 "third-party attenuation"). It is not
// one of the two algorithms the wire format's PublicKey.Algorithm enum
// reserves (Ed25519=0, secp256r1=1, see crypto/chainsig) — a site that wants
// to aggregate several third-party signatures sharing one external key
// across blocks registers this as an additional out-of-band Algorithm and
// carries the aggregate alongside the token rather than inside a single
// ExternalSignature field.
//
// Built on gnark-crypto's BLS12-381 group implementation, the same curve
// used by validator consensus signing elsewhere in this stack. Key
// generation, signing, verification, and aggregation follow that usage;
// key-file persistence is intentionally left out since delegation keys are
// supplied by the caller, not loaded from a validator key store.
package blsdeleg

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"

	"github.com/certen/biscuit/internal/errs"
)

var (
	initOnce sync.Once
	initErr  error

	g1Gen bls12381.G1Affine
	g2Gen bls12381.G2Affine
)

// Initialize sets up the G1/G2 generator points. Idempotent; safe to call
// from every constructor below.
func Initialize() error {
	initOnce.Do(func() {
		_, _, g1Gen, g2Gen = bls12381.Generators()
	})
	return initErr
}

// PrivateKey is a BLS12-381 scalar in Fr.
type PrivateKey struct {
	scalar fr.Element
}

// PublicKey is a point on G2: pk = sk * G2.
type PublicKey struct {
	point bls12381.G2Affine
}

// Signature is a point on G1: sig = sk * H(message).
type Signature struct {
	point bls12381.G1Affine
}

// GenerateKeyPair creates a fresh BLS keypair, reading randomness from rnd.
func GenerateKeyPair(rnd io.Reader) (PrivateKey, PublicKey, error) {
	if err := Initialize(); err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	buf := make([]byte, fr.Bytes)
	if _, err := io.ReadFull(rnd, buf); err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	var sk fr.Element
	sk.SetBytes(buf)
	priv := PrivateKey{scalar: sk}
	return priv, priv.Public(), nil
}

// Public derives the public key: pk = sk * G2.
func (sk PrivateKey) Public() PublicKey {
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return PublicKey{point: pk}
}

// Bytes returns the 32-byte big-endian scalar.
func (sk PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

// PrivateKeyFromBytes reconstructs a private key from its 32-byte encoding.
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	if len(b) != fr.Bytes {
		return PrivateKey{}, errs.Validation(errs.CodeInvalidKey, "bls: private key must be %d bytes", fr.Bytes)
	}
	var sk fr.Element
	sk.SetBytes(b)
	return PrivateKey{scalar: sk}, nil
}

// PrivateKeyFromHex reconstructs a private key from a hex string.
func PrivateKeyFromHex(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PrivateKey{}, err
	}
	return PrivateKeyFromBytes(b)
}

// Sign signs message: sig = sk * H(message).
func (sk PrivateKey) Sign(message []byte) Signature {
	h := hashToG1(message)
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return Signature{point: sig}
}

// Bytes returns the compressed G2 point encoding.
func (pk PublicKey) Bytes() []byte {
	b := pk.point.Bytes()
	return b[:]
}

// PublicKeyFromBytes reconstructs a public key from its compressed G2
// encoding.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk bls12381.G2Affine
	if _, err := pk.SetBytes(b); err != nil {
		return PublicKey{}, errs.Validation(errs.CodeInvalidKey, "bls: %v", err)
	}
	return PublicKey{point: pk}, nil
}

// Equal reports whether two public keys are the same G2 point.
func (pk PublicKey) Equal(other PublicKey) bool {
	return pk.point.Equal(&other.point)
}

// Verify checks sig over message under pk via the pairing equation
// e(sig, G2) == e(H(message), pk).
func (pk PublicKey) Verify(sig Signature, message []byte) bool {
	h := hashToG1(message)
	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig.point, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	return err == nil && ok
}

// Bytes returns the compressed G1 point encoding.
func (sig Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

// SignatureFromBytes reconstructs a signature from its compressed G1
// encoding.
func SignatureFromBytes(b []byte) (Signature, error) {
	var sig bls12381.G1Affine
	if _, err := sig.SetBytes(b); err != nil {
		return Signature{}, errs.Validation(errs.CodeInvalidSignature, "bls: %v", err)
	}
	return Signature{point: sig}, nil
}

// Aggregate combines signatures produced by distinct third-party keys over
// the same message into one G1 point, letting a verifier run a single
// pairing check against AggregatePublicKeys instead of one per signer.
func Aggregate(signatures []Signature) (Signature, error) {
	if err := Initialize(); err != nil {
		return Signature{}, err
	}
	if len(signatures) == 0 {
		return Signature{}, errors.New("bls: no signatures to aggregate")
	}
	var acc bls12381.G1Jac
	acc.FromAffine(&signatures[0].point)
	for i := 1; i < len(signatures); i++ {
		var jac bls12381.G1Jac
		jac.FromAffine(&signatures[i].point)
		acc.AddAssign(&jac)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&acc)
	return Signature{point: result}, nil
}

// AggregatePublicKeys combines the public keys of the signers whose
// signatures were combined by Aggregate, in the same order.
func AggregatePublicKeys(keys []PublicKey) (PublicKey, error) {
	if err := Initialize(); err != nil {
		return PublicKey{}, err
	}
	if len(keys) == 0 {
		return PublicKey{}, errors.New("bls: no public keys to aggregate")
	}
	var acc bls12381.G2Jac
	acc.FromAffine(&keys[0].point)
	for i := 1; i < len(keys); i++ {
		var jac bls12381.G2Jac
		jac.FromAffine(&keys[i].point)
		acc.AddAssign(&jac)
	}
	var result bls12381.G2Affine
	result.FromJacobian(&acc)
	return PublicKey{point: result}, nil
}

// VerifyAggregate verifies an aggregate signature against the corresponding
// aggregate public key, all signers having signed the same message. This is
// the only aggregate form supported: rogue-key-attack resistance is left to
// the caller (e.g. proof-of-possession on key registration), matching the
// source package's scope.
func VerifyAggregate(aggSig Signature, keys []PublicKey, message []byte) bool {
	aggPk, err := AggregatePublicKeys(keys)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, message)
}

// hashToG1 hashes a message to a point on G1 using a counter-incremented
// SHA-256 construction, falling back to scalar multiplication of the
// generator if no valid point is found within a bounded number of tries.
func hashToG1(message []byte) bls12381.G1Affine {
	h := sha256.New()
	h.Write([]byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_"))
	h.Write(message)
	seed := h.Sum(nil)

	for counter := uint64(0); counter < 1000; counter++ {
		h2 := sha256.New()
		h2.Write(seed)
		binary.Write(h2, binary.BigEndian, counter)
		digest := h2.Sum(nil)

		var point bls12381.G1Affine
		if _, err := point.SetBytes(digest); err == nil && !point.IsInfinity() {
			return point
		}

		var scalar fr.Element
		scalar.SetBytes(digest)
		var scalarBig big.Int
		scalar.BigInt(&scalarBig)
		var result bls12381.G1Affine
		result.ScalarMultiplication(&g1Gen, &scalarBig)
		if !result.IsInfinity() {
			return result
		}
	}
	return g1Gen
}
