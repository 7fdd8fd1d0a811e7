// Package chainsig implements the block chain's signature math: the V0
// (legacy) and V1 (current) signature-input schemes of §4.2, and Ed25519 /
// secp256r1 signing and verification.
//
// Ed25519 uses stdlib crypto/ed25519. secp256r1 uses stdlib crypto/ecdsa
// over crypto/elliptic's P256 curve — secp256k1 (the Bitcoin/Ethereum
// curve) is a different curve entirely, so NIST P-256 support stays on
// stdlib.
package chainsig

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"io"
	"math/big"

	"github.com/certen/biscuit/internal/errs"
)

// Algorithm identifies the signing scheme for a keypair, matching the
// wire's PublicKey.Algorithm enum (§6): Ed25519=0, secp256r1=1.
type Algorithm uint32

const (
	AlgorithmEd25519   Algorithm = 0
	AlgorithmSecp256r1 Algorithm = 1

	// AlgorithmBLS12381 tags a PublicKey carrying a crypto/blsdeleg key
	// instead of one of the two reserved wire algorithms above. It is
	// out-of-band: GenerateKeyPair/Sign/Verify here don't implement it
	// (there's no PrivateKey case for it), it only labels bytes produced
	// by crypto/blsdeleg so a PublicKey can travel through ExternalSignature
	// and get routed to the right verifier.
	AlgorithmBLS12381 Algorithm = 2
)

// PublicKey is an algorithm-tagged public key. Ed25519 keys are 32 raw
// bytes; secp256r1 keys are 33-byte SEC1-compressed points (§6).
type PublicKey struct {
	Algorithm Algorithm
	Bytes     []byte
}

// PrivateKey is an algorithm-tagged private signing key.
type PrivateKey struct {
	Algorithm Algorithm
	ed        ed25519.PrivateKey
	ec        *ecdsa.PrivateKey
}

// GenerateKeyPair creates a fresh keypair in the given algorithm, reading
// randomness from rnd (callers inject the source — §5 "randomness ...
// treat it as an explicit parameter").
func GenerateKeyPair(alg Algorithm, rnd io.Reader) (PrivateKey, PublicKey, error) {
	switch alg {
	case AlgorithmEd25519:
		pub, priv, err := ed25519.GenerateKey(rnd)
		if err != nil {
			return PrivateKey{}, PublicKey{}, err
		}
		return PrivateKey{Algorithm: alg, ed: priv}, PublicKey{Algorithm: alg, Bytes: append([]byte(nil), pub...)}, nil
	case AlgorithmSecp256r1:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rnd)
		if err != nil {
			return PrivateKey{}, PublicKey{}, err
		}
		compressed := elliptic.MarshalCompressed(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y)
		return PrivateKey{Algorithm: alg, ec: priv}, PublicKey{Algorithm: alg, Bytes: compressed}, nil
	default:
		return PrivateKey{}, PublicKey{}, errs.Validation(errs.CodeInvalidVersion, "unknown algorithm %d", alg)
	}
}

// Bytes returns the private key's raw export form: the 64-byte Ed25519
// private key, or the 32-byte big-endian secp256r1 scalar. Used by the
// Proof wire encoding for the open-token `next_secret` field.
func (k PrivateKey) Bytes() []byte {
	switch k.Algorithm {
	case AlgorithmEd25519:
		return append([]byte(nil), k.ed...)
	case AlgorithmSecp256r1:
		out := make([]byte, 32)
		k.ec.D.FillBytes(out)
		return out
	}
	return nil
}

// PrivateKeyFromBytes reconstructs a private key from its raw export form
// under the given algorithm.
func PrivateKeyFromBytes(alg Algorithm, raw []byte) (PrivateKey, error) {
	switch alg {
	case AlgorithmEd25519:
		if len(raw) != ed25519.PrivateKeySize {
			return PrivateKey{}, errs.Validation(errs.CodeInvalidKey, "ed25519 private key must be %d bytes", ed25519.PrivateKeySize)
		}
		return PrivateKey{Algorithm: alg, ed: append(ed25519.PrivateKey(nil), raw...)}, nil
	case AlgorithmSecp256r1:
		if len(raw) != 32 {
			return PrivateKey{}, errs.Validation(errs.CodeInvalidKey, "secp256r1 private key must be 32 bytes")
		}
		d := new(big.Int).SetBytes(raw)
		x, y := elliptic.P256().ScalarBaseMult(raw)
		priv := &ecdsa.PrivateKey{PublicKey: ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, D: d}
		return PrivateKey{Algorithm: alg, ec: priv}, nil
	}
	return PrivateKey{}, errs.Validation(errs.CodeInvalidVersion, "unknown algorithm %d", alg)
}

// Public returns the public half of a private key.
func (k PrivateKey) Public() PublicKey {
	switch k.Algorithm {
	case AlgorithmEd25519:
		return PublicKey{Algorithm: k.Algorithm, Bytes: append([]byte(nil), k.ed.Public().(ed25519.PublicKey)...)}
	case AlgorithmSecp256r1:
		compressed := elliptic.MarshalCompressed(elliptic.P256(), k.ec.PublicKey.X, k.ec.PublicKey.Y)
		return PublicKey{Algorithm: k.Algorithm, Bytes: compressed}
	}
	return PublicKey{}
}

// Sign produces a signature over msg: raw 64-byte Ed25519, or DER-encoded
// ECDSA for secp256r1 (§4.3).
func (k PrivateKey) Sign(msg []byte) ([]byte, error) {
	switch k.Algorithm {
	case AlgorithmEd25519:
		return ed25519.Sign(k.ed, msg), nil
	case AlgorithmSecp256r1:
		h := sha256.Sum256(msg)
		r, s, err := ecdsa.Sign(rand.Reader, k.ec, h[:])
		if err != nil {
			return nil, err
		}
		return encodeDER(r, s)
	}
	return nil, errs.Validation(errs.CodeInvalidVersion, "unknown algorithm %d", k.Algorithm)
}

// Verify checks sig over msg under pub.
func (pub PublicKey) Verify(msg, sig []byte) bool {
	switch pub.Algorithm {
	case AlgorithmEd25519:
		if len(pub.Bytes) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub.Bytes), msg, sig)
	case AlgorithmSecp256r1:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pub.Bytes)
		if x == nil {
			return false
		}
		r, s, err := decodeDER(sig)
		if err != nil {
			return false
		}
		h := sha256.Sum256(msg)
		ecpub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
		return ecdsa.Verify(ecpub, h[:], r, s)
	}
	return false
}

type ecdsaSignature struct {
	R, S *big.Int
}

func encodeDER(r, s *big.Int) ([]byte, error) {
	return asn1.Marshal(ecdsaSignature{R: r, S: s})
}

func decodeDER(der []byte) (*big.Int, *big.Int, error) {
	var sig ecdsaSignature
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		return nil, nil, err
	}
	return sig.R, sig.S, nil
}

// RawToDER converts a 64-byte fixed-width (R||S) secp256r1 signature to
// its DER encoding, for boundaries that only have the raw representation.
func RawToDER(raw []byte) ([]byte, error) {
	if len(raw) != 64 {
		return nil, errs.Validation(errs.CodeInvalidSignature, "raw secp256r1 signature must be 64 bytes")
	}
	r := new(big.Int).SetBytes(raw[:32])
	s := new(big.Int).SetBytes(raw[32:])
	return encodeDER(r, s)
}

// DERToRaw converts a DER-encoded secp256r1 signature to its 64-byte
// fixed-width (R||S) representation.
func DERToRaw(der []byte) ([]byte, error) {
	r, s, err := decodeDER(der)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 64)
	r.FillBytes(out[:32])
	s.FillBytes(out[32:])
	return out, nil
}
