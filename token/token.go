// Package token is the public façade (§4.6): create, attenuate, seal,
// serialize, and authorize tokens by composing block, crypto/chainsig,
// internal/datalog, and wire. Its functions take and return types from
// block, crypto/chainsig, internal/datalog, and internal/term.
package token

import (
	"io"
	"time"

	"github.com/certen/biscuit/block"
	"github.com/certen/biscuit/crypto/blsdeleg"
	"github.com/certen/biscuit/crypto/chainsig"
	"github.com/certen/biscuit/internal/datalog"
	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/intern"
	"github.com/certen/biscuit/internal/telemetry"
	"github.com/certen/biscuit/internal/term"
	"github.com/certen/biscuit/wire"
)

// Token wraps a verified chain with the interning tables its payloads
// were built against, ready for attenuation, sealing, or authorization.
type Token struct {
	chain  block.Token
	tables *intern.Tables
}

// New creates a token with a single authority block, signed by rootSecret
// with a freshly generated next-keypair in nextAlgorithm.
func New(rootSecret chainsig.PrivateKey, nextAlgorithm chainsig.Algorithm, payload block.DatalogBlock, rnd io.Reader) (*Token, error) {
	tables := intern.NewTables()

	nextSecret, nextPub, err := chainsig.GenerateKeyPair(nextAlgorithm, rnd)
	if err != nil {
		return nil, err
	}

	payloadBytes, newSymbols := encodeWithNewSymbols(tables.Symbols, tables.PublicKeys, payload)
	payload.Symbols = newSymbols
	input := chainsig.V1BlockInput(payloadBytes, nextAlgorithm, nextPub.Bytes, nil, nil)
	sig, err := rootSecret.Sign(input)
	if err != nil {
		return nil, err
	}

	b := block.Block{
		Payload:   payload,
		NextKey:   nextPub,
		Signature: sig,
	}

	return &Token{
		chain: block.Token{
			Authority: b,
			Proof:     block.Proof{NextSecret: &nextSecret},
		},
		tables: tables,
	}, nil
}

// Attenuate appends a new block signed by the current next-key secret,
// minting a fresh next-keypair in nextAlgorithm. Only valid on an open
// (unsealed) token.
func (t *Token) Attenuate(payload block.DatalogBlock, nextAlgorithm chainsig.Algorithm, rnd io.Reader) (*Token, error) {
	start := time.Now()
	if t.chain.Proof.Sealed() {
		return nil, errs.Attenuation(errs.CodeCannotAttenuateSealed, "cannot attenuate a sealed token")
	}

	_, lastSig := t.lastBlockAndSig()

	payloadBytes, newSymbols := encodeWithNewSymbols(t.tables.Symbols, t.tables.PublicKeys, payload)
	payload.Symbols = newSymbols

	nextSecret, nextPub, err := chainsig.GenerateKeyPair(nextAlgorithm, rnd)
	if err != nil {
		return nil, err
	}

	input := chainsig.V1BlockInput(payloadBytes, nextAlgorithm, nextPub.Bytes, lastSig, nil)
	sig, err := t.chain.Proof.NextSecret.Sign(input)
	if err != nil {
		return nil, err
	}

	b := block.Block{
		Payload:   payload,
		NextKey:   nextPub,
		Signature: sig,
	}

	next := t.clone()
	next.chain.Blocks = append(next.chain.Blocks, b)
	next.chain.Proof = block.Proof{NextSecret: &nextSecret}
	telemetry.GetGlobalMetrics().ObserveAttenuation(false)
	telemetry.GetGlobalLogger().WithComponent("token").LogAttenuation(len(next.chain.Blocks), false, algorithmName(nextAlgorithm), time.Since(start))
	return next, nil
}

// AttenuateThirdParty appends a block co-signed by a third party. The
// payload is assembled and interned in a fresh, isolated table — it never
// shares state with the primary table (§4.3).
func (t *Token) AttenuateThirdParty(payload block.DatalogBlock, thirdPartySecret chainsig.PrivateKey, nextAlgorithm chainsig.Algorithm, rnd io.Reader) (*Token, error) {
	return t.attenuateThirdParty(payload, thirdPartySecret.Public(), thirdPartySecret.Sign, nextAlgorithm, rnd)
}

// AttenuateThirdPartyBLS appends a block co-signed by a BLS12-381 key
// (crypto/blsdeleg) instead of one of the two chainsig-native algorithms.
// BLS signatures aggregate, so a verifier that collects several such
// co-signatures across blocks can combine them via blsdeleg.Aggregate
// instead of checking each pairing individually; this method still
// attaches one ExternalSignature per block, tagged
// chainsig.AlgorithmBLS12381 so verifyChain knows to pairing-check it.
func (t *Token) AttenuateThirdPartyBLS(payload block.DatalogBlock, thirdPartySecret blsdeleg.PrivateKey, nextAlgorithm chainsig.Algorithm, rnd io.Reader) (*Token, error) {
	pub := chainsig.PublicKey{Algorithm: chainsig.AlgorithmBLS12381, Bytes: thirdPartySecret.Public().Bytes()}
	sign := func(msg []byte) ([]byte, error) { return thirdPartySecret.Sign(msg).Bytes(), nil }
	return t.attenuateThirdParty(payload, pub, sign, nextAlgorithm, rnd)
}

func (t *Token) attenuateThirdParty(payload block.DatalogBlock, externalPub chainsig.PublicKey, signExternal func([]byte) ([]byte, error), nextAlgorithm chainsig.Algorithm, rnd io.Reader) (*Token, error) {
	start := time.Now()
	if t.chain.Proof.Sealed() {
		return nil, errs.Attenuation(errs.CodeCannotAttenuateSealed, "cannot attenuate a sealed token")
	}

	_, lastSig := t.lastBlockAndSig()

	isolated := intern.NewIsolatedSymbolTable()
	payloadBytes, newSymbols := encodeWithNewSymbols(isolated, t.tables.PublicKeys, payload)
	payload.Symbols = newSymbols

	externalInput := chainsig.V1ExternalInput(payloadBytes, lastSig)
	externalSig, err := signExternal(externalInput)
	if err != nil {
		return nil, err
	}
	external := &block.ExternalSignature{Signature: externalSig, PublicKey: externalPub}

	nextSecret, nextPub, err := chainsig.GenerateKeyPair(nextAlgorithm, rnd)
	if err != nil {
		return nil, err
	}

	input := chainsig.V1BlockInput(payloadBytes, nextAlgorithm, nextPub.Bytes, lastSig, externalSig)
	sig, err := t.chain.Proof.NextSecret.Sign(input)
	if err != nil {
		return nil, err
	}

	b := block.Block{
		Payload:   payload,
		NextKey:   nextPub,
		Signature: sig,
		External:  external,
	}

	next := t.clone()
	next.chain.Blocks = append(next.chain.Blocks, b)
	next.chain.Proof = block.Proof{NextSecret: &nextSecret}
	telemetry.GetGlobalMetrics().ObserveAttenuation(true)
	telemetry.GetGlobalLogger().WithComponent("token").LogAttenuation(len(next.chain.Blocks), true, algorithmName(nextAlgorithm), time.Since(start))
	return next, nil
}

// Seal consumes the current next-key secret to produce a final signature
// and discards it, making the token immutable to further attenuation.
func (t *Token) Seal() (*Token, error) {
	if t.chain.Proof.Sealed() {
		return nil, errs.Attenuation(errs.CodeCannotAttenuateSealed, "token is already sealed")
	}
	lastBlock, lastSig := t.lastBlockAndSig()

	syms := t.tables.Symbols
	if lastBlock.External != nil {
		syms = t.tables.ThirdPartyTable(len(t.chain.Blocks))
	}
	lastPayload := wire.EncodeDatalogBlock(lastBlock.Payload, syms, t.tables.PublicKeys)

	input := chainsig.V0SealInput(lastPayload, lastBlock.NextKey.Algorithm, lastBlock.NextKey.Bytes, lastSig)
	finalSig, err := t.chain.Proof.NextSecret.Sign(input)
	if err != nil {
		return nil, err
	}

	next := t.clone()
	next.chain.Proof = block.Proof{FinalSignature: finalSig}
	telemetry.GetGlobalMetrics().ObserveSeal()
	return next, nil
}

func algorithmName(alg chainsig.Algorithm) string {
	switch alg {
	case chainsig.AlgorithmEd25519:
		return "ed25519"
	case chainsig.AlgorithmSecp256r1:
		return "secp256r1"
	default:
		return "unknown"
	}
}

func (t *Token) lastBlockAndSig() (block.Block, []byte) {
	if len(t.chain.Blocks) > 0 {
		last := t.chain.Blocks[len(t.chain.Blocks)-1]
		return last, last.Signature
	}
	return t.chain.Authority, t.chain.Authority.Signature
}

func (t *Token) clone() *Token {
	blocksCopy := make([]block.Block, len(t.chain.Blocks))
	copy(blocksCopy, t.chain.Blocks)
	return &Token{
		chain: block.Token{
			RootKeyID: t.chain.RootKeyID,
			Authority: t.chain.Authority,
			Blocks:    blocksCopy,
		},
		tables: t.tables,
	}
}

// encodeWithNewSymbols serializes payload against syms. Facts, rules, and
// checks intern their strings as a side effect of encoding, but the
// Symbols field is itself part of the serialized output — so this runs
// encoding twice: once to populate syms, once more after payload.Symbols
// has been set to the symbols that encoding pass introduced.
func encodeWithNewSymbols(syms *intern.SymbolTable, pubKeys *intern.PublicKeyTable, payload block.DatalogBlock) ([]byte, []string) {
	mark := syms.HighWaterMark()
	wire.EncodeDatalogBlock(payload, syms, pubKeys)
	newSymbols := syms.SymbolsSince(mark)
	payload.Symbols = newSymbols
	return wire.EncodeDatalogBlock(payload, syms, pubKeys), newSymbols
}

// Serialize encodes the token to its wire bytes.
func (t *Token) Serialize() ([]byte, error) {
	return wire.Serialize(t.chain, t.tables)
}

// EncodeString serializes and base64url-encodes the token (§4.6, §6).
func (t *Token) EncodeString() (string, error) {
	raw, err := t.Serialize()
	if err != nil {
		return "", err
	}
	return wire.EncodeToken(raw), nil
}

// RootKeyResolver resolves an optional root-key identifier to the public
// key that must have signed the authority block.
type RootKeyResolver func(rootKeyID *uint32) (chainsig.PublicKey, error)

// FromBytes decodes and fully verifies a token's signature chain.
func FromBytes(data []byte, resolveRootKey RootKeyResolver) (*Token, error) {
	tables := intern.NewTables()
	chain, err := wire.Deserialize(data, tables)
	if err != nil {
		return nil, err
	}
	if err := verifyChain(chain, resolveRootKey); err != nil {
		return nil, err
	}
	return &Token{chain: chain, tables: tables}, nil
}

// DecodeString reverses EncodeString and verifies the chain.
func DecodeString(s string, resolveRootKey RootKeyResolver) (*Token, error) {
	raw, err := wire.DecodeToken(s)
	if err != nil {
		return nil, err
	}
	return FromBytes(raw, resolveRootKey)
}

// verifyChain validates the authority signature, every attenuation's
// chain + optional external signature, and the terminal proof (§4.3).
func verifyChain(chain block.Token, resolveRootKey RootKeyResolver) error {
	rootPub, err := resolveRootKey(chain.RootKeyID)
	if err != nil {
		return err
	}
	if chain.Authority.External != nil {
		return errs.Validation(errs.CodeThirdPartySignedAuth, "authority block must not carry an external signature")
	}

	tables := intern.NewTables()
	authPayload := wire.EncodeDatalogBlock(chain.Authority.Payload, tables.Symbols, tables.PublicKeys)
	authInput := chainsig.V1BlockInput(authPayload, chain.Authority.NextKey.Algorithm, chain.Authority.NextKey.Bytes, nil, nil)
	if !rootPub.Verify(authInput, chain.Authority.Signature) {
		return errs.Validation(errs.CodeInvalidSignature, "authority block signature invalid")
	}

	prevKey := chain.Authority.NextKey
	prevSig := chain.Authority.Signature
	lastPayload := authPayload
	for i, b := range chain.Blocks {
		syms := tables.Symbols
		if b.External != nil {
			syms = tables.ThirdPartyTable(i + 1)
		}
		payload := wire.EncodeDatalogBlock(b.Payload, syms, tables.PublicKeys)

		var externalSigBytes []byte
		if b.External != nil {
			externalSigBytes = b.External.Signature
			extInput := chainsig.V1ExternalInput(payload, prevSig)
			if !verifyExternal(b.External.PublicKey, extInput, b.External.Signature) {
				return errs.Validation(errs.CodeInvalidExternalSig, "external signature on block %d invalid", i+1)
			}
		}

		input := chainsig.V1BlockInput(payload, b.NextKey.Algorithm, b.NextKey.Bytes, prevSig, externalSigBytes)
		if !prevKey.Verify(input, b.Signature) {
			return errs.Validation(errs.CodeInvalidSignature, "block %d signature invalid", i+1)
		}

		prevKey = b.NextKey
		prevSig = b.Signature
		lastPayload = payload
	}

	switch {
	case chain.Proof.FinalSignature != nil:
		lastBlock := chain.Authority
		if n := len(chain.Blocks); n > 0 {
			lastBlock = chain.Blocks[n-1]
		}
		sealInput := chainsig.V0SealInput(lastPayload, lastBlock.NextKey.Algorithm, lastBlock.NextKey.Bytes, prevSig)
		if !lastBlock.NextKey.Verify(sealInput, chain.Proof.FinalSignature) {
			return errs.Validation(errs.CodeInvalidSealingSig, "sealing signature invalid")
		}
	case chain.Proof.NextSecret != nil:
		if !publicKeysEqual(chain.Proof.NextSecret.Public(), prevKey) {
			return errs.Validation(errs.CodeInvalidProof, "open token's secret does not match the last block's next key")
		}
	default:
		return errs.Validation(errs.CodeInvalidProof, "token proof has neither next_secret nor final_signature")
	}
	return nil
}

// verifyExternal checks a third-party co-signature, routing a
// chainsig.AlgorithmBLS12381-tagged key through blsdeleg's pairing check
// instead of chainsig.PublicKey.Verify, which only implements Ed25519
// and secp256r1.
func verifyExternal(pub chainsig.PublicKey, msg, sig []byte) bool {
	if pub.Algorithm == chainsig.AlgorithmBLS12381 {
		blsPub, err := blsdeleg.PublicKeyFromBytes(pub.Bytes)
		if err != nil {
			return false
		}
		blsSig, err := blsdeleg.SignatureFromBytes(sig)
		if err != nil {
			return false
		}
		return blsPub.Verify(blsSig, msg)
	}
	return pub.Verify(msg, sig)
}

func errorCode(err error) string {
	if e, ok := errs.As(err); ok {
		return string(e.Code)
	}
	return "unknown"
}

func publicKeysEqual(a, b chainsig.PublicKey) bool {
	if a.Algorithm != b.Algorithm || len(a.Bytes) != len(b.Bytes) {
		return false
	}
	for i := range a.Bytes {
		if a.Bytes[i] != b.Bytes[i] {
			return false
		}
	}
	return true
}

// UnverifiedBiscuit supports decoding and attenuation without signature
// validation — useful for tooling that wants to inspect a token's
// structure without possessing (or trusting) the root key.
type UnverifiedBiscuit struct {
	chain  block.Token
	tables *intern.Tables
}

// FromBytesUnverified decodes a token without validating any signature.
func FromBytesUnverified(data []byte) (*UnverifiedBiscuit, error) {
	tables := intern.NewTables()
	chain, err := wire.Deserialize(data, tables)
	if err != nil {
		return nil, err
	}
	return &UnverifiedBiscuit{chain: chain, tables: tables}, nil
}

// Verify upgrades an UnverifiedBiscuit into a Token once the caller
// obtains and trusts the root public key.
func (u *UnverifiedBiscuit) Verify(rootPub chainsig.PublicKey) (*Token, error) {
	resolver := func(*uint32) (chainsig.PublicKey, error) { return rootPub, nil }
	if err := verifyChain(u.chain, resolver); err != nil {
		return nil, err
	}
	return &Token{chain: u.chain, tables: u.tables}, nil
}

// BlockCount returns the authority block plus every attenuation, without
// requiring any signature to have been checked.
func (u *UnverifiedBiscuit) BlockCount() int { return u.chain.BlockCount() }

// AllFacts returns every fact carried by every block, in chain order,
// without requiring any signature to have been checked — useful for
// inspecting a token's contents before deciding whether to trust it.
func (u *UnverifiedBiscuit) AllFacts() []term.Fact {
	var out []term.Fact
	for _, b := range u.chain.AllBlocks() {
		out = append(out, b.Payload.Facts...)
	}
	return out
}

// Authorization is the outcome of running resolution plus check/policy
// validation against an authorizer (§4.6 `authorize`).
type Authorization struct {
	ctx *datalog.Context
}

// Authorize runs the fixpoint over the token's combined program plus the
// authorizer's own facts/rules/checks/policies, then validates checks and
// policies to reach an allow/deny decision.
func (t *Token) Authorize(authorizerFacts []term.Fact, authorizerRules []datalog.Rule, authorizerChecks []datalog.Check, policies []datalog.Policy, limits datalog.Limits) (*Authorization, error) {
	start := time.Now()
	blockPrograms := make([]datalog.BlockProgram, 0, t.chain.BlockCount())
	verifiedPairs := map[[2]int64]bool{}

	allBlocks := t.chain.AllBlocks()
	for i, b := range allBlocks {
		blockPrograms = append(blockPrograms, datalog.BlockProgram{
			Facts:           b.Payload.Facts,
			Rules:           b.Payload.Rules,
			DeclaredTrusted: b.Payload.Trusted,
			Signature:       b.Signature,
		})
		if b.External != nil {
			idx := t.tables.PublicKeys.Intern(int(b.External.PublicKey.Algorithm), b.External.PublicKey.Bytes)
			verifiedPairs[[2]int64{int64(i), idx}] = true
		}
	}

	verified := func(blockIndex int, publicKeyIdx int64) bool {
		return verifiedPairs[[2]int64{int64(blockIndex), publicKeyIdx}]
	}

	var blockChecks [][]datalog.Check
	for _, b := range allBlocks {
		blockChecks = append(blockChecks, b.Payload.Checks)
	}

	ctx, err := datalog.Run(authorizerFacts, authorizerRules, blockPrograms, verified, limits)
	if err != nil {
		telemetry.GetGlobalMetrics().ObserveAuthorization(false, errorCode(err))
		return nil, err
	}
	telemetry.GetGlobalMetrics().ObserveResolution(len(ctx.Facts()), 0)

	if e := datalog.ValidateChecks(ctx, authorizerChecks, blockChecks); e != nil {
		telemetry.GetGlobalMetrics().ObserveAuthorization(false, string(e.Code))
		telemetry.GetGlobalLogger().WithComponent("token").LogAuthorization(false, string(e.Code), time.Since(start))
		return nil, e
	}
	decision := datalog.ValidatePolicies(ctx, policies)
	if !decision.Allowed {
		telemetry.GetGlobalMetrics().ObserveAuthorization(false, errorCode(decision.Err))
		telemetry.GetGlobalLogger().WithComponent("token").LogAuthorization(false, errorCode(decision.Err), time.Since(start))
		return nil, decision.Err
	}
	telemetry.GetGlobalMetrics().ObserveAuthorization(true, "")
	telemetry.GetGlobalLogger().WithComponent("token").LogAuthorization(true, "", time.Since(start))
	return &Authorization{ctx: ctx}, nil
}

// Query evaluates a single check against the resolution context without
// requiring an allow policy to match (§4.6).
func (a *Authorization) Query(c datalog.Check) (bool, error) {
	return datalog.EvaluateCheck(a.ctx, c)
}

// Facts returns the authorization's saturated fact set.
func (a *Authorization) Facts() []term.Fact { return a.ctx.Facts() }
