package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/certen/biscuit/block"
	"github.com/certen/biscuit/crypto/chainsig"
	"github.com/certen/biscuit/internal/datalog"
	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/intern"
	"github.com/certen/biscuit/internal/term"
)

const (
	fldPublicKeyAlgorithm protowire.Number = 1
	fldPublicKeyKey        protowire.Number = 2
)

func EncodePublicKey(pk chainsig.PublicKey) []byte {
	var out []byte
	out = appendVarintField(out, fldPublicKeyAlgorithm, uint64(pk.Algorithm))
	out = appendBytesField(out, fldPublicKeyKey, pk.Bytes)
	return out
}

func DecodePublicKey(data []byte) (chainsig.PublicKey, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return chainsig.PublicKey{}, err
	}
	af, ok := findFirst(fields, fldPublicKeyAlgorithm)
	if !ok {
		return chainsig.PublicKey{}, errs.Validation(errs.CodeMissingField, "public key missing algorithm")
	}
	kf, ok := findFirst(fields, fldPublicKeyKey)
	if !ok {
		return chainsig.PublicKey{}, errs.Validation(errs.CodeMissingField, "public key missing key bytes")
	}
	return chainsig.PublicKey{Algorithm: chainsig.Algorithm(fieldVarint(af)), Bytes: kf.buf}, nil
}

const (
	fldExtSigSignature protowire.Number = 1
	fldExtSigKey       protowire.Number = 2
)

func EncodeExternalSignature(e block.ExternalSignature) []byte {
	var out []byte
	out = appendBytesField(out, fldExtSigSignature, e.Signature)
	out = appendBytesField(out, fldExtSigKey, EncodePublicKey(e.PublicKey))
	return out
}

func DecodeExternalSignature(data []byte) (block.ExternalSignature, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return block.ExternalSignature{}, err
	}
	sf, ok := findFirst(fields, fldExtSigSignature)
	if !ok {
		return block.ExternalSignature{}, errs.Validation(errs.CodeMissingField, "external signature missing signature")
	}
	kf, ok := findFirst(fields, fldExtSigKey)
	if !ok {
		return block.ExternalSignature{}, errs.Validation(errs.CodeMissingField, "external signature missing public key")
	}
	pk, err := DecodePublicKey(kf.buf)
	if err != nil {
		return block.ExternalSignature{}, err
	}
	return block.ExternalSignature{Signature: sf.buf, PublicKey: pk}, nil
}

// --- DatalogBlock ---

const (
	fldBlockVersion    protowire.Number = 1
	fldBlockSymbols    protowire.Number = 2
	fldBlockContext    protowire.Number = 3
	fldBlockFacts      protowire.Number = 4
	fldBlockRules      protowire.Number = 5
	fldBlockChecks     protowire.Number = 6
	fldBlockScope      protowire.Number = 7
	fldBlockPublicKeys protowire.Number = 8
)

// EncodeDatalogBlock serializes a DatalogBlock's payload, interning any
// symbols it introduces into syms (the primary table for ordinary blocks,
// an isolated table for third-party blocks, per §4.1) and any public keys
// it declares into pubKeys (always the token-wide table — public key
// interning, unlike symbol interning, is never isolated per third-party
// block).
func EncodeDatalogBlock(b block.DatalogBlock, syms *intern.SymbolTable, pubKeys *intern.PublicKeyTable) []byte {
	var out []byte
	out = appendVarintField(out, fldBlockVersion, uint64(b.Version))
	for _, s := range b.Symbols {
		out = appendStringField(out, fldBlockSymbols, s)
	}
	if b.Context != "" {
		out = appendStringField(out, fldBlockContext, b.Context)
	}
	for _, f := range b.Facts {
		out = appendBytesField(out, fldBlockFacts, EncodeFact(f, syms))
	}
	for _, r := range b.Rules {
		out = appendBytesField(out, fldBlockRules, EncodeRule(r, syms))
	}
	for _, c := range b.Checks {
		out = appendBytesField(out, fldBlockChecks, EncodeCheck(c, syms))
	}
	if len(b.Trusted) > 0 {
		out = appendBytesField(out, fldBlockScope, encodeScopes(b.Trusted))
	}
	for _, pk := range b.PublicKeys {
		pubKeys.Intern(int(pk.Algorithm), pk.Bytes)
		out = appendBytesField(out, fldBlockPublicKeys, EncodePublicKey(pk))
	}
	return out
}

// DecodeDatalogBlock deserializes a DatalogBlock's payload. It extends
// syms and pubKeys with this block's declared symbols and public keys
// before decoding facts/rules/checks, so their interned indexes resolve
// against the same table a live encode would have produced them in —
// and rejects a symbol or public key this block redeclares
// (CodeDuplicateSymbol / CodeDuplicatePublicKey, §4.1, §7).
func DecodeDatalogBlock(data []byte, syms *intern.SymbolTable, pubKeys *intern.PublicKeyTable) (block.DatalogBlock, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return block.DatalogBlock{}, err
	}
	vf, ok := findFirst(fields, fldBlockVersion)
	if !ok {
		return block.DatalogBlock{}, errs.Validation(errs.CodeMissingField, "block missing version")
	}
	version := uint32(fieldVarint(vf))

	var symbols []string
	for _, sf := range findAll(fields, fldBlockSymbols) {
		symbols = append(symbols, string(sf.buf))
	}
	if err := syms.Extend(symbols); err != nil {
		return block.DatalogBlock{}, err
	}

	var publicKeys []chainsig.PublicKey
	for _, pf := range findAll(fields, fldBlockPublicKeys) {
		pk, err := DecodePublicKey(pf.buf)
		if err != nil {
			return block.DatalogBlock{}, err
		}
		publicKeys = append(publicKeys, pk)
	}
	algorithms := make([]int, len(publicKeys))
	raws := make([][]byte, len(publicKeys))
	for i, pk := range publicKeys {
		algorithms[i] = int(pk.Algorithm)
		raws[i] = pk.Bytes
	}
	if err := pubKeys.Extend(algorithms, raws); err != nil {
		return block.DatalogBlock{}, err
	}

	context := ""
	if cf, ok := findFirst(fields, fldBlockContext); ok {
		context = string(cf.buf)
	}
	var facts []term.Fact
	for _, ff := range findAll(fields, fldBlockFacts) {
		f, err := DecodeFact(ff.buf, syms)
		if err != nil {
			return block.DatalogBlock{}, err
		}
		facts = append(facts, f)
	}
	var rules []datalog.Rule
	for _, rf := range findAll(fields, fldBlockRules) {
		r, err := DecodeRule(rf.buf, syms)
		if err != nil {
			return block.DatalogBlock{}, err
		}
		rules = append(rules, r)
	}
	var checks []datalog.Check
	for _, cf := range findAll(fields, fldBlockChecks) {
		c, err := DecodeCheck(cf.buf, syms)
		if err != nil {
			return block.DatalogBlock{}, err
		}
		checks = append(checks, c)
	}
	var trusted []datalog.TrustedScope
	if sf, ok := findFirst(fields, fldBlockScope); ok {
		trusted, err = decodeScopes(sf.buf)
		if err != nil {
			return block.DatalogBlock{}, err
		}
	}
	return block.NewDatalogBlock(version, context, symbols, publicKeys, facts, rules, checks, trusted)
}
