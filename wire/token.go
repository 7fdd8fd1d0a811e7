package wire

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/certen/biscuit/block"
	"github.com/certen/biscuit/crypto/chainsig"
	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/intern"
)

const (
	fldSignedBlockBlock     protowire.Number = 1
	fldSignedBlockSignature protowire.Number = 2
	fldSignedBlockNextKey   protowire.Number = 3
	fldSignedBlockVersion   protowire.Number = 4
	fldSignedBlockExternal  protowire.Number = 5
)

// EncodeSignedBlock serializes a Block's chain-signing fields, with the
// DatalogBlock payload already serialized against the correct interning
// table (the primary table, or an isolated third-party table) by the
// caller via EncodeDatalogBlock.
func EncodeSignedBlock(b block.Block, payload []byte) []byte {
	var out []byte
	out = appendBytesField(out, fldSignedBlockBlock, payload)
	out = appendBytesField(out, fldSignedBlockSignature, b.Signature)
	out = appendBytesField(out, fldSignedBlockNextKey, EncodePublicKey(b.NextKey))
	if b.VersionFlag != nil {
		out = appendVarintField(out, fldSignedBlockVersion, uint64(*b.VersionFlag))
	}
	if b.External != nil {
		out = appendBytesField(out, fldSignedBlockExternal, EncodeExternalSignature(*b.External))
	}
	return out
}

// DecodeSignedBlock deserializes the chain-signing fields and returns the
// still-serialized DatalogBlock payload bytes; the caller decodes those
// against the interning table appropriate to this block's position (and,
// for third-party blocks, an isolated table).
func DecodeSignedBlock(data []byte) (b block.Block, payload []byte, err error) {
	fields, err := decodeFields(data)
	if err != nil {
		return block.Block{}, nil, err
	}
	pf, ok := findFirst(fields, fldSignedBlockBlock)
	if !ok {
		return block.Block{}, nil, errs.Validation(errs.CodeMissingField, "signed block missing payload")
	}
	sf, ok := findFirst(fields, fldSignedBlockSignature)
	if !ok {
		return block.Block{}, nil, errs.Validation(errs.CodeMissingField, "signed block missing signature")
	}
	nf, ok := findFirst(fields, fldSignedBlockNextKey)
	if !ok {
		return block.Block{}, nil, errs.Validation(errs.CodeMissingField, "signed block missing next key")
	}
	nextKey, err := DecodePublicKey(nf.buf)
	if err != nil {
		return block.Block{}, nil, err
	}
	out := block.Block{Signature: sf.buf, NextKey: nextKey}
	if vf, ok := findFirst(fields, fldSignedBlockVersion); ok {
		v := uint8(fieldVarint(vf))
		out.VersionFlag = &v
	}
	if ef, ok := findFirst(fields, fldSignedBlockExternal); ok {
		ext, err := DecodeExternalSignature(ef.buf)
		if err != nil {
			return block.Block{}, nil, err
		}
		out.External = &ext
	}
	return out, pf.buf, nil
}

// --- Proof ---

const (
	fldProofNextSecret     protowire.Number = 1
	fldProofFinalSignature protowire.Number = 2
)

// EncodeProof serializes a Proof: the final signature when sealed, else
// the next secret's raw bytes. The key's algorithm is not written, since
// it lives on the token's last block; DecodeProof takes it as a parameter.
func EncodeProof(p block.Proof) []byte {
	var out []byte
	if p.FinalSignature != nil {
		out = appendBytesField(out, fldProofFinalSignature, p.FinalSignature)
		return out
	}
	if p.NextSecret != nil {
		out = appendBytesField(out, fldProofNextSecret, p.NextSecret.Bytes())
	}
	return out
}

// DecodeProof deserializes a Proof. nextKeyAlgorithm is needed to
// reconstruct an open-token's next_secret private key, since its raw
// bytes alone don't self-describe an algorithm.
func DecodeProof(data []byte, nextKeyAlgorithm chainsig.Algorithm) (block.Proof, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return block.Proof{}, err
	}
	if f, ok := findFirst(fields, fldProofFinalSignature); ok {
		return block.Proof{FinalSignature: f.buf}, nil
	}
	if f, ok := findFirst(fields, fldProofNextSecret); ok {
		sk, err := chainsig.PrivateKeyFromBytes(nextKeyAlgorithm, f.buf)
		if err != nil {
			return block.Proof{}, err
		}
		return block.Proof{NextSecret: &sk}, nil
	}
	return block.Proof{}, errs.Validation(errs.CodeInvalidProof, "proof has neither next_secret nor final_signature")
}

// --- Token ---

const (
	fldTokenRootKeyID protowire.Number = 1
	fldTokenAuthority  protowire.Number = 2
	fldTokenBlocks     protowire.Number = 3
	fldTokenProof      protowire.Number = 4
)

// Serialize encodes a complete Token to its wire bytes, interning every
// block's payload into tables (the primary table for the authority block
// and ordinary attenuations, an isolated per-index table for third-party
// blocks per §4.1).
func Serialize(t block.Token, tables *intern.Tables) ([]byte, error) {
	var out []byte
	if t.RootKeyID != nil {
		out = appendVarintField(out, fldTokenRootKeyID, uint64(*t.RootKeyID))
	}

	authPayload := EncodeDatalogBlock(t.Authority.Payload, tables.Symbols, tables.PublicKeys)
	out = appendBytesField(out, fldTokenAuthority, EncodeSignedBlock(t.Authority, authPayload))

	for i, b := range t.Blocks {
		syms := tables.Symbols
		if b.External != nil {
			syms = tables.ThirdPartyTable(i + 1)
		}
		payload := EncodeDatalogBlock(b.Payload, syms, tables.PublicKeys)
		out = appendBytesField(out, fldTokenBlocks, EncodeSignedBlock(b, payload))
	}

	out = appendBytesField(out, fldTokenProof, EncodeProof(t.Proof))
	return out, nil
}

// Deserialize decodes a complete Token from its wire bytes. tables
// receives every block's interned symbols as a side effect — pass a
// fresh *intern.Tables per decode.
func Deserialize(data []byte, tables *intern.Tables) (block.Token, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return block.Token{}, err
	}
	var tok block.Token
	if rf, ok := findFirst(fields, fldTokenRootKeyID); ok {
		v := uint32(fieldVarint(rf))
		tok.RootKeyID = &v
	}
	af, ok := findFirst(fields, fldTokenAuthority)
	if !ok {
		return block.Token{}, errs.Validation(errs.CodeMissingField, "token missing authority block")
	}
	authBlock, authPayload, err := DecodeSignedBlock(af.buf)
	if err != nil {
		return block.Token{}, err
	}
	authDatalog, err := DecodeDatalogBlock(authPayload, tables.Symbols, tables.PublicKeys)
	if err != nil {
		return block.Token{}, err
	}
	authBlock.Payload = authDatalog
	tok.Authority = authBlock

	for i, bf := range findAll(fields, fldTokenBlocks) {
		b, payload, err := DecodeSignedBlock(bf.buf)
		if err != nil {
			return block.Token{}, err
		}
		syms := tables.Symbols
		if b.External != nil {
			syms = tables.ThirdPartyTable(i + 1)
		}
		db, err := DecodeDatalogBlock(payload, syms, tables.PublicKeys)
		if err != nil {
			return block.Token{}, err
		}
		b.Payload = db
		tok.Blocks = append(tok.Blocks, b)
	}

	pf, ok := findFirst(fields, fldTokenProof)
	if !ok {
		return block.Token{}, errs.Validation(errs.CodeMissingField, "token missing proof")
	}
	lastKeyAlg := tok.Authority.NextKey.Algorithm
	if n := len(tok.Blocks); n > 0 {
		lastKeyAlg = tok.Blocks[n-1].NextKey.Algorithm
	}
	proof, err := DecodeProof(pf.buf, lastKeyAlg)
	if err != nil {
		return block.Token{}, err
	}
	tok.Proof = proof
	return tok, nil
}

// --- Third-party block detachable request/contents (§6) ---

const fldTPBRPrevSig protowire.Number = 1

// EncodeThirdPartyBlockRequest serializes the request a token holder
// sends to a third party: just the previous block's signature, which the
// third party must fold into its external-signature input.
func EncodeThirdPartyBlockRequest(prevSig []byte) []byte {
	return appendBytesField(nil, fldTPBRPrevSig, prevSig)
}

func DecodeThirdPartyBlockRequest(data []byte) ([]byte, error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, err
	}
	f, ok := findFirst(fields, fldTPBRPrevSig)
	if !ok {
		return nil, errs.Validation(errs.CodeMissingField, "third-party block request missing previous signature")
	}
	return f.buf, nil
}

const (
	fldTPBCPayload   protowire.Number = 1
	fldTPBCExternal  protowire.Number = 2
)

// EncodeThirdPartyBlockContents serializes what a third party returns: its
// serialized DatalogBlock payload (encoded against its own isolated symbol
// table) plus its external signature over that payload and the request's
// previous signature.
func EncodeThirdPartyBlockContents(payload []byte, ext block.ExternalSignature) []byte {
	var out []byte
	out = appendBytesField(out, fldTPBCPayload, payload)
	out = appendBytesField(out, fldTPBCExternal, EncodeExternalSignature(ext))
	return out
}

func DecodeThirdPartyBlockContents(data []byte) (payload []byte, ext block.ExternalSignature, err error) {
	fields, err := decodeFields(data)
	if err != nil {
		return nil, block.ExternalSignature{}, err
	}
	pf, ok := findFirst(fields, fldTPBCPayload)
	if !ok {
		return nil, block.ExternalSignature{}, errs.Validation(errs.CodeMissingField, "third-party block contents missing payload")
	}
	ef, ok := findFirst(fields, fldTPBCExternal)
	if !ok {
		return nil, block.ExternalSignature{}, errs.Validation(errs.CodeMissingField, "third-party block contents missing external signature")
	}
	extSig, err := DecodeExternalSignature(ef.buf)
	if err != nil {
		return nil, block.ExternalSignature{}, err
	}
	return pf.buf, extSig, nil
}
