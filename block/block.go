// Package block models the token's structural layers (§3): DatalogBlock is
// a fragment of the logic program; Block wraps it with the chain-signing
// fields; Token is the ordered chain of Blocks plus its terminal Proof.
//
// This package holds no signing or serialization logic of its own — that
// lives in crypto/chainsig and wire respectively — it is the shared record
// shape both operate on.
package block

import (
	"github.com/certen/biscuit/crypto/chainsig"
	"github.com/certen/biscuit/internal/datalog"
	"github.com/certen/biscuit/internal/errs"
	"github.com/certen/biscuit/internal/term"
)

// MinVersion and MaxVersion bound the DatalogBlock version accepted on
// read; WriteVersion is what this implementation always emits.
const (
	MinVersion   = 3
	MaxVersion   = 6
	WriteVersion = 6
)

// DatalogBlock is one fragment of the combined logic program: the facts,
// rules, and checks a single block contributes, plus the symbols and
// public keys it interned and its trusted-scope declaration.
type DatalogBlock struct {
	// === STRUCTURE ===
	Version uint32
	Context string // optional free-form annotation; empty means absent

	// === INTERNED STATE ===
	// Symbols this block introduced above the default prefix, in the
	// order they were interned — what gets serialized (§4.1).
	Symbols    []string
	PublicKeys []chainsig.PublicKey

	// === PROGRAM ===
	Facts   []term.Fact
	Rules   []datalog.Rule
	Checks  []datalog.Check
	Trusted []datalog.TrustedScope
}

// NewDatalogBlock validates the version range and constructs a block.
func NewDatalogBlock(version uint32, context string, symbols []string, publicKeys []chainsig.PublicKey, facts []term.Fact, rules []datalog.Rule, checks []datalog.Check, trusted []datalog.TrustedScope) (DatalogBlock, error) {
	if version < MinVersion || version > MaxVersion {
		return DatalogBlock{}, errs.Validation(errs.CodeInvalidVersion, "block version %d outside accepted range [%d, %d]", version, MinVersion, MaxVersion)
	}
	return DatalogBlock{
		Version:    version,
		Context:    context,
		Symbols:    symbols,
		PublicKeys: publicKeys,
		Facts:      facts,
		Rules:      rules,
		Checks:     checks,
		Trusted:    trusted,
	}, nil
}

// ExternalSignature is a third-party co-signature over a block, alongside
// the key that produced it (§6).
type ExternalSignature struct {
	Signature []byte
	PublicKey chainsig.PublicKey
}

// Block is one chain node: a DatalogBlock payload plus the chain-signing
// fields that bind it into the sequence (§3).
type Block struct {
	// === PAYLOAD ===
	Payload DatalogBlock

	// === CHAIN LINKAGE ===
	NextKey   chainsig.PublicKey // public half of this block's next-keypair
	Signature []byte             // signature over the V0/V1 block input, by the *previous* block's next-key secret (or the root key, for the authority block)

	// === OPTIONAL FIELDS ===
	External     *ExternalSignature // third-party co-signature, nil if none
	VersionFlag  *uint8             // 0 or 1; nil means the field is absent on the wire
}

// Proof is the terminal state of the chain: an open token carries the
// still-usable next-key secret, a sealed token carries a final signature
// and has irrecoverably discarded it.
type Proof struct {
	NextSecret     *chainsig.PrivateKey
	FinalSignature []byte
}

// Sealed reports whether this Proof represents a sealed (non-attenuable)
// token.
func (p Proof) Sealed() bool { return p.FinalSignature != nil }

// Token is the full chain: an optional root-key identifier, the authority
// block, the ordered attenuation blocks, and the terminal proof.
type Token struct {
	RootKeyID  *uint32
	Authority  Block
	Blocks     []Block
	Proof      Proof
}

// AllBlocks returns the authority block followed by every attenuation
// block, the order the resolution engine indexes by.
func (t Token) AllBlocks() []Block {
	out := make([]Block, 0, 1+len(t.Blocks))
	out = append(out, t.Authority)
	out = append(out, t.Blocks...)
	return out
}

// BlockCount is the number of blocks in the chain, authority included.
func (t Token) BlockCount() int { return 1 + len(t.Blocks) }
