package wire

import (
	"crypto/rand"
	"testing"

	"github.com/certen/biscuit/block"
	"github.com/certen/biscuit/crypto/chainsig"
	"github.com/certen/biscuit/internal/intern"
	"github.com/certen/biscuit/internal/term"
	"github.com/certen/biscuit/internal/value"
)

func buildSimpleToken(t *testing.T) block.Token {
	t.Helper()
	nextPriv, nextPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	fact := term.MustFact(term.NewPredicate("user", term.Val(value.Str("alice"))))
	payload, err := block.NewDatalogBlock(block.WriteVersion, "authority", nil, nil, []term.Fact{fact}, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewDatalogBlock: %v", err)
	}

	authority := block.Block{
		Payload:   payload,
		NextKey:   nextPub,
		Signature: []byte("root-signature"),
	}

	return block.Token{
		Authority: authority,
		Proof:     block.Proof{NextSecret: &nextPriv},
	}
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	tok := buildSimpleToken(t)

	data, err := Serialize(tok, intern.NewTables())
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(data, intern.NewTables())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if got.Authority.Payload.Context != "authority" {
		t.Fatalf("Authority.Payload.Context = %q, want authority", got.Authority.Payload.Context)
	}
	if len(got.Authority.Payload.Facts) != 1 {
		t.Fatalf("Authority.Payload.Facts = %d entries, want 1", len(got.Authority.Payload.Facts))
	}
	if string(got.Authority.Signature) != "root-signature" {
		t.Fatalf("Authority.Signature = %q, want root-signature", got.Authority.Signature)
	}
	if got.Proof.Sealed() {
		t.Fatal("expected an unsealed proof carrying a next secret")
	}
	if got.Proof.NextSecret == nil {
		t.Fatal("expected Deserialize to reconstruct the next secret")
	}
}

func TestSerializeDeserializeSealedProof(t *testing.T) {
	tok := buildSimpleToken(t)
	tok.Proof = block.Proof{FinalSignature: []byte("final-sig")}

	data, err := Serialize(tok, intern.NewTables())
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	got, err := Deserialize(data, intern.NewTables())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if !got.Proof.Sealed() {
		t.Fatal("expected the decoded proof to be sealed")
	}
	if string(got.Proof.FinalSignature) != "final-sig" {
		t.Fatalf("FinalSignature = %q, want final-sig", got.Proof.FinalSignature)
	}
}

func TestThirdPartyBlockRequestContentsRoundTrip(t *testing.T) {
	prevSig := []byte("previous-signature")
	reqEnc := EncodeThirdPartyBlockRequest(prevSig)
	decSig, err := DecodeThirdPartyBlockRequest(reqEnc)
	if err != nil {
		t.Fatalf("DecodeThirdPartyBlockRequest: %v", err)
	}
	if string(decSig) != string(prevSig) {
		t.Fatalf("DecodeThirdPartyBlockRequest = %v, want %v", decSig, prevSig)
	}

	_, pub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	ext := block.ExternalSignature{Signature: []byte("ext-sig"), PublicKey: pub}
	contentsEnc := EncodeThirdPartyBlockContents([]byte("payload-bytes"), ext)
	payload, decExt, err := DecodeThirdPartyBlockContents(contentsEnc)
	if err != nil {
		t.Fatalf("DecodeThirdPartyBlockContents: %v", err)
	}
	if string(payload) != "payload-bytes" {
		t.Fatalf("payload = %q, want payload-bytes", payload)
	}
	if string(decExt.Signature) != "ext-sig" {
		t.Fatalf("decExt.Signature = %q, want ext-sig", decExt.Signature)
	}
}
