package token

import (
	"crypto/rand"
	"testing"

	"github.com/certen/biscuit/block"
	"github.com/certen/biscuit/crypto/blsdeleg"
	"github.com/certen/biscuit/crypto/chainsig"
	"github.com/certen/biscuit/internal/datalog"
	"github.com/certen/biscuit/internal/term"
	"github.com/certen/biscuit/internal/value"
)

func userFact(name string) term.Fact {
	return term.MustFact(term.NewPredicate("user", term.Val(value.Str(name))))
}

func authorityPayload(t *testing.T, facts ...term.Fact) block.DatalogBlock {
	t.Helper()
	p, err := block.NewDatalogBlock(block.WriteVersion, "authority", nil, nil, facts, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewDatalogBlock: %v", err)
	}
	return p
}

func TestNewAndFromBytesRoundTrip(t *testing.T) {
	rootSecret, rootPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := tok.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	resolver := func(*uint32) (chainsig.PublicKey, error) { return rootPub, nil }
	got, err := FromBytes(data, resolver)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if got == nil {
		t.Fatal("FromBytes returned a nil token")
	}
}

func TestFromBytesRejectsTamperedSignature(t *testing.T) {
	rootSecret, rootPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := tok.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	// Flip a byte well inside the payload to invalidate the signature.
	data[len(data)/2] ^= 0xff

	resolver := func(*uint32) (chainsig.PublicKey, error) { return rootPub, nil }
	if _, err := FromBytes(data, resolver); err == nil {
		t.Fatal("expected a tampered token to fail verification")
	}
}

func TestAttenuateAndAuthorize(t *testing.T) {
	rootSecret, rootPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	attenuated, err := tok.Attenuate(authorityPayload(t, userFact("bob")), chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("Attenuate: %v", err)
	}

	allow := datalog.Policy{
		Kind: datalog.AllowIf,
		Queries: []datalog.Query{{
			Body: []term.Predicate{term.NewPredicate("user", term.Val(value.Str("alice")))},
		}},
	}
	auth, err := attenuated.Authorize(nil, nil, nil, []datalog.Policy{allow}, datalog.Limits{})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	facts := auth.Facts()
	found := false
	for _, f := range facts {
		if f.Predicate.Name == "user" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected the authorization's fact set to include the authority block's user fact")
	}

	data, err := attenuated.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	resolver := func(*uint32) (chainsig.PublicKey, error) { return rootPub, nil }
	if _, err := FromBytes(data, resolver); err != nil {
		t.Fatalf("FromBytes on an attenuated token: %v", err)
	}
}

func TestAttenuateThirdPartyAndVerify(t *testing.T) {
	rootSecret, rootPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	thirdPartySecret, _, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	attenuated, err := tok.AttenuateThirdParty(authorityPayload(t, userFact("carol")), thirdPartySecret, chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("AttenuateThirdParty: %v", err)
	}

	data, err := attenuated.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	resolver := func(*uint32) (chainsig.PublicKey, error) { return rootPub, nil }
	if _, err := FromBytes(data, resolver); err != nil {
		t.Fatalf("FromBytes on a third-party-attenuated token: %v", err)
	}
}

func TestAttenuateThirdPartyBLSAndVerify(t *testing.T) {
	rootSecret, rootPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	blsSecret, _, err := blsdeleg.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("blsdeleg.GenerateKeyPair: %v", err)
	}
	attenuated, err := tok.AttenuateThirdPartyBLS(authorityPayload(t, userFact("carol")), blsSecret, chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("AttenuateThirdPartyBLS: %v", err)
	}

	data, err := attenuated.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	resolver := func(*uint32) (chainsig.PublicKey, error) { return rootPub, nil }
	if _, err := FromBytes(data, resolver); err != nil {
		t.Fatalf("FromBytes on a BLS-third-party-attenuated token: %v", err)
	}
}

func TestAttenuateThirdPartyBLSRejectsTamperedSignature(t *testing.T) {
	rootSecret, rootPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	blsSecret, _, err := blsdeleg.GenerateKeyPair(rand.Reader)
	if err != nil {
		t.Fatalf("blsdeleg.GenerateKeyPair: %v", err)
	}
	attenuated, err := tok.AttenuateThirdPartyBLS(authorityPayload(t, userFact("carol")), blsSecret, chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("AttenuateThirdPartyBLS: %v", err)
	}
	data, err := attenuated.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	data[len(data)/3] ^= 0xff

	resolver := func(*uint32) (chainsig.PublicKey, error) { return rootPub, nil }
	if _, err := FromBytes(data, resolver); err == nil {
		t.Fatal("expected a tampered BLS-signed token to fail verification")
	}
}

func TestSealPreventsFurtherAttenuation(t *testing.T) {
	rootSecret, rootPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sealed, err := tok.Seal()
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := sealed.Attenuate(authorityPayload(t, userFact("bob")), chainsig.AlgorithmEd25519, rand.Reader); err == nil {
		t.Fatal("expected attenuating a sealed token to fail")
	}
	if _, err := sealed.Seal(); err == nil {
		t.Fatal("expected sealing an already-sealed token to fail")
	}

	data, err := sealed.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	resolver := func(*uint32) (chainsig.PublicKey, error) { return rootPub, nil }
	if _, err := FromBytes(data, resolver); err != nil {
		t.Fatalf("FromBytes on a sealed token: %v", err)
	}
}

func TestAuthorizeDeniesWithoutMatchingPolicy(t *testing.T) {
	rootSecret, _, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	deny := datalog.Policy{
		Kind: datalog.AllowIf,
		Queries: []datalog.Query{{
			Body: []term.Predicate{term.NewPredicate("user", term.Val(value.Str("nobody")))},
		}},
	}
	if _, err := tok.Authorize(nil, nil, nil, []datalog.Policy{deny}, datalog.Limits{}); err == nil {
		t.Fatal("expected authorization to fail when no policy matches")
	}
}

func TestUnverifiedBiscuitInspection(t *testing.T) {
	rootSecret, rootPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := tok.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	unverified, err := FromBytesUnverified(data)
	if err != nil {
		t.Fatalf("FromBytesUnverified: %v", err)
	}
	if unverified.BlockCount() != 1 {
		t.Fatalf("BlockCount() = %d, want 1", unverified.BlockCount())
	}
	facts := unverified.AllFacts()
	if len(facts) != 1 || facts[0].Predicate.Name != "user" {
		t.Fatalf("AllFacts() = %v", facts)
	}

	verified, err := unverified.Verify(rootPub)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified == nil {
		t.Fatal("Verify returned a nil token")
	}
}

func TestFromBytesRejectsWrongRootKey(t *testing.T) {
	rootSecret, _, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	_, wrongPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := tok.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	resolver := func(*uint32) (chainsig.PublicKey, error) { return wrongPub, nil }
	if _, err := FromBytes(data, resolver); err == nil {
		t.Fatal("expected verification to fail under the wrong root public key")
	}
}

func TestEncodeStringDecodeStringRoundTrip(t *testing.T) {
	rootSecret, rootPub, err := chainsig.GenerateKeyPair(chainsig.AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	tok, err := New(rootSecret, chainsig.AlgorithmEd25519, authorityPayload(t, userFact("alice")), rand.Reader)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s, err := tok.EncodeString()
	if err != nil {
		t.Fatalf("EncodeString: %v", err)
	}
	resolver := func(*uint32) (chainsig.PublicKey, error) { return rootPub, nil }
	if _, err := DecodeString(s, resolver); err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
}
