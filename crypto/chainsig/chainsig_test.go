package chainsig

import (
	"crypto/rand"
	"testing"
)

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair(AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("hello biscuit")
	sig, err := priv.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !pub.Verify(msg, sig) {
		t.Fatal("expected signature to verify")
	}
	if pub.Verify([]byte("tampered"), sig) {
		t.Fatal("expected verification to fail over a different message")
	}
}

func TestSecp256r1SignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair(AlgorithmSecp256r1, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("hello biscuit")
	sig, err := priv.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !pub.Verify(msg, sig) {
		t.Fatal("expected signature to verify")
	}
	if pub.Verify([]byte("tampered"), sig) {
		t.Fatal("expected verification to fail over a different message")
	}
}

func TestGenerateKeyPairRejectsUnknownAlgorithm(t *testing.T) {
	if _, _, err := GenerateKeyPair(Algorithm(99), rand.Reader); err == nil {
		t.Fatal("expected an error for an unknown algorithm")
	}
}

func TestPrivateKeyBytesRoundTripEd25519(t *testing.T) {
	priv, pub, err := GenerateKeyPair(AlgorithmEd25519, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	raw := priv.Bytes()
	restored, err := PrivateKeyFromBytes(AlgorithmEd25519, raw)
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	if string(restored.Public().Bytes) != string(pub.Bytes) {
		t.Fatal("restored private key does not reproduce the original public key")
	}
}

func TestPrivateKeyBytesRoundTripSecp256r1(t *testing.T) {
	priv, pub, err := GenerateKeyPair(AlgorithmSecp256r1, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	raw := priv.Bytes()
	if len(raw) != 32 {
		t.Fatalf("secp256r1 private key export = %d bytes, want 32", len(raw))
	}
	restored, err := PrivateKeyFromBytes(AlgorithmSecp256r1, raw)
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes: %v", err)
	}
	if string(restored.Public().Bytes) != string(pub.Bytes) {
		t.Fatal("restored private key does not reproduce the original public key")
	}
}

func TestPrivateKeyFromBytesRejectsWrongLength(t *testing.T) {
	if _, err := PrivateKeyFromBytes(AlgorithmEd25519, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a short ed25519 key")
	}
	if _, err := PrivateKeyFromBytes(AlgorithmSecp256r1, []byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a short secp256r1 key")
	}
}

func TestDERRawRoundTrip(t *testing.T) {
	priv, _, err := GenerateKeyPair(AlgorithmSecp256r1, rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	der, err := priv.Sign([]byte("payload"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	raw, err := DERToRaw(der)
	if err != nil {
		t.Fatalf("DERToRaw: %v", err)
	}
	if len(raw) != 64 {
		t.Fatalf("raw signature = %d bytes, want 64", len(raw))
	}
	back, err := RawToDER(raw)
	if err != nil {
		t.Fatalf("RawToDER: %v", err)
	}
	raw2, err := DERToRaw(back)
	if err != nil {
		t.Fatalf("DERToRaw (second pass): %v", err)
	}
	if string(raw) != string(raw2) {
		t.Fatal("raw<->DER round trip did not preserve the signature bytes")
	}
}

func TestRawToDERRejectsWrongLength(t *testing.T) {
	if _, err := RawToDER([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected an error for a non-64-byte raw signature")
	}
}

func TestV1BlockInputIncludesOptionalSections(t *testing.T) {
	payload := []byte("payload-bytes")
	nextKey := []byte("next-key-bytes")

	base := V1BlockInput(payload, AlgorithmEd25519, nextKey, nil, nil)
	withPrev := V1BlockInput(payload, AlgorithmEd25519, nextKey, []byte("prevsig"), nil)
	withExternal := V1BlockInput(payload, AlgorithmEd25519, nextKey, nil, []byte("extsig"))

	if len(withPrev) <= len(base) {
		t.Fatal("expected a previous signature to extend the signature input")
	}
	if len(withExternal) <= len(base) {
		t.Fatal("expected an external signature to extend the signature input")
	}
	if string(base) == string(withPrev) || string(base) == string(withExternal) {
		t.Fatal("optional sections must change the signature input")
	}
}

func TestV1ExternalInputDiffersFromBlockInput(t *testing.T) {
	payload := []byte("payload-bytes")
	prevSig := []byte("prevsig")
	ext := V1ExternalInput(payload, prevSig)
	blk := V1BlockInput(payload, AlgorithmEd25519, []byte("next-key"), prevSig, nil)
	if string(ext) == string(blk) {
		t.Fatal("external and block signature inputs must never collide")
	}
}

func TestV0BlockInputAndSealInputDistinct(t *testing.T) {
	payload := []byte("payload-bytes")
	nextKey := []byte("next-key-bytes")
	blockSig := []byte("block-signature")

	block := V0BlockInput(payload, nil, AlgorithmEd25519, nextKey)
	seal := V0SealInput(payload, AlgorithmEd25519, nextKey, blockSig)
	if string(block) == string(seal) {
		t.Fatal("V0 block input and seal input must differ (seal appends the block signature)")
	}
	if len(seal) != len(block)+len(blockSig) {
		t.Fatalf("seal input length = %d, want %d", len(seal), len(block)+len(blockSig))
	}
}
