package wire

import (
	"testing"

	"github.com/certen/biscuit/internal/intern"
	"github.com/certen/biscuit/internal/term"
	"github.com/certen/biscuit/internal/value"
)

func TestEncodeDecodeTokenBase64URL(t *testing.T) {
	raw := []byte{0x00, 0x01, 0x02, 0xff, 0xfe}
	s := EncodeToken(raw)
	got, err := DecodeToken(s)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("DecodeToken(EncodeToken(raw)) = %v, want %v", got, raw)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	if _, err := DecodeToken("not valid base64url!!"); err == nil {
		t.Fatal("expected an error decoding garbage input")
	}
}

func TestEncodeDecodeValueRoundTrip(t *testing.T) {
	syms := intern.NewSymbolTable()
	cases := []value.Value{
		value.Int(42),
		value.Int(-7),
		value.Str("hello"),
		value.Date(1234),
		value.Bytes([]byte{1, 2, 3}),
		value.Bool(true),
		value.Null(),
	}
	for _, v := range cases {
		enc := EncodeValue(v, syms)
		dec, err := DecodeValue(enc, syms)
		if err != nil {
			t.Fatalf("DecodeValue(%v): %v", v, err)
		}
		if !v.EqualStrict(dec) {
			t.Fatalf("round trip mismatch: %v != %v", v, dec)
		}
	}
}

func TestEncodeDecodeSetAndArrayAndMap(t *testing.T) {
	syms := intern.NewSymbolTable()

	set, err := value.NewSet([]value.Value{value.Int(1), value.Int(2)})
	if err != nil {
		t.Fatalf("NewSet: %v", err)
	}
	encSet := EncodeValue(set, syms)
	decSet, err := DecodeValue(encSet, syms)
	if err != nil {
		t.Fatalf("DecodeValue(set): %v", err)
	}
	if !set.EqualStrict(decSet) {
		t.Fatalf("set round trip mismatch: %v != %v", set, decSet)
	}

	arr := value.Array([]value.Value{value.Str("a"), value.Str("b")})
	encArr := EncodeValue(arr, syms)
	decArr, err := DecodeValue(encArr, syms)
	if err != nil {
		t.Fatalf("DecodeValue(array): %v", err)
	}
	if !arr.EqualStrict(decArr) {
		t.Fatalf("array round trip mismatch: %v != %v", arr, decArr)
	}

	m, err := value.NewMap([]value.MapKey{value.StrKey("k")}, []value.Value{value.Int(9)})
	if err != nil {
		t.Fatalf("NewMap: %v", err)
	}
	encMap := EncodeValue(m, syms)
	decMap, err := DecodeValue(encMap, syms)
	if err != nil {
		t.Fatalf("DecodeValue(map): %v", err)
	}
	if !m.EqualStrict(decMap) {
		t.Fatalf("map round trip mismatch: %v != %v", m, decMap)
	}
}

func TestEncodeDecodeTermVariable(t *testing.T) {
	syms := intern.NewSymbolTable()
	tm := term.Var("x")
	enc := EncodeTerm(tm, syms)
	dec, err := DecodeTerm(enc, syms)
	if err != nil {
		t.Fatalf("DecodeTerm: %v", err)
	}
	if !dec.IsVariable() || dec.Variable() != "x" {
		t.Fatalf("DecodeTerm = %v, want variable x", dec)
	}
}

func TestEncodeDecodeTermInternsStringsConsistently(t *testing.T) {
	syms := intern.NewSymbolTable()
	a := term.Val(value.Str("alice"))
	encA1 := EncodeTerm(a, syms)
	encA2 := EncodeTerm(a, syms)
	if string(encA1) != string(encA2) {
		t.Fatal("interning the same string twice must produce the same encoding")
	}
	dec, err := DecodeTerm(encA1, syms)
	if err != nil {
		t.Fatalf("DecodeTerm: %v", err)
	}
	s, _ := dec.Value().AsString()
	if s != "alice" {
		t.Fatalf("DecodeTerm value = %q, want alice", s)
	}
}
