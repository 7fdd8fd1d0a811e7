package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/certen/biscuit/crypto/chainsig"
	"github.com/certen/biscuit/token"
	"github.com/certen/biscuit/wire"
)

// readTokenString reads an encoded token from path, or from stdin when
// path is "-".
func readTokenString(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	data, err := readFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func decodeTokenString(s string) ([]byte, error) {
	return wire.DecodeToken(s)
}

func decodeTokenFile(path string, rootPub chainsig.PublicKey) (*token.Token, error) {
	s, err := readTokenString(path)
	if err != nil {
		return nil, err
	}
	resolver := func(*uint32) (chainsig.PublicKey, error) { return rootPub, nil }
	return token.DecodeString(s, resolver)
}

func writeToken(tok *token.Token, out string) error {
	encoded, err := tok.EncodeString()
	if err != nil {
		return err
	}
	if out == "" || out == "-" {
		fmt.Println(encoded)
		return nil
	}
	return os.WriteFile(out, []byte(encoded+"\n"), 0o644)
}
