package main

import (
	"fmt"
	"os"

	"github.com/certen/biscuit/crypto/chainsig"
)

// Key files on disk are a one-byte algorithm tag followed by the key's raw
// export bytes (chainsig.PrivateKey.Bytes / chainsig.PublicKey.Bytes) —
// deliberately not the wire format, since these never travel inside a
// token and have no schema to match.

func writeKeyFile(path string, alg chainsig.Algorithm, raw []byte) error {
	data := append([]byte{byte(alg)}, raw...)
	return os.WriteFile(path, data, 0o600)
}

func readPrivateKeyFile(path string) (chainsig.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chainsig.PrivateKey{}, err
	}
	if len(data) < 1 {
		return chainsig.PrivateKey{}, fmt.Errorf("%s: empty key file", path)
	}
	return chainsig.PrivateKeyFromBytes(chainsig.Algorithm(data[0]), data[1:])
}

func readPublicKeyFile(path string) (chainsig.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return chainsig.PublicKey{}, err
	}
	if len(data) < 1 {
		return chainsig.PublicKey{}, fmt.Errorf("%s: empty key file", path)
	}
	return chainsig.PublicKey{Algorithm: chainsig.Algorithm(data[0]), Bytes: append([]byte(nil), data[1:]...)}, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
