package chainsig

import "encoding/binary"

// Domain-separation tags, verbatim from §4.2.
var (
	tagBlock       = []byte("\x00BLOCK\x00")
	tagExternal    = []byte("\x00EXTERNAL\x00")
	tagVersion     = []byte("\x00VERSION\x00")
	tagPayload     = []byte("\x00PAYLOAD\x00")
	tagAlgorithm   = []byte("\x00ALGORITHM\x00")
	tagNextKey     = []byte("\x00NEXTKEY\x00")
	tagPrevSig     = []byte("\x00PREVSIG\x00")
	tagExternalSig = []byte("\x00EXTERNALSIG\x00")
)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// V1BlockInput builds the current (V1) signature input for a chain block:
// BLOCK tag, signing-scheme version (fixed 1), payload, algorithm tag of
// the *next* keypair, next-key bytes, optional previous signature, and
// optional external-signature bytes.
func V1BlockInput(payload []byte, nextKeyAlgorithm Algorithm, nextKeyBytes, prevSig, externalSig []byte) []byte {
	var out []byte
	out = append(out, tagBlock...)
	out = append(out, tagVersion...)
	out = append(out, le32(1)...)
	out = append(out, tagPayload...)
	out = append(out, payload...)
	out = append(out, tagAlgorithm...)
	out = append(out, le32(uint32(nextKeyAlgorithm))...)
	out = append(out, tagNextKey...)
	out = append(out, nextKeyBytes...)
	if prevSig != nil {
		out = append(out, tagPrevSig...)
		out = append(out, prevSig...)
	}
	if externalSig != nil {
		out = append(out, tagExternalSig...)
		out = append(out, externalSig...)
	}
	return out
}

// V1ExternalInput builds the V1 signature input a third party signs over:
// EXTERNAL tag in place of BLOCK, no next-key/algorithm sections, and the
// previous block's signature included.
func V1ExternalInput(payload []byte, prevSig []byte) []byte {
	var out []byte
	out = append(out, tagExternal...)
	out = append(out, tagVersion...)
	out = append(out, le32(1)...)
	out = append(out, tagPayload...)
	out = append(out, payload...)
	out = append(out, tagPrevSig...)
	out = append(out, prevSig...)
	return out
}

// V0BlockInput builds the legacy (read-only) signature input: payload ||
// optional external-signature bytes || algorithm tag (raw 4 bytes, no
// domain-separation prefix) || next-key bytes.
func V0BlockInput(payload []byte, externalSig []byte, nextKeyAlgorithm Algorithm, nextKeyBytes []byte) []byte {
	var out []byte
	out = append(out, payload...)
	if externalSig != nil {
		out = append(out, externalSig...)
	}
	out = append(out, le32(uint32(nextKeyAlgorithm))...)
	out = append(out, nextKeyBytes...)
	return out
}

// V0SealInput builds the V0 sealing input: payload || algorithm tag ||
// next-key bytes || block signature. Sealing always uses this scheme
// regardless of the block's own signature scheme (§9 open-question note).
func V0SealInput(payload []byte, nextKeyAlgorithm Algorithm, nextKeyBytes, blockSig []byte) []byte {
	var out []byte
	out = append(out, payload...)
	out = append(out, le32(uint32(nextKeyAlgorithm))...)
	out = append(out, nextKeyBytes...)
	out = append(out, blockSig...)
	return out
}
