// Package hex wraps encoding/hex with the nil/empty-safe helpers the rest of
// the engine expects (encode never errors; decode reports malformed input).
package hex

import "encoding/hex"

// Enc returns the lowercase hex encoding of b, or "" for an empty/nil slice.
func Enc(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return hex.EncodeToString(b)
}

// Dec decodes a hex string into bytes.
func Dec(s string) ([]byte, error) {
	return hex.DecodeString(s)
}

// EncAppend appends the hex encoding of src to dst and returns the result,
// matching the append-style codec helpers used by the event writer.
func EncAppend(dst, src []byte) []byte {
	n := len(dst)
	dst = append(dst, make([]byte, hex.EncodedLen(len(src)))...)
	hex.Encode(dst[n:], src)
	return dst
}
