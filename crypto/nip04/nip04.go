// Package nip04 implements the legacy NIP-04 direct-message encryption
// scheme: AES-256-CBC with a random IV, keyed by the raw X coordinate of
// the ECDH shared point between the two parties (spec §4.6 — "no hashing"
// is an explicit deviation from most AES-CBC conventions, which normally
// key from a hash of the shared secret). Grounded on the teacher's
// dependency on golang.org/x/crypto-adjacent primitives; no pack example
// carries a ready-made NIP-04 implementation, so this is built directly on
// stdlib crypto/aes + crypto/cipher, the same primitives every other NIP-04
// implementation in the ecosystem (nbd-wtf/go-nostr included) uses.
package nip04

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"strings"

	"lukechampine.com/frand"

	"nostrengine.dev/crypto/schnorr"
	"nostrengine.dev/errorf"
)

// SharedKey derives the 32-byte AES key from sk and peerPub: the raw X
// coordinate of the ECDH point, unhashed (spec §4.6).
func SharedKey(sk, peerPub []byte) ([]byte, error) {
	return schnorr.ECDHRawX(sk, peerPub)
}

// Encrypt produces a NIP-04 ciphertext: base64(AES-256-CBC(plaintext)) +
// "?iv=" + base64(iv).
func Encrypt(sk, peerPub, plaintext []byte) (string, error) {
	key, err := SharedKey(sk, peerPub)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errorf.C(errorf.CryptoError, "aes cipher: %v", err)
	}
	iv := frand.Bytes(aes.BlockSize)
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt reverses Encrypt.
func Decrypt(sk, peerPub []byte, payload string) ([]byte, error) {
	key, err := SharedKey(sk, peerPub)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(payload, "?iv=", 2)
	if len(parts) != 2 {
		return nil, errorf.C(errorf.Decrypt, "nip04 payload missing iv marker")
	}
	ct, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errorf.C(errorf.Decrypt, "nip04 ciphertext base64: %v", err)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errorf.C(errorf.Decrypt, "nip04 iv base64: %v", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, errorf.C(errorf.Decrypt, "nip04 iv wrong length %d", len(iv))
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return nil, errorf.C(errorf.Decrypt, "nip04 ciphertext not block-aligned")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errorf.C(errorf.CryptoError, "aes cipher: %v", err)
	}
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	return pkcs7Unpad(out)
}

func pkcs7Pad(b []byte, blockSize int) []byte {
	padLen := blockSize - len(b)%blockSize
	padded := make([]byte, len(b)+padLen)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, errorf.C(errorf.Decrypt, "nip04 plaintext empty")
	}
	padLen := int(b[len(b)-1])
	if padLen == 0 || padLen > len(b) {
		return nil, errorf.C(errorf.Decrypt, "nip04 bad padding")
	}
	return b[:len(b)-padLen], nil
}
