// Package signer declares the signing capability the event package and the
// parser registry depend on, without depending on any concrete signer
// implementation (local key material or NIP-46 remote signer). This mirrors
// the teacher's interfaces/store and interfaces/publisher split: concrete
// implementations live elsewhere and only need to satisfy I.
package signer

// I is satisfied by anything that can produce a public key, Schnorr-sign a
// message, and perform the NIP-04/NIP-44 encrypt/decrypt operations the
// parser needs for privacy-kind events (spec §4.5, §4.6).
type I interface {
	// Pub returns the 32-byte x-only public key.
	Pub() []byte
	// Sign produces a 64-byte Schnorr signature over msg (the event id).
	Sign(msg []byte) (sig []byte, err error)

	// Nip04Encrypt/Nip04Decrypt implement the legacy NIP-04 AES-256-CBC
	// scheme against peerPub's public key.
	Nip04Encrypt(plaintext []byte, peerPub []byte) (ciphertext string, err error)
	Nip04Decrypt(ciphertext string, peerPub []byte) (plaintext []byte, err error)

	// Nip44Encrypt/Nip44Decrypt implement the NIP-44 v2 scheme.
	Nip44Encrypt(plaintext []byte, peerPub []byte) (ciphertext string, err error)
	Nip44Decrypt(ciphertext string, peerPub []byte) (plaintext []byte, err error)
}
