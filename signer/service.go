package signer

import (
	"context"
	"sync"

	"nostrengine.dev/cashu"
	"nostrengine.dev/errorf"
	"nostrengine.dev/event"
	isigner "nostrengine.dev/interfaces/signer"
)

// Service is the Signer Service (spec §4.6): the single RPC façade a host
// or Parser talks to, regardless of whether the configured signer is Local
// or a NIP-46 Remote. Dispatch is single-threaded per worker, cooperative,
// matching the teacher's convention of guarding shared workers with one
// mutex rather than fine-grained locks (cache.Worker does the same).
type Service struct {
	mu     sync.Mutex
	signer isigner.I
}

// NewService wraps s as the active signer. s is typically a *Local or a
// *Remote, both of which also satisfy TemplateSigner.
func NewService(s isigner.I) *Service {
	return &Service{signer: s}
}

// SetSigner swaps the active signer, e.g. when a host reconfigures from
// Local to a freshly paired Remote.
func (svc *Service) SetSigner(s isigner.I) {
	svc.mu.Lock()
	svc.signer = s
	svc.mu.Unlock()
}

func (svc *Service) current() isigner.I {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.signer
}

// GetPubkey implements the get_pubkey op.
func (svc *Service) GetPubkey() ([]byte, error) {
	s := svc.current()
	if s == nil {
		return nil, errorf.C(errorf.NoSigner, "no signer configured")
	}
	return s.Pub(), nil
}

// SignEvent implements the sign_event op: it turns an unsigned template
// into a fully signed event, requiring the underlying signer support
// TemplateSigner (both Local and Remote do) since a bare digest can't
// carry a NIP-46 round trip (spec §4.6, §4.6.a).
func (svc *Service) SignEvent(tpl *event.Template) (*event.E, error) {
	s := svc.current()
	if s == nil {
		return nil, errorf.C(errorf.NoSigner, "no signer configured")
	}
	ts, ok := s.(TemplateSigner)
	if !ok {
		return nil, errorf.C(errorf.NoSigner, "configured signer cannot sign templates")
	}
	ev, err := ts.SignTemplate(tpl)
	if err != nil {
		return nil, err
	}
	pub, err := schnorrPub(s)
	if err == nil && pub != nil && !bytesEqual(ev.Pubkey, pub) {
		return nil, errorf.C(errorf.InvalidKey, "signed event pubkey does not match signer")
	}
	return ev, nil
}

func schnorrPub(s isigner.I) ([]byte, error) {
	p := s.Pub()
	if len(p) == 0 {
		return nil, errorf.C(errorf.NoSigner, "signer pubkey not yet known")
	}
	return p, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Nip04Encrypt/Nip04Decrypt/Nip44Encrypt/Nip44Decrypt implement their
// matching ops, proxying straight to the active signer.
func (svc *Service) Nip04Encrypt(plaintext, peerPub []byte) (string, error) {
	s := svc.current()
	if s == nil {
		return "", errorf.C(errorf.NoSigner, "no signer configured")
	}
	return s.Nip04Encrypt(plaintext, peerPub)
}

func (svc *Service) Nip04Decrypt(ciphertext string, peerPub []byte) ([]byte, error) {
	s := svc.current()
	if s == nil {
		return nil, errorf.C(errorf.NoSigner, "no signer configured")
	}
	return s.Nip04Decrypt(ciphertext, peerPub)
}

func (svc *Service) Nip44Encrypt(plaintext, peerPub []byte) (string, error) {
	s := svc.current()
	if s == nil {
		return "", errorf.C(errorf.NoSigner, "no signer configured")
	}
	return s.Nip44Encrypt(plaintext, peerPub)
}

func (svc *Service) Nip44Decrypt(ciphertext string, peerPub []byte) ([]byte, error) {
	s := svc.current()
	if s == nil {
		return nil, errorf.C(errorf.NoSigner, "no signer configured")
	}
	return s.Nip44Decrypt(ciphertext, peerPub)
}

// Nip04DecryptBetween and Nip44DecryptBetween implement the
// "_between" ops. They decrypt with the active signer's own key against
// peerPub, exactly like Nip04Decrypt/Nip44Decrypt, so the signer must be
// one of the two parties; a payload exchanged between two other keys
// cannot be decrypted. The separate names keep the op list
// self-documenting (spec §4.6 Ops).
func (svc *Service) Nip04DecryptBetween(ciphertext string, peerPub []byte) ([]byte, error) {
	return svc.Nip04Decrypt(ciphertext, peerPub)
}

func (svc *Service) Nip44DecryptBetween(ciphertext string, peerPub []byte) ([]byte, error) {
	return svc.Nip44Decrypt(ciphertext, peerPub)
}

// VerifyProof implements the verify_proof op: DLEQ verification of a
// Cashu proof (spec §4.7), which needs no secret material and so is
// served directly by the Signer Service rather than routed through the
// configured signer.
func (svc *Service) VerifyProof(proof *cashu.Proof, mintPubKeyHex string) (bool, error) {
	return cashu.VerifyDLEQ(proof, mintPubKeyHex)
}

// Shutdown tears down a Remote signer's transport subscription if one is
// configured, failing every pending RPC (spec §4.6 Cancellation). Local
// signers have nothing to tear down.
func (svc *Service) Shutdown(context.Context) {
	if r, ok := svc.current().(*Remote); ok {
		r.Stop()
	}
}
