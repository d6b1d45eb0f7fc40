// Package errorf builds formatted errors that carry the taxonomy codes used
// throughout the engine (see spec §7) alongside a human-readable message.
package errorf

import "fmt"

// E formats a new error, equivalent to fmt.Errorf without requiring callers
// to remember whether %w is needed.
func E(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Code is one of the taxonomy values from spec §7.
type Code string

const (
	// Protocol errors
	InvalidFrame    Code = "InvalidFrame"
	UnexpectedFrame Code = "UnexpectedFrame"
	AuthRejected    Code = "AuthRejected"

	// Relay errors
	ConnectionFailed Code = "ConnectionFailed"
	Timeout          Code = "Timeout"
	Closed           Code = "Closed"
	Disabled         Code = "Disabled"
	Backoff          Code = "Backoff"

	// Cache errors
	NotInitialized  Code = "NotInitialized"
	StorageFull     Code = "StorageFull"
	CorruptRecord   Code = "CorruptRecord"
	LockContention  Code = "LockContention"

	// Parser errors
	InvalidKind   Code = "InvalidKind"
	MissingField  Code = "MissingField"
	InvalidFormat Code = "InvalidFormat"
	InvalidTag    Code = "InvalidTag"
	Decrypt       Code = "Decrypt"

	// Signer errors
	NoSigner      Code = "NoSigner"
	InvalidKey    Code = "InvalidKey"
	CryptoError   Code = "CryptoError"
	RemoteRpcError Code = "RemoteRpcError"

	// Publish errors
	Rejected       Code = "Rejected"
	NoTargetRelays Code = "NoTargetRelays"

	// DLEQ errors
	MalformedProof     Code = "MalformedProof"
	VerificationFailed Code = "VerificationFailed"
)

// Coded is an error tagged with one of the taxonomy Codes so callers can
// branch on error kind without string matching.
type Coded struct {
	Code Code
	Msg  string
}

func (c *Coded) Error() string { return string(c.Code) + ": " + c.Msg }

// C builds a Coded error.
func C(code Code, format string, args ...any) error {
	return &Coded{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err is a *Coded with the given Code.
func Is(err error, code Code) bool {
	c, ok := err.(*Coded)
	return ok && c.Code == code
}
