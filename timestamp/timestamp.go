// Package timestamp wraps the Nostr created_at field: seconds since the
// Unix epoch, stored as a signed 64-bit value on the wire but never negative
// for events this engine constructs.
package timestamp

import "time"

// T is a Nostr timestamp.
type T struct{ t int64 }

// Now returns the current time as a T.
func Now() *T { return &T{t: time.Now().Unix()} }

// FromUnix builds a T from a unix-seconds value.
func FromUnix(i int64) *T { return &T{t: i} }

// I64 returns the timestamp as a plain int64.
func (t *T) I64() int64 {
	if t == nil {
		return 0
	}
	return t.t
}

// Time returns the timestamp as a time.Time.
func (t *T) Time() time.Time { return time.Unix(t.I64(), 0).UTC() }
