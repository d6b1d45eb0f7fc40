// Package chk provides boolean error-check helpers that log at a severity
// matching the call site and report whether an error occurred, so fallible
// calls can be written as `if err = f(); chk.E(err) { return }`.
package chk

import "nostrengine.dev/log"

// E logs err at Error level and reports whether it is non-nil.
func E(err error) bool {
	if err != nil {
		log.E.F("%v", err)
		return true
	}
	return false
}

// W logs err at Warn level and reports whether it is non-nil.
func W(err error) bool {
	if err != nil {
		log.W.F("%v", err)
		return true
	}
	return false
}

// D logs err at Debug level and reports whether it is non-nil.
func D(err error) bool {
	if err != nil {
		log.D.F("%v", err)
		return true
	}
	return false
}

// T logs err at Trace level and reports whether it is non-nil.
func T(err error) bool {
	if err != nil {
		log.T.F("%v", err)
		return true
	}
	return false
}

// F logs err at Fatal level and reports whether it is non-nil. It does not
// terminate the process; callers decide what a fatal condition means for
// them.
func F(err error) bool {
	if err != nil {
		log.F.F("%v", err)
		return true
	}
	return false
}
