// Copyright 2014 The go-probeum Authors
// This file is part of the go-probeum library.
//
// The go-probeum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-probeum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-probeum library. If not, see <http://www.gnu.org/licenses/>.

// Package rmerr defines the RMM error-kind taxonomy shared by the RMI and RSI
// dispatchers. Kinds are not a type hierarchy: every handler returns the same
// *Error, distinguished by Kind, so the dispatcher can encode it into the
// FID-specific return registers without a type switch per command.
package rmerr

import "fmt"

// Kind classifies a command failure for status-code encoding.
type Kind int

const (
	// KindNone indicates success; no *Error is ever constructed with it.
	KindNone Kind = iota

	// KindInput covers misaligned/out-of-range arguments, wrong granule
	// state, and unsupported features.
	KindInput

	// KindRealm covers "RD not in required state" failures. Carries k,
	// the RMI-level realm error sub-code.
	KindRealm

	// KindRec covers "REC wrong state or not owned by the expected RD".
	KindRec

	// KindRtt covers "walk stopped at level L"; the host is expected to
	// create an intermediate table and retry. Carries the level reached.
	KindRtt

	// KindCrypto covers signing/hashing/KDF failure, fatal to the current
	// attestation token.
	KindCrypto
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInput:
		return "input"
	case KindRealm:
		return "realm"
	case KindRec:
		return "rec"
	case KindRtt:
		return "rtt"
	case KindCrypto:
		return "crypto"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by every handler in internal/rmi
// and internal/rsi. Level/Code are only meaningful for KindRealm/KindRtt.
type Error struct {
	Kind   Kind
	Code   int    // RmiErrorRealm(k) sub-code, or Rtt walk level
	Reason string // human-readable context, never part of the wire reply
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("rmm: %s error", e.Kind)
	}
	return fmt.Sprintf("rmm: %s error: %s", e.Kind, e.Reason)
}

// Input builds a KindInput error.
func Input(reason string, args ...interface{}) *Error {
	return &Error{Kind: KindInput, Reason: fmt.Sprintf(reason, args...)}
}

// Realm builds a KindRealm error carrying the realm sub-code k.
func Realm(k int, reason string, args ...interface{}) *Error {
	return &Error{Kind: KindRealm, Code: k, Reason: fmt.Sprintf(reason, args...)}
}

// Rec builds a KindRec error.
func Rec(reason string, args ...interface{}) *Error {
	return &Error{Kind: KindRec, Reason: fmt.Sprintf(reason, args...)}
}

// Rtt builds a KindRtt error carrying the level the walk stopped at.
func Rtt(level int, reason string, args ...interface{}) *Error {
	return &Error{Kind: KindRtt, Code: level, Reason: fmt.Sprintf(reason, args...)}
}

// Crypto builds a KindCrypto error.
func Crypto(reason string, args ...interface{}) *Error {
	return &Error{Kind: KindCrypto, Reason: fmt.Sprintf(reason, args...)}
}

// StatusCode encodes e into the RMI x0 status word:
// Success=0; RmiErrorInput=1; RmiErrorRealm(k)=2|(k<<8); RmiErrorRec=3;
// RmiErrorRtt(level)=4|(level<<8). A nil *Error encodes to Success.
func StatusCode(e *Error) uint64 {
	if e == nil {
		return 0
	}
	switch e.Kind {
	case KindInput:
		return 1
	case KindRealm:
		return 2 | uint64(e.Code)<<8
	case KindRec:
		return 3
	case KindRtt:
		return 4 | uint64(e.Code)<<8
	case KindCrypto:
		// Crypto failures have no dedicated RMI status code; they are
		// only reachable from attestation handlers, which surface them
		// as RmiErrorInput to the host: a crypto failure is fatal to
		// the current token, not to the monitor.
		return 1
	default:
		return 1
	}
}

// As reports whether err is an *Error of the given kind, returning it.
func As(err error, kind Kind) (*Error, bool) {
	e, ok := err.(*Error)
	if !ok || e.Kind != kind {
		return nil, false
	}
	return e, true
}
