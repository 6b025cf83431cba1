/*
 * Copyright (c) 2026, Psiphon Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package errors

import (
	std_errors "errors"
	"fmt"
)

// Kind classifies why establishing a display connection failed.
type Kind int

const (
	// Unclassified is reported by KindOf for errors without a Kind.
	Unclassified Kind = iota

	// InvalidDisplayString indicates the display address did not match the
	// display grammar, or named a socket path which doesn't exist.
	InvalidDisplayString

	// NoEnvironmentDisplay indicates no display address was supplied and
	// the DISPLAY environment variable is not set.
	NoEnvironmentDisplay

	// NoTransportAvailable indicates no transport applies to the address,
	// or the only applicable transport is unavailable on this platform or
	// build.
	NoTransportAvailable

	// TransportRefused indicates the display server endpoint refused the
	// connection.
	TransportRefused

	// SystemCallFailure indicates a socket, connect or name resolution call
	// failed.
	SystemCallFailure

	// InvalidScreenIndex indicates the requested screen is not advertised
	// by the display server.
	InvalidScreenIndex

	// HandshakeError indicates the connection setup exchange failed. The
	// underlying error is the handshake's own, unmodified.
	HandshakeError
)

func (k Kind) String() string {
	switch k {
	case Unclassified:
		return "unclassified"
	case InvalidDisplayString:
		return "invalid display string"
	case NoEnvironmentDisplay:
		return "no environment display"
	case NoTransportAvailable:
		return "no transport available"
	case TransportRefused:
		return "transport refused"
	case SystemCallFailure:
		return "system call failure"
	case InvalidScreenIndex:
		return "invalid screen index"
	case HandshakeError:
		return "handshake error"
	}
	return fmt.Sprintf("unknown kind %d", int(k))
}

// KindError attaches a Kind to an underlying cause.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// WithKind returns err classified as kind. When err already carries a Kind,
// the outermost classification is the one reported by KindOf.
func WithKind(kind Kind, err error) error {
	return &KindError{Kind: kind, Err: err}
}

// KindNew returns a new error of the given kind with a formatted message,
// wrapped with the caller stack frame information.
func KindNew(kind Kind, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", caller(), &KindError{
		Kind: kind,
		Err:  fmt.Errorf(format, args...),
	})
}

// KindOf returns the Kind of the outermost KindError in err's chain, or
// Unclassified.
func KindOf(err error) Kind {
	var kindErr *KindError
	if std_errors.As(err, &kindErr) {
		return kindErr.Kind
	}
	return Unclassified
}
