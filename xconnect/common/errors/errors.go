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

/*
Package errors provides error wrapping helpers that add inline, single frame
stack trace information to error messages, and the classification of
connection establishment failures into a fixed set of kinds.
*/
package errors

import (
	"fmt"

	"github.com/Psiphon-Labs/xconnect/xconnect/common/stacktrace"
)

// TraceNew returns a new error with the given message, wrapped with the caller
// stack frame information.
func TraceNew(message string) error {
	return fmt.Errorf("%s: %w", caller(), fmt.Errorf("%s", message))
}

// Tracef returns a new error with the given formatted message, wrapped with
// the caller stack frame information.
func Tracef(format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", caller(), fmt.Errorf(format, args...))
}

// Trace wraps the given error with the caller stack frame information.
func Trace(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", caller(), err)
}

// TraceMsg wraps the given error with the caller stack frame information
// and the given message.
func TraceMsg(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %s: %w", caller(), message, err)
}

// caller formats the frame of the function which called the exported
// helper, e.g. "transport.Open#123".
func caller() string {
	return stacktrace.GetAncestorFunctionName(1)
}
