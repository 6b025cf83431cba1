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
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrace(t *testing.T) {

	require.Nil(t, Trace(nil))
	require.Nil(t, TraceMsg(nil, "ignored"))

	err := TraceNew("socket closed")
	assert.True(t, strings.HasPrefix(err.Error(), "errors.TestTrace#"), err.Error())
	assert.True(t, strings.HasSuffix(err.Error(), ": socket closed"), err.Error())

	err = TraceMsg(syscall.ECONNREFUSED, "connect")
	assert.True(t, std_errors.Is(err, syscall.ECONNREFUSED))
	assert.Contains(t, err.Error(), ": connect: ")

	err = Tracef("display %d", 7)
	assert.True(t, strings.HasSuffix(err.Error(), ": display 7"), err.Error())
}

func TestKind(t *testing.T) {

	assert.Equal(t, Unclassified, KindOf(nil))
	assert.Equal(t, Unclassified, KindOf(TraceNew("plain")))

	err := Trace(WithKind(TransportRefused, syscall.ECONNREFUSED))
	assert.Equal(t, TransportRefused, KindOf(err))
	assert.True(t, std_errors.Is(err, syscall.ECONNREFUSED))
	assert.Contains(t, err.Error(), "transport refused: ")

	// The outermost classification wins.
	err = WithKind(HandshakeError, Trace(WithKind(SystemCallFailure, syscall.EPIPE)))
	assert.Equal(t, HandshakeError, KindOf(err))

	err = KindNew(InvalidScreenIndex, "screen %d out of range", 3)
	assert.Equal(t, InvalidScreenIndex, KindOf(err))
	assert.Contains(t, err.Error(), "invalid screen index: screen 3 out of range")

	assert.Equal(t, "unknown kind 99", Kind(99).String())
	assert.Equal(t, "no environment display", (&KindError{Kind: NoEnvironmentDisplay}).Error())
}
