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
Package clientlib is a simplified interface for applications which embed
xconnect: it opens a display connection from a JSON config, with optional
runtime overrides, and delivers notices to a callback instead of stderr.
*/
package clientlib

import (
	"context"
	"encoding/json"
	std_errors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Psiphon-Labs/xconnect/xconnect"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
)

// Parameters provide an easier way to modify the config at runtime.
type Parameters struct {

	// Overrides config.DisplayName. nil means the value in the config file
	// will be used. An empty string selects the DISPLAY environment variable.
	DisplayName *string

	// Overrides config.CheckScreen.
	CheckScreen *bool

	// Overrides config.DNSServer.
	DNSServer *string

	// ConnectTimeoutMilliseconds bounds the whole connection establishment.
	// nil or zero means there is no timeout.
	ConnectTimeoutMilliseconds *int

	// AuthInfo is authorization data sent to the display server. When nil,
	// AuthLookup, if set, is consulted.
	AuthInfo *xconnect.AuthInfo

	// AuthLookup sets config.AuthLookup.
	AuthLookup xconnect.AuthLookup
}

// NoticeEvent represents the notices emitted by xconnect. It will be passed
// to noticeReceiver, if supplied.
type NoticeEvent struct {
	Data      map[string]interface{} `json:"data"`
	Type      string                 `json:"noticeType"`
	Timestamp string                 `json:"timestamp"`
}

// ConnectError is returned when connection establishment fails. State and
// Kind report where, and why, establishment stopped.
type ConnectError struct {
	State xconnect.State
	Kind  errors.Kind
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("clientlib: %s: %s", e.State, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ErrTimeout is returned when connection establishment fails due to timeout.
var ErrTimeout = std_errors.New("clientlib: display connection timeout")
var errMultipleOpen = std_errors.New("clientlib: OpenDisplay called concurrently")

// opening ensures that only one OpenDisplay, which redirects notices, runs
// at a time.
var opening atomic.Bool

// Display is an open display connection.
type Display struct {
	mu         sync.Mutex
	connection *xconnect.Connection

	// Address is the canonical form of the connected display address.
	Address string

	// Screen is the screen number of the display address.
	Screen int

	// RootsLen is the number of screens advertised by the server.
	RootsLen int
}

// OpenDisplay connects to an X display server. It returns an error if the
// connection was not successful; otherwise the caller must Close the
// returned Display.
//
// ctx may be cancelable, if the caller wants to be able to interrupt the
// connection attempt, or context.Background().
//
// configJSON will be passed to xconnect.LoadConfig. nil or empty selects
// the default config.
//
// noticeReceiver, if non-nil, will be called for each notice emitted while
// connecting.
func OpenDisplay(
	ctx context.Context,
	configJSON []byte,
	params Parameters,
	noticeReceiver func(NoticeEvent)) (retDisplay *Display, retErr error) {

	if !opening.CompareAndSwap(false, true) {
		return nil, errMultipleOpen
	}
	defer opening.Store(false)

	// Set up notice handling before config operations, which may emit
	// notices.
	xconnect.SetNoticeWriter(xconnect.NewNoticeReceiver(
		func(notice []byte) {
			var event NoticeEvent
			err := json.Unmarshal(notice, &event)
			if err != nil {
				// Only well-formed notices are delivered.
				return
			}
			if noticeReceiver != nil {
				noticeReceiver(event)
			}
		}))
	defer xconnect.ResetNoticeWriter()

	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}
	config, err := xconnect.LoadConfig(configJSON)
	if err != nil {
		return nil, errors.TraceMsg(err, "failed to load config")
	}

	if params.DisplayName != nil {
		config.DisplayName = *params.DisplayName
	} // else use the value in config

	if params.CheckScreen != nil {
		config.CheckScreen = params.CheckScreen
	} // else use the value in config

	if params.DNSServer != nil {
		config.DNSServer = *params.DNSServer
	} // else use the value in config

	if params.AuthLookup != nil {
		config.AuthLookup = params.AuthLookup
	}

	err = xconnect.SetNoticeLevel(config.NoticeLevel)
	if err != nil {
		return nil, errors.Trace(err)
	}
	xconnect.SetEmitDiagnosticNotices(config.EmitDiagnosticNotices)

	if params.ConnectTimeoutMilliseconds != nil && *params.ConnectTimeoutMilliseconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(
			ctx, time.Duration(*params.ConnectTimeoutMilliseconds)*time.Millisecond)
		defer cancel()
	}

	connection := xconnect.ConnectWithAuthInfo(ctx, config, "", params.AuthInfo)
	if connection.HasError() {
		if std_errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, &ConnectError{
			State: connection.State(),
			Kind:  connection.ErrorKind(),
			Err:   connection.Err(),
		}
	}

	return &Display{
		connection: connection,
		Address:    connection.Address().String(),
		Screen:     connection.Screen(),
		RootsLen:   connection.Session().RootsLen(),
	}, nil
}

// Session returns the underlying session, or nil after Close.
func (display *Display) Session() xconnect.Session {
	display.mu.Lock()
	defer display.mu.Unlock()
	if display.connection == nil {
		return nil
	}
	return display.connection.Session()
}

// Close closes the display connection. It is safe to call Close multiple
// times and concurrently.
func (display *Display) Close() error {
	display.mu.Lock()
	defer display.mu.Unlock()

	if display.connection == nil {
		return nil
	}
	err := display.connection.Close()
	display.connection = nil
	return errors.Trace(err)
}
