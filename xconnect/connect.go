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
Package xconnect establishes connections to X display servers.

Connect and ConnectWithAuthInfo parse a display address, open a transport to
the display server, perform the connection setup exchange and validate the
requested screen. The result is always a non-nil Connection, which records
the state reached and, on failure, an error classified with an errors.Kind.
*/
package xconnect

import (
	"context"
	"net"
	"sync"

	"github.com/Psiphon-Labs/xconnect/xconnect/common/display"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/setup"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/transport"
)

// State is the progress of connection establishment.
type State int

const (
	StateUnstarted State = iota
	StateParsed
	StateConnected
	StateHandshaken
	StateScreenValidated

	StateParseFailed
	StateConnectFailed
	StateHandshakeFailed
	StateScreenInvalid
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateParsed:
		return "parsed"
	case StateConnected:
		return "connected"
	case StateHandshaken:
		return "handshaken"
	case StateScreenValidated:
		return "screen-validated"
	case StateParseFailed:
		return "parse-failed"
	case StateConnectFailed:
		return "connect-failed"
	case StateHandshakeFailed:
		return "handshake-failed"
	case StateScreenInvalid:
		return "screen-invalid"
	}
	return "unknown"
}

// IsFailure reports whether s is a terminal failure state.
func (s State) IsFailure() bool {
	return s >= StateParseFailed
}

// Session is a display connection which has completed the connection setup
// exchange.
type Session interface {

	// RootsLen is the number of screens advertised by the server.
	RootsLen() int

	Close() error
}

// Handshaker performs the connection setup exchange on a connected socket.
//
// Handshake takes ownership of conn. When Handshake returns an error, conn
// must be closed.
type Handshaker interface {
	Handshake(ctx context.Context, conn net.Conn, authInfo *AuthInfo) (Session, error)
}

type setupHandshaker struct {
}

func (setupHandshaker) Handshake(
	ctx context.Context, conn net.Conn, authInfo *AuthInfo) (Session, error) {

	var authName, authData []byte
	if authInfo != nil {
		authName, authData = authInfo.Name, authInfo.Data
	}
	session, err := setup.Handshake(ctx, conn, authName, authData)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return session, nil
}

// Connection is the outcome of connection establishment.
type Connection struct {
	mutex   sync.Mutex
	state   State
	err     error
	address *display.Address
	session Session
}

// State returns the state reached by connection establishment. A
// successful Connection is in StateScreenValidated.
func (c *Connection) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Err returns the error which ended connection establishment, or nil.
func (c *Connection) Err() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.err
}

func (c *Connection) HasError() bool {
	return c.Err() != nil
}

// ErrorKind returns the classification of Err, or errors.Unclassified when
// there is no error.
func (c *Connection) ErrorKind() errors.Kind {
	return errors.KindOf(c.Err())
}

// Address returns the parsed display address, or nil when parsing failed.
func (c *Connection) Address() *display.Address {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.address
}

// Screen returns the screen number of the display address.
func (c *Connection) Screen() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.address == nil {
		return 0
	}
	return c.address.Screen
}

// Session returns the established session, or nil when connection
// establishment failed.
func (c *Connection) Session() Session {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.session
}

// Close closes the session, if any. Close may be called more than once.
func (c *Connection) Close() error {
	c.mutex.Lock()
	session := c.session
	c.session = nil
	c.mutex.Unlock()

	if session == nil {
		return nil
	}
	return errors.Trace(session.Close())
}

func (c *Connection) advance(state State) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.state = state
}

func (c *Connection) fail(state State, err error) *Connection {
	c.mutex.Lock()
	c.state = state
	c.err = err
	c.mutex.Unlock()
	return c
}

// Connect connects to the display named by displayName, or to the display
// named by the DISPLAY environment variable when displayName is empty,
// using the default configuration and no caller-supplied authorization data.
func Connect(ctx context.Context, displayName string) *Connection {
	return ConnectWithAuthInfo(ctx, nil, displayName, nil)
}

// ConnectWithAuthInfo connects to the display named by displayName. When
// displayName is empty, config.DisplayName and then the DISPLAY environment
// variable are used. A nil config selects DefaultConfig.
//
// When authInfo is nil, config.AuthLookup, if set, is consulted for
// authorization data.
//
// The returned Connection is never nil. The caller must call Close on a
// successful Connection.
func ConnectWithAuthInfo(
	ctx context.Context,
	config *Config,
	displayName string,
	authInfo *AuthInfo) *Connection {

	if config == nil {
		config = DefaultConfig()
	}

	if displayName == "" {
		displayName = config.DisplayName
	}

	connection := &Connection{state: StateUnstarted}

	NoticeConnecting(displayName)

	connection.connect(ctx, config, displayName, authInfo)

	if connection.HasError() {
		NoticeConnectFailed(displayName, connection.State(), connection.Err())
	} else {
		NoticeConnected(
			connection.Address().String(),
			connection.Screen(),
			connection.Session().RootsLen())
	}

	return connection
}

func (c *Connection) connect(
	ctx context.Context,
	config *Config,
	displayName string,
	authInfo *AuthInfo) {

	address, err := display.Parse(displayName)
	if err != nil {
		c.fail(StateParseFailed, errors.Trace(err))
		return
	}
	c.mutex.Lock()
	c.address = address
	c.mutex.Unlock()
	c.advance(StateParsed)

	dialConfig, err := config.makeDialConfig()
	if err != nil {
		c.fail(StateConnectFailed,
			errors.Trace(errors.WithKind(errors.NoTransportAvailable, err)))
		return
	}

	conn, err := transport.Open(ctx, address, dialConfig)
	if err != nil {
		c.fail(StateConnectFailed, errors.Trace(err))
		return
	}
	c.advance(StateConnected)

	if authInfo == nil && config.AuthLookup != nil {
		authInfo, err = config.AuthLookup.LookupAuthInfo(conn, address.Display)
		if err != nil {
			NoticeWarning("auth lookup failed: %s", errors.Trace(err))
			authInfo = nil
		}
	}

	handshaker := config.Handshaker
	if handshaker == nil {
		handshaker = setupHandshaker{}
	}

	// The handshaker now owns conn.
	session, err := handshaker.Handshake(ctx, conn, authInfo)
	if err == nil && session == nil {
		conn.Close()
		err = errors.TraceNew("handshake returned no session")
	}
	if err != nil {
		c.fail(StateHandshakeFailed,
			errors.Trace(errors.WithKind(errors.HandshakeError, err)))
		return
	}
	c.advance(StateHandshaken)

	if config.checkScreen() && address.Screen >= session.RootsLen() {
		session.Close()
		c.fail(StateScreenInvalid, errors.KindNew(
			errors.InvalidScreenIndex,
			"screen %d out of range: %d screens", address.Screen, session.RootsLen()))
		return
	}

	c.mutex.Lock()
	c.session = session
	c.state = StateScreenValidated
	c.mutex.Unlock()
}

func errorKindString(err error) string {
	return errors.KindOf(err).String()
}
