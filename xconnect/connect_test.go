//go:build unix

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

package xconnect

import (
	"context"
	"encoding/binary"
	std_errors "errors"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDisplayServer accepts connections on a local socket and answers each
// setup request with a successful reply advertising rootsLen screens.
type testDisplayServer struct {
	listener    net.Listener
	prefix      string
	rootsLen    int
	closedConns chan struct{}
	waitGroup   sync.WaitGroup
}

func startTestDisplayServer(t *testing.T, displayNumber string, rootsLen int) *testDisplayServer {

	prefix := filepath.Join(t.TempDir(), "X")
	listener, err := net.Listen("unix", prefix+displayNumber)
	require.NoError(t, err)

	server := &testDisplayServer{
		listener:    listener,
		prefix:      prefix,
		rootsLen:    rootsLen,
		closedConns: make(chan struct{}, 16),
	}

	server.waitGroup.Add(1)
	go func() {
		defer server.waitGroup.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			server.waitGroup.Add(1)
			go func() {
				defer server.waitGroup.Done()
				server.serve(conn)
			}()
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		server.waitGroup.Wait()
	})

	return server
}

func (server *testDisplayServer) serve(conn net.Conn) {
	defer conn.Close()

	// Signal once the client has closed its end, or the exchange failed.
	defer func() {
		select {
		case server.closedConns <- struct{}{}:
		default:
		}
	}()

	header := make([]byte, 12)
	if _, err := io.ReadFull(conn, header); err != nil {
		return
	}
	nameLen := int(binary.LittleEndian.Uint16(header[6:]))
	dataLen := int(binary.LittleEndian.Uint16(header[8:]))
	padded := func(n int) int { return (n + 3) &^ 3 }
	if _, err := io.ReadFull(conn, make([]byte, padded(nameLen)+padded(dataLen))); err != nil {
		return
	}

	body := make([]byte, 32)
	body[20] = byte(server.rootsLen)
	reply := make([]byte, 8)
	reply[0] = 1
	binary.LittleEndian.PutUint16(reply[2:], 11)
	binary.LittleEndian.PutUint16(reply[6:], uint16(len(body)/4))
	if _, err := conn.Write(append(reply, body...)); err != nil {
		return
	}

	// Wait for the client to close its end.
	io.Copy(io.Discard, conn)
}

func (server *testDisplayServer) config() *Config {
	config := DefaultConfig()
	config.LocalSocketPrefix = server.prefix
	config.DisableTCP = true
	return config
}

func TestConnectSuccess(t *testing.T) {

	server := startTestDisplayServer(t, "0", 2)

	connection := ConnectWithAuthInfo(context.Background(), server.config(), ":0.1", nil)
	require.NoError(t, connection.Err())
	assert.False(t, connection.HasError())
	assert.Equal(t, StateScreenValidated, connection.State())
	assert.Equal(t, errors.Unclassified, connection.ErrorKind())
	assert.Equal(t, 1, connection.Screen())
	assert.Equal(t, 0, connection.Address().Display)
	require.NotNil(t, connection.Session())
	assert.Equal(t, 2, connection.Session().RootsLen())

	require.NoError(t, connection.Close())
	assert.Nil(t, connection.Session())
	assert.NoError(t, connection.Close())

	select {
	case <-server.closedConns:
	case <-time.After(5 * time.Second):
		t.Fatal("session not closed")
	}
}

func TestConnectInvalidScreen(t *testing.T) {

	server := startTestDisplayServer(t, "0", 1)

	connection := ConnectWithAuthInfo(context.Background(), server.config(), ":0.1", nil)
	require.Error(t, connection.Err())
	assert.Equal(t, StateScreenInvalid, connection.State())
	assert.Equal(t, errors.InvalidScreenIndex, connection.ErrorKind())
	assert.Nil(t, connection.Session())

	// The server sees the socket closed.
	select {
	case <-server.closedConns:
	case <-time.After(5 * time.Second):
		t.Fatal("socket not closed")
	}
}

func TestConnectScreenNotChecked(t *testing.T) {

	server := startTestDisplayServer(t, "0", 1)

	config := server.config()
	checkScreen := false
	config.CheckScreen = &checkScreen

	connection := ConnectWithAuthInfo(context.Background(), config, ":0.5", nil)
	require.NoError(t, connection.Err())
	assert.Equal(t, StateScreenValidated, connection.State())
	connection.Close()
}

func TestConnectDisplayNameFromConfig(t *testing.T) {

	server := startTestDisplayServer(t, "7", 1)

	config := server.config()
	config.DisplayName = "unix:7"

	connection := ConnectWithAuthInfo(context.Background(), config, "", nil)
	require.NoError(t, connection.Err())
	assert.Equal(t, 7, connection.Address().Display)
	connection.Close()
}

func TestConnectEnvironment(t *testing.T) {

	server := startTestDisplayServer(t, "3", 1)
	t.Setenv("DISPLAY", ":3")

	connection := ConnectWithAuthInfo(context.Background(), server.config(), "", nil)
	require.NoError(t, connection.Err())
	assert.Equal(t, 3, connection.Address().Display)
	connection.Close()
}

func TestConnectParseFailed(t *testing.T) {

	connection := Connect(context.Background(), "bad::::")
	assert.True(t, connection.HasError())
	assert.Equal(t, StateParseFailed, connection.State())
	assert.True(t, connection.State().IsFailure())
	assert.Equal(t, errors.InvalidDisplayString, connection.ErrorKind())
	assert.Nil(t, connection.Address())
	assert.Nil(t, connection.Session())
	assert.Equal(t, 0, connection.Screen())
	assert.NoError(t, connection.Close())
}

func TestConnectNoEnvironmentDisplay(t *testing.T) {

	t.Setenv("DISPLAY", "")

	connection := Connect(context.Background(), "")
	assert.Equal(t, StateParseFailed, connection.State())
	assert.Equal(t, errors.NoEnvironmentDisplay, connection.ErrorKind())
}

func TestConnectConnectFailed(t *testing.T) {

	config := DefaultConfig()
	config.LocalSocketPrefix = filepath.Join(t.TempDir(), "X")
	config.DisableTCP = true

	connection := ConnectWithAuthInfo(context.Background(), config, "unix:0", nil)
	assert.Equal(t, StateConnectFailed, connection.State())
	assert.Equal(t, errors.SystemCallFailure, connection.ErrorKind())
	assert.Equal(t, 0, connection.Address().Display)

	// Only TCP would remain for an empty host; it's disabled.
	connection = ConnectWithAuthInfo(context.Background(), config, ":0", nil)
	assert.Equal(t, StateConnectFailed, connection.State())
	assert.Equal(t, errors.NoTransportAvailable, connection.ErrorKind())
}

type fakeSession struct {
	rootsLen int
	conn     net.Conn
}

func (s *fakeSession) RootsLen() int {
	return s.rootsLen
}

func (s *fakeSession) Close() error {
	return s.conn.Close()
}

type fakeHandshaker struct {
	err      error
	authInfo *AuthInfo
	called   bool
}

func (h *fakeHandshaker) Handshake(
	_ context.Context, conn net.Conn, authInfo *AuthInfo) (Session, error) {

	h.called = true
	h.authInfo = authInfo
	if h.err != nil {
		conn.Close()
		return nil, h.err
	}
	return &fakeSession{rootsLen: 1, conn: conn}, nil
}

type fakeAuthLookup struct {
	authInfo      *AuthInfo
	err           error
	displayNumber int
	called        bool
}

func (l *fakeAuthLookup) LookupAuthInfo(_ net.Conn, displayNumber int) (*AuthInfo, error) {
	l.called = true
	l.displayNumber = displayNumber
	return l.authInfo, l.err
}

func TestConnectHandshakeFailed(t *testing.T) {

	server := startTestDisplayServer(t, "0", 1)

	handshakeErr := std_errors.New("handshake failed")
	handshaker := &fakeHandshaker{err: handshakeErr}
	config := server.config()
	config.Handshaker = handshaker

	connection := ConnectWithAuthInfo(context.Background(), config, ":0", nil)
	assert.Equal(t, StateHandshakeFailed, connection.State())
	assert.Equal(t, errors.HandshakeError, connection.ErrorKind())
	assert.ErrorIs(t, connection.Err(), handshakeErr)
	assert.Nil(t, connection.Session())
}

// nilSessionHandshaker completes without error and without a session.
type nilSessionHandshaker struct{}

func (nilSessionHandshaker) Handshake(
	_ context.Context, _ net.Conn, _ *AuthInfo) (Session, error) {

	return nil, nil
}

func TestConnectHandshakeNoSession(t *testing.T) {

	server := startTestDisplayServer(t, "0", 1)

	config := server.config()
	config.Handshaker = nilSessionHandshaker{}

	connection := ConnectWithAuthInfo(context.Background(), config, ":0", nil)
	require.Error(t, connection.Err())
	assert.Equal(t, StateHandshakeFailed, connection.State())
	assert.Equal(t, errors.HandshakeError, connection.ErrorKind())
	assert.Nil(t, connection.Session())

	// The socket was closed.
	select {
	case <-server.closedConns:
	case <-time.After(5 * time.Second):
		t.Fatal("socket not closed")
	}
}

func TestConnectAuthLookup(t *testing.T) {

	server := startTestDisplayServer(t, "4", 1)

	lookupInfo := &AuthInfo{Name: []byte("MIT-MAGIC-COOKIE-1"), Data: []byte("cookie")}
	lookup := &fakeAuthLookup{authInfo: lookupInfo}
	handshaker := &fakeHandshaker{}
	config := server.config()
	config.AuthLookup = lookup
	config.Handshaker = handshaker

	connection := ConnectWithAuthInfo(context.Background(), config, ":4", nil)
	require.NoError(t, connection.Err())
	connection.Close()
	assert.True(t, lookup.called)
	assert.Equal(t, 4, lookup.displayNumber)
	assert.Same(t, lookupInfo, handshaker.authInfo)

	// Caller-supplied auth data takes precedence.
	lookup.called = false
	callerInfo := &AuthInfo{Name: []byte("XDM-AUTHORIZATION-1"), Data: []byte("data")}
	connection = ConnectWithAuthInfo(context.Background(), config, ":4", callerInfo)
	require.NoError(t, connection.Err())
	connection.Close()
	assert.False(t, lookup.called)
	assert.Same(t, callerInfo, handshaker.authInfo)

	// Lookup failures aren't fatal.
	lookup.err = std_errors.New("no authority file")
	connection = ConnectWithAuthInfo(context.Background(), config, ":4", nil)
	require.NoError(t, connection.Err())
	connection.Close()
	assert.Nil(t, handshaker.authInfo)
}

func TestConfigCapabilities(t *testing.T) {

	config := DefaultConfig()
	all := transport.NewCapabilitySet(
		transport.AbstractUnixSocket, transport.PathUnixSocket, transport.TCP, transport.IPv6Literal)
	config.capabilities = &all

	assert.Equal(t, all, config.Capabilities())

	config.DisableTCP = true
	config.DisableAbstractSockets = true
	config.DisableIPv6Literals = true
	assert.Equal(t, transport.NewCapabilitySet(transport.PathUnixSocket), config.Capabilities())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "screen-validated", StateScreenValidated.String())
	assert.Equal(t, "parse-failed", StateParseFailed.String())
	assert.False(t, StateHandshaken.IsFailure())
	assert.True(t, StateScreenInvalid.IsFailure())
}
