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

package xmobile

// This package is a shim between Java/Obj-C and the "xconnect" package. Due
// to limitations on what Go types may be exposed
// (http://godoc.org/golang.org/x/mobile/cmd/gobind), an xconnect.Connection
// cannot be directly used by Java. This shim exposes a trivial Open/Close
// interface on top of a single Connection instance.

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Psiphon-Labs/xconnect/xconnect"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
)

type DisplayNoticeHandler interface {
	Notice(noticeJSON string)
}

// DisplayAuthProvider supplies authorization data for a display. An empty
// name means no authorization data is sent.
type DisplayAuthProvider interface {
	GetAuthName(displayNumber int) string
	GetAuthData(displayNumber int) []byte
}

type DisplayProvider interface {
	DisplayNoticeHandler
	DisplayAuthProvider
}

var connectionMutex sync.Mutex
var connection *xconnect.Connection

// Open connects to the display named by displayName, or the DisplayName in
// configJson when displayName is "". Only one connection may be open at a
// time; call Close before opening another.
//
// timeoutMilliseconds bounds connection establishment; zero or negative
// means no timeout.
func Open(
	configJson string,
	displayName string,
	timeoutMilliseconds int,
	provider DisplayProvider) error {

	connectionMutex.Lock()
	defer connectionMutex.Unlock()

	if connection != nil {
		return errors.TraceNew("already open")
	}

	// Wrap the provider in a layer that locks a mutex before calling a
	// provider function. As the provider callbacks are Java/Obj-C via
	// gomobile, they are cgo calls that can cause OS threads to be spawned.
	// The mutex prevents many calling goroutines from causing unbounded
	// numbers of OS threads to be spawned.
	wrappedProvider := newMutexDisplayProvider(provider)

	if configJson == "" {
		configJson = "{}"
	}
	config, err := xconnect.LoadConfig([]byte(configJson))
	if err != nil {
		return errors.Trace(err)
	}

	config.AuthLookup = wrappedProvider

	xconnect.SetNoticeWriter(xconnect.NewNoticeReceiver(
		func(notice []byte) {
			wrappedProvider.Notice(string(notice))
		}))

	err = xconnect.SetNoticeLevel(config.NoticeLevel)
	if err != nil {
		xconnect.ResetNoticeWriter()
		return errors.Trace(err)
	}
	xconnect.SetEmitDiagnosticNotices(config.EmitDiagnosticNotices)

	// BuildInfo is a diagnostic notice, so emit only after
	// SetEmitDiagnosticNotices.
	xconnect.NoticeBuildInfo()

	ctx := context.Background()
	if timeoutMilliseconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(
			ctx, time.Duration(timeoutMilliseconds)*time.Millisecond)
		defer cancel()
	}

	c := xconnect.ConnectWithAuthInfo(ctx, config, displayName, nil)
	if c.HasError() {
		// Allow the provider to be garbage collected.
		xconnect.ResetNoticeWriter()
		return errors.Trace(c.Err())
	}

	connection = c
	return nil
}

// Close closes the open connection, if any.
func Close() {

	connectionMutex.Lock()
	defer connectionMutex.Unlock()

	if connection != nil {
		connection.Close()
		connection = nil
		// Allow the provider to be garbage collected.
		xconnect.ResetNoticeWriter()
	}
}

// IsOpen reports whether a connection is open.
func IsOpen() bool {
	connectionMutex.Lock()
	defer connectionMutex.Unlock()
	return connection != nil
}

// GetAddress returns the canonical display address of the open connection,
// or "" when none is open.
func GetAddress() string {
	connectionMutex.Lock()
	defer connectionMutex.Unlock()
	if connection == nil {
		return ""
	}
	return connection.Address().String()
}

// GetScreen returns the screen number of the open connection, or -1 when
// none is open.
func GetScreen() int {
	connectionMutex.Lock()
	defer connectionMutex.Unlock()
	if connection == nil {
		return -1
	}
	return connection.Screen()
}

// GetRootsLen returns the number of screens advertised by the server of the
// open connection, or 0 when none is open.
func GetRootsLen() int {
	connectionMutex.Lock()
	defer connectionMutex.Unlock()
	if connection == nil {
		return 0
	}
	session := connection.Session()
	if session == nil {
		return 0
	}
	return session.RootsLen()
}

type mutexDisplayProvider struct {
	sync.Mutex
	p DisplayProvider
}

func newMutexDisplayProvider(p DisplayProvider) *mutexDisplayProvider {
	return &mutexDisplayProvider{p: p}
}

func (p *mutexDisplayProvider) Notice(noticeJSON string) {
	p.Lock()
	defer p.Unlock()
	p.p.Notice(noticeJSON)
}

// LookupAuthInfo implements xconnect.AuthLookup.
func (p *mutexDisplayProvider) LookupAuthInfo(
	_ net.Conn, displayNumber int) (*xconnect.AuthInfo, error) {

	p.Lock()
	defer p.Unlock()

	name := p.p.GetAuthName(displayNumber)
	if name == "" {
		return nil, nil
	}
	return &xconnect.AuthInfo{
		Name: []byte(name),
		Data: p.p.GetAuthData(displayNumber),
	}, nil
}
