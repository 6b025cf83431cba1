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
Package setup performs the X11 connection setup exchange on a connected
socket: it sends the client's setup request, with optional authorization,
and reads the server's reply.

Only the fixed part of a successful reply and its vendor string are decoded.
The remainder of the reply, which lists pixmap formats and screens, is read
and retained undecoded.
*/
package setup

import (
	"context"
	"encoding/binary"
	std_errors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
)

const (
	ProtocolMajorVersion = 11
	ProtocolMinorVersion = 0

	littleEndianByteOrder = 'l'

	requestHeaderSize = 12
	replyHeaderSize   = 8
	successFixedSize  = 32

	statusFailed       = 0
	statusSuccess      = 1
	statusAuthenticate = 2
)

// Setup is the decoded fixed section of a successful setup reply.
type Setup struct {
	ProtocolMajorVersion     uint16
	ProtocolMinorVersion     uint16
	ReleaseNumber            uint32
	ResourceIDBase           uint32
	ResourceIDMask           uint32
	MotionBufferSize         uint32
	MaximumRequestLength     uint16
	RootsLen                 int
	PixmapFormatsLen         int
	ImageByteOrder           byte
	BitmapFormatBitOrder     byte
	BitmapFormatScanlineUnit byte
	BitmapFormatScanlinePad  byte
	MinKeycode               byte
	MaxKeycode               byte
	Vendor                   string

	// Additional is the undecoded remainder of the reply body.
	Additional []byte
}

// RefusedError is returned when the server rejects the connection.
type RefusedError struct {
	ProtocolMajorVersion uint16
	ProtocolMinorVersion uint16
	Reason               string
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf(
		"connection refused by server (protocol %d.%d): %s",
		e.ProtocolMajorVersion, e.ProtocolMinorVersion, e.Reason)
}

// AuthenticateError is returned when the server requires further
// authentication, which isn't supported.
type AuthenticateError struct {
	Reason string
}

func (e *AuthenticateError) Error() string {
	return fmt.Sprintf("server requires further authentication: %s", e.Reason)
}

// Conn is an X11 connection which has completed the setup exchange.
type Conn struct {
	net.Conn
	setup *Setup
}

// Setup returns the server's setup reply.
func (c *Conn) Setup() *Setup {
	return c.setup
}

// RootsLen returns the number of screens advertised by the server.
func (c *Conn) RootsLen() int {
	return c.setup.RootsLen
}

// Handshake performs the setup exchange on conn. Handshake takes ownership
// of conn: on any error, conn is closed.
//
// When ctx has a deadline, it's applied to conn for the duration of the
// exchange; cancelling ctx interrupts a blocked exchange.
func Handshake(
	ctx context.Context, conn net.Conn, authName, authData []byte) (retConn *Conn, retErr error) {

	defer func() {
		if retErr != nil {
			conn.Close()
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		err := conn.SetDeadline(deadline)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	done := make(chan struct{})
	watcherStopped := make(chan struct{})
	go func() {
		defer close(watcherStopped)
		select {
		case <-ctx.Done():
			_ = conn.SetDeadline(time.Now())
		case <-done:
		}
	}()
	stopWatcher := sync.OnceFunc(func() {
		close(done)
		<-watcherStopped
	})
	defer stopWatcher()

	_, err := conn.Write(encodeRequest(authName, authData))
	if err != nil {
		return nil, errors.Trace(contextError(ctx, err))
	}

	setup, err := readReply(conn)
	if err != nil {
		return nil, errors.Trace(contextError(ctx, err))
	}

	// ctx may be cancelled after the reply is read, in which case the
	// watcher has set a deadline. Clear any deadline only once the watcher
	// has exited.
	stopWatcher()
	err = conn.SetDeadline(time.Time{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return &Conn{Conn: conn, setup: setup}, nil
}

func contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ctx.Err(), err)
	}
	// The conn deadline may expire just before the context's timer fires.
	if _, ok := ctx.Deadline(); ok && std_errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

func pad(n int) int {
	return (4 - n%4) % 4
}

func encodeRequest(authName, authData []byte) []byte {

	size := requestHeaderSize +
		len(authName) + pad(len(authName)) +
		len(authData) + pad(len(authData))
	request := make([]byte, size)

	request[0] = littleEndianByteOrder
	binary.LittleEndian.PutUint16(request[2:], ProtocolMajorVersion)
	binary.LittleEndian.PutUint16(request[4:], ProtocolMinorVersion)
	binary.LittleEndian.PutUint16(request[6:], uint16(len(authName)))
	binary.LittleEndian.PutUint16(request[8:], uint16(len(authData)))

	offset := requestHeaderSize
	offset += copy(request[offset:], authName)
	offset += pad(len(authName))
	copy(request[offset:], authData)

	return request
}

func readReply(r io.Reader) (*Setup, error) {

	var header [replyHeaderSize]byte
	_, err := io.ReadFull(r, header[:])
	if err != nil {
		return nil, errors.Trace(err)
	}

	status := header[0]
	major := binary.LittleEndian.Uint16(header[2:])
	minor := binary.LittleEndian.Uint16(header[4:])
	body := make([]byte, 4*int(binary.LittleEndian.Uint16(header[6:])))
	_, err = io.ReadFull(r, body)
	if err != nil {
		return nil, errors.Trace(err)
	}

	switch status {

	case statusFailed:
		reasonLen := int(header[1])
		if reasonLen > len(body) {
			return nil, errors.TraceNew("invalid reason length")
		}
		return nil, errors.Trace(&RefusedError{
			ProtocolMajorVersion: major,
			ProtocolMinorVersion: minor,
			Reason:               string(body[:reasonLen]),
		})

	case statusAuthenticate:
		return nil, errors.Trace(&AuthenticateError{
			Reason: strings.TrimRight(string(body), "\x00"),
		})

	case statusSuccess:
		return decodeSetup(major, minor, body)
	}

	return nil, errors.Tracef("unexpected setup status: %d", status)
}

func decodeSetup(major, minor uint16, body []byte) (*Setup, error) {

	if len(body) < successFixedSize {
		return nil, errors.Tracef("setup reply too short: %d", len(body))
	}

	vendorLen := int(binary.LittleEndian.Uint16(body[16:]))
	vendorEnd := successFixedSize + vendorLen
	if vendorEnd > len(body) {
		return nil, errors.Tracef("invalid vendor length: %d", vendorLen)
	}
	additionalStart := vendorEnd + pad(vendorLen)
	if additionalStart > len(body) {
		additionalStart = len(body)
	}

	return &Setup{
		ProtocolMajorVersion:     major,
		ProtocolMinorVersion:     minor,
		ReleaseNumber:            binary.LittleEndian.Uint32(body[0:]),
		ResourceIDBase:           binary.LittleEndian.Uint32(body[4:]),
		ResourceIDMask:           binary.LittleEndian.Uint32(body[8:]),
		MotionBufferSize:         binary.LittleEndian.Uint32(body[12:]),
		MaximumRequestLength:     binary.LittleEndian.Uint16(body[18:]),
		RootsLen:                 int(body[20]),
		PixmapFormatsLen:         int(body[21]),
		ImageByteOrder:           body[22],
		BitmapFormatBitOrder:     body[23],
		BitmapFormatScanlineUnit: body[24],
		BitmapFormatScanlinePad:  body[25],
		MinKeycode:               body[26],
		MaxKeycode:               body[27],
		Vendor:                   string(body[successFixedSize:vendorEnd]),
		Additional:               body[additionalStart:],
	}, nil
}
