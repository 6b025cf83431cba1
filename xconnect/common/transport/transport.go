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
Package transport opens a connected stream socket to an X display server.

Open turns a parsed display address into an ordered list of transport
attempts and runs them in order. Each attempt ends in success, in a soft
failure, which advances to the next attempt, or in a hard failure, which
ends the whole chain. The attempts are:

 1. an explicit socket path, when the address names one;
 2. TCP, when the address names a remote host;
 3. otherwise, the local socket name for the display number, first in the
    abstract namespace and then as a socket path; and, only when the
    address has neither host nor protocol, TCP to localhost.

Which attempts are possible is governed by a CapabilitySet, normally
PlatformCapabilities, which tests may replace.
*/
package transport

import (
	"context"
	std_errors "errors"
	"io/fs"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/Psiphon-Labs/xconnect/xconnect/common"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/display"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
	"golang.org/x/net/idna"
)

const (
	// BaseTCPPort is the TCP port of display 0.
	BaseTCPPort = 6000

	// DefaultLocalSocketPrefix is joined with the display number to form the
	// local socket name.
	DefaultLocalSocketPrefix = "/tmp/.X11-unix/X"

	// DefaultLabeledLocalSocketPrefix is used in place of
	// DefaultLocalSocketPrefix on Trusted Extensions systems, when the
	// labeled socket exists.
	DefaultLabeledLocalSocketPrefix = "/var/tsol/doors/.X11-unix/X"

	maxTCPPort = 65535

	localhost = "localhost"
)

// AttemptStatus is the outcome of a single transport attempt.
type AttemptStatus int

const (
	// AttemptSuccess means the attempt produced a connected socket.
	AttemptSuccess AttemptStatus = iota

	// AttemptSoftFail means the transport is inapplicable or its endpoint
	// is absent; the next attempt is tried.
	AttemptSoftFail

	// AttemptHardFail means the chain stops.
	AttemptHardFail
)

func (s AttemptStatus) String() string {
	switch s {
	case AttemptSuccess:
		return "success"
	case AttemptSoftFail:
		return "soft-fail"
	case AttemptHardFail:
		return "hard-fail"
	}
	return "unknown"
}

// AttemptResult is the result of a single transport attempt. Conn is set
// only for AttemptSuccess; Err is set for either failure.
type AttemptResult struct {
	Status AttemptStatus
	Conn   net.Conn
	Err    error
}

func succeeded(conn net.Conn) AttemptResult {
	return AttemptResult{Status: AttemptSuccess, Conn: conn}
}

func softFail(err error) AttemptResult {
	return AttemptResult{Status: AttemptSoftFail, Err: err}
}

func hardFail(err error) AttemptResult {
	return AttemptResult{Status: AttemptHardFail, Err: err}
}

// Resolver resolves host names for TCP attempts. net.DefaultResolver and
// DNSResolver implement Resolver.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// socketDialer creates connected stream sockets. Implementations must close
// any socket they created before returning an error.
type socketDialer interface {
	DialUnix(name string, abstract bool) (net.Conn, error)
	DialTCP(addr net.IPAddr, port int) (net.Conn, error)
}

// DialConfig specifies how Open reaches a display server. Use
// NewDialConfig for a config with platform defaults; empty fields in a
// DialConfig are replaced with the same defaults, except for Capabilities.
type DialConfig struct {

	// Capabilities is the set of transports which may be attempted.
	Capabilities CapabilitySet

	// LocalSocketPrefix is joined with the display number to form the local
	// socket name. Defaults to DefaultLocalSocketPrefix.
	LocalSocketPrefix string

	// LabeledLocalSocketPrefix is consulted first when IsSystemLabeled
	// returns true. Defaults to DefaultLabeledLocalSocketPrefix.
	LabeledLocalSocketPrefix string

	// IsSystemLabeled reports whether the labeled socket prefix applies.
	// Defaults to the package IsSystemLabeled.
	IsSystemLabeled func() bool

	// Resolver resolves TCP host names. Defaults to net.DefaultResolver.
	Resolver Resolver

	// LocalResolver resolves "localhost" for the TCP fallback of local
	// display addresses. Defaults to net.DefaultResolver, which consults the
	// hosts file.
	LocalResolver Resolver

	// Logger receives a trace of each attempt. May be nil.
	Logger common.Logger

	sockets socketDialer
}

// NewDialConfig returns a DialConfig for the current platform.
func NewDialConfig() *DialConfig {
	return &DialConfig{
		Capabilities: PlatformCapabilities(),
	}
}

type failurePolicy int

const (
	hardOnFailure failurePolicy = iota
	softOnFailure
	softOnAbsent
)

type attempt struct {
	transport string
	endpoint  string
	run       func(ctx context.Context) AttemptResult
}

// Open connects to the display server named by address. The returned
// net.Conn is owned by the caller. Open makes no retries other than
// advancing through the transport attempts, and imposes no timeout of its
// own; ctx cancels name resolution and stops the chain between attempts.
//
// Errors are classified with an errors.Kind: NoTransportAvailable,
// TransportRefused or SystemCallFailure.
func Open(
	ctx context.Context, address *display.Address, config *DialConfig) (net.Conn, error) {

	if config == nil {
		config = NewDialConfig()
	}

	attempts, err := config.makeAttempts(address)
	if err != nil {
		return nil, errors.Trace(err)
	}

	logger := config.logger()

	var lastErr error
	for _, a := range attempts {

		if ctx.Err() != nil {
			return nil, errors.Trace(errors.WithKind(errors.SystemCallFailure, ctx.Err()))
		}

		result := a.run(ctx)

		fields := common.LogFields{
			"transport": a.transport,
			"endpoint":  a.endpoint,
			"status":    result.Status.String(),
		}
		if result.Err != nil {
			fields["error"] = result.Err.Error()
		}
		logger.WithTraceFields(fields).Debug("transport attempt")

		switch result.Status {
		case AttemptSuccess:
			return result.Conn, nil
		case AttemptHardFail:
			return nil, errors.Trace(result.Err)
		}
		lastErr = result.Err
	}

	if lastErr == nil {
		lastErr = errors.TraceNew("no applicable transport")
	}
	return nil, errors.Trace(errors.WithKind(errors.NoTransportAvailable, lastErr))
}

func (config *DialConfig) makeAttempts(address *display.Address) ([]attempt, error) {

	host := address.Host
	protocol := address.Protocol
	port := BaseTCPPort + address.Display

	// A full path to the socket was provided; ignore everything else.
	if strings.HasPrefix(host, "/") &&
		(protocol == "" || protocol == display.ProtocolUnix) {

		return []attempt{config.unixAttempt(host, false, hardOnFailure)}, nil
	}

	// A host other than "unix" specifies TCP.
	if protocol != display.ProtocolUnix && host != "" && host != display.ProtocolUnix {
		return []attempt{config.tcpAttempt(protocol, host, port, false)}, nil
	}

	if protocol != "" && protocol != display.ProtocolUnix {
		return nil, errors.KindNew(
			errors.NoTransportAvailable, "no local transport for protocol %q", protocol)
	}

	name, err := config.localSocketName(address.Display)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// Only an address with neither host nor protocol may fall back to TCP.
	fallbackToTCP := host == "" && protocol == ""

	var attempts []attempt

	if config.Capabilities.Has(AbstractUnixSocket) {
		attempts = append(attempts, config.unixAttempt(name, true, softOnAbsent))
	}

	if fallbackToTCP {
		attempts = append(attempts,
			config.unixAttempt(name, false, softOnFailure),
			config.tcpAttempt("", localhost, port, true))
	} else {
		attempts = append(attempts, config.unixAttempt(name, false, hardOnFailure))
	}

	return attempts, nil
}

func (config *DialConfig) localSocketName(displayNumber int) (string, error) {

	suffix := strconv.Itoa(displayNumber)

	isSystemLabeled := config.IsSystemLabeled
	if isSystemLabeled == nil {
		isSystemLabeled = IsSystemLabeled
	}

	if isSystemLabeled() {
		prefix := config.LabeledLocalSocketPrefix
		if prefix == "" {
			prefix = DefaultLabeledLocalSocketPrefix
		}
		name := prefix + suffix
		_, err := os.Stat(name)
		if err == nil {
			return name, nil
		}
		if !std_errors.Is(err, fs.ErrNotExist) {
			return "", errors.Trace(errors.WithKind(errors.SystemCallFailure, err))
		}
	}

	prefix := config.LocalSocketPrefix
	if prefix == "" {
		prefix = DefaultLocalSocketPrefix
	}
	return prefix + suffix, nil
}

func (config *DialConfig) unixAttempt(
	name string, abstract bool, policy failurePolicy) attempt {

	transport := "unix"
	capability := PathUnixSocket
	if abstract {
		transport = "abstract"
		capability = AbstractUnixSocket
	}

	return attempt{
		transport: transport,
		endpoint:  name,
		run: func(_ context.Context) AttemptResult {

			if !config.Capabilities.Has(capability) {
				return softFail(errors.KindNew(
					errors.NoTransportAvailable, "%s sockets unavailable", transport))
			}

			conn, err := config.socketDialer().DialUnix(name, abstract)
			if err == nil {
				return succeeded(conn)
			}
			err = errors.Trace(classify(err))

			switch policy {
			case softOnFailure:
				return softFail(err)
			case softOnAbsent:
				if isAbsentOrRefused(err) {
					return softFail(err)
				}
			}
			return hardFail(err)
		},
	}
}

func (config *DialConfig) tcpAttempt(protocol, host string, port int, local bool) attempt {

	return attempt{
		transport: "tcp",
		endpoint:  net.JoinHostPort(host, strconv.Itoa(port)),
		run: func(ctx context.Context) AttemptResult {

			if !config.Capabilities.Has(TCP) {
				return hardFail(errors.KindNew(
					errors.NoTransportAvailable, "TCP transport unavailable"))
			}

			switch protocol {
			case "", "tcp", "inet", "inet6":
			default:
				return hardFail(errors.KindNew(
					errors.NoTransportAvailable, "unsupported protocol %q", protocol))
			}

			if port > maxTCPPort {
				return hardFail(errors.KindNew(
					errors.NoTransportAvailable, "port %d out of range", port))
			}

			candidates, err := config.resolve(ctx, host, local)
			if err != nil {
				return hardFail(errors.Trace(err))
			}

			// Try each candidate in order. A rejected candidate's socket is
			// closed by DialTCP before the next is tried.
			var lastErr error
			for _, candidate := range candidates {
				conn, err := config.socketDialer().DialTCP(candidate, port)
				if err == nil {
					return succeeded(conn)
				}
				config.logger().WithTraceFields(common.LogFields{
					"candidate": candidate.String(),
					"port":      port,
					"error":     err.Error(),
				}).Debug("TCP candidate rejected")
				lastErr = err
			}

			return hardFail(errors.Trace(classify(lastErr)))
		},
	}
}

// resolve returns the TCP candidate addresses for host. A bracketed IPv6
// literal is parsed numerically and never looked up. When local is set, host
// is looked up with LocalResolver.
func (config *DialConfig) resolve(
	ctx context.Context, host string, local bool) ([]net.IPAddr, error) {

	if literal, ok := display.BracketedLiteral(host); ok {

		if !config.Capabilities.Has(IPv6Literal) {
			return nil, errors.KindNew(
				errors.NoTransportAvailable, "IPv6 literal %s unsupported", host)
		}

		addr, err := netip.ParseAddr(literal)
		if err != nil {
			return nil, errors.Trace(errors.WithKind(errors.SystemCallFailure, err))
		}
		if !addr.Is6() {
			return nil, errors.KindNew(
				errors.SystemCallFailure, "not an IPv6 address: %s", literal)
		}
		return []net.IPAddr{{IP: net.IP(addr.AsSlice()), Zone: addr.Zone()}}, nil
	}

	if !isASCII(host) {
		asciiHost, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, errors.Trace(errors.WithKind(errors.SystemCallFailure, err))
		}
		host = asciiHost
	}

	resolver := config.Resolver
	if local {
		resolver = config.LocalResolver
	}
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errors.Trace(errors.WithKind(errors.SystemCallFailure, err))
	}
	if len(addrs) == 0 {
		return nil, errors.KindNew(errors.SystemCallFailure, "no addresses for %s", host)
	}
	return addrs, nil
}

func (config *DialConfig) socketDialer() socketDialer {
	if config.sockets != nil {
		return config.sockets
	}
	return systemSockets{}
}

func (config *DialConfig) logger() common.Logger {
	if config.Logger != nil {
		return config.Logger
	}
	return common.NopLogger{}
}

// classify assigns a Kind to a socket error.
func classify(err error) error {
	if std_errors.Is(err, syscall.ECONNREFUSED) {
		return errors.WithKind(errors.TransportRefused, err)
	}
	return errors.WithKind(errors.SystemCallFailure, err)
}

func isAbsentOrRefused(err error) bool {
	return std_errors.Is(err, syscall.ENOENT) || std_errors.Is(err, syscall.ECONNREFUSED)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
