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
Package display parses X display addresses.

Two forms are accepted:

	[protocol/][host]:display[.screen]
	[unix:]/path/to/socket[.screen]

The parser is strict and atomic: either the whole string matches and a fully
populated Address is returned, or an error of kind InvalidDisplayString (or
NoEnvironmentDisplay) is returned and no Address is produced.
*/
package display

import (
	std_errors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
)

const (
	// EnvironmentVariable names the variable consulted when no display
	// address is supplied.
	EnvironmentVariable = "DISPLAY"

	// ProtocolUnix is the protocol assigned to socket path addresses.
	ProtocolUnix = "unix"

	unixPrefix = "unix:"
)

// Address is a parsed display address.
type Address struct {

	// Host is the host part of a host form address, which may be empty for
	// the local machine and may be an IPv6 literal in brackets; or the
	// socket path of a path form address.
	Host string

	// Protocol is the protocol part of the address, or "" when the address
	// doesn't specify one.
	Protocol string

	// Display is the display number; always 0 for path form addresses.
	Display int

	// Screen is the screen number, 0 when not specified.
	Screen int
}

// IsPath reports whether the address names a socket path.
func (a *Address) IsPath() bool {
	return strings.HasPrefix(a.Host, "/")
}

// Hostname returns Host with the brackets of an IPv6 literal removed.
func (a *Address) Hostname() string {
	if literal, ok := BracketedLiteral(a.Host); ok {
		return literal
	}
	return a.Host
}

// String formats the address in the display grammar. Parsing the result
// yields an identical Address.
func (a *Address) String() string {
	var b strings.Builder
	if a.IsPath() && a.Protocol == ProtocolUnix && a.Display == 0 {
		b.WriteString(unixPrefix)
		b.WriteString(a.Host)
		if a.Screen > 0 {
			b.WriteByte('.')
			b.WriteString(strconv.Itoa(a.Screen))
		}
		return b.String()
	}
	if a.Protocol != "" {
		b.WriteString(a.Protocol)
		b.WriteByte('/')
	}
	b.WriteString(a.Host)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(a.Display))
	b.WriteByte('.')
	b.WriteString(strconv.Itoa(a.Screen))
	return b.String()
}

// BracketedLiteral returns the text inside "[...]" when host is entirely an
// IPv6 literal in bracket notation.
func BracketedLiteral(host string) (string, bool) {
	if len(host) < 2 || host[0] != '[' || host[len(host)-1] != ']' {
		return "", false
	}
	return host[1 : len(host)-1], true
}

// Parse parses a display address. When name is empty, the value of the
// DISPLAY environment variable is parsed instead.
//
// Path form addresses are resolved against the file system: when the path
// doesn't exist, a trailing ".<screen>" is split off and the remaining path
// must exist. Relative paths, given with the "unix:" prefix, are resolved
// against the working directory; when they don't exist, the name is parsed
// in the host form, so "unix:0" is display 0 on host "unix".
func Parse(name string) (*Address, error) {

	if name == "" {
		name = os.Getenv(EnvironmentVariable)
		if name == "" {
			return nil, errors.KindNew(
				errors.NoEnvironmentDisplay, "%s is not set", EnvironmentVariable)
		}
	}

	if strings.HasPrefix(name, "/") {
		return parsePath(name)
	}
	if strings.HasPrefix(name, unixPrefix) {
		path := name[len(unixPrefix):]
		address, err := parsePath(path)
		if err == nil || strings.HasPrefix(path, "/") {
			return address, err
		}
		// A relative "unix:" name which doesn't resolve to a socket path,
		// such as "unix:0", is a host form name with host "unix".
		return parseHost(name)
	}

	return parseHost(name)
}

func parsePath(path string) (*Address, error) {

	if path == "" {
		return nil, errors.KindNew(errors.InvalidDisplayString, "empty socket path")
	}

	screen := 0

	_, err := os.Stat(path)
	if err != nil {
		if !isNotFound(err) {
			return nil, errors.Trace(errors.WithKind(errors.InvalidDisplayString, err))
		}

		dot := strings.LastIndexByte(path, '.')
		if dot == -1 || dot+1 == len(path) || path[dot+1] < '1' || path[dot+1] > '9' {
			return nil, errors.Trace(errors.WithKind(errors.InvalidDisplayString, err))
		}
		screen, err = parseNumber(path[dot+1:])
		if err != nil {
			return nil, errors.Trace(err)
		}
		path = path[:dot]

		_, err = os.Stat(path)
		if err != nil {
			return nil, errors.Trace(errors.WithKind(errors.InvalidDisplayString, err))
		}
	}

	// Relative paths are made absolute so that the address names the same
	// socket regardless of later working directory changes.
	if !filepath.IsAbs(path) {
		path, err = filepath.Abs(path)
		if err != nil {
			return nil, errors.Trace(errors.WithKind(errors.InvalidDisplayString, err))
		}
	}

	return &Address{
		Host:     path,
		Protocol: ProtocolUnix,
		Display:  0,
		Screen:   screen,
	}, nil
}

func parseHost(name string) (*Address, error) {

	protocol := ""
	if slash := strings.LastIndexByte(name, '/'); slash != -1 {
		protocol = name[:slash]
		name = name[slash+1:]
	}

	colon := strings.LastIndexByte(name, ':')
	if colon == -1 {
		return nil, errors.KindNew(errors.InvalidDisplayString, "missing ':' in %q", name)
	}
	host := name[:colon]
	rest := name[colon+1:]

	digits := leadingDigits(rest)
	if digits == 0 {
		return nil, errors.KindNew(errors.InvalidDisplayString, "missing display number in %q", name)
	}
	display, err := parseNumber(rest[:digits])
	if err != nil {
		return nil, errors.Trace(err)
	}
	rest = rest[digits:]

	screen := 0
	if rest != "" {
		if rest[0] != '.' {
			return nil, errors.KindNew(errors.InvalidDisplayString, "unexpected %q after display number", rest)
		}
		rest = rest[1:]
		digits = leadingDigits(rest)
		if digits == 0 || digits != len(rest) {
			return nil, errors.KindNew(errors.InvalidDisplayString, "invalid screen number %q", rest)
		}
		screen, err = parseNumber(rest)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	return &Address{
		Host:     host,
		Protocol: protocol,
		Display:  display,
		Screen:   screen,
	}, nil
}

func leadingDigits(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}

// parseNumber parses a run of decimal digits which must fit in an int32.
func parseNumber(digits string) (int, error) {
	value, err := strconv.ParseUint(digits, 10, 31)
	if err != nil {
		return 0, errors.Trace(errors.WithKind(errors.InvalidDisplayString, err))
	}
	return int(value), nil
}

func isNotFound(err error) bool {
	return std_errors.Is(err, fs.ErrNotExist) || std_errors.Is(err, syscall.ENOTDIR)
}
