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
	"net"
)

// AuthInfo is X11 authorization data: a protocol name, such as
// "MIT-MAGIC-COOKIE-1", and the protocol data.
type AuthInfo struct {
	Name []byte
	Data []byte
}

// AuthLookup finds authorization data for a connected display.
//
// LookupAuthInfo is given the connected socket, for address-based lookups,
// and the display number. A nil AuthInfo with a nil error means no
// authorization data is available. Errors are not fatal: the connection
// proceeds without authorization data.
//
// LookupAuthInfo must not close, read from or write to conn.
type AuthLookup interface {
	LookupAuthInfo(conn net.Conn, displayNumber int) (*AuthInfo, error)
}
