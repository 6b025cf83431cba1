//go:build !unix

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

package transport

import (
	"net"

	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
)

// systemSockets uses the net package where the unix syscall APIs aren't
// available. Unix domain sockets are not supported.
type systemSockets struct{}

func (systemSockets) DialUnix(name string, _ bool) (net.Conn, error) {
	return nil, errors.Tracef("unix domain sockets unsupported: %s", name)
}

func (systemSockets) DialTCP(addr net.IPAddr, port int) (net.Conn, error) {
	conn, err := net.DialTCP("tcp", nil, &net.TCPAddr{IP: addr.IP, Port: port, Zone: addr.Zone})
	if err != nil {
		return nil, errors.Trace(err)
	}
	conn.SetNoDelay(true)
	conn.SetKeepAlive(true)
	return conn, nil
}
