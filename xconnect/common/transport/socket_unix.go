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

package transport

import (
	"net"
	"os"
	"strconv"
	"syscall"

	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
	"golang.org/x/sys/unix"
)

const minLocalSendBufferSize = 64 * 1024

// systemSockets creates sockets with the lower-level syscall APIs, rather
// than net.Dial, so that socket options are applied before connecting and
// so that the socket lifecycle on each failure path is explicit: every fd
// is closed before returning an error.
type systemSockets struct{}

func (systemSockets) DialUnix(name string, abstract bool) (net.Conn, error) {

	fd, err := newStreamSocket(unix.AF_UNIX)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// Best effort, as with the other socket options.
	size, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
	if err == nil && size < minLocalSendBufferSize {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, minLocalSendBufferSize)
	}

	// A leading '@' selects the abstract namespace.
	sockaddrName := name
	if abstract {
		sockaddrName = "@" + name
	}

	err = unix.Connect(fd, &unix.SockaddrUnix{Name: sockaddrName})
	if err != nil {
		unix.Close(fd)
		return nil, errors.Trace(os.NewSyscallError("connect", err))
	}

	return fileConn(fd, name)
}

func (systemSockets) DialTCP(addr net.IPAddr, port int) (net.Conn, error) {

	sockaddr, family, err := inetSockaddr(addr, port)
	if err != nil {
		return nil, errors.Trace(err)
	}

	fd, err := newStreamSocket(family)
	if err != nil {
		return nil, errors.Trace(err)
	}

	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)

	err = unix.Connect(fd, sockaddr)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Trace(os.NewSyscallError("connect", err))
	}

	return fileConn(fd, net.JoinHostPort(addr.String(), strconv.Itoa(port)))
}

// newStreamSocketCloseOnExec is the non-atomic fallback for platforms, or
// kernels, without SOCK_CLOEXEC. As in the net package, ForkLock keeps a
// concurrent fork from inheriting the fd before it is marked.
func newStreamSocketCloseOnExec(family int) (int, error) {
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()
	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

// fileConn converts a connected socket fd into a net.Conn. The fd is
// consumed: net.FileConn dups it and the original is closed.
func fileConn(fd int, name string) (net.Conn, error) {
	file := os.NewFile(uintptr(fd), name)
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return conn, nil
}

func inetSockaddr(addr net.IPAddr, port int) (unix.Sockaddr, int, error) {

	if ip4 := addr.IP.To4(); ip4 != nil {
		sockaddr := &unix.SockaddrInet4{Port: port}
		copy(sockaddr.Addr[:], ip4)
		return sockaddr, unix.AF_INET, nil
	}

	ip16 := addr.IP.To16()
	if ip16 == nil {
		return nil, 0, errors.Tracef("invalid IP address: %s", addr.IP)
	}
	sockaddr := &unix.SockaddrInet6{Port: port}
	copy(sockaddr.Addr[:], ip16)
	if addr.Zone != "" {
		zoneID, err := zoneIndex(addr.Zone)
		if err != nil {
			return nil, 0, errors.Trace(err)
		}
		sockaddr.ZoneId = zoneID
	}
	return sockaddr, unix.AF_INET6, nil
}

func zoneIndex(zone string) (uint32, error) {
	if index, err := strconv.ParseUint(zone, 10, 32); err == nil {
		return uint32(index), nil
	}
	ifi, err := net.InterfaceByName(zone)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return uint32(ifi.Index), nil
}
