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
	"strings"
	"sync"
)

// Capability is a transport facility which may or may not be available on
// the current platform or build.
type Capability uint8

const (
	// AbstractUnixSocket is a Unix domain socket in the kernel's abstract
	// namespace.
	AbstractUnixSocket Capability = 1 << iota

	// PathUnixSocket is a Unix domain socket bound to a file system path.
	PathUnixSocket

	// TCP is TCP over IPv4 or IPv6. Builds with the xconnect_no_tcp tag
	// omit it.
	TCP

	// IPv6Literal is support for "[literal]" IPv6 host addresses.
	IPv6Literal
)

var capabilityNames = []struct {
	capability Capability
	name       string
}{
	{AbstractUnixSocket, "abstract-unix"},
	{PathUnixSocket, "path-unix"},
	{TCP, "tcp"},
	{IPv6Literal, "ipv6-literal"},
}

func (c Capability) String() string {
	for _, entry := range capabilityNames {
		if entry.capability == c {
			return entry.name
		}
	}
	return "unknown"
}

// CapabilitySet is an immutable set of Capabilities.
type CapabilitySet uint8

// NewCapabilitySet returns a set containing the given capabilities.
func NewCapabilitySet(capabilities ...Capability) CapabilitySet {
	var set CapabilitySet
	for _, capability := range capabilities {
		set = set.With(capability)
	}
	return set
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// With returns a copy of the set with c added.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	return s | CapabilitySet(c)
}

// Without returns a copy of the set with c removed.
func (s CapabilitySet) Without(c Capability) CapabilitySet {
	return s &^ CapabilitySet(c)
}

func (s CapabilitySet) String() string {
	var names []string
	for _, entry := range capabilityNames {
		if s.Has(entry.capability) {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

var (
	platformCapabilitiesOnce sync.Once
	platformCapabilitiesSet  CapabilitySet
)

// PlatformCapabilities returns the transports available on the current
// platform and build. The set is computed once per process.
func PlatformCapabilities() CapabilitySet {
	platformCapabilitiesOnce.Do(func() {
		set := platformCapabilities()
		if tcpEnabled {
			set = set.With(TCP)
		}
		platformCapabilitiesSet = set
	})
	return platformCapabilitiesSet
}
