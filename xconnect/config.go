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
	"encoding/json"
	"sync"
	"time"

	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
	"github.com/Psiphon-Labs/xconnect/xconnect/common/transport"
	"github.com/sirupsen/logrus"
)

const (
	DEFAULT_NOTICE_LEVEL                     = "info"
	DEFAULT_DNS_REQUEST_TIMEOUT_MILLISECONDS = 5000
	MAX_DNS_REQUEST_TIMEOUT_MILLISECONDS     = 60000
)

// Config is the xconnect configuration specified by the application. This
// configuration controls the behavior of the connection establishment
// process.
//
// Config may be loaded from a JSON-encoded byte slice with LoadConfig, or
// obtained with DefaultConfig and filled in at runtime.
type Config struct {

	// DisplayName is the display address used when Connect is called with
	// an empty name. When blank, the DISPLAY environment variable is used.
	DisplayName string

	// CheckScreen specifies whether the screen number of the display address
	// is validated against the screens advertised by the server. When
	// omitted, the default is true.
	CheckScreen *bool

	// LocalSocketPrefix overrides the prefix of local socket names, which is
	// "/tmp/.X11-unix/X" by default.
	LocalSocketPrefix string

	// LabeledLocalSocketPrefix overrides the prefix of local socket names on
	// Trusted Extensions systems.
	LabeledLocalSocketPrefix string

	// DisableTCP removes TCP from the transports which may be attempted.
	DisableTCP bool

	// DisableAbstractSockets removes abstract namespace Unix domain sockets
	// from the transports which may be attempted.
	DisableAbstractSockets bool

	// DisableIPv6Literals rejects "[literal]" IPv6 display hosts.
	DisableIPv6Literals bool

	// DNSServer is the IP address, with optional port, of a DNS server to
	// use to resolve display host names. When blank, the system resolver is
	// used.
	DNSServer string

	// DNSRequestTimeoutMilliseconds bounds each request sent to DNSServer.
	// When omitted, the default is DEFAULT_DNS_REQUEST_TIMEOUT_MILLISECONDS.
	DNSRequestTimeoutMilliseconds *int

	// EmitDiagnosticNotices indicates whether to output notices containing
	// display host names and socket paths.
	EmitDiagnosticNotices bool

	// NoticeLevel is the minimum level, a logrus level name, of emitted
	// notices. The default is DEFAULT_NOTICE_LEVEL.
	NoticeLevel string

	// AuthLookup is an interface used to find authorization data for the
	// connected display. This value must be set at runtime; when nil, no
	// authorization data is sent.
	AuthLookup AuthLookup `json:"-"`

	// Handshaker performs the X11 connection setup exchange. This value may
	// be set at runtime; when nil, the setup package is used.
	Handshaker Handshaker `json:"-"`

	// capabilities overrides the platform capabilities. Used by tests.
	capabilities *transport.CapabilitySet

	// resolver is shared by all connections made with this config, so that
	// its answer caches persist across connections. It is rebuilt when
	// DNSServer or DNSRequestTimeoutMilliseconds change.
	resolverMutex   sync.Mutex
	resolver        *transport.DNSResolver
	resolverServer  string
	resolverTimeout time.Duration
}

// DefaultConfig returns a Config with all defaults applied.
func DefaultConfig() *Config {
	config, err := LoadConfig([]byte("{}"))
	if err != nil {
		// An empty config always loads.
		panic(err)
	}
	return config
}

// LoadConfig parses and validates a JSON format xconnect config JSON string
// and returns a Config struct populated with config values.
func LoadConfig(configJson []byte) (*Config, error) {

	var config Config
	err := json.Unmarshal(configJson, &config)
	if err != nil {
		return nil, errors.Trace(err)
	}

	if config.CheckScreen == nil {
		checkScreen := true
		config.CheckScreen = &checkScreen
	}

	if config.NoticeLevel == "" {
		config.NoticeLevel = DEFAULT_NOTICE_LEVEL
	}
	_, err = logrus.ParseLevel(config.NoticeLevel)
	if err != nil {
		return nil, errors.TraceMsg(err, "invalid notice level")
	}

	if config.DNSRequestTimeoutMilliseconds == nil {
		timeout := DEFAULT_DNS_REQUEST_TIMEOUT_MILLISECONDS
		config.DNSRequestTimeoutMilliseconds = &timeout
	}
	if *config.DNSRequestTimeoutMilliseconds <= 0 ||
		*config.DNSRequestTimeoutMilliseconds > MAX_DNS_REQUEST_TIMEOUT_MILLISECONDS {

		return nil, errors.Tracef(
			"invalid DNS request timeout: %d", *config.DNSRequestTimeoutMilliseconds)
	}

	if config.DNSServer != "" {
		_, err := config.dnsResolver()
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	return &config, nil
}

// Capabilities returns the transports which may be attempted: the platform
// capabilities less those disabled in the config.
func (config *Config) Capabilities() transport.CapabilitySet {

	capabilities := transport.PlatformCapabilities()
	if config.capabilities != nil {
		capabilities = *config.capabilities
	}

	if config.DisableTCP {
		capabilities = capabilities.Without(transport.TCP)
	}
	if config.DisableAbstractSockets {
		capabilities = capabilities.Without(transport.AbstractUnixSocket)
	}
	if config.DisableIPv6Literals {
		capabilities = capabilities.Without(transport.IPv6Literal)
	}

	return capabilities
}

func (config *Config) makeDialConfig() (*transport.DialConfig, error) {

	dialConfig := transport.NewDialConfig()
	dialConfig.Capabilities = config.Capabilities()
	dialConfig.LocalSocketPrefix = config.LocalSocketPrefix
	dialConfig.LabeledLocalSocketPrefix = config.LabeledLocalSocketPrefix
	dialConfig.Logger = NoticeCommonLogger()

	if config.DNSServer != "" {
		resolver, err := config.dnsResolver()
		if err != nil {
			return nil, errors.Trace(err)
		}
		dialConfig.Resolver = resolver
	}

	return dialConfig, nil
}

// dnsResolver returns the DNSResolver for DNSServer, creating it on first
// use.
func (config *Config) dnsResolver() (*transport.DNSResolver, error) {

	timeout := time.Duration(DEFAULT_DNS_REQUEST_TIMEOUT_MILLISECONDS) * time.Millisecond
	if config.DNSRequestTimeoutMilliseconds != nil {
		timeout = time.Duration(*config.DNSRequestTimeoutMilliseconds) * time.Millisecond
	}

	config.resolverMutex.Lock()
	defer config.resolverMutex.Unlock()

	if config.resolver != nil &&
		config.resolverServer == config.DNSServer &&
		config.resolverTimeout == timeout {

		return config.resolver, nil
	}

	resolver, err := transport.NewDNSResolver(config.DNSServer, timeout)
	if err != nil {
		return nil, errors.Trace(err)
	}
	config.resolver = resolver
	config.resolverServer = config.DNSServer
	config.resolverTimeout = timeout

	return resolver, nil
}

func (config *Config) checkScreen() bool {
	return config.CheckScreen == nil || *config.CheckScreen
}
