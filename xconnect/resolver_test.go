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
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDisplayHost = "displayhost.example"

// startCountingDNSServer answers A queries for testDisplayHost with the
// loopback address and returns its address and a query counter.
func startCountingDNSServer(t *testing.T) (string, *int32) {

	packetConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	var requestCount int32

	started := make(chan struct{})
	server := &dns.Server{
		PacketConn: packetConn,
		Handler: dns.HandlerFunc(func(w dns.ResponseWriter, r *dns.Msg) {
			atomic.AddInt32(&requestCount, 1)
			m := new(dns.Msg)
			m.SetReply(r)
			if len(r.Question) == 1 &&
				r.Question[0].Name == dns.Fqdn(testDisplayHost) &&
				r.Question[0].Qtype == dns.TypeA {

				m.Answer = append(m.Answer, &dns.A{
					Hdr: dns.RR_Header{
						Name:   r.Question[0].Name,
						Rrtype: dns.TypeA,
						Class:  dns.ClassINET,
						Ttl:    3600,
					},
					A: net.ParseIP("127.0.0.1"),
				})
			}
			w.WriteMsg(m)
		}),
		NotifyStartedFunc: func() { close(started) },
	}

	go server.ActivateAndServe()
	<-started

	t.Cleanup(func() {
		server.Shutdown()
	})

	return packetConn.LocalAddr().String(), &requestCount
}

func TestConnectSharesResolverCache(t *testing.T) {

	serverAddr, requestCount := startCountingDNSServer(t)

	config, err := LoadConfig([]byte(`{"DNSServer": "` + serverAddr + `"}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The display itself needn't answer; only the lookups are counted.
	for i := 0; i < 3; i++ {
		connection := ConnectWithAuthInfo(ctx, config, "tcp/"+testDisplayHost+":59", nil)
		connection.Close()
	}

	// One A and one AAAA query, for the first connection only.
	assert.Equal(t, int32(2), atomic.LoadInt32(requestCount))
}

func TestConfigResolverRebuilt(t *testing.T) {

	config, err := LoadConfig([]byte(`{"DNSServer": "192.0.2.53"}`))
	require.NoError(t, err)

	resolver, err := config.dnsResolver()
	require.NoError(t, err)
	sameResolver, err := config.dnsResolver()
	require.NoError(t, err)
	assert.Same(t, resolver, sameResolver)

	config.DNSServer = "192.0.2.54"
	otherResolver, err := config.dnsResolver()
	require.NoError(t, err)
	assert.NotSame(t, resolver, otherResolver)
	assert.Equal(t, "192.0.2.54:53", otherResolver.Server())

	timeout := 1000
	config.DNSRequestTimeoutMilliseconds = &timeout
	timeoutResolver, err := config.dnsResolver()
	require.NoError(t, err)
	assert.NotSame(t, otherResolver, timeoutResolver)

	dialConfig, err := config.makeDialConfig()
	require.NoError(t, err)
	assert.Same(t, timeoutResolver, dialConfig.Resolver)
}
