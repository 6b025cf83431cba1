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
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/Psiphon-Labs/xconnect/xconnect/common/errors"
	lrucache "github.com/cognusion/go-cache-lru"
	"github.com/miekg/dns"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

const (
	defaultDNSPort           = "53"
	defaultDNSRequestTimeout = 5 * time.Second
	minimumCacheTTL          = 1 * time.Second
	negativeCacheTTL         = 5 * time.Second
	cacheCleanupInterval     = 1 * time.Minute
	cacheMaxEntries          = 256
)

// DNSResolver is a Resolver which sends A and AAAA queries directly to a
// single DNS server, bypassing the system resolver. Answers are cached for
// the smallest TTL in the response, and failed lookups for a short fixed
// period.
//
// DNSResolver is safe for concurrent use; concurrent lookups of the same
// host share a single pair of queries.
type DNSResolver struct {
	server        string
	client        *dns.Client
	cache         *lrucache.Cache
	negativeCache *cache.Cache
	flights       singleflight.Group
}

// NewDNSResolver creates a DNSResolver that queries server, an IP address
// with an optional port. timeout bounds each individual query; zero selects
// a default.
func NewDNSResolver(server string, timeout time.Duration) (*DNSResolver, error) {

	host, port, err := net.SplitHostPort(server)
	if err != nil {
		host = strings.TrimSuffix(strings.TrimPrefix(server, "["), "]")
		port = defaultDNSPort
	}
	if _, err := netip.ParseAddr(host); err != nil {
		return nil, errors.Tracef("invalid DNS server %q: %v", server, err)
	}

	if timeout <= 0 {
		timeout = defaultDNSRequestTimeout
	}

	return &DNSResolver{
		server: net.JoinHostPort(host, port),
		client: &dns.Client{Net: "udp", Timeout: timeout},
		cache: lrucache.NewWithLRU(
			0, cacheCleanupInterval, cacheMaxEntries),
		negativeCache: cache.New(
			negativeCacheTTL, cacheCleanupInterval),
	}, nil
}

// Server returns the host:port of the DNS server.
func (r *DNSResolver) Server() string {
	return r.server
}

// LookupIPAddr resolves host to its IPv4 addresses followed by its IPv6
// addresses. A numeric host is returned without any query.
func (r *DNSResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {

	if addr, err := netip.ParseAddr(host); err == nil {
		return []net.IPAddr{{IP: net.IP(addr.AsSlice()), Zone: addr.Zone()}}, nil
	}

	if entry, ok := r.cache.Get(host); ok {
		return entry.([]net.IPAddr), nil
	}
	if entry, ok := r.negativeCache.Get(host); ok {
		return nil, errors.Trace(entry.(error))
	}

	result, err, _ := r.flights.Do(host, func() (interface{}, error) {

		var addrs []net.IPAddr
		var ttl time.Duration

		for _, questionType := range []uint16{dns.TypeA, dns.TypeAAAA} {
			answers, answerTTL, err := r.query(ctx, host, questionType)
			if err != nil {
				if ctx.Err() == nil {
					r.negativeCache.Set(host, err, cache.DefaultExpiration)
				}
				return nil, errors.Trace(err)
			}
			addrs = append(addrs, answers...)
			if len(answers) > 0 && (ttl == 0 || answerTTL < ttl) {
				ttl = answerTTL
			}
		}

		if len(addrs) == 0 {
			err := errors.Tracef("no addresses for %s", host)
			r.negativeCache.Set(host, err, cache.DefaultExpiration)
			return nil, err
		}

		if ttl < minimumCacheTTL {
			ttl = minimumCacheTTL
		}
		r.cache.Set(host, addrs, ttl)
		r.negativeCache.Delete(host)

		return addrs, nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	return result.([]net.IPAddr), nil
}

func (r *DNSResolver) query(
	ctx context.Context, host string, questionType uint16) ([]net.IPAddr, time.Duration, error) {

	request := &dns.Msg{MsgHdr: dns.MsgHdr{RecursionDesired: true}}
	request.SetQuestion(dns.Fqdn(host), questionType)

	response, _, err := r.client.ExchangeContext(ctx, request, r.server)
	if err == nil && response.Truncated {
		tcpClient := &dns.Client{Net: "tcp", Timeout: r.client.Timeout}
		response, _, err = tcpClient.ExchangeContext(ctx, request, r.server)
	}
	if err != nil {
		return nil, 0, errors.Trace(err)
	}

	// Some servers answer NXDOMAIN to AAAA queries for names which have
	// only A records.
	if response.Rcode != dns.RcodeSuccess &&
		!(questionType == dns.TypeAAAA && response.Rcode == dns.RcodeNameError) {

		rcode, ok := dns.RcodeToString[response.Rcode]
		if !ok {
			rcode = fmt.Sprintf("Rcode: %d", response.Rcode)
		}
		return nil, 0, errors.Tracef("unexpected RCode: %s", rcode)
	}

	var addrs []net.IPAddr
	var ttl time.Duration
	for _, answer := range response.Answer {
		var IP net.IP
		var TTLSec uint32
		switch rr := answer.(type) {
		case *dns.A:
			IP, TTLSec = rr.A, rr.Hdr.Ttl
		case *dns.AAAA:
			IP, TTLSec = rr.AAAA, rr.Hdr.Ttl
		default:
			continue
		}
		answerTTL := time.Duration(TTLSec) * time.Second
		if len(addrs) == 0 || answerTTL < ttl {
			ttl = answerTTL
		}
		addrs = append(addrs, net.IPAddr{IP: IP})
	}

	return addrs, ttl, nil
}
