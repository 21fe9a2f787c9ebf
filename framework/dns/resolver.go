/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package dns defines interfaces used by the verifiers to perform DNS
// lookups.
//
// Resolver is implemented by net.DefaultResolver (see DefaultResolver) and
// by ExtResolver, the latter also provides access to the DNSSEC AD flag and
// record TTLs.
package dns

import (
	"context"
	"net"
	"time"
)

// Resolver is an interface that describes DNS-related methods used by the
// verifiers.
//
// It is implemented by dns.DefaultResolver(). Methods behave the same way.
type Resolver interface {
	LookupAddr(ctx context.Context, addr string) (names []string, err error)
	LookupHost(ctx context.Context, host string) (addrs []string, err error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// TTLResolver is implemented by resolvers that can report the TTL of
// returned TXT records. ttl is the smallest TTL in the RRset.
type TTLResolver interface {
	LookupTXTWithTTL(ctx context.Context, name string) (recs []string, ttl time.Duration, err error)
}

func DefaultResolver() Resolver {
	if overrideServ != "" {
		override(overrideServ)
	}

	return net.DefaultResolver
}
