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

package spf

import (
	"time"

	"github.com/foxcpp/mxtrust/framework/config"
)

// Config controls evaluation limits and caching. Use DefaultConfig to get
// the values recommended by RFC 7208.
type Config struct {
	// DNSTimeout bounds each DNS query.
	DNSTimeout time.Duration
	// VerificationTimeout bounds the whole evaluation.
	VerificationTimeout time.Duration

	MaxDNSLookups  int
	MaxVoidLookups int
	MaxRedirects   int

	EnableCache bool
	// CacheTTL overrides the time results are cached. If zero, the TTL of
	// the SPF record is used, 5 minutes if the resolver does not report
	// TTLs.
	CacheTTL time.Duration

	// StrictPolicy makes SoftFail and Neutral results to be reported as
	// Fail.
	StrictPolicy bool

	// Debug enables logging of each evaluated directive.
	Debug bool
}

const DefaultCacheTTL = 5 * time.Minute

func DefaultConfig() Config {
	return Config{
		DNSTimeout:          10 * time.Second,
		VerificationTimeout: 30 * time.Second,
		MaxDNSLookups:       10,
		MaxVoidLookups:      2,
		MaxRedirects:        10,
		EnableCache:         true,
		StrictPolicy:        false,
	}
}

// Init reads the configuration from the spf block. Values not specified in
// the block are set to defaults.
func (c *Config) Init(cfg *config.Map) error {
	def := DefaultConfig()
	cfg.Duration("dns_timeout", false, false, def.DNSTimeout, &c.DNSTimeout)
	cfg.Duration("verification_timeout", false, false, def.VerificationTimeout, &c.VerificationTimeout)
	cfg.Int("max_dns_lookups", false, false, def.MaxDNSLookups, &c.MaxDNSLookups)
	cfg.Int("max_void_lookups", false, false, def.MaxVoidLookups, &c.MaxVoidLookups)
	cfg.Int("max_redirects", false, false, def.MaxRedirects, &c.MaxRedirects)
	cfg.Bool("cache", false, def.EnableCache, &c.EnableCache)
	cfg.Duration("cache_ttl", false, false, def.CacheTTL, &c.CacheTTL)
	cfg.Bool("strict", false, def.StrictPolicy, &c.StrictPolicy)
	cfg.Bool("debug", true, false, &c.Debug)
	_, err := cfg.Process()
	return err
}
