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
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/foxcpp/mxtrust/framework/dns"
	"github.com/foxcpp/mxtrust/framework/log"
	"github.com/foxcpp/mxtrust/internal/cache"
)

const DefaultCacheSize = 10000

// Verifier evaluates SPF policies and caches the results.
//
// Verifier is safe for concurrent use.
type Verifier struct {
	Resolver dns.Resolver
	Log      log.Logger

	cache *cache.Cache[*Result]
	now   func() time.Time
}

func NewVerifier(resolver dns.Resolver) *Verifier {
	return &Verifier{
		Resolver: resolver,
		Log:      log.Logger{Name: "spf"},
		cache:    cache.New[*Result](DefaultCacheSize),
		now:      time.Now,
	}
}

// cacheKey includes evaluation budgets since results computed with
// different limits may differ.
func cacheKey(ip net.IP, domain, helo string, cfg Config) string {
	return fmt.Sprintf("%s:%s:%s:%d/%d/%d", ip, strings.ToLower(domain), strings.ToLower(helo),
		cfg.MaxDNSLookups, cfg.MaxVoidLookups, cfg.MaxRedirects)
}

// Verify checks whether ip is authorized to send mail for domain.
//
// domain is either the domain from MAIL FROM (possibly with the local-part,
// as in "user@example.org") or the HELO identity. Local-part defaults to
// "postmaster".
//
// Evaluation problems are reported as TempError and PermError results, the
// returned error is non-nil only for arguments that can't be checked at all
// (*AuthError).
func (v *Verifier) Verify(ctx context.Context, sessionID uint64, ip net.IP, domain, helo string, cfg Config) (*Result, error) {
	if ip == nil || (ip.To4() == nil && len(ip) != net.IPv6len) {
		return nil, &AuthError{Kind: InvalidIP, Value: ip.String(), Reason: "invalid IP address"}
	}
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}

	sender, senderDomain := "postmaster", domain
	if i := strings.LastIndexByte(domain, '@'); i != -1 {
		senderDomain = domain[i+1:]
		if i != 0 {
			sender = domain[:i]
		}
	}
	if senderDomain == "" {
		return nil, &AuthError{Kind: InvalidDomain, Value: domain, Reason: "empty domain"}
	}
	normDomain, err := dns.ForLookup(senderDomain)
	if err != nil {
		return nil, &AuthError{Kind: InvalidDomain, Value: domain, Reason: err.Error()}
	}
	aDomain, err := dns.ToASCII(normDomain)
	if err != nil {
		return nil, &AuthError{Kind: InvalidDomain, Value: domain, Reason: err.Error()}
	}

	logger := v.Log
	logger.Debug = logger.Debug || cfg.Debug
	logger.Fields = map[string]interface{}{"session_id": sessionID}

	key := cacheKey(ip, domain, helo, cfg)
	if cfg.EnableCache {
		if res, ok := v.cache.Get(key); ok {
			cacheHitsCnt.Inc()
			logger.DebugMsg("cached result", "domain", normDomain, "ip", ip, "result", res.Result)
			return applyStrict(res, cfg), nil
		}
		cacheMissesCnt.Inc()
	}

	started := v.now()
	if cfg.VerificationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.VerificationTimeout)
		defer cancel()
	}

	e := &evaluator{
		resolver:     v.Resolver,
		cfg:          cfg,
		log:          logger,
		now:          v.now,
		ip:           ip,
		helo:         helo,
		sender:       sender,
		senderDomain: aDomain,
	}
	outcome, expl, err := e.checkHost(ctx, aDomain, nil, true)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		outcome = TempError
	}

	res := &Result{
		Result:         outcome,
		Domain:         normDomain,
		IP:             ip,
		HELO:           helo,
		Explanation:    expl,
		Record:         e.record,
		Mechanisms:     e.mechanisms,
		DNSLookups:     e.dnsLookups,
		VoidLookups:    e.voidLookups,
		LimitsExceeded: e.limitsExceeded,
		Err:            err,
		Started:        started,
		Duration:       v.now().Sub(started),
	}

	verificationsCnt.WithLabelValues(string(outcome)).Inc()
	durationHist.Observe(res.Duration.Seconds())
	lookupsHist.Observe(float64(res.DNSLookups))

	if outcome == TempError || outcome == PermError {
		logger.Error("evaluation failed", err, "domain", normDomain, "ip", ip, "result", outcome, "dns_lookups", e.dnsLookups)
	} else {
		logger.DebugMsg("evaluated", "domain", normDomain, "ip", ip, "result", outcome, "dns_lookups", e.dnsLookups)
	}

	if cfg.EnableCache && outcome != TempError {
		v.cache.Set(key, res, resultTTL(cfg, outcome, e.recordTTL))
	}

	return applyStrict(res, cfg), nil
}

func resultTTL(cfg Config, outcome Outcome, recordTTL time.Duration) time.Duration {
	if cfg.CacheTTL > 0 {
		return cfg.CacheTTL
	}
	if outcome == None || recordTTL <= 0 {
		return DefaultCacheTTL
	}
	return recordTTL
}

// applyStrict returns the result with SoftFail and Neutral turned into Fail
// if StrictPolicy is enabled. Cached results are never modified.
func applyStrict(res *Result, cfg Config) *Result {
	if !cfg.StrictPolicy || (res.Result != SoftFail && res.Result != Neutral) {
		return res
	}
	strict := *res
	strict.Result = Fail
	return &strict
}
