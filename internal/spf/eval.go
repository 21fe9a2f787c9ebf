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
	"strconv"
	"strings"
	"time"

	"github.com/foxcpp/mxtrust/framework/dns"
	"github.com/foxcpp/mxtrust/framework/exterrors"
	"github.com/foxcpp/mxtrust/framework/log"
)

var (
	ErrMultipleRecords    = errors.New("spf: multiple SPF records")
	ErrTooManyLookups     = errors.New("spf: too many DNS lookups")
	ErrTooManyVoidLookups = errors.New("spf: too many void lookups")
	ErrTooManyRedirects   = errors.New("spf: too many redirects")
	ErrTooManyMX          = errors.New("spf: too many MX records")
	ErrLoop               = errors.New("spf: include or redirect loop")
	ErrNoIncludeRecord    = errors.New("spf: included domain has no SPF record")

	errNoRecord = errors.New("spf: no record")
)

// mxPtrLimit is the maximum amount of names processed for a single mx or
// ptr mechanism.
const mxPtrLimit = 10

const defaultExplanation = "%{i} is not one of %{d}'s designated mail servers"

// outcomeErr is an evaluation error that determines the result.
type outcomeErr struct {
	outcome Outcome
	err     error
}

func (e *outcomeErr) Error() string { return e.err.Error() }
func (e *outcomeErr) Unwrap() error { return e.err }

func (e *outcomeErr) Temporary() bool { return e.outcome == TempError }

func permErr(err error) error { return &outcomeErr{PermError, err} }
func tempErr(err error) error { return &outcomeErr{TempError, err} }

func outcomeOf(err error) Outcome {
	var oErr *outcomeErr
	if errors.As(err, &oErr) {
		return oErr.outcome
	}
	return TempError
}

// evaluator contains the state of a single check_host() invocation
// including all nested include and redirect evaluations.
type evaluator struct {
	resolver dns.Resolver
	cfg      Config
	log      log.Logger
	now      func() time.Time

	ip           net.IP
	helo         string
	sender       string
	senderDomain string

	dnsLookups     int
	voidLookups    int
	redirects      int
	limitsExceeded bool
	mechanisms     []MechanismResult

	// Raw SPF record and its TTL for the top-level domain.
	record    string
	recordTTL time.Duration
}

func (e *evaluator) dnsCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.DNSTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.DNSTimeout)
}

func (e *evaluator) countLookup() error {
	if e.dnsLookups >= e.cfg.MaxDNSLookups {
		e.limitsExceeded = true
		return permErr(ErrTooManyLookups)
	}
	e.dnsLookups++
	return nil
}

func (e *evaluator) countVoid() error {
	e.voidLookups++
	if e.voidLookups > e.cfg.MaxVoidLookups {
		e.limitsExceeded = true
		return permErr(ErrTooManyVoidLookups)
	}
	return nil
}

func (e *evaluator) lookupRecord(ctx context.Context, domain string, top bool) (*Record, error) {
	ctx, cancel := e.dnsCtx(ctx)
	defer cancel()

	var (
		txts []string
		ttl  time.Duration
		err  error
	)
	if ttlR, ok := e.resolver.(dns.TTLResolver); ok {
		txts, ttl, err = ttlR.LookupTXTWithTTL(ctx, domain)
	} else {
		txts, err = e.resolver.LookupTXT(ctx, domain)
	}
	if err != nil {
		if dns.IsNotFound(err) {
			return nil, errNoRecord
		}
		return nil, tempErr(lookupErr("TXT", domain, err))
	}

	var spfRecords []string
	for _, txt := range txts {
		if IsSPFRecord(txt) {
			spfRecords = append(spfRecords, txt)
		}
	}
	switch len(spfRecords) {
	case 0:
		return nil, errNoRecord
	case 1:
	default:
		return nil, permErr(ErrMultipleRecords)
	}

	if top {
		e.record = spfRecords[0]
		e.recordTTL = ttl
	}

	rec, err := ParseRecord(spfRecords[0])
	if err != nil {
		return nil, permErr(err)
	}
	return rec, nil
}

// checkHost implements check_host() function (RFC 7208 Section 4).
//
// stack contains domains for which evaluation is in progress, it is used
// to detect loops. Explanation is evaluated only if wantExp is set.
func (e *evaluator) checkHost(ctx context.Context, domain string, stack []string, wantExp bool) (Outcome, string, error) {
	if !validDomain(domain) {
		return None, "", nil
	}

	rec, err := e.lookupRecord(ctx, domain, len(stack) == 0)
	if err != nil {
		if errors.Is(err, errNoRecord) {
			return None, "", nil
		}
		return outcomeOf(err), "", err
	}

	stack = append(stack[:len(stack):len(stack)], domain)

	for _, d := range rec.Directives {
		start := time.Now()
		lookupsBefore := e.dnsLookups

		match, err := e.evalDirective(ctx, domain, d, stack)

		e.mechanisms = append(e.mechanisms, MechanismResult{
			Kind:       d.Mechanism,
			Qualifier:  d.Qualifier,
			Matched:    match && err == nil,
			Value:      d.String(),
			Domain:     domain,
			Duration:   time.Since(start),
			DNSLookups: e.dnsLookups - lookupsBefore,
			Err:        err,
		})
		e.log.DebugMsg("directive evaluated", "domain", domain, "directive", d.String(), "match", match, "err", err)

		if err != nil {
			return outcomeOf(err), "", err
		}
		if !match {
			continue
		}

		res := d.Qualifier.Outcome()
		expl := ""
		if res == Fail && wantExp {
			expl = e.explanation(ctx, domain, rec)
		}
		return res, expl, nil
	}

	// redirect= is ignored if there is "all" mechanism (RFC 7208 Section 6.1).
	if rec.Redirect != "" && !rec.hasAll() {
		return e.redirect(ctx, domain, rec.Redirect, stack, wantExp)
	}

	return Neutral, "", nil
}

func (e *evaluator) redirect(ctx context.Context, domain, spec string, stack []string, wantExp bool) (Outcome, string, error) {
	start := time.Now()
	lookupsBefore := e.dnsLookups
	mechRes := MechanismResult{
		Kind:      "redirect",
		Qualifier: QualifierPass,
		Value:     "redirect=" + spec,
		Domain:    domain,
	}
	fail := func(err error) (Outcome, string, error) {
		mechRes.Err = err
		mechRes.Duration = time.Since(start)
		e.mechanisms = append(e.mechanisms, mechRes)
		return outcomeOf(err), "", err
	}

	e.redirects++
	if e.redirects > e.cfg.MaxRedirects {
		e.limitsExceeded = true
		return fail(permErr(ErrTooManyRedirects))
	}
	if err := e.countLookup(); err != nil {
		return fail(err)
	}
	target, err := e.expandDomain(ctx, spec, domain)
	if err != nil {
		return fail(err)
	}
	if inStack(stack, target) {
		return fail(permErr(fmt.Errorf("%w: redirect to %s", ErrLoop, target)))
	}

	mechRes.Matched = true
	mechRes.DNSLookups = e.dnsLookups - lookupsBefore
	mechRes.Duration = time.Since(start)
	e.mechanisms = append(e.mechanisms, mechRes)

	res, expl, err := e.checkHost(ctx, target, stack, wantExp)
	if res == None {
		return PermError, "", permErr(fmt.Errorf("spf: redirect target %s has no SPF record", target))
	}
	return res, expl, err
}

func inStack(stack []string, domain string) bool {
	for _, d := range stack {
		if d == domain {
			return true
		}
	}
	return false
}

func (e *evaluator) evalDirective(ctx context.Context, domain string, d Directive, stack []string) (bool, error) {
	switch d.Mechanism {
	case "all":
		return true, nil
	case "ip4", "ip6":
		return d.Net.Contains(e.ip), nil
	}

	if err := e.countLookup(); err != nil {
		return false, err
	}

	target := domain
	if d.DomainSpec != "" {
		var err error
		target, err = e.expandDomain(ctx, d.DomainSpec, domain)
		if err != nil {
			return false, err
		}
	}

	switch d.Mechanism {
	case "a":
		return e.matchHost(ctx, target, d, true)
	case "mx":
		return e.matchMX(ctx, target, d)
	case "ptr":
		return e.matchPTR(ctx, target)
	case "exists":
		return e.matchExists(ctx, target)
	case "include":
		return e.matchInclude(ctx, target, stack)
	}
	return false, permErr(fmt.Errorf("spf: unknown mechanism: %s", d.Mechanism))
}

// lookupErr wraps the failed DNS query error and attaches the query and the
// resolver error to the log fields.
func lookupErr(qtype, name string, err error) error {
	reason, misc := exterrors.UnwrapDNSErr(err)
	misc["spf_query"] = qtype + " " + name
	if reason != "" {
		misc["reason"] = reason
	}
	return exterrors.WithFields(fmt.Errorf("spf: %s lookup for %s: %w", qtype, name, err), misc)
}

func (e *evaluator) lookupIP(ctx context.Context, host string) ([]net.IPAddr, error) {
	ctx, cancel := e.dnsCtx(ctx)
	defer cancel()
	return e.resolver.LookupIPAddr(ctx, host)
}

// matchHost checks whether any address of the host matches the client IP
// with the prefix lengths of d. Only primary lookups count as void.
func (e *evaluator) matchHost(ctx context.Context, host string, d Directive, primary bool) (bool, error) {
	addrs, err := e.lookupIP(ctx, host)
	if err != nil && !dns.IsNotFound(err) {
		return false, tempErr(lookupErr("A/AAAA", host, err))
	}
	if len(addrs) == 0 {
		if primary {
			return false, e.countVoid()
		}
		return false, nil
	}

	clientV4 := e.ip.To4() != nil
	for _, addr := range addrs {
		var ipNet net.IPNet
		if ip4 := addr.IP.To4(); ip4 != nil {
			if !clientV4 {
				continue
			}
			mask := net.CIDRMask(d.IP4Mask, 32)
			ipNet = net.IPNet{IP: ip4.Mask(mask), Mask: mask}
		} else {
			if clientV4 {
				continue
			}
			mask := net.CIDRMask(d.IP6Mask, 128)
			ipNet = net.IPNet{IP: addr.IP.Mask(mask), Mask: mask}
		}
		if ipNet.Contains(e.ip) {
			return true, nil
		}
	}
	return false, nil
}

func (e *evaluator) matchMX(ctx context.Context, target string, d Directive) (bool, error) {
	lctx, cancel := e.dnsCtx(ctx)
	mxs, err := e.resolver.LookupMX(lctx, target)
	cancel()
	if err != nil && !dns.IsNotFound(err) {
		return false, tempErr(lookupErr("MX", target, err))
	}
	if len(mxs) == 0 {
		return false, e.countVoid()
	}
	if len(mxs) > mxPtrLimit {
		e.limitsExceeded = true
		return false, permErr(ErrTooManyMX)
	}

	for _, mx := range mxs {
		host := strings.TrimSuffix(mx.Host, ".")
		// Null MX (RFC 7505).
		if host == "" {
			continue
		}
		match, err := e.matchHost(ctx, host, d, false)
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// validatedNames returns PTR names of the client IP that resolve back to it.
// DNS errors are not reported, in accordance with RFC 7208 Section 5.5.
func (e *evaluator) validatedNames(ctx context.Context) []string {
	lctx, cancel := e.dnsCtx(ctx)
	names, err := e.resolver.LookupAddr(lctx, e.ip.String())
	cancel()
	if err != nil {
		return nil
	}
	if len(names) > mxPtrLimit {
		names = names[:mxPtrLimit]
	}

	validated := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSuffix(name, "."))
		addrs, err := e.lookupIP(ctx, name)
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if addr.IP.Equal(e.ip) {
				validated = append(validated, name)
				break
			}
		}
	}
	return validated
}

func isSubdomain(name, domain string) bool {
	return name == domain || strings.HasSuffix(name, "."+domain)
}

func (e *evaluator) matchPTR(ctx context.Context, target string) (bool, error) {
	for _, name := range e.validatedNames(ctx) {
		if isSubdomain(name, target) {
			return true, nil
		}
	}
	return false, nil
}

func (e *evaluator) matchExists(ctx context.Context, target string) (bool, error) {
	addrs, err := e.lookupIP(ctx, target)
	if err != nil && !dns.IsNotFound(err) {
		return false, tempErr(lookupErr("A", target, err))
	}
	// exists uses A lookup regardless of the client address family.
	for _, addr := range addrs {
		if addr.IP.To4() != nil {
			return true, nil
		}
	}
	return false, e.countVoid()
}

func (e *evaluator) matchInclude(ctx context.Context, target string, stack []string) (bool, error) {
	if inStack(stack, target) {
		return false, permErr(fmt.Errorf("%w: include of %s", ErrLoop, target))
	}

	res, _, err := e.checkHost(ctx, target, stack, false)
	switch res {
	case Pass:
		return true, nil
	case Fail, SoftFail, Neutral:
		return false, nil
	case TempError:
		return false, err
	case None:
		return false, permErr(fmt.Errorf("%w: %s", ErrNoIncludeRecord, target))
	default:
		return false, err
	}
}

// expandDomain expands the domain-spec and prepares the result for use in
// DNS queries (RFC 7208 Section 7.3).
func (e *evaluator) expandDomain(ctx context.Context, spec, domain string) (string, error) {
	name, err := expandMacros(spec, false, e.macroValue(ctx, domain))
	if err != nil {
		return "", permErr(err)
	}
	name = strings.ToLower(strings.TrimSuffix(name, "."))

	// Labels are removed from the left until the total length is 253
	// characters or less.
	for len(name) > 253 {
		dot := strings.IndexByte(name, '.')
		if dot == -1 {
			return "", permErr(fmt.Errorf("spf: expanded domain is too long: %s", name))
		}
		name = name[dot+1:]
	}
	return name, nil
}

func (e *evaluator) macroValue(ctx context.Context, domain string) func(byte) (string, error) {
	return func(letter byte) (string, error) {
		switch letter {
		case 's':
			return e.sender + "@" + e.senderDomain, nil
		case 'l':
			return e.sender, nil
		case 'o':
			return e.senderDomain, nil
		case 'd':
			return domain, nil
		case 'i':
			if ip4 := e.ip.To4(); ip4 != nil {
				return ipMacro(ip4), nil
			}
			return ipMacro(e.ip.To16()), nil
		case 'p':
			return e.ptrMacro(ctx, domain), nil
		case 'v':
			if e.ip.To4() != nil {
				return "in-addr", nil
			}
			return "ip6", nil
		case 'h':
			return e.helo, nil
		case 'c':
			return e.ip.String(), nil
		case 'r':
			return "unknown", nil
		case 't':
			return strconv.FormatInt(e.now().Unix(), 10), nil
		}
		return "", macroErr("unknown macro letter %q", letter)
	}
}

// ptrMacro returns the validated domain name of the client for %{p}.
func (e *evaluator) ptrMacro(ctx context.Context, domain string) string {
	names := e.validatedNames(ctx)
	for _, name := range names {
		if name == domain {
			return name
		}
	}
	for _, name := range names {
		if isSubdomain(name, domain) {
			return name
		}
	}
	if len(names) != 0 {
		return names[0]
	}
	return "unknown"
}

// explanation returns the explanation string for the Fail result. Any
// error during the exp= processing results in the default explanation.
func (e *evaluator) explanation(ctx context.Context, domain string, rec *Record) string {
	def, _ := expandMacros(defaultExplanation, true, e.macroValue(ctx, domain))
	if rec.Exp == "" {
		return def
	}

	target, err := e.expandDomain(ctx, rec.Exp, domain)
	if err != nil {
		return def
	}

	lctx, cancel := e.dnsCtx(ctx)
	txts, err := e.resolver.LookupTXT(lctx, target)
	cancel()
	if err != nil || len(txts) != 1 {
		return def
	}

	expl, err := expandMacros(txts[0], true, e.macroValue(ctx, domain))
	if err != nil {
		return def
	}
	return expl
}

// validDomain checks whether the domain can be used in queries
// (RFC 7208 Section 4.3).
func validDomain(domain string) bool {
	if domain == "" || len(domain) > 253 {
		return false
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" || len(l) > 63 {
			return false
		}
	}
	return true
}
