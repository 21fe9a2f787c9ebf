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

package dns

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/foxcpp/mxtrust/framework/log"
	"github.com/miekg/dns"
)

type TLSA = dns.TLSA

// ExtResolver is a convenience wrapper for miekg/dns library that provides
// access to certain low-level functionality (notably, AD flag in responses,
// indicating whether DNSSEC verification was performed by the server, and
// record TTLs).
//
// ExtResolver also implements Resolver and TTLResolver.
type ExtResolver struct {
	cl  *dns.Client
	Cfg *dns.ClientConfig
}

// RCodeError is returned by ExtResolver when the RCODE in response is not
// NOERROR.
type RCodeError struct {
	Name string
	Code int
}

func (err RCodeError) Temporary() bool {
	return err.Code == dns.RcodeServerFailure
}

func (err RCodeError) Error() string {
	switch err.Code {
	case dns.RcodeFormatError:
		return "dns: rcode FORMERR when looking up " + err.Name
	case dns.RcodeServerFailure:
		return "dns: rcode SERVFAIL when looking up " + err.Name
	case dns.RcodeNameError:
		return "dns: rcode NXDOMAIN when looking up " + err.Name
	case dns.RcodeNotImplemented:
		return "dns: rcode NOTIMP when looking up " + err.Name
	case dns.RcodeRefused:
		return "dns: rcode REFUSED when looking up " + err.Name
	}
	return "dns: non-success rcode: " + strconv.Itoa(err.Code) + " when looking up " + err.Name
}

// IsNotFound reports whether err indicates that the name does not exist or
// has no records of the requested type.
func IsNotFound(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsNotFound
	}
	var rcodeErr RCodeError
	if errors.As(err, &rcodeErr) {
		return rcodeErr.Code == dns.RcodeNameError
	}
	return false
}

// answers returns records of type T from the answer section of resp.
func answers[T dns.RR](resp *dns.Msg) []T {
	res := make([]T, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		if typed, ok := rr.(T); ok {
			res = append(res, typed)
		}
	}
	return res
}

func (e ExtResolver) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.SetEdns0(4096, false)
	msg.AuthenticatedData = true

	var lastErr error
	for _, srv := range e.Cfg.Servers {
		resp, _, err := e.cl.ExchangeContext(ctx, msg, net.JoinHostPort(srv, e.Cfg.Port))
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = RCodeError{msg.Question[0].Name, resp.Rcode}
			continue
		}

		// The AD flag can be trusted only if the resolver is local, the
		// channel to remote ones is not protected.
		if ip := net.ParseIP(srv); ip == nil || !ip.IsLoopback() {
			resp.AuthenticatedData = false
		}
		return resp, nil
	}
	return nil, lastErr
}

func (e ExtResolver) AuthLookupAddr(ctx context.Context, addr string) (ad bool, names []string, err error) {
	revAddr, err := dns.ReverseAddr(addr)
	if err != nil {
		return false, nil, err
	}
	resp, err := e.query(ctx, revAddr, dns.TypePTR)
	if err != nil {
		return false, nil, err
	}
	for _, ptr := range answers[*dns.PTR](resp) {
		names = append(names, ptr.Ptr)
	}
	return resp.AuthenticatedData, names, nil
}

func (e ExtResolver) AuthLookupHost(ctx context.Context, host string) (ad bool, addrs []string, err error) {
	ad, ips, err := e.AuthLookupIPAddr(ctx, host)
	if err != nil {
		return false, nil, err
	}
	addrs = make([]string, 0, len(ips))
	for _, ip := range ips {
		addrs = append(addrs, ip.String())
	}
	return ad, addrs, nil
}

func (e ExtResolver) AuthLookupMX(ctx context.Context, name string) (ad bool, mxs []*net.MX, err error) {
	resp, err := e.query(ctx, name, dns.TypeMX)
	if err != nil {
		return false, nil, err
	}
	for _, mx := range answers[*dns.MX](resp) {
		mxs = append(mxs, &net.MX{Host: mx.Mx, Pref: mx.Preference})
	}
	return resp.AuthenticatedData, mxs, nil
}

// AuthLookupTXT returns TXT records for the name, strings of each record are
// concatenated. ttl is the smallest TTL of the returned records.
func (e ExtResolver) AuthLookupTXT(ctx context.Context, name string) (ad bool, recs []string, ttl time.Duration, err error) {
	resp, err := e.query(ctx, name, dns.TypeTXT)
	if err != nil {
		return false, nil, 0, err
	}

	txts := answers[*dns.TXT](resp)
	recs = make([]string, 0, len(txts))
	for i, txt := range txts {
		if i == 0 || time.Duration(txt.Hdr.Ttl)*time.Second < ttl {
			ttl = time.Duration(txt.Hdr.Ttl) * time.Second
		}
		recs = append(recs, strings.Join(txt.Txt, ""))
	}
	return resp.AuthenticatedData, recs, ttl, nil
}

// AuthLookupIPAddr looks up both AAAA and A records. Failure of one of the
// lookups is logged and ignored unless both fail.
//
// The returned AD flag is the one of the A lookup. If A records are
// authenticated and AAAA records are not, the latter are dropped.
func (e ExtResolver) AuthLookupIPAddr(ctx context.Context, host string) (ad bool, addrs []net.IPAddr, err error) {
	v6resp, v6err := e.query(ctx, host, dns.TypeAAAA)
	v4resp, v4err := e.query(ctx, host, dns.TypeA)
	switch {
	case v6err != nil && v4err != nil:
		return false, nil, v4err
	case v6err != nil:
		log.DefaultLogger.Error("AAAA lookup failed, using A records", v6err, "host", host)
	case v4err != nil:
		log.DefaultLogger.Error("A lookup failed, using AAAA records", v4err, "host", host)
	}

	var v6ad bool
	if v6resp != nil {
		v6ad = v6resp.AuthenticatedData
	}
	if v4resp != nil {
		ad = v4resp.AuthenticatedData
	}

	addrs = []net.IPAddr{}
	if v6resp != nil && (v6ad || !ad) {
		for _, rr := range answers[*dns.AAAA](v6resp) {
			addrs = append(addrs, net.IPAddr{IP: rr.AAAA})
		}
	}
	if v4resp != nil {
		for _, rr := range answers[*dns.A](v4resp) {
			addrs = append(addrs, net.IPAddr{IP: rr.A})
		}
	}
	return ad, addrs, nil
}

// AuthLookupTLSA looks up TLSA records for the service, e.g. ("25", "tcp",
// "mx.example.org") queries _25._tcp.mx.example.org.
func (e ExtResolver) AuthLookupTLSA(ctx context.Context, service, network, domain string) (ad bool, recs []TLSA, err error) {
	name, err := dns.TLSAName(dns.Fqdn(domain), service, network)
	if err != nil {
		return false, nil, err
	}
	resp, err := e.query(ctx, name, dns.TypeTLSA)
	if err != nil {
		return false, nil, err
	}
	for _, rr := range answers[*dns.TLSA](resp) {
		recs = append(recs, *rr)
	}
	return resp.AuthenticatedData, recs, nil
}

func (e ExtResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) {
	_, names, err := e.AuthLookupAddr(ctx, addr)
	return names, err
}

func (e ExtResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	_, addrs, err := e.AuthLookupHost(ctx, host)
	return addrs, err
}

func (e ExtResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	_, mxs, err := e.AuthLookupMX(ctx, name)
	return mxs, err
}

func (e ExtResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	_, recs, _, err := e.AuthLookupTXT(ctx, name)
	return recs, err
}

func (e ExtResolver) LookupTXTWithTTL(ctx context.Context, name string) ([]string, time.Duration, error) {
	_, recs, ttl, err := e.AuthLookupTXT(ctx, name)
	return recs, ttl, err
}

func (e ExtResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	_, addrs, err := e.AuthLookupIPAddr(ctx, host)
	return addrs, err
}

func NewExtResolver() (*ExtResolver, error) {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return nil, err
	}

	if overrideServ != "" {
		host, port, err := net.SplitHostPort(overrideServ)
		if err != nil {
			return nil, err
		}
		cfg.Servers = []string{host}
		cfg.Port = port
	}

	if len(cfg.Servers) == 0 {
		cfg.Servers = []string{"127.0.0.1"}
	}

	cl := new(dns.Client)
	cl.Dialer = &net.Dialer{
		Timeout: time.Duration(cfg.Timeout) * time.Second,
	}
	return &ExtResolver{
		cl:  cl,
		Cfg: cfg,
	}, nil
}
