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
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var ErrRecordSyntax = errors.New("spf: malformed record")

type Qualifier byte

const (
	QualifierPass     Qualifier = '+'
	QualifierFail     Qualifier = '-'
	QualifierSoftFail Qualifier = '~'
	QualifierNeutral  Qualifier = '?'
)

func (q Qualifier) Outcome() Outcome {
	switch q {
	case QualifierFail:
		return Fail
	case QualifierSoftFail:
		return SoftFail
	case QualifierNeutral:
		return Neutral
	default:
		return Pass
	}
}

func (q Qualifier) String() string {
	return string(q)
}

// Directive is a mechanism together with its qualifier.
type Directive struct {
	Qualifier Qualifier
	// Mechanism is one of: all, include, a, mx, ptr, ip4, ip6, exists.
	Mechanism string
	// DomainSpec is the unexpanded domain-spec argument. Empty if not
	// specified, the current domain is used then.
	DomainSpec string
	// Net is the network for ip4 and ip6 mechanisms.
	Net *net.IPNet
	// CIDR prefix lengths for a and mx mechanisms.
	IP4Mask int
	IP6Mask int

	raw string
}

func (d Directive) String() string {
	return d.raw
}

type Modifier struct {
	Name  string
	Value string
}

// Record is a parsed SPF record.
type Record struct {
	Directives []Directive
	// Redirect and Exp are the values of redirect= and exp= modifiers.
	Redirect string
	Exp      string
	// Unknown modifiers, ignored during the evaluation.
	Other []Modifier
}

func (r *Record) hasAll() bool {
	for _, d := range r.Directives {
		if d.Mechanism == "all" {
			return true
		}
	}
	return false
}

// IsSPFRecord reports whether the TXT record is an SPF record, as defined in
// RFC 7208 Section 4.5. Such record is either valid or causes permerror.
func IsSPFRecord(txt string) bool {
	if len(txt) < len("v=spf1") || !strings.EqualFold(txt[:len("v=spf1")], "v=spf1") {
		return false
	}
	return len(txt) == len("v=spf1") || txt[len("v=spf1")] == ' '
}

func syntaxErr(term, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %q: %s", ErrRecordSyntax, term, fmt.Sprintf(format, args...))
}

// ParseRecord parses the SPF record. All errors wrap ErrRecordSyntax.
func ParseRecord(txt string) (*Record, error) {
	if !IsSPFRecord(txt) {
		return nil, fmt.Errorf("%w: not an SPF record", ErrRecordSyntax)
	}

	rec := &Record{}
	for _, term := range strings.Split(txt[len("v=spf1"):], " ") {
		if term == "" {
			continue
		}

		if name, value, ok := splitModifier(term); ok {
			switch strings.ToLower(name) {
			case "redirect":
				if rec.Redirect != "" {
					return nil, syntaxErr(term, "duplicate redirect modifier")
				}
				if err := validateDomainSpec(value); err != nil {
					return nil, syntaxErr(term, "%v", err)
				}
				rec.Redirect = value
			case "exp":
				if rec.Exp != "" {
					return nil, syntaxErr(term, "duplicate exp modifier")
				}
				if err := validateDomainSpec(value); err != nil {
					return nil, syntaxErr(term, "%v", err)
				}
				rec.Exp = value
			default:
				if _, err := expandMacros(value, true, dummyMacro); err != nil {
					return nil, syntaxErr(term, "%v", err)
				}
				rec.Other = append(rec.Other, Modifier{Name: name, Value: value})
			}
			continue
		}

		d, err := parseDirective(term)
		if err != nil {
			return nil, err
		}
		rec.Directives = append(rec.Directives, d)
	}

	return rec, nil
}

// splitModifier splits the modifier term into the name and value. ok is false
// if the term is not a modifier.
func splitModifier(term string) (name, value string, ok bool) {
	end := strings.IndexAny(term, "=:/")
	if end <= 0 || term[end] != '=' {
		return "", "", false
	}
	name = term[:end]
	for i, ch := range name {
		alpha := ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
		if i == 0 && !alpha {
			return "", "", false
		}
		if !alpha && !(ch >= '0' && ch <= '9') && ch != '-' && ch != '_' && ch != '.' {
			return "", "", false
		}
	}
	return name, term[end+1:], true
}

func parseDirective(term string) (Directive, error) {
	d := Directive{
		Qualifier: QualifierPass,
		IP4Mask:   32,
		IP6Mask:   128,
		raw:       term,
	}

	rest := term
	switch rest[0] {
	case '+', '-', '~', '?':
		d.Qualifier = Qualifier(rest[0])
		rest = rest[1:]
	}

	nameEnd := strings.IndexAny(rest, ":/")
	if nameEnd == -1 {
		nameEnd = len(rest)
	}
	d.Mechanism = strings.ToLower(rest[:nameEnd])
	rest = rest[nameEnd:]

	switch d.Mechanism {
	case "all":
		if rest != "" {
			return d, syntaxErr(term, "all takes no arguments")
		}
	case "include", "exists":
		if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
			return d, syntaxErr(term, "domain-spec required")
		}
		d.DomainSpec = rest[1:]
		if err := validateDomainSpec(d.DomainSpec); err != nil {
			return d, syntaxErr(term, "%v", err)
		}
	case "a", "mx":
		spec, cidr := splitCIDR(rest)
		if spec != "" {
			if !strings.HasPrefix(spec, ":") || len(spec) == 1 {
				return d, syntaxErr(term, "malformed domain-spec")
			}
			d.DomainSpec = spec[1:]
			if err := validateDomainSpec(d.DomainSpec); err != nil {
				return d, syntaxErr(term, "%v", err)
			}
		}
		var err error
		d.IP4Mask, d.IP6Mask, err = parseDualCIDR(cidr)
		if err != nil {
			return d, syntaxErr(term, "%v", err)
		}
	case "ptr":
		if rest != "" {
			if !strings.HasPrefix(rest, ":") || len(rest) == 1 {
				return d, syntaxErr(term, "malformed domain-spec")
			}
			d.DomainSpec = rest[1:]
			if err := validateDomainSpec(d.DomainSpec); err != nil {
				return d, syntaxErr(term, "%v", err)
			}
		}
	case "ip4", "ip6":
		if !strings.HasPrefix(rest, ":") {
			return d, syntaxErr(term, "address required")
		}
		ipNet, err := parseNetwork(rest[1:], d.Mechanism == "ip6")
		if err != nil {
			return d, syntaxErr(term, "%v", err)
		}
		d.Net = ipNet
	default:
		return d, syntaxErr(term, "unknown mechanism")
	}

	return d, nil
}

// splitCIDR separates the dual-cidr-length suffix. Slashes inside macro
// expressions are not considered.
func splitCIDR(s string) (spec, cidr string) {
	inMacro := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '%' && i+1 < len(s) && s[i+1] == '{':
			inMacro = true
		case s[i] == '}':
			inMacro = false
		case s[i] == '/' && !inMacro:
			return s[:i], s[i:]
		}
	}
	return s, ""
}

func parseCIDRLen(s string, max int) (int, error) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, fmt.Errorf("malformed prefix length: %q", s)
	}
	l, err := strconv.ParseUint(s, 10, 8)
	if err != nil || int(l) > max {
		return 0, fmt.Errorf("malformed prefix length: %q", s)
	}
	return int(l), nil
}

// parseDualCIDR parses "/ip4", "//ip6" or "/ip4//ip6".
func parseDualCIDR(s string) (ip4, ip6 int, err error) {
	ip4, ip6 = 32, 128
	if s == "" {
		return
	}

	if strings.HasPrefix(s, "//") {
		ip6, err = parseCIDRLen(s[2:], 128)
		return
	}

	s = s[1:]
	v4, v6, hasV6 := strings.Cut(s, "//")
	if ip4, err = parseCIDRLen(v4, 32); err != nil {
		return
	}
	if hasV6 {
		ip6, err = parseCIDRLen(v6, 128)
	}
	return
}

func parseNetwork(s string, v6 bool) (*net.IPNet, error) {
	addr, prefix, hasPrefix := strings.Cut(s, "/")
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("malformed address: %q", addr)
	}

	bits := 32
	if v6 {
		bits = 128
		if !strings.Contains(addr, ":") {
			return nil, fmt.Errorf("not an IPv6 address: %q", addr)
		}
	} else {
		if ip = ip.To4(); ip == nil || strings.Contains(addr, ":") {
			return nil, fmt.Errorf("not an IPv4 address: %q", addr)
		}
	}

	ones := bits
	if hasPrefix {
		var err error
		if ones, err = parseCIDRLen(prefix, bits); err != nil {
			return nil, err
		}
	}

	mask := net.CIDRMask(ones, bits)
	return &net.IPNet{IP: ip.Mask(mask), Mask: mask}, nil
}

// validateDomainSpec checks the domain-spec syntax (RFC 7208 Section 7.1).
func validateDomainSpec(spec string) error {
	if spec == "" {
		return errors.New("empty domain-spec")
	}
	if _, err := expandMacros(spec, false, dummyMacro); err != nil {
		return err
	}

	// domain-end = ( "." toplabel [ "." ] ) / macro-expand
	for _, suffix := range []string{"}", "%%", "%_", "%-"} {
		if strings.HasSuffix(spec, suffix) {
			return nil
		}
	}
	labels := strings.Split(strings.TrimSuffix(spec, "."), ".")
	if len(labels) < 2 {
		return fmt.Errorf("domain-spec must include a top-level domain: %q", spec)
	}
	return validateTopLabel(labels[len(labels)-1])
}

func validateTopLabel(label string) error {
	if label == "" {
		return errors.New("empty top-level label")
	}
	digits := 0
	for i, ch := range label {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case ch >= '0' && ch <= '9':
			digits++
		case ch == '-' && i != 0 && i != len(label)-1:
		default:
			return fmt.Errorf("malformed top-level label: %q", label)
		}
	}
	if digits == len(label) {
		return fmt.Errorf("top-level label can't be numeric: %q", label)
	}
	return nil
}
