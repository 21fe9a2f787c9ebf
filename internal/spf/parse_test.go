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
	"net"
	"reflect"
	"testing"
)

func TestIsSPFRecord(t *testing.T) {
	for txt, expected := range map[string]bool{
		"v=spf1":             true,
		"v=spf1 -all":        true,
		"V=SPF1 a":           true,
		"v=spf10":            false,
		"v=spf1a":            false,
		"spf2.0/pra -all":    false,
		"google-site-verify": false,
		"":                   false,
	} {
		if got := IsSPFRecord(txt); got != expected {
			t.Errorf("IsSPFRecord(%q) = %v, want %v", txt, got, expected)
		}
	}
}

func TestParseRecord(t *testing.T) {
	_, net24, _ := net.ParseCIDR("192.0.2.0/24")
	_, net32, _ := net.ParseCIDR("2001:db8::/32")

	cases := []struct {
		txt string
		rec *Record
	}{
		{
			txt: "v=spf1",
			rec: &Record{},
		},
		{
			txt: "v=spf1 -all",
			rec: &Record{
				Directives: []Directive{
					{Qualifier: QualifierFail, Mechanism: "all", IP4Mask: 32, IP6Mask: 128, raw: "-all"},
				},
			},
		},
		{
			txt: "v=spf1  ip4:192.0.2.1/24   ip6:2001:db8::/32 ?ALL ",
			rec: &Record{
				Directives: []Directive{
					{Qualifier: QualifierPass, Mechanism: "ip4", Net: net24, IP4Mask: 32, IP6Mask: 128, raw: "ip4:192.0.2.1/24"},
					{Qualifier: QualifierPass, Mechanism: "ip6", Net: net32, IP4Mask: 32, IP6Mask: 128, raw: "ip6:2001:db8::/32"},
					{Qualifier: QualifierNeutral, Mechanism: "all", IP4Mask: 32, IP6Mask: 128, raw: "?ALL"},
				},
			},
		},
		{
			txt: "v=spf1 a mx/24 a:%{d}.example.org/26//64 mx//48 ~ptr:example.org",
			rec: &Record{
				Directives: []Directive{
					{Qualifier: QualifierPass, Mechanism: "a", IP4Mask: 32, IP6Mask: 128, raw: "a"},
					{Qualifier: QualifierPass, Mechanism: "mx", IP4Mask: 24, IP6Mask: 128, raw: "mx/24"},
					{Qualifier: QualifierPass, Mechanism: "a", DomainSpec: "%{d}.example.org", IP4Mask: 26, IP6Mask: 64, raw: "a:%{d}.example.org/26//64"},
					{Qualifier: QualifierPass, Mechanism: "mx", IP4Mask: 32, IP6Mask: 48, raw: "mx//48"},
					{Qualifier: QualifierSoftFail, Mechanism: "ptr", DomainSpec: "example.org", IP4Mask: 32, IP6Mask: 128, raw: "~ptr:example.org"},
				},
			},
		},
		{
			txt: "v=spf1 include:_spf.example.org exists:%{ir}.%{l1r+-}._spf.%{d} redirect=_spf.example.net exp=explain.%{d} ext=value",
			rec: &Record{
				Directives: []Directive{
					{Qualifier: QualifierPass, Mechanism: "include", DomainSpec: "_spf.example.org", IP4Mask: 32, IP6Mask: 128, raw: "include:_spf.example.org"},
					{Qualifier: QualifierPass, Mechanism: "exists", DomainSpec: "%{ir}.%{l1r+-}._spf.%{d}", IP4Mask: 32, IP6Mask: 128, raw: "exists:%{ir}.%{l1r+-}._spf.%{d}"},
				},
				Redirect: "_spf.example.net",
				Exp:      "explain.%{d}",
				Other:    []Modifier{{Name: "ext", Value: "value"}},
			},
		},
	}

	for _, c := range cases {
		rec, err := ParseRecord(c.txt)
		if err != nil {
			t.Errorf("%q: unexpected error: %v", c.txt, err)
			continue
		}
		if !reflect.DeepEqual(rec, c.rec) {
			t.Errorf("%q: wrong record\nwant %+v\ngot  %+v", c.txt, c.rec, rec)
		}
	}
}

func TestParseRecord_Invalid(t *testing.T) {
	for _, txt := range []string{
		"v=spf10 -all",
		"v=spf1 foo",
		"v=spf1 all:example.org",
		"v=spf1 ip4:300.1.1.1",
		"v=spf1 ip4:192.0.2.0/33",
		"v=spf1 ip4:192.0.2.0/024",
		"v=spf1 ip4:2001:db8::1",
		"v=spf1 ip6:192.0.2.1",
		"v=spf1 ip6",
		"v=spf1 a:example",
		"v=spf1 a:example.123",
		"v=spf1 a/",
		"v=spf1 mx/16//129",
		"v=spf1 include:",
		"v=spf1 include",
		"v=spf1 exists:%{z}.example.org",
		"v=spf1 exists:%{c}.example.org",
		"v=spf1 exists:%{d0}.example.org",
		"v=spf1 exists:%{d.example.org",
		"v=spf1 redirect=a.example.org redirect=b.example.org",
		"v=spf1 exp=a.example.org exp=b.example.org",
		"v=spf1 redirect=",
	} {
		_, err := ParseRecord(txt)
		if err == nil {
			t.Errorf("%q: expected error", txt)
			continue
		}
		if !errors.Is(err, ErrRecordSyntax) && !errors.Is(err, ErrMacroSyntax) {
			t.Errorf("%q: error should wrap ErrRecordSyntax: %v", txt, err)
		}
	}
}

func TestQualifierOutcome(t *testing.T) {
	for q, o := range map[Qualifier]Outcome{
		QualifierPass:     Pass,
		QualifierFail:     Fail,
		QualifierSoftFail: SoftFail,
		QualifierNeutral:  Neutral,
	} {
		if q.Outcome() != o {
			t.Errorf("%v.Outcome() = %v, want %v", q, q.Outcome(), o)
		}
	}
}
