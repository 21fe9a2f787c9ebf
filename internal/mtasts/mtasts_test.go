package mtasts

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/foxcpp/mxtrust/framework/exterrors"
)

func TestParseDNSRecord(t *testing.T) {
	test := func(raw, expectID string, fail bool) {
		t.Helper()
		id, err := ParseDNSRecord(raw)
		if fail {
			if err == nil {
				t.Errorf("%q: expected error, got id %q", raw, id)
			}
			return
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", raw, err)
			return
		}
		if id != expectID {
			t.Errorf("%q: wrong id, want %q, got %q", raw, expectID, id)
		}
	}

	test("v=STSv1; id=20160831085700Z;", "20160831085700Z", false)
	test("v=STSv1;id=abc", "abc", false)
	test("v=STSv1; id=abc; ext=value", "abc", false)
	test("id=abc; v=STSv1", "", true)
	test("v=STSv2; id=abc", "", true)
	test("v=STSv1", "", true)
	test("v=STSv1; id=", "", true)
	test("v=STSv1; id=ab c", "", true)
	test("v=STSv1; id=ab-c", "", true)
	test("v=STSv1; id="+strings.Repeat("a", 33), "", true)
	test("v=STSv1; garbage", "", true)
	test("", "", true)
}

func TestParseMode(t *testing.T) {
	for _, c := range []struct {
		in   string
		mode Mode
		fail bool
	}{
		{"enforce", ModeEnforce, false},
		{"ENFORCE", ModeEnforce, false},
		{"Testing", ModeTesting, false},
		{"none", ModeNone, false},
		{"strict", "", true},
		{"", "", true},
	} {
		mode, err := ParseMode(c.in)
		if (err != nil) != c.fail {
			t.Errorf("ParseMode(%q): unexpected error state: %v", c.in, err)
			continue
		}
		if mode != c.mode {
			t.Errorf("ParseMode(%q) = %q, want %q", c.in, mode, c.mode)
		}
	}

	if !ModeEnforce.IsEnforcing() || ModeTesting.IsEnforcing() || ModeNone.IsEnforcing() {
		t.Error("IsEnforcing is wrong")
	}
	if !ModeEnforce.ShouldReport() || !ModeTesting.ShouldReport() || ModeNone.ShouldReport() {
		t.Error("ShouldReport is wrong")
	}
}

func TestParsePolicy(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		policy *Policy
		line   int
	}{
		{
			name: "valid",
			body: "version: STSv1\nmode: enforce\nmx: mail.example.com\nmx: *.example.net\nmax_age: 604800\n",
			policy: &Policy{
				ID:     "id1",
				Mode:   ModeEnforce,
				MaxAge: 604800,
				MX:     []string{"mail.example.com", "*.example.net"},
			},
		},
		{
			name: "crlf",
			body: "version: STSv1\r\nmode: testing\r\nmx: mail.example.com\r\nmax_age: 86400\r\n",
			policy: &Policy{
				ID:     "id1",
				Mode:   ModeTesting,
				MaxAge: 86400,
				MX:     []string{"mail.example.com"},
			},
		},
		{
			name: "none without mx",
			body: "version: STSv1\nmode: none\nmax_age: 86400\n",
			policy: &Policy{
				ID:     "id1",
				Mode:   ModeNone,
				MaxAge: 86400,
			},
		},
		{
			name: "unknown field and blank lines",
			body: "version: STSv1\n\nmode: enforce\nextension: value\nmx:mail.example.com\nmax_age:   3600\n\n",
			policy: &Policy{
				ID:     "id1",
				Mode:   ModeEnforce,
				MaxAge: 3600,
				MX:     []string{"mail.example.com"},
			},
		},
		{
			name: "missing version",
			body: "mode: enforce\nmx: mail.example.com\nmax_age: 86400\n",
		},
		{
			name: "wrong version",
			body: "version: STSv2\nmode: enforce\nmx: mail.example.com\nmax_age: 86400\n",
			line: 1,
		},
		{
			name: "invalid mode",
			body: "version: STSv1\nmode: strict\nmx: mail.example.com\nmax_age: 86400\n",
			line: 2,
		},
		{
			name: "negative max_age",
			body: "version: STSv1\nmode: enforce\nmx: mail.example.com\nmax_age: -1\n",
			line: 4,
		},
		{
			name: "missing max_age",
			body: "version: STSv1\nmode: enforce\nmx: mail.example.com\n",
		},
		{
			name: "enforce without mx",
			body: "version: STSv1\nmode: enforce\nmax_age: 86400\n",
		},
		{
			name: "line without colon",
			body: "version: STSv1\nmode enforce\n",
			line: 2,
		},
		{
			name: "invalid utf-8",
			body: "version: STSv1\nmode: enforce\nmx: \xff\xfe\nmax_age: 86400\n",
		},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			policy, err := ParsePolicy([]byte(c.body), "id1")
			if c.policy == nil {
				var invalidErr *InvalidPolicyError
				if !errors.As(err, &invalidErr) {
					t.Fatalf("expected InvalidPolicyError, got %v (policy %+v)", err, policy)
				}
				if invalidErr.Line != c.line {
					t.Errorf("wrong line, want %d, got %d", c.line, invalidErr.Line)
				}
				if exterrors.IsTemporary(err) {
					t.Error("invalid policy error should be permanent")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(policy, c.policy) {
				t.Errorf("wrong policy\nwant %+v\ngot  %+v", c.policy, policy)
			}
		})
	}
}

func TestParsePolicy_ContentSnippet(t *testing.T) {
	body := "version: STSv2\n" + strings.Repeat("x", 200)
	_, err := ParsePolicy([]byte(body), "id")
	var invalidErr *InvalidPolicyError
	if !errors.As(err, &invalidErr) {
		t.Fatalf("expected InvalidPolicyError, got %v", err)
	}
	if len(invalidErr.Content) != 100 {
		t.Errorf("snippet should be 100 characters, got %d", len(invalidErr.Content))
	}
	if !strings.HasPrefix(body, invalidErr.Content) {
		t.Errorf("snippet is not the prefix of the body: %q", invalidErr.Content)
	}
}

func TestPolicyMatch(t *testing.T) {
	p := Policy{MX: []string{"mail.example.com", "*.example.net", "MX.Example.Org."}}

	for _, c := range []struct {
		mx    string
		match bool
	}{
		{"mail.example.com", true},
		{"MAIL.example.com.", true},
		{"mail2.example.com", false},
		{"a.example.net", true},
		{"A.EXAMPLE.NET", true},
		{"a.b.example.net", false},
		{"example.net", false},
		{".example.net", false},
		{"mx.example.org", true},
	} {
		if got := p.Match(c.mx); got != c.match {
			t.Errorf("Match(%q) = %v, want %v", c.mx, got, c.match)
		}
	}
}

func TestPolicyCheckMX(t *testing.T) {
	enforce := Policy{ID: "1", Mode: ModeEnforce, MX: []string{"mx.example.org"}}
	if err := enforce.CheckMX("mx.example.org"); err != nil {
		t.Errorf("matching MX rejected: %v", err)
	}
	err := enforce.CheckMX("evil.example.com")
	var smtpErr *exterrors.SMTPError
	if !errors.As(err, &smtpErr) {
		t.Fatalf("expected SMTPError, got %v", err)
	}
	if smtpErr.Code != 550 || smtpErr.EnhancedCode != (exterrors.EnhancedCode{5, 7, 0}) {
		t.Errorf("wrong code: %d %v", smtpErr.Code, smtpErr.EnhancedCode)
	}

	testingPolicy := Policy{ID: "1", Mode: ModeTesting, MX: []string{"mx.example.org"}}
	if err := testingPolicy.CheckMX("evil.example.com"); err != nil {
		t.Errorf("testing mode should not reject: %v", err)
	}
}

func TestPolicyCheckTLS(t *testing.T) {
	enforce := Policy{ID: "1", Mode: ModeEnforce, MX: []string{"mx.example.org"}}
	if err := enforce.CheckTLS("mx.example.org", true, nil); err != nil {
		t.Errorf("authenticated connection rejected: %v", err)
	}
	err := enforce.CheckTLS("mx.example.org", false, errors.New("x509: unknown authority"))
	if !exterrors.IsTemporary(err) {
		t.Errorf("expected temporary error, got %v", err)
	}

	none := Policy{ID: "1", Mode: ModeNone}
	if err := none.CheckTLS("mx.example.org", false, nil); err != nil {
		t.Errorf("mode none should not reject: %v", err)
	}
}

func TestSMTPError(t *testing.T) {
	var smtpErr *exterrors.SMTPError

	err := SMTPError("example.org", &InvalidPolicyError{Reason: "test"})
	if !errors.As(err, &smtpErr) || smtpErr.Code != 550 {
		t.Errorf("invalid policy should be mapped to 550, got %v", err)
	}
	err = SMTPError("example.org", &HTTPError{URL: "https://mta-sts.example.org", StatusCode: 500})
	if !errors.As(err, &smtpErr) || smtpErr.Code != 451 {
		t.Errorf("HTTP error should be mapped to 451, got %v", err)
	}
	if smtpErr.Misc["http_status"] != 500 {
		t.Errorf("error fields are not propagated: %v", smtpErr.Misc)
	}
}
