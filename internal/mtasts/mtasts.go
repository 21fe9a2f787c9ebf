// Package mtasts implements discovery, parsing, caching and checking of
// MTA-STS (RFC 8461) policies.
package mtasts

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/foxcpp/mxtrust/framework/dns"
	"github.com/foxcpp/mxtrust/framework/exterrors"
)

type MalformedDNSRecordError struct {
	// Additional description of the error.
	Desc string
}

func (e MalformedDNSRecordError) Error() string {
	return fmt.Sprintf("mtasts: malformed DNS record: %s", e.Desc)
}

// ParseDNSRecord parses the _mta-sts TXT record and returns the policy id.
func ParseDNSRecord(raw string) (id string, err error) {
	parts := strings.Split(raw, ";")
	versionPresent := false
	for i, part := range parts {
		part = strings.TrimSpace(part)
		// handle k=v;k=v;
		//				 ^
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return "", MalformedDNSRecordError{Desc: "invalid record part: " + part}
		}

		if strings.ContainsAny(kv[0], " \t") || strings.ContainsAny(kv[1], " \t") {
			return "", MalformedDNSRecordError{Desc: "whitespace is not allowed in name or value"}
		}

		switch kv[0] {
		case "v":
			if i != 0 {
				return "", MalformedDNSRecordError{Desc: "version must be the first field"}
			}
			if kv[1] != "STSv1" {
				return "", MalformedDNSRecordError{Desc: "unsupported version: " + kv[1]}
			}
			versionPresent = true
		case "id":
			if !isValidID(kv[1]) {
				return "", MalformedDNSRecordError{Desc: "invalid id value: " + kv[1]}
			}
			id = kv[1]
		}
	}
	if !versionPresent {
		return "", MalformedDNSRecordError{Desc: "missing version value"}
	}
	if id == "" {
		return "", MalformedDNSRecordError{Desc: "missing id value"}
	}
	return
}

// sts-id = 1*32(ALPHA / DIGIT)
func isValidID(id string) bool {
	if len(id) == 0 || len(id) > 32 {
		return false
	}
	for _, ch := range id {
		if !(ch >= 'a' && ch <= 'z') && !(ch >= 'A' && ch <= 'Z') && !(ch >= '0' && ch <= '9') {
			return false
		}
	}
	return true
}

type Mode string

const (
	ModeEnforce Mode = "enforce"
	ModeTesting Mode = "testing"
	ModeNone    Mode = "none"
)

// ParseMode parses the policy mode, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeEnforce, ModeTesting, ModeNone:
		return m, nil
	}
	return "", fmt.Errorf("mtasts: invalid mode value: %s", s)
}

func (m Mode) String() string {
	return string(m)
}

// IsEnforcing reports whether delivery must be refused if the MX or TLS
// requirements are not satisfied.
func (m Mode) IsEnforcing() bool {
	return m == ModeEnforce
}

// ShouldReport reports whether policy failures should be reported using
// TLS-RPT.
func (m Mode) ShouldReport() bool {
	return m == ModeEnforce || m == ModeTesting
}

// Policy is the parsed MTA-STS policy. It is shared between all users
// of the Manager and must not be modified.
type Policy struct {
	// ID is the value of the id field of the corresponding DNS record.
	ID     string
	Mode   Mode
	MaxAge uint64
	MX     []string
}

const maxContentSnippet = 100

func contentSnippet(contents string) string {
	var (
		b     strings.Builder
		count int
	)
	for _, ch := range contents {
		if count == maxContentSnippet {
			break
		}
		b.WriteRune(ch)
		count++
	}
	return b.String()
}

// ParsePolicy parses the policy file. id is stored in the resulting Policy.
// All errors are of type *InvalidPolicyError.
func ParsePolicy(contents []byte, id string) (*Policy, error) {
	if !utf8.Valid(contents) {
		return nil, &InvalidPolicyError{Reason: "policy contains invalid UTF-8"}
	}

	text := string(contents)
	policy := Policy{ID: id}
	present := make(map[string]struct{})

	fail := func(line int, reason string) (*Policy, error) {
		return nil, &InvalidPolicyError{
			Reason:  reason,
			Line:    line,
			Content: contentSnippet(text),
		}
	}

	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		lineNum := i + 1
		if strings.TrimSpace(line) == "" {
			continue
		}

		fieldParts := strings.SplitN(line, ":", 2)
		if len(fieldParts) != 2 {
			return fail(lineNum, "invalid field: "+line)
		}

		// Arbitrary whitespace after colon:
		//	sts-policy-field-delim   = ":" *WSP
		fieldName := fieldParts[0]
		fieldValue := strings.TrimSpace(fieldParts[1])
		switch fieldName {
		case "version":
			if fieldValue != "STSv1" {
				return fail(lineNum, "unsupported policy version: "+fieldValue)
			}
		case "mode":
			mode, err := ParseMode(fieldValue)
			if err != nil {
				return fail(lineNum, "invalid mode value: "+fieldValue)
			}
			policy.Mode = mode
		case "max_age":
			var err error
			policy.MaxAge, err = strconv.ParseUint(fieldValue, 10, 64)
			if err != nil {
				return fail(lineNum, "invalid max_age value: "+fieldValue)
			}
		case "mx":
			if fieldValue == "" {
				return fail(lineNum, "empty mx value")
			}
			policy.MX = append(policy.MX, fieldValue)
		}
		present[fieldName] = struct{}{}
	}

	if _, ok := present["version"]; !ok {
		return fail(0, "version field required")
	}
	if _, ok := present["mode"]; !ok {
		return fail(0, "mode field required")
	}
	if _, ok := present["max_age"]; !ok {
		return fail(0, "max_age field required")
	}

	if policy.Mode != ModeNone && len(policy.MX) == 0 {
		return fail(0, "at least one mx field required when mode is not none")
	}

	return &policy, nil
}

// Match reports whether the MX host name is allowed by one of the mx
// patterns. "*." patterns match exactly one leftmost label.
func (p *Policy) Match(mx string) bool {
	normMX, err := dns.ForLookup(mx)
	if err != nil {
		return false
	}

	for _, pattern := range p.MX {
		normPattern, err := dns.ForLookup(pattern)
		if err != nil {
			continue
		}

		// Direct comparison is valid since both values are prepared using
		// dns.ForLookup.

		if strings.HasPrefix(normPattern, "*.") {
			firstDot := strings.Index(normMX, ".")
			if firstDot <= 0 {
				continue
			}

			if normMX[firstDot:] == normPattern[1:] {
				return true
			}
			continue
		}

		if normMX == normPattern {
			return true
		}
	}
	return false
}

// CheckMX returns an error if the policy is enforced and the MX host is
// not allowed by it.
func (p *Policy) CheckMX(mx string) error {
	if !p.Mode.IsEnforcing() || p.Match(mx) {
		return nil
	}
	return &exterrors.SMTPError{
		Code:         550,
		EnhancedCode: exterrors.EnhancedCode{5, 7, 0},
		Message:      "Failed to establish the MX record authenticity (MTA-STS)",
		CheckName:    "mtasts",
		TargetName:   mx,
		Reason:       "MX does not match the MTA-STS policy",
		Misc: map[string]interface{}{
			"policy_id": p.ID,
		},
	}
}

// CheckTLS returns an error if the policy is enforced and the connection is
// not protected by TLS with a trusted certificate. tlsErr is the certificate
// verification error, if any.
func (p *Policy) CheckTLS(mx string, authenticated bool, tlsErr error) error {
	if !p.Mode.IsEnforcing() || authenticated {
		return nil
	}
	return &exterrors.SMTPError{
		Code:         451,
		EnhancedCode: exterrors.EnhancedCode{4, 7, 1},
		Message: "Recipient server TLS certificate is not trusted but " +
			"authentication is required by MTA-STS",
		CheckName:  "mtasts",
		TargetName: mx,
		Err:        tlsErr,
		Misc: map[string]interface{}{
			"policy_id": p.ID,
		},
	}
}
