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
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-msgauth/authres"
	"github.com/foxcpp/mxtrust/framework/exterrors"
)

// Outcome is the result of the SPF evaluation as defined in RFC 7208
// Section 2.6.
type Outcome string

const (
	None      Outcome = "none"
	Neutral   Outcome = "neutral"
	Pass      Outcome = "pass"
	Fail      Outcome = "fail"
	SoftFail  Outcome = "softfail"
	TempError Outcome = "temperror"
	PermError Outcome = "permerror"
)

func (o Outcome) String() string {
	return string(o)
}

// IsAuthoritative reports whether the outcome is Pass or Fail.
func (o Outcome) IsAuthoritative() bool {
	return o == Pass || o == Fail
}

// IsTemporary reports whether the check should be retried later.
func (o Outcome) IsTemporary() bool {
	return o == TempError
}

// MechanismResult describes evaluation of a single directive.
type MechanismResult struct {
	// Mechanism name (e.g. "ip4", "include") or "redirect".
	Kind      string
	Qualifier Qualifier
	Matched   bool
	// Value is the directive as written in the record.
	Value string
	// Domain is the domain whose record contains the directive.
	Domain     string
	Duration   time.Duration
	DNSLookups int
	Err        error
}

// Result is the outcome of the SPF verification together with the
// evaluation trace. Result objects can be shared between callers and must
// not be modified.
type Result struct {
	Result      Outcome
	Domain      string
	IP          net.IP
	HELO        string
	Explanation string
	// Record is the SPF record of Domain as published in DNS.
	Record     string
	Mechanisms []MechanismResult

	DNSLookups     int
	VoidLookups    int
	LimitsExceeded bool

	// Err describes the problem for TempError and PermError results.
	Err error

	Started  time.Time
	Duration time.Duration
}

// MatchedMechanisms returns the directives that matched, the last one
// determined the result.
func (r *Result) MatchedMechanisms() []MechanismResult {
	var matched []MechanismResult
	for _, m := range r.Mechanisms {
		if m.Matched {
			matched = append(matched, m)
		}
	}
	return matched
}

func (r *Result) reason() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if r.Result == None {
		return "no policy"
	}
	return ""
}

// AuthResult returns the Authentication-Results entry for the result.
func (r *Result) AuthResult() *authres.SPFResult {
	spfAuth := &authres.SPFResult{
		Value:  authres.ResultNone,
		Reason: r.reason(),
		From:   r.Domain,
		Helo:   r.HELO,
	}
	switch r.Result {
	case None:
		spfAuth.Value = authres.ResultNone
	case Neutral:
		spfAuth.Value = authres.ResultNeutral
	case Pass:
		spfAuth.Value = authres.ResultPass
	case Fail:
		spfAuth.Value = authres.ResultFail
	case SoftFail:
		spfAuth.Value = authres.ResultSoftFail
	case TempError:
		spfAuth.Value = authres.ResultTempError
	case PermError:
		spfAuth.Value = authres.ResultPermError
	}
	return spfAuth
}

// SMTPError returns the error that should be sent to the client if the
// message is rejected because of the SPF result. It returns nil for Pass.
//
// Whether to actually reject for SoftFail, Neutral and None is the policy
// decision of the caller.
func (r *Result) SMTPError() error {
	smtpErr := &exterrors.SMTPError{
		Code:         550,
		EnhancedCode: exterrors.EnhancedCode{5, 7, 23},
		CheckName:    "spf",
		TargetName:   r.Domain,
		Err:          r.Err,
		Misc: map[string]interface{}{
			"spf_result": string(r.Result),
			"ip":         r.IP.String(),
		},
	}

	switch r.Result {
	case Pass:
		return nil
	case None:
		smtpErr.Message = "No SPF policy"
	case Neutral:
		smtpErr.Message = "Neutral SPF result is not permitted"
	case Fail:
		smtpErr.Message = "SPF authentication failed"
		if r.Explanation != "" {
			smtpErr.Misc["explanation"] = r.Explanation
		}
	case SoftFail:
		smtpErr.Message = "SPF authentication soft-failed"
	case TempError:
		smtpErr.Code = 451
		smtpErr.EnhancedCode = exterrors.EnhancedCode{4, 7, 23}
		smtpErr.Message = "SPF authentication failed with a temporary error"
	case PermError:
		smtpErr.Message = "SPF authentication failed with a permanent error"
	default:
		smtpErr.Code = 451
		smtpErr.EnhancedCode = exterrors.EnhancedCode{4, 7, 23}
		smtpErr.Message = fmt.Sprintf("Unknown SPF status: %s", r.Result)
	}
	return smtpErr
}

type AuthErrorKind int

const (
	InvalidDomain AuthErrorKind = iota
	InvalidIP
)

// AuthError is returned by Verify for arguments that can't be checked at all.
// No DNS lookups are made in this case.
type AuthError struct {
	Kind   AuthErrorKind
	Value  string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("spf: %s: %q", e.Reason, e.Value)
}

func (e *AuthError) Temporary() bool { return false }

func (e *AuthError) Fields() map[string]interface{} {
	return map[string]interface{}{
		"reason": e.Reason,
		"value":  e.Value,
	}
}
