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

package dane

import (
	"fmt"
	"time"

	"github.com/foxcpp/mxtrust/framework/exterrors"
	"github.com/foxcpp/mxtrust/internal/tlsrpt"
)

type ErrorKind int

const (
	DNSLookup ErrorKind = iota
	DNSSECValidation
	NoTlsaRecords
	InvalidTlsa
	VerificationFailed
	NoCertificates
	CertificateProcessing
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case DNSLookup:
		return "dns_lookup"
	case DNSSECValidation:
		return "dnssec_validation"
	case NoTlsaRecords:
		return "no_tlsa_records"
	case InvalidTlsa:
		return "invalid_tlsa"
	case VerificationFailed:
		return "verification_failed"
	case NoCertificates:
		return "no_certificates"
	case CertificateProcessing:
		return "certificate_processing"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is returned by all DANE operations. Only fields relevant for the
// Kind are set.
type Error struct {
	Kind ErrorKind
	// Host is the domain of the TLSA lookup or the hostname of the verified
	// server.
	Host   string
	Reason string

	// CertIndex is the 1-based position of the certificate in the chain
	// for CertificateProcessing.
	CertIndex int

	CertificatesChecked int
	RecordsChecked      int

	Operation string
	Timeout   time.Duration
	Elapsed   time.Duration

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case DNSLookup:
		return fmt.Sprintf("dane: TLSA lookup failed for %s: %v", e.Host, e.Err)
	case DNSSECValidation:
		return fmt.Sprintf("dane: DNSSEC validation failed for %s: %s", e.Host, e.Reason)
	case NoTlsaRecords:
		return fmt.Sprintf("dane: no TLSA records for %s", e.Host)
	case InvalidTlsa:
		return fmt.Sprintf("dane: invalid TLSA record for %s: %s", e.Host, e.Reason)
	case VerificationFailed:
		return fmt.Sprintf("dane: verification failed for %s: %s (checked %d certificates against %d TLSA records)",
			e.Host, e.Reason, e.CertificatesChecked, e.RecordsChecked)
	case NoCertificates:
		return fmt.Sprintf("dane: no certificates provided by %s", e.Host)
	case CertificateProcessing:
		return fmt.Sprintf("dane: failed to parse certificate %d from %s: %v", e.CertIndex, e.Host, e.Err)
	case Timeout:
		return fmt.Sprintf("dane: %s timed out after %v (limit %v)", e.Operation, e.Elapsed, e.Timeout)
	}
	return fmt.Sprintf("dane: %s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Temporary reports whether the operation can succeed if retried later.
func (e *Error) Temporary() bool {
	switch e.Kind {
	case DNSLookup:
		return exterrors.IsTemporaryOrUnspec(e.Err)
	case NoCertificates, CertificateProcessing, Timeout:
		return true
	}
	return false
}

// ResultType returns the TLS-RPT result type for the error.
func (e *Error) ResultType() tlsrpt.ResultType {
	switch e.Kind {
	case DNSSECValidation:
		return tlsrpt.ResultDNSSECInvalid
	case DNSLookup, NoTlsaRecords, InvalidTlsa:
		return tlsrpt.ResultTLSAInvalid
	case CertificateProcessing:
		return tlsrpt.ResultCertificateNotTrusted
	}
	return tlsrpt.ResultValidationFailure
}

func (e *Error) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"dane_error": e.Kind.String(),
		"host":       e.Host,
	}
	if e.Reason != "" {
		fields["reason"] = e.Reason
	}
	switch e.Kind {
	case DNSLookup:
		reason, misc := exterrors.UnwrapDNSErr(e.Err)
		if reason != "" {
			fields["reason"] = reason
		}
		for k, v := range misc {
			fields[k] = v
		}
	case VerificationFailed:
		fields["certificates_checked"] = e.CertificatesChecked
		fields["records_checked"] = e.RecordsChecked
	case CertificateProcessing:
		fields["cert_index"] = e.CertIndex
	case Timeout:
		fields["operation"] = e.Operation
		fields["timeout"] = e.Timeout
		fields["elapsed"] = e.Elapsed
	}
	return fields
}

// SMTPError converts the error into SMTP reply that should be used if the
// delivery is aborted because of it.
func (e *Error) SMTPError() *exterrors.SMTPError {
	smtpErr := &exterrors.SMTPError{
		Code:         550,
		EnhancedCode: exterrors.EnhancedCode{5, 7, 1},
		Message:      "TLS is required but unsupported or failed (enforced by DANE)",
		CheckName:    "dane",
		TargetName:   e.Host,
		Err:          e,
		Misc:         e.Fields(),
	}
	switch {
	case e.Kind == VerificationFailed:
		smtpErr.EnhancedCode = exterrors.EnhancedCode{5, 7, 0}
		smtpErr.Message = "No matching TLSA records"
	case e.Temporary():
		smtpErr.Code = 451
		smtpErr.EnhancedCode = exterrors.EnhancedCode{4, 7, 5}
		smtpErr.Message = "Temporary failure during DANE verification"
	}
	return smtpErr
}
