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

// Package tlsrpt defines TLS-RPT (RFC 8460) result types and a minimal
// aggregator for per-policy session results.
package tlsrpt

import (
	"errors"
)

// ResultType is the "result-type" value of the failure-details object.
type ResultType string

const (
	ResultSuccess                 ResultType = "success"
	ResultSTARTTLSNotSupported    ResultType = "starttls-not-supported"
	ResultCertificateHostMismatch ResultType = "certificate-host-mismatch"
	ResultCertificateExpired      ResultType = "certificate-expired"
	ResultCertificateNotTrusted   ResultType = "certificate-not-trusted"
	ResultValidationFailure       ResultType = "validation-failure"
	ResultTLSAInvalid             ResultType = "tlsa-invalid"
	ResultDNSSECInvalid           ResultType = "dnssec-invalid"
	ResultSTSPolicyFetchError     ResultType = "sts-policy-fetch-error"
	ResultSTSPolicyInvalid        ResultType = "sts-policy-invalid"
	ResultSTSWebPKIInvalid        ResultType = "sts-webpki-invalid"
)

// PolicyType is the "policy-type" value of the policy object.
type PolicyType string

const (
	PolicySTS           PolicyType = "sts"
	PolicyTLSA          PolicyType = "tlsa"
	PolicyNoPolicyFound PolicyType = "no-policy-found"
)

// Classifier is implemented by errors that have a corresponding TLS-RPT
// result type.
type Classifier interface {
	ResultType() ResultType
}

// Classify returns the result type for err. nil is a success, errors not
// implementing Classifier are reported as validation-failure.
func Classify(err error) ResultType {
	if err == nil {
		return ResultSuccess
	}
	var c Classifier
	if errors.As(err, &c) {
		return c.ResultType()
	}
	return ResultValidationFailure
}
