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
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"time"

	"github.com/foxcpp/mxtrust/framework/config"
	"github.com/foxcpp/mxtrust/framework/log"
)

// Result contains the details of the certificate chain verification.
type Result struct {
	Success bool
	Message string

	CertificatesVerified int
	RecordsProcessed     int
	Duration             time.Duration
	DNSSECValidated      bool

	// TLSA parameters of the matched records. Usage is 3 for end-entity
	// and 2 for intermediate matches. Matching type 1 is reported for
	// both SHA-1 and SHA2-256 hashes.
	MatchedUsages        []uint8
	MatchedSelectors     []uint8
	MatchedMatchingTypes []uint8
}

// DefaultLookupTimeout bounds the TLSA lookup done before the connection
// is established.
const DefaultLookupTimeout = 10 * time.Second

type Verifier struct {
	Log           log.Logger
	LookupTimeout time.Duration
}

func NewVerifier() *Verifier {
	return &Verifier{
		Log:           log.Logger{Name: "dane"},
		LookupTimeout: DefaultLookupTimeout,
	}
}

// Init configures the Verifier using the dane configuration block.
func (v *Verifier) Init(cfg *config.Map) error {
	cfg.Bool("debug", true, false, &v.Log.Debug)
	cfg.Duration("lookup_timeout", false, false, DefaultLookupTimeout, &v.LookupTimeout)
	_, err := cfg.Process()
	return err
}

// Verify checks the certificate chain presented by hostname against the
// TLSA set. chain contains DER-encoded certificates, leaf first.
//
// Returned errors are of type *Error.
func (v *Verifier) Verify(sessionID uint64, hostname string, tlsa *Tlsa, chain [][]byte) error {
	_, err := v.VerifyDetailed(sessionID, hostname, tlsa, chain)
	return err
}

type hashAlgo int

const (
	algoRaw hashAlgo = iota
	algoSHA1
	algoSHA256
	algoSHA512
)

func (e Entry) algo() hashAlgo {
	switch {
	case e.IsSHA256:
		return algoSHA256
	case len(e.Data) == sha512.Size:
		return algoSHA512
	case len(e.Data) == sha1.Size:
		return algoSHA1
	}
	return algoRaw
}

func (a hashAlgo) matchingType() uint8 {
	switch a {
	case algoSHA1, algoSHA256:
		return 1
	case algoSHA512:
		return 2
	}
	return 0
}

// certHashes computes the association data of a single certificate, each
// value is computed at most once.
type certHashes struct {
	der    []byte
	spki   []byte
	values [2][4][]byte
}

func (c *certHashes) get(spki bool, algo hashAlgo) []byte {
	sel := 0
	data := c.der
	if spki {
		sel = 1
		data = c.spki
	}
	if v := c.values[sel][algo]; v != nil {
		return v
	}

	var v []byte
	switch algo {
	case algoSHA1:
		h := sha1.Sum(data)
		v = h[:]
	case algoSHA256:
		h := sha256.Sum256(data)
		v = h[:]
	case algoSHA512:
		h := sha512.Sum512(data)
		v = h[:]
	default:
		v = data
	}
	c.values[sel][algo] = v
	return v
}

func appendUnique(list []uint8, v uint8) []uint8 {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// VerifyDetailed is Verify that also returns the verification details. The
// returned Result is never nil.
func (v *Verifier) VerifyDetailed(sessionID uint64, hostname string, tlsa *Tlsa, chain [][]byte) (*Result, error) {
	start := time.Now()
	res := &Result{}
	if tlsa != nil {
		res.DNSSECValidated = tlsa.DNSSECValidated
	}

	l := v.Log
	l.Fields = map[string]interface{}{"session_id": sessionID, "host": hostname}

	fail := func(err *Error) (*Result, error) {
		res.Duration = time.Since(start)
		res.Message = err.Error()
		if err.Temporary() {
			verificationsCnt.WithLabelValues("error").Inc()
		} else {
			verificationsCnt.WithLabelValues("fail").Inc()
		}
		l.Error("verification failed", err)
		return res, err
	}

	if len(chain) == 0 {
		return fail(&Error{Kind: NoCertificates, Host: hostname})
	}
	if tlsa == nil || len(tlsa.Entries) == 0 {
		return fail(&Error{Kind: NoTlsaRecords, Host: hostname})
	}

	var matchedEE, matchedInt bool

outer:
	for i, der := range chain {
		res.CertificatesVerified++

		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fail(&Error{Kind: CertificateProcessing, Host: hostname, CertIndex: i + 1, Err: err})
		}
		hashes := certHashes{der: der, spki: cert.RawSubjectPublicKeyInfo}
		isEndEntity := i == 0

		for _, e := range tlsa.Entries {
			res.RecordsProcessed++
			if e.IsEndEntity != isEndEntity {
				continue
			}

			algo := e.algo()
			if !bytes.Equal(hashes.get(e.IsSPKI, algo), e.Data) {
				continue
			}

			l.DebugMsg("TLSA record matched", "cert_index", i+1, "spki", e.IsSPKI, "end_entity", e.IsEndEntity)
			usage, selector := uint8(2), uint8(0)
			if e.IsEndEntity {
				usage = 3
			}
			if e.IsSPKI {
				selector = 1
			}
			res.MatchedUsages = appendUnique(res.MatchedUsages, usage)
			res.MatchedSelectors = appendUnique(res.MatchedSelectors, selector)
			res.MatchedMatchingTypes = appendUnique(res.MatchedMatchingTypes, algo.matchingType())

			if isEndEntity {
				matchedEE = true
				if !tlsa.HasIntermediates {
					break outer
				}
				// Remaining entries can only match other certificates.
				continue outer
			}
			matchedInt = true
			break outer
		}
	}

	ok := (tlsa.HasEndEntities && matchedEE) ||
		(tlsa.HasEndEntities == matchedEE && tlsa.HasIntermediates == matchedInt)
	if !ok {
		reason := "no certificates matched the TLSA records"
		switch {
		case tlsa.HasEndEntities && !matchedEE:
			reason = "end-entity certificate did not match any TLSA records"
		case tlsa.HasIntermediates && !matchedInt:
			reason = "intermediate certificate did not match any TLSA records"
		}
		return fail(&Error{
			Kind:                VerificationFailed,
			Host:                hostname,
			Reason:              reason,
			CertificatesChecked: res.CertificatesVerified,
			RecordsChecked:      res.RecordsProcessed,
		})
	}

	res.Success = true
	res.Duration = time.Since(start)
	res.Message = "DANE verification successful"
	verificationsCnt.WithLabelValues("success").Inc()
	l.DebugMsg("verification succeeded", "certificates", res.CertificatesVerified, "records", res.RecordsProcessed)
	return res, nil
}
