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

package tlsrpt

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Report struct {
	OrganizationName string         `json:"organization-name"`
	DateRange        DateRange      `json:"date-range"`
	ContactInfo      string         `json:"contact-info,omitempty"`
	ReportID         string         `json:"report-id"`
	Policies         []PolicyResult `json:"policies"`
}

type DateRange struct {
	StartDateTime time.Time `json:"start-datetime"`
	EndDateTime   time.Time `json:"end-datetime"`
}

type PolicyResult struct {
	Policy         Policy          `json:"policy"`
	Summary        Summary         `json:"summary"`
	FailureDetails []FailureDetail `json:"failure-details,omitempty"`
}

type Policy struct {
	PolicyType   PolicyType `json:"policy-type"`
	PolicyString []string   `json:"policy-string,omitempty"`
	PolicyDomain string     `json:"policy-domain"`
	MXHost       []string   `json:"mx-host,omitempty"`
}

type Summary struct {
	TotalSuccessfulSessionCount int `json:"total-successful-session-count"`
	TotalFailureSessionCount    int `json:"total-failure-session-count"`
}

type FailureDetail struct {
	ResultType            ResultType `json:"result-type"`
	ReceivingMXHostname   string     `json:"receiving-mx-hostname,omitempty"`
	FailedSessionCount    int        `json:"failed-session-count"`
	AdditionalInformation string     `json:"additional-information,omitempty"`
}

type policyKey struct {
	typ    PolicyType
	domain string
}

type failureKey struct {
	result ResultType
	mx     string
}

type policyAgg struct {
	policy   Policy
	success  int
	failures map[failureKey]int
}

// Aggregator collects session results for later report generation. It is
// safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	policies map[policyKey]*policyAgg
}

func NewAggregator() *Aggregator {
	return &Aggregator{policies: map[policyKey]*policyAgg{}}
}

// Add records the result of a single session. err is classified using
// Classify, nil err is a successful session.
func (a *Aggregator) Add(policy Policy, mx string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := policyKey{policy.PolicyType, policy.PolicyDomain}
	agg := a.policies[key]
	if agg == nil {
		agg = &policyAgg{policy: policy, failures: map[failureKey]int{}}
		a.policies[key] = agg
	}

	result := Classify(err)
	if result == ResultSuccess {
		agg.success++
		return
	}
	agg.failures[failureKey{result, mx}]++
}

// Report builds the report covering the specified time range. Policies are
// sorted by domain and type.
func (a *Aggregator) Report(org, contact string, start, end time.Time) Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := Report{
		OrganizationName: org,
		ContactInfo:      contact,
		DateRange:        DateRange{StartDateTime: start.UTC(), EndDateTime: end.UTC()},
		ReportID:         uuid.NewString(),
		Policies:         make([]PolicyResult, 0, len(a.policies)),
	}

	for _, agg := range a.policies {
		res := PolicyResult{
			Policy:  agg.policy,
			Summary: Summary{TotalSuccessfulSessionCount: agg.success},
		}
		for k, count := range agg.failures {
			res.Summary.TotalFailureSessionCount += count
			res.FailureDetails = append(res.FailureDetails, FailureDetail{
				ResultType:          k.result,
				ReceivingMXHostname: k.mx,
				FailedSessionCount:  count,
			})
		}
		sort.Slice(res.FailureDetails, func(i, j int) bool {
			fi, fj := res.FailureDetails[i], res.FailureDetails[j]
			if fi.ResultType != fj.ResultType {
				return fi.ResultType < fj.ResultType
			}
			return fi.ReceivingMXHostname < fj.ReceivingMXHostname
		})
		r.Policies = append(r.Policies, res)
	}
	sort.Slice(r.Policies, func(i, j int) bool {
		pi, pj := r.Policies[i].Policy, r.Policies[j].Policy
		if pi.PolicyDomain != pj.PolicyDomain {
			return pi.PolicyDomain < pj.PolicyDomain
		}
		return pi.PolicyType < pj.PolicyType
	})
	return r
}
