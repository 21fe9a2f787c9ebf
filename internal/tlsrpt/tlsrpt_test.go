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
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

type classifiedErr struct {
	typ ResultType
}

func (e classifiedErr) Error() string          { return string(e.typ) }
func (e classifiedErr) ResultType() ResultType { return e.typ }

func TestClassify(t *testing.T) {
	for _, c := range []struct {
		err  error
		want ResultType
	}{
		{nil, ResultSuccess},
		{errors.New("unknown"), ResultValidationFailure},
		{classifiedErr{ResultSTSPolicyInvalid}, ResultSTSPolicyInvalid},
		{fmt.Errorf("wrapped: %w", classifiedErr{ResultTLSAInvalid}), ResultTLSAInvalid},
	} {
		if got := Classify(c.err); got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestAggregator(t *testing.T) {
	a := NewAggregator()
	sts := Policy{PolicyType: PolicySTS, PolicyDomain: "example.org", MXHost: []string{"*.example.org"}}
	tlsa := Policy{PolicyType: PolicyTLSA, PolicyDomain: "example.org"}

	a.Add(sts, "mx1.example.org", nil)
	a.Add(sts, "mx1.example.org", nil)
	a.Add(sts, "mx2.example.org", classifiedErr{ResultSTSPolicyFetchError})
	a.Add(tlsa, "mx1.example.org", classifiedErr{ResultTLSAInvalid})
	a.Add(tlsa, "mx1.example.org", classifiedErr{ResultTLSAInvalid})

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	r := a.Report("Example Org", "postmaster@example.org", start, end)

	if _, err := uuid.Parse(r.ReportID); err != nil {
		t.Errorf("report ID is not a UUID: %v", err)
	}

	want := []PolicyResult{
		{
			Policy:  sts,
			Summary: Summary{TotalSuccessfulSessionCount: 2, TotalFailureSessionCount: 1},
			FailureDetails: []FailureDetail{
				{ResultType: ResultSTSPolicyFetchError, ReceivingMXHostname: "mx2.example.org", FailedSessionCount: 1},
			},
		},
		{
			Policy:  tlsa,
			Summary: Summary{TotalFailureSessionCount: 2},
			FailureDetails: []FailureDetail{
				{ResultType: ResultTLSAInvalid, ReceivingMXHostname: "mx1.example.org", FailedSessionCount: 2},
			},
		},
	}
	if !reflect.DeepEqual(r.Policies, want) {
		t.Fatalf("wrong policies\nwant %+v\ngot  %+v", want, r.Policies)
	}
	if !r.DateRange.StartDateTime.Equal(start) || !r.DateRange.EndDateTime.Equal(end) {
		t.Errorf("wrong date range: %+v", r.DateRange)
	}
}
