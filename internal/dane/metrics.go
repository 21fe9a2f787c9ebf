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

import "github.com/prometheus/client_golang/prometheus"

var (
	verificationsCnt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mxtrust",
			Subsystem: "dane",
			Name:      "verifications_total",
			Help:      "Certificate chain verifications against TLSA records",
		},
		[]string{"result"},
	)
	lookupsCnt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mxtrust",
			Subsystem: "dane",
			Name:      "tlsa_lookups_total",
			Help:      "TLSA lookups by the result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(verificationsCnt)
	prometheus.MustRegister(lookupsCnt)
}
