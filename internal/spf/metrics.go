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

import "github.com/prometheus/client_golang/prometheus"

var verificationsCnt = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mxtrust",
		Subsystem: "spf",
		Name:      "verifications_total",
		Help:      "SPF evaluations by the result",
	},
	[]string{"result"},
)

var (
	cacheHitsCnt = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mxtrust",
			Subsystem: "spf",
			Name:      "cache_hits_total",
		},
	)
	cacheMissesCnt = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mxtrust",
			Subsystem: "spf",
			Name:      "cache_misses_total",
		},
	)
)

var durationHist = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "mxtrust",
		Subsystem: "spf",
		Name:      "evaluation_duration_seconds",
		Help:      "Time spent evaluating the SPF policy",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
)

var lookupsHist = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "mxtrust",
		Subsystem: "spf",
		Name:      "dns_lookups",
		Help:      "Amount of DNS lookups counted against the limit per evaluation",
		Buckets:   []float64{0, 1, 2, 3, 5, 7, 10},
	},
)

func init() {
	prometheus.MustRegister(verificationsCnt)
	prometheus.MustRegister(cacheHitsCnt)
	prometheus.MustRegister(cacheMissesCnt)
	prometheus.MustRegister(durationHist)
	prometheus.MustRegister(lookupsHist)
}
