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

package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/foxcpp/mxtrust/framework/dns"
	"github.com/foxcpp/mxtrust/framework/log"
	maddycli "github.com/foxcpp/mxtrust/internal/cli"
	"github.com/foxcpp/mxtrust/internal/dane"
	"github.com/foxcpp/mxtrust/internal/mtasts"
	"github.com/foxcpp/mxtrust/internal/tlsrpt"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func init() {
	maddycli.AddSubcommand(
		&cli.Command{
			Name:  "check",
			Usage: "Check transport security policies of all MX hosts of a domain",
			Description: `Looks up MX records of the domain, its MTA-STS policy and TLSA
records of each MX host, then prints a TLS-RPT (RFC 8460) report
summarizing the results.

With --connect, each MX host is also contacted to verify the certificate
chain against its TLSA records.
`,
			Action: checkCommand,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "domain",
					Usage:    "Recipient `DOMAIN`",
					Required: true,
				},
				&cli.DurationFlag{
					Name:  "timeout",
					Usage: "Time limit for the MTA-STS lookup",
					Value: 30 * time.Second,
				},
				&cli.BoolFlag{
					Name:  "connect",
					Usage: "Connect to MX hosts and verify certificates using DANE",
				},
				&cli.StringFlag{
					Name:  "helo",
					Usage: "`DOMAIN` to send in EHLO",
					Value: "localhost",
				},
				&cli.IntFlag{
					Name:  "concurrency",
					Usage: "Maximum number of MX hosts checked in parallel",
					Value: 4,
				},
			},
		})
}

type mxCheck struct {
	host string
	tlsa *dane.Tlsa
	err  error
}

func mxHosts(ctx context.Context, resolver dns.Resolver, domain string) ([]string, error) {
	mxs, err := resolver.LookupMX(ctx, domain)
	if err != nil && !dns.IsNotFound(err) {
		return nil, err
	}
	sort.SliceStable(mxs, func(i, j int) bool {
		return mxs[i].Pref < mxs[j].Pref
	})

	hosts := make([]string, 0, len(mxs))
	for _, mx := range mxs {
		if mx.Host == "." {
			return nil, fmt.Errorf("%s does not accept mail (null MX)", domain)
		}
		host, err := dns.ForLookup(mx.Host)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, host)
	}
	if len(hosts) == 0 {
		// RFC 5321 Section 5.1, implicit MX.
		hosts = append(hosts, domain)
	}
	return hosts, nil
}

func checkCommand(ctx *cli.Context) error {
	blocks, err := readConfig(ctx)
	if err != nil {
		return err
	}
	m, err := newManager(blocks)
	if err != nil {
		return err
	}
	v := dane.NewVerifier()
	if err := v.Init(blocks.block("dane")); err != nil {
		return err
	}
	resolver, err := dns.NewExtResolver()
	if err != nil {
		return err
	}

	domain, err := dns.ForLookup(ctx.String("domain"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}
	start := time.Now()

	hosts, err := mxHosts(context.Background(), resolver, domain)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	stsFuture := m.Prefetch(context.Background(), domain, ctx.Duration("timeout"))

	checks := make([]mxCheck, len(hosts))
	limit := ctx.Int("concurrency")
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			checks[i] = checkMX(v, resolver, host, ctx.Bool("connect"), ctx.String("helo"))
			return nil
		})
	}
	g.Wait()

	policy, stsErr := stsFuture.Get()

	agg := tlsrpt.NewAggregator()
	addSTSResults(agg, domain, hosts, policy, stsErr)
	anyTLSA := false
	for _, c := range checks {
		var daneErr *dane.Error
		if errors.As(c.err, &daneErr) && daneErr.Kind == dane.NoTlsaRecords {
			continue
		}
		anyTLSA = true
		agg.Add(tlsrpt.Policy{PolicyType: tlsrpt.PolicyTLSA, PolicyDomain: domain}, c.host, c.err)
		if c.err != nil {
			log.DefaultLogger.Error("DANE check failed", c.err, "mx", c.host)
		}
	}
	if policy == nil && !anyTLSA {
		for _, host := range hosts {
			agg.Add(tlsrpt.Policy{PolicyType: tlsrpt.PolicyNoPolicyFound, PolicyDomain: domain}, host, nil)
		}
	}

	report := agg.Report("mxtrust", "", start, time.Now())
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func checkMX(v *dane.Verifier, resolver dane.TLSAResolver, host string, connect bool, helo string) mxCheck {
	c := mxCheck{host: host}
	c.tlsa, c.err = lookupTLSA(v, resolver, host)
	if c.err != nil || !connect {
		return c
	}

	chain, err := peerChain(host, helo)
	if err != nil {
		c.err = err
		return c
	}
	c.err = v.Verify(0, host, c.tlsa, chain)
	return c
}

func addSTSResults(agg *tlsrpt.Aggregator, domain string, hosts []string, policy *mtasts.Policy, err error) {
	if err != nil {
		if errors.Is(err, mtasts.ErrNoPolicy) {
			return
		}
		log.DefaultLogger.Error("MTA-STS lookup failed", err, "domain", domain)
		agg.Add(tlsrpt.Policy{PolicyType: tlsrpt.PolicySTS, PolicyDomain: domain}, "", err)
		return
	}

	p := tlsrpt.Policy{
		PolicyType: tlsrpt.PolicySTS,
		PolicyString: append([]string{
			"version: STSv1",
			"mode: " + policy.Mode.String(),
			fmt.Sprintf("max_age: %d", policy.MaxAge),
		}, mxLines(policy.MX)...),
		PolicyDomain: domain,
		MXHost:       policy.MX,
	}
	for _, host := range hosts {
		agg.Add(p, host, policy.CheckMX(host))
	}
}

func mxLines(mxs []string) []string {
	lines := make([]string, 0, len(mxs))
	for _, mx := range mxs {
		lines = append(lines, "mx: "+mx)
	}
	return lines
}
