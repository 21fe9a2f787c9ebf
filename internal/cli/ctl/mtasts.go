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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foxcpp/mxtrust/framework/dns"
	"github.com/foxcpp/mxtrust/framework/exterrors"
	maddycli "github.com/foxcpp/mxtrust/internal/cli"
	"github.com/foxcpp/mxtrust/internal/mtasts"
	"github.com/urfave/cli/v2"
)

func init() {
	maddycli.AddSubcommand(
		&cli.Command{
			Name:   "mta-sts",
			Usage:  "Discover and fetch the MTA-STS policy of a domain",
			Action: mtastsCommand,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "domain",
					Usage:    "Recipient `DOMAIN`",
					Required: true,
				},
				&cli.DurationFlag{
					Name:  "timeout",
					Usage: "Time limit for the whole lookup",
					Value: 30 * time.Second,
				},
				&cli.StringSliceFlag{
					Name:  "mx",
					Usage: "Check whether `HOST` is allowed by the policy",
				},
			},
		})
}

func newManager(blocks *cfgBlocks) (*mtasts.Manager, error) {
	m := mtasts.NewManager(dns.DefaultResolver(), mtasts.NewHTTPFetcher())
	if err := m.Init(blocks.block("mta_sts")); err != nil {
		return nil, err
	}
	return m, nil
}

func mtastsCommand(ctx *cli.Context) error {
	blocks, err := readConfig(ctx)
	if err != nil {
		return err
	}
	m, err := newManager(blocks)
	if err != nil {
		return err
	}

	domain := ctx.String("domain")
	policy, err := m.LookupPolicy(context.Background(), domain, ctx.Duration("timeout"))
	if err != nil {
		if errors.Is(err, mtasts.ErrNoPolicy) {
			fmt.Println("No MTA-STS policy published for", domain)
			return nil
		}
		return cli.Exit(fmt.Sprintf("Error: %v (temporary: %v)", err, exterrors.IsTemporary(err)), 1)
	}
	printPolicy(policy)

	failed := false
	for _, mx := range ctx.StringSlice("mx") {
		if err := policy.CheckMX(mx); err != nil {
			fmt.Printf("%s: rejected: %v\n", mx, err)
			failed = true
			continue
		}
		if policy.Match(mx) {
			fmt.Printf("%s: allowed\n", mx)
		} else {
			fmt.Printf("%s: not listed, delivery allowed in %s mode\n", mx, policy.Mode)
		}
	}
	if failed {
		return cli.Exit("", 1)
	}
	return nil
}

func printPolicy(policy *mtasts.Policy) {
	fmt.Println("Policy ID:", policy.ID)
	fmt.Println("Mode:", policy.Mode)
	fmt.Printf("Max age: %d (cached for %v)\n", policy.MaxAge, mtasts.CacheTTL(policy.MaxAge))
	if len(policy.MX) != 0 {
		fmt.Println("MX:", strings.Join(policy.MX, ", "))
	}
}
