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
	"net"
	"os"
	"text/tabwriter"

	"github.com/emersion/go-msgauth/authres"
	"github.com/foxcpp/mxtrust/framework/dns"
	"github.com/foxcpp/mxtrust/framework/exterrors"
	maddycli "github.com/foxcpp/mxtrust/internal/cli"
	"github.com/foxcpp/mxtrust/internal/spf"
	"github.com/urfave/cli/v2"
)

func init() {
	maddycli.AddSubcommand(
		&cli.Command{
			Name:  "spf",
			Usage: "Evaluate the SPF policy of a sender domain",
			Description: `Runs the check_host() function for the specified client IP and
MAIL FROM address (or domain) and prints the result together with the
evaluated directives.

If --domain is not a full address, it is assumed to be
postmaster@DOMAIN. If it is empty, the HELO domain is checked.
`,
			Action: spfCommand,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "ip",
					Usage:    "Client `IP` address",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "domain",
					Usage: "MAIL FROM address or domain",
				},
				&cli.StringFlag{
					Name:  "helo",
					Usage: "HELO/EHLO `DOMAIN` sent by the client",
				},
				&cli.BoolFlag{
					Name:  "strict",
					Usage: "Report softfail and neutral results as fail",
				},
			},
		})
}

func spfCommand(ctx *cli.Context) error {
	ip := net.ParseIP(ctx.String("ip"))
	if ip == nil {
		return cli.Exit("Error: --ip is not a valid IP address", 2)
	}
	sender := ctx.String("domain")
	if sender == "" {
		sender = ctx.String("helo")
	}
	if sender == "" {
		return cli.Exit("Error: --domain or --helo is required", 2)
	}

	blocks, err := readConfig(ctx)
	if err != nil {
		return err
	}
	cfg := spf.DefaultConfig()
	if err := cfg.Init(blocks.block("spf")); err != nil {
		return err
	}
	if ctx.IsSet("strict") {
		cfg.StrictPolicy = ctx.Bool("strict")
	}

	resolver, err := dns.NewExtResolver()
	if err != nil {
		return err
	}
	v := spf.NewVerifier(resolver)

	res, err := v.Verify(context.Background(), 0, ip, sender, ctx.String("helo"), cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}
	printSPFResult(res)

	if res.Result.IsTemporary() {
		return cli.Exit("", 75)
	}
	return nil
}

func printSPFResult(res *spf.Result) {
	fmt.Println(authres.Format("mxtrust", []authres.Result{res.AuthResult()}))
	if res.Record != "" {
		fmt.Println("Record:", res.Record)
	}
	if res.Explanation != "" {
		fmt.Println("Explanation:", res.Explanation)
	}
	fmt.Printf("DNS lookups: %d, void lookups: %d, took %v\n", res.DNSLookups, res.VoidLookups, res.Duration)
	if res.LimitsExceeded {
		fmt.Println("Processing limits were exceeded")
	}
	var smtpErr *exterrors.SMTPError
	if errors.As(res.SMTPError(), &smtpErr) {
		reply := smtpErr.SMTP()
		fmt.Printf("Reply if rejected: %d %d.%d.%d %s\n", reply.Code,
			reply.EnhancedCode[0], reply.EnhancedCode[1], reply.EnhancedCode[2], reply.Message)
	}
	if len(res.Mechanisms) == 0 {
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOMAIN\tDIRECTIVE\tMATCHED\tLOOKUPS\tTIME\tERROR")
	for _, m := range res.Mechanisms {
		errStr := ""
		if m.Err != nil {
			errStr = m.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%v\t%s\n", m.Domain, m.Value, m.Matched, m.DNSLookups, m.Duration, errStr)
	}
	w.Flush()
}
