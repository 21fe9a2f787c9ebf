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
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/emersion/go-smtp"
	"github.com/foxcpp/mxtrust/framework/dns"
	maddycli "github.com/foxcpp/mxtrust/internal/cli"
	"github.com/foxcpp/mxtrust/internal/dane"
	"github.com/urfave/cli/v2"
)

var errNoSTARTTLS = errors.New("STARTTLS is not supported by the server")

func init() {
	maddycli.AddSubcommand(
		&cli.Command{
			Name:  "dane",
			Usage: "Verify the certificate of a mail exchanger against its TLSA records",
			Description: `Looks up DNSSEC-signed TLSA records for _25._tcp.HOST, connects to
HOST on port 25, performs STARTTLS and checks the presented certificate
chain against the records.
`,
			Action: daneCommand,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "mx",
					Usage:    "Mail exchanger `HOST` to check",
					Required: true,
				},
				&cli.StringFlag{
					Name:  "helo",
					Usage: "`DOMAIN` to send in EHLO",
					Value: "localhost",
				},
			},
		})
}

func daneCommand(ctx *cli.Context) error {
	blocks, err := readConfig(ctx)
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

	mx := ctx.String("mx")
	tlsa, err := lookupTLSA(v, resolver, mx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	fmt.Printf("%d usable TLSA records, DNSSEC validated\n", len(tlsa.Entries))

	chain, err := peerChain(mx, ctx.String("helo"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}

	res, err := v.VerifyDetailed(0, mx, tlsa, chain)
	fmt.Println(res.Message)
	fmt.Printf("Certificates checked: %d, records processed: %d, took %v\n",
		res.CertificatesVerified, res.RecordsProcessed, res.Duration)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	fmt.Printf("Matched usages: %v, selectors: %v, matching types: %v\n",
		res.MatchedUsages, res.MatchedSelectors, res.MatchedMatchingTypes)
	return nil
}

func lookupTLSA(v *dane.Verifier, resolver dane.TLSAResolver, mx string) (*dane.Tlsa, error) {
	ctx, cancel := context.WithTimeout(context.Background(), v.LookupTimeout)
	defer cancel()
	return dane.LookupTLSA(ctx, resolver, mx)
}

// peerChain connects to the mail exchanger and returns the DER-encoded
// certificates presented during STARTTLS. WebPKI validation is skipped since
// the chain is checked against TLSA records.
func peerChain(mx, helo string) ([][]byte, error) {
	cl, err := smtp.Dial(net.JoinHostPort(mx, "25"))
	if err != nil {
		return nil, err
	}
	defer cl.Close()

	if err := cl.Hello(helo); err != nil {
		return nil, err
	}
	if ok, _ := cl.Extension("STARTTLS"); !ok {
		return nil, errNoSTARTTLS
	}
	if err := cl.StartTLS(&tls.Config{
		ServerName:         mx,
		InsecureSkipVerify: true,
	}); err != nil {
		return nil, err
	}
	state, ok := cl.TLSConnectionState()
	if !ok {
		return nil, errors.New("TLS connection state is not available")
	}

	chain := make([][]byte, 0, len(state.PeerCertificates))
	for _, cert := range state.PeerCertificates {
		chain = append(chain, cert.Raw)
	}
	// The chain is already obtained, QUIT failures do not matter.
	cl.Quit()
	return chain, nil
}
