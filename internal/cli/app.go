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

package maddycli

import (
	"fmt"
	"os"

	"github.com/foxcpp/mxtrust/framework/dns"
	"github.com/foxcpp/mxtrust/framework/log"
	"github.com/urfave/cli/v2"
)

var app *cli.App

func init() {
	app = cli.NewApp()
	app.Name = "mxtrust"
	app.Usage = "SPF, DANE and MTA-STS verification tool"
	app.Description = `mxtrust checks the sender and transport security policies published
by mail domains: SPF records, MTA-STS policies and DANE TLSA records.

Each check uses the same code paths an MTA would use during message
delivery, including caching and rate limiting. Settings can be read from
the configuration file specified using --config.
`
	app.Authors = []*cli.Author{
		{
			Name:  "Maddy Mail Server maintainers & contributors",
			Email: "~foxcpp/maddy@lists.sr.ht",
		},
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			log.Println(err)
			cli.OsExiter(1)
		}
	}
	app.EnableBashCompletion = true
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Usage:   "Enable debug logging",
			EnvVars: []string{"MXTRUST_DEBUG"},
		},
		&cli.PathFlag{
			Name:    "config",
			Usage:   "Read settings from `FILE`",
			EnvVars: []string{"MXTRUST_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "dns-server",
			Usage:   "Send DNS queries to `ADDR` instead of the system resolver",
			EnvVars: []string{"MXTRUST_DNS_SERVER"},
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.Bool("debug") {
			log.DefaultLogger.Debug = true
		}
		if srv := c.String("dns-server"); srv != "" {
			dns.OverrideServer(srv)
		}
		return nil
	}
	app.Commands = []*cli.Command{
		{
			Name:   "generate-man",
			Hidden: true,
			Action: func(c *cli.Context) error {
				man, err := app.ToMan()
				if err != nil {
					return err
				}
				fmt.Println(man)
				return nil
			},
		},
		{
			Name:   "generate-fish-completion",
			Hidden: true,
			Action: func(c *cli.Context) error {
				cp, err := app.ToFishCompletion()
				if err != nil {
					return err
				}
				fmt.Println(cp)
				return nil
			},
		},
	}
}

func AddGlobalFlag(f cli.Flag) {
	app.Flags = append(app.Flags, f)
}

func AddSubcommand(cmd *cli.Command) {
	app.Commands = append(app.Commands, cmd)
}

func Run() {
	// Subcommands are registered by the ctl package.
	if err := app.Run(os.Args); err != nil {
		log.DefaultLogger.Error("app.Run failed", err)
	}
}
