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
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/foxcpp/mxtrust/internal/spf"
	"github.com/urfave/cli/v2"
)

func testContext(t *testing.T, cfgText string, debug bool) *cli.Context {
	t.Helper()

	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.Bool("debug", debug, "")
	set.String("config", "", "")
	if cfgText != "" {
		path := filepath.Join(t.TempDir(), "mxtrust.conf")
		if err := os.WriteFile(path, []byte(cfgText), 0o600); err != nil {
			t.Fatal(err)
		}
		if err := set.Set("config", path); err != nil {
			t.Fatal(err)
		}
	}
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestReadConfig(t *testing.T) {
	ctx := testContext(t, `
spf {
	max_dns_lookups 5
	cache_ttl 1m
	strict yes
}
dane {
	lookup_timeout 3s
}
`, true)
	blocks, err := readConfig(ctx)
	if err != nil {
		t.Fatal(err)
	}

	cfg := spf.DefaultConfig()
	if err := cfg.Init(blocks.block("spf")); err != nil {
		t.Fatal(err)
	}
	if cfg.MaxDNSLookups != 5 || cfg.CacheTTL != time.Minute || !cfg.StrictPolicy {
		t.Errorf("directives are not applied: %+v", cfg)
	}
	if cfg.MaxVoidLookups != 2 || cfg.VerificationTimeout != 30*time.Second {
		t.Errorf("defaults are not applied: %+v", cfg)
	}
	if !cfg.Debug {
		t.Error("debug is not inherited from the global flag")
	}

	// The missing block gets all defaults.
	m, err := newManager(blocks)
	if err != nil {
		t.Fatal(err)
	}
	if m.MaxPolicySize != 1024*1024 {
		t.Errorf("wrong max_policy_size: %v", m.MaxPolicySize)
	}
}

func TestReadConfig_Invalid(t *testing.T) {
	for name, text := range map[string]string{
		"unknown block":   "smtp {\n}\n",
		"duplicate block": "spf {\n}\nspf {\n}\n",
		"syntax":          "spf {\n",
	} {
		text := text
		t.Run(name, func(t *testing.T) {
			if _, err := readConfig(testContext(t, text, false)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := readConfig(testContext(t, "", false)); err != nil {
		t.Errorf("no config file should not be an error: %v", err)
	}
}
