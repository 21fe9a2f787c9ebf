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

package config

import (
	"os"
	"reflect"
	"strings"
	"testing"
)

func TestRead(t *testing.T) {
	cases := []struct {
		name string
		cfg  string
		tree []Node
		fail bool
	}{
		{
			name: "single directive",
			cfg:  `debug`,
			tree: []Node{{Name: "debug", File: "test", Line: 1}},
		},
		{
			name: "arguments and comments",
			cfg: `# comment
rate_limit 10 5m # trailing comment
user_agent "mxtrust policy fetcher"`,
			tree: []Node{
				{Name: "rate_limit", Args: []string{"10", "5m"}, File: "test", Line: 2},
				{Name: "user_agent", Args: []string{"mxtrust policy fetcher"}, File: "test", Line: 3},
			},
		},
		{
			name: "nested blocks",
			cfg: `spf {
    max_dns_lookups 10
    cache {
        ttl 5m
    }
}
dane { debug }
mta_sts { }`,
			tree: []Node{
				{
					Name: "spf",
					File: "test",
					Line: 1,
					Children: []Node{
						{Name: "max_dns_lookups", Args: []string{"10"}, File: "test", Line: 2},
						{
							Name: "cache",
							File: "test",
							Line: 3,
							Children: []Node{
								{Name: "ttl", Args: []string{"5m"}, File: "test", Line: 4},
							},
						},
					},
				},
				{
					Name:     "dane",
					File:     "test",
					Line:     7,
					Children: []Node{{Name: "debug", File: "test", Line: 7}},
				},
				{Name: "mta_sts", File: "test", Line: 8, Children: []Node{}},
			},
		},
		{
			name: "quoted brace",
			cfg:  `name "{"`,
			tree: []Node{{Name: "name", Args: []string{"{"}, File: "test", Line: 1}},
		},
		{name: "unclosed block", cfg: "spf {\n debug\n", fail: true},
		{name: "unexpected closing brace", cfg: "debug\n}", fail: true},
		{name: "bad name", cfg: "1spf", fail: true},
		{name: "block without header", cfg: "{\n}", fail: true},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			tree, err := Read(strings.NewReader(c.cfg), "test")
			if c.fail {
				if err == nil {
					t.Fatalf("expected failure, got %+v", tree)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected failure: %v", err)
			}
			if !reflect.DeepEqual(tree, c.tree) {
				t.Fatalf("wrong tree\nwant %+v\ngot  %+v", c.tree, tree)
			}
		})
	}
}

func TestRead_Environment(t *testing.T) {
	os.Setenv("MXTRUST_TEST_TIMEOUT", "15s")
	defer os.Unsetenv("MXTRUST_TEST_TIMEOUT")

	tree, err := Read(strings.NewReader(`dns_timeout {env:MXTRUST_TEST_TIMEOUT}`), "test")
	if err != nil {
		t.Fatal(err)
	}
	if len(tree) != 1 || !reflect.DeepEqual(tree[0].Args, []string{"15s"}) {
		t.Fatalf("environment variable not expanded: %+v", tree)
	}
}
