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
	"reflect"
	"strings"
	"testing"
	"time"
)

func testBlock(t *testing.T, text string) Node {
	t.Helper()
	nodes, err := Read(strings.NewReader(text), "test")
	if err != nil {
		t.Fatal(err)
	}
	return Node{Name: "test", File: "test", Children: nodes}
}

func TestMapScalars(t *testing.T) {
	type values struct {
		enabled bool
		limit   int
		timeout time.Duration
		size    int64
		agent   string
	}
	defaults := values{limit: 10, timeout: 5 * time.Second, size: 1024, agent: "mxtrust"}

	cases := []struct {
		name string
		cfg  string
		want values
		fail bool
	}{
		{name: "defaults", cfg: ``, want: defaults},
		{
			name: "all set",
			cfg:  "enabled yes\nlimit 3\ntimeout 1m 30s\nsize 1M 512K\nagent \"test agent\"",
			want: values{enabled: true, limit: 3, timeout: 90 * time.Second, size: 1024*1024 + 512*1024, agent: "test agent"},
		},
		{
			name: "bare bool",
			cfg:  `enabled`,
			want: values{enabled: true, limit: 10, timeout: 5 * time.Second, size: 1024, agent: "mxtrust"},
		},
		{name: "bool no", cfg: `enabled no`, want: defaults},
		{name: "bool garbage", cfg: `enabled maybe`, fail: true},
		{name: "bool two args", cfg: `enabled yes no`, fail: true},
		{name: "invalid int", cfg: `limit AAAA`, fail: true},
		{name: "int without args", cfg: `limit`, fail: true},
		{name: "negative duration", cfg: `timeout -5s`, fail: true},
		{name: "invalid duration", cfg: `timeout soon`, fail: true},
		{name: "size without unit", cfg: `size 1`, fail: true},
		{name: "string with block", cfg: "agent {\n  x\n}", fail: true},
	}

	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			var got values
			m := NewMap(nil, testBlock(t, c.cfg))
			m.Bool("enabled", false, false, &got.enabled)
			m.Int("limit", false, false, 10, &got.limit)
			m.Duration("timeout", false, false, 5*time.Second, &got.timeout)
			m.DataSize("size", false, false, 1024, &got.size)
			m.String("agent", false, false, "mxtrust", &got.agent)

			_, err := m.Process()
			if c.fail {
				if err == nil {
					t.Fatalf("expected an error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != c.want {
				t.Errorf("wrong values\nwant %+v\ngot  %+v", c.want, got)
			}
		})
	}
}

func TestMapCustom(t *testing.T) {
	m := NewMap(nil, testBlock(t, `policy strict relaxed`))

	var policy []string
	m.Custom("policy", false, true, nil, func(_ *Map, n Node) (interface{}, error) {
		return n.Args, nil
	}, &policy)
	if _, err := m.Process(); err != nil {
		t.Fatal(err)
	}

	want := []string{"strict", "relaxed"}
	if !reflect.DeepEqual(policy, want) {
		t.Errorf("wrong value stored, want %v, got %v", want, policy)
	}
	if !reflect.DeepEqual(m.Values["policy"], want) {
		t.Errorf("wrong value in Values, want %v, got %v", want, m.Values["policy"])
	}
}

func TestMapRequired(t *testing.T) {
	m := NewMap(nil, testBlock(t, ``))
	var agent string
	m.String("agent", false, true, "", &agent)
	if _, err := m.Process(); err == nil {
		t.Error("missing required directive accepted")
	}
}

func TestMapInheritGlobal(t *testing.T) {
	globals := map[string]interface{}{"debug": true, "limit": 20}

	t.Run("inherited", func(t *testing.T) {
		var (
			debug bool
			limit int
		)
		m := NewMap(globals, testBlock(t, ``))
		m.Bool("debug", true, false, &debug)
		m.Int("limit", false, false, 10, &limit)
		if _, err := m.Process(); err != nil {
			t.Fatal(err)
		}
		if !debug {
			t.Error("debug is not inherited")
		}
		if limit != 10 {
			t.Errorf("limit should not be inherited, got %d", limit)
		}
	})
	t.Run("overridden", func(t *testing.T) {
		var debug bool
		m := NewMap(globals, testBlock(t, `debug no`))
		m.Bool("debug", true, false, &debug)
		if _, err := m.Process(); err != nil {
			t.Fatal(err)
		}
		if debug {
			t.Error("block value should override the global one")
		}
	})
	t.Run("required", func(t *testing.T) {
		var limit int
		m := NewMap(globals, testBlock(t, ``))
		m.Int("limit", true, true, 0, &limit)
		if _, err := m.Process(); err != nil {
			t.Fatal(err)
		}
		if limit != 20 {
			t.Errorf("wrong limit: %d", limit)
		}
	})
}

func TestMapValues_ZeroDefaults(t *testing.T) {
	var (
		agent string
		limit int
	)
	m := NewMap(nil, testBlock(t, ``))
	m.String("agent", false, false, "", &agent)
	m.Int("limit", false, false, 5, &limit)
	if _, err := m.Process(); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Values["agent"]; ok {
		t.Error("zero default is present in Values")
	}
	if m.Values["limit"] != 5 {
		t.Errorf("non-zero default is missing from Values: %v", m.Values)
	}
}

func TestMapDuplicate(t *testing.T) {
	m := NewMap(nil, testBlock(t, "limit 1\nlimit 2"))
	var limit int
	m.Int("limit", false, false, 0, &limit)
	if _, err := m.Process(); err == nil {
		t.Error("duplicate directive accepted")
	}
}

func TestMapUnknown(t *testing.T) {
	block := testBlock(t, "limit 1\nfoo bar\nbaz")

	m := NewMap(nil, block)
	var limit int
	m.Int("limit", false, false, 0, &limit)
	if _, err := m.Process(); err == nil {
		t.Error("unknown directive accepted")
	}

	m = NewMap(nil, block)
	m.Int("limit", false, false, 0, &limit)
	m.AllowUnknown()
	unknown, err := m.Process()
	if err != nil {
		t.Fatal(err)
	}
	if len(unknown) != 2 || unknown[0].Name != "foo" || unknown[1].Name != "baz" {
		t.Errorf("wrong unknown directives: %+v", unknown)
	}
	if limit != 1 {
		t.Errorf("wrong limit: %d", limit)
	}
}

func TestParseDataSize(t *testing.T) {
	for _, c := range []struct {
		in   string
		want int
		fail bool
	}{
		{in: "0", want: 0},
		{in: "1M", want: 1024 * 1024},
		{in: "1G 2K", want: 1024*1024*1024 + 2048},
		{in: "512b", want: 512},
		{in: "5B", want: 5},
		{in: "1", fail: true},
		{in: "1M5b", fail: true},
		{in: "-5M", fail: true},
		{in: "5T", fail: true},
		{in: "M", fail: true},
		{in: "", fail: true},
	} {
		got, err := ParseDataSize(c.in)
		if (err != nil) != c.fail {
			t.Errorf("ParseDataSize(%q): unexpected error state: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseDataSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}
