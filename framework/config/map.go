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
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

type matcher struct {
	name          string
	required      bool
	inheritGlobal bool
	defaultVal    func() (interface{}, error)
	mapper        func(*Map, Node) (interface{}, error)
	store         *reflect.Value
}

func (m *matcher) assign(val interface{}) {
	v := reflect.ValueOf(val)
	if !v.IsValid() {
		// Untyped nil.
		v = reflect.Zero(m.store.Type())
	}
	m.store.Set(v)
}

// Map maps directives of a configuration block onto Go variables.
//
// Directives are registered using Bool, Int, Duration, DataSize, String or
// Custom, then Process reads the block and stores the values.
type Map struct {
	allowUnknown bool

	// Values contains all values assigned during Process, keyed by the
	// directive name. Zero defaults are not included.
	Values map[string]interface{}

	entries map[string]matcher

	// Globals are used for directives registered with inheritGlobal if
	// the block does not contain them.
	Globals map[string]interface{}
	Block   Node
}

func NewMap(globals map[string]interface{}, block Node) *Map {
	return &Map{Globals: globals, Block: block}
}

// AllowUnknown makes Process return unknown directives instead of failing.
func (m *Map) AllowUnknown() {
	m.allowUnknown = true
}

func constant(val interface{}) func() (interface{}, error) {
	return func() (interface{}, error) { return val, nil }
}

// singleArg wraps parse into a mapper for directives in form 'name value'.
func singleArg(parse func(string) (interface{}, error)) func(*Map, Node) (interface{}, error) {
	return func(_ *Map, node Node) (interface{}, error) {
		if len(node.Children) != 0 {
			return nil, NodeErr(node, "can't declare block here")
		}
		if len(node.Args) != 1 {
			return nil, NodeErr(node, "expected 1 argument")
		}
		val, err := parse(node.Args[0])
		if err != nil {
			return nil, NodeErr(node, "%v", err)
		}
		return val, nil
	}
}

// joinedArgs is like singleArg but accepts multiple arguments, they are
// joined using sep before parsing.
func joinedArgs(sep string, parse func(string) (interface{}, error)) func(*Map, Node) (interface{}, error) {
	return func(_ *Map, node Node) (interface{}, error) {
		if len(node.Children) != 0 {
			return nil, NodeErr(node, "can't declare block here")
		}
		if len(node.Args) == 0 {
			return nil, NodeErr(node, "at least one argument is required")
		}
		val, err := parse(strings.Join(node.Args, sep))
		if err != nil {
			return nil, NodeErr(node, "%v", err)
		}
		return val, nil
	}
}

// Duration maps 'name duration' to a time.Duration variable. The value is
// parsed using time.ParseDuration and must not be negative. Multiple
// arguments are concatenated, so 'name 1m 30s' is 90 seconds.
func (m *Map) Duration(name string, inheritGlobal, required bool, defaultVal time.Duration, store *time.Duration) {
	m.Custom(name, inheritGlobal, required, constant(defaultVal), joinedArgs("", func(s string) (interface{}, error) {
		dur, err := time.ParseDuration(s)
		if err != nil {
			return nil, err
		}
		if dur < 0 {
			return nil, errors.New("duration must not be negative")
		}
		return dur, nil
	}), store)
}

var sizeUnits = map[string]int{
	"G": 1024 * 1024 * 1024,
	"M": 1024 * 1024,
	"K": 1024,
	"B": 1,
	"b": 1,
}

// ParseDataSize parses space-separated list of sizes with unit suffixes
// (G, M, K, B) and returns the sum in bytes. "0" is the only value allowed
// without a suffix.
func ParseDataSize(s string) (int, error) {
	if s == "" {
		return 0, errors.New("missing a number")
	}

	total := 0
	for _, part := range strings.Split(s, " ") {
		digits := strings.IndexFunc(part, func(ch rune) bool { return ch < '0' || ch > '9' })
		if digits == -1 {
			digits = len(part)
		}
		numStr, suffix := part[:digits], part[digits:]
		if strings.ContainsAny(suffix, "0123456789") {
			return 0, errors.New("unexpected digit after a suffix")
		}
		num, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, err
		}

		unit, ok := sizeUnits[suffix]
		if !ok {
			if num != 0 {
				return 0, errors.New("unknown unit suffix: " + suffix)
			}
			continue
		}
		total += num * unit
	}
	return total, nil
}

// DataSize maps 'name size...' to an int64 variable holding the size in
// bytes. See ParseDataSize for the syntax.
func (m *Map) DataSize(name string, inheritGlobal, required bool, defaultVal int64, store *int64) {
	m.Custom(name, inheritGlobal, required, constant(defaultVal), joinedArgs(" ", func(s string) (interface{}, error) {
		size, err := ParseDataSize(s)
		return int64(size), err
	}), store)
}

func ParseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "on", "yes":
		return true, nil
	case "0", "false", "off", "no":
		return false, nil
	}
	return false, fmt.Errorf("bool argument should be 'yes' or 'no'")
}

// Bool maps 'name', 'name yes' or 'name no' to a bool variable. A directive
// without arguments is true.
func (m *Map) Bool(name string, inheritGlobal, defaultVal bool, store *bool) {
	parse := singleArg(func(s string) (interface{}, error) { return ParseBool(s) })
	m.Custom(name, inheritGlobal, false, constant(defaultVal), func(cfg *Map, node Node) (interface{}, error) {
		if len(node.Args) == 0 && len(node.Children) == 0 {
			return true, nil
		}
		return parse(cfg, node)
	}, store)
}

// String maps 'name value' to a string variable.
func (m *Map) String(name string, inheritGlobal, required bool, defaultVal string, store *string) {
	m.Custom(name, inheritGlobal, required, constant(defaultVal), singleArg(func(s string) (interface{}, error) {
		return s, nil
	}), store)
}

// Int maps 'name 123' to an int variable.
func (m *Map) Int(name string, inheritGlobal, required bool, defaultVal int, store *int) {
	m.Custom(name, inheritGlobal, required, constant(defaultVal), singleArg(func(s string) (interface{}, error) {
		i, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid integer: %s", s)
		}
		return i, nil
	}), store)
}

// Custom registers the directive with the specified mapper.
//
// If the directive is missing from the block, the value from Globals is
// used (only if inheritGlobal is set), then defaultVal. Missing required
// directives make Process fail. defaultVal may be nil for required
// directives.
//
// mapper converts the directive node into the value and must not modify
// the node. The value is stored into store (a pointer to the variable of the
// matching type) and into Map.Values. store may be nil.
func (m *Map) Custom(name string, inheritGlobal, required bool, defaultVal func() (interface{}, error), mapper func(*Map, Node) (interface{}, error), store interface{}) {
	if m.entries == nil {
		m.entries = make(map[string]matcher)
	}
	if _, ok := m.entries[name]; ok {
		panic("Map.Custom: duplicate matcher")
	}

	var target *reflect.Value
	if ptr := reflect.ValueOf(store); ptr.IsValid() && !ptr.IsNil() {
		val := ptr.Elem()
		if !val.CanSet() {
			panic("Map.Custom: store argument must be settable (a pointer)")
		}
		target = &val
	}

	m.entries[name] = matcher{
		name:          name,
		inheritGlobal: inheritGlobal,
		required:      required,
		defaultVal:    defaultVal,
		mapper:        mapper,
		store:         target,
	}
}

// Process maps directives of the block passed to NewMap.
func (m *Map) Process() (unknown []Node, err error) {
	return m.ProcessWith(m.Globals, m.Block)
}

// ProcessWith maps directives of block using globalCfg as the source of
// inherited values.
func (m *Map) ProcessWith(globalCfg map[string]interface{}, block Node) (unknown []Node, err error) {
	unknown = make([]Node, 0, len(block.Children))
	seen := make(map[string]bool)
	m.Values = make(map[string]interface{})

	for _, node := range block.Children {
		matcher, ok := m.entries[node.Name]
		if !ok {
			if !m.allowUnknown {
				return nil, NodeErr(node, "unexpected directive: %s", node.Name)
			}
			unknown = append(unknown, node)
			continue
		}
		if seen[node.Name] {
			return nil, NodeErr(node, "duplicate directive: %s", node.Name)
		}
		seen[node.Name] = true

		val, err := matcher.mapper(m, node)
		if err != nil {
			return nil, err
		}
		m.Values[matcher.name] = val
		if matcher.store != nil {
			matcher.assign(val)
		}
	}

	for _, matcher := range m.entries {
		if seen[matcher.name] {
			continue
		}

		var val interface{}
		if globalVal, ok := globalCfg[matcher.name]; ok && matcher.inheritGlobal {
			val = globalVal
		} else if matcher.required {
			return nil, NodeErr(block, "missing required directive: %s", matcher.name)
		} else if matcher.defaultVal == nil {
			continue
		} else if val, err = matcher.defaultVal(); err != nil {
			return nil, err
		}

		// Zero values are kept out of Values so they are not inherited
		// as if they were set explicitly.
		if t := reflect.TypeOf(val); t != nil && !reflect.DeepEqual(val, reflect.Zero(t).Interface()) {
			m.Values[matcher.name] = val
		}
		if matcher.store != nil {
			matcher.assign(val)
		}
	}

	return unknown, nil
}
