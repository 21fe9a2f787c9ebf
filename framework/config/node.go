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

// Package config provides set of utilities for configuration parsing.
//
// The syntax is a line-oriented list of directives, each directive can
// have a block of nested directives:
//
//	spf {
//	    max_dns_lookups 10
//	    dns_timeout 10s
//	}
package config

import (
	"fmt"
)

// Node struct describes a parsed configurtion block or a simple directive.
//
//	name arg0 arg1 {
//	 children0
//	 children1
//	}
type Node struct {
	// Name is the first string at node's line.
	Name string
	// Args are any strings placed after the node name.
	Args []string

	// Children slice contains all children blocks if node is a block. Can be nil.
	Children []Node

	// File is the name of node's source file.
	File string

	// Line is the line number where the directive is located in the source file. For
	// blocks this is the line where "block header" (name + args) resides.
	Line int
}

// Child returns the first child block with the specified name.
func (n Node) Child(name string) (Node, bool) {
	for _, child := range n.Children {
		if child.Name == name {
			return child, true
		}
	}
	return Node{}, false
}

func NodeErr(node Node, f string, args ...interface{}) error {
	if node.File == "" {
		return fmt.Errorf(f, args...)
	}
	return fmt.Errorf("%s:%d: %s", node.File, node.Line, fmt.Sprintf(f, args...))
}
