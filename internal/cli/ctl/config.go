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
	"fmt"
	"os"

	"github.com/foxcpp/mxtrust/framework/config"
	"github.com/urfave/cli/v2"
)

// knownBlocks lists top-level blocks accepted in the configuration file.
var knownBlocks = map[string]bool{
	"spf":     true,
	"mta_sts": true,
	"dane":    true,
}

type cfgBlocks struct {
	globals map[string]interface{}
	nodes   map[string]config.Node
}

func readConfig(ctx *cli.Context) (*cfgBlocks, error) {
	blocks := &cfgBlocks{
		globals: map[string]interface{}{
			"debug": ctx.Bool("debug"),
		},
		nodes: map[string]config.Node{},
	}

	cfgPath := ctx.Path("config")
	if cfgPath == "" {
		return blocks, nil
	}
	cfgFile, err := os.Open(cfgPath)
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("Error: failed to open config: %v", err), 2)
	}
	defer cfgFile.Close()
	cfgNodes, err := config.Read(cfgFile, cfgFile.Name())
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("Error: failed to parse config: %v", err), 2)
	}

	for _, node := range cfgNodes {
		if !knownBlocks[node.Name] {
			return nil, cli.Exit(fmt.Sprintf("Error: %v", config.NodeErr(node, "unknown block: %s", node.Name)), 2)
		}
		if _, ok := blocks.nodes[node.Name]; ok {
			return nil, cli.Exit(fmt.Sprintf("Error: %v", config.NodeErr(node, "duplicate block: %s", node.Name)), 2)
		}
		blocks.nodes[node.Name] = node
	}
	return blocks, nil
}

// block returns the Map for the named block. Missing blocks produce an empty
// Map so all defaults apply.
func (b *cfgBlocks) block(name string) *config.Map {
	node, ok := b.nodes[name]
	if !ok {
		node = config.Node{Name: name}
	}
	return config.NewMap(b.globals, node)
}
