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
	"io"
	"os"
	"regexp"
	"unicode"
)

const maxNesting = 255

type parseContext struct {
	tokens   []token
	pos      int
	nesting  int
	location string
}

func (ctx *parseContext) err(line int, f string, args ...interface{}) error {
	return fmt.Errorf("%s:%d: %s", ctx.location, line, fmt.Sprintf(f, args...))
}

func validateNodeName(s string) error {
	if len(s) == 0 {
		return errors.New("empty directive name")
	}

	if unicode.IsDigit([]rune(s)[0]) {
		return errors.New("directive name cannot start with a digit")
	}

	allowedPunct := map[rune]bool{'.': true, '-': true, '_': true}

	for _, ch := range s {
		if !unicode.IsLetter(ch) &&
			!unicode.IsDigit(ch) &&
			!allowedPunct[ch] {
			return errors.New("character not allowed in directive name: " + string(ch))
		}
	}

	return nil
}

func isBrace(t token, brace string) bool {
	return !t.Quoted && t.Text == brace
}

// readNodes reads directives until the end of input or the closing brace of
// the current block. The closing brace is consumed.
func (ctx *parseContext) readNodes() ([]Node, error) {
	// It is not 'var res []Node' because we want empty
	// but non-nil Children slice for empty braces.
	res := []Node{}

	if ctx.nesting > maxNesting {
		return res, ctx.err(ctx.tokens[ctx.pos-1].Line, "nesting limit reached")
	}

	for ctx.pos < len(ctx.tokens) {
		tok := ctx.tokens[ctx.pos]
		if isBrace(tok, "}") {
			if ctx.nesting == 0 {
				return res, ctx.err(tok.Line, "unexpected }")
			}
			ctx.pos++
			return res, nil
		}
		if isBrace(tok, "{") {
			return res, ctx.err(tok.Line, "block header expected before {")
		}

		node, err := ctx.readNode()
		if err != nil {
			return res, err
		}
		res = append(res, node)
	}

	if ctx.nesting != 0 {
		return res, ctx.err(ctx.tokens[len(ctx.tokens)-1].Line, "unexpected EOF when looking for }")
	}
	return res, nil
}

// readNode reads the directive starting at the current token. All tokens on
// the same line are arguments, the opening brace starts the nested block that
// ends with the matching closing brace.
func (ctx *parseContext) readNode() (Node, error) {
	tok := ctx.tokens[ctx.pos]
	node := Node{
		Name: tok.Text,
		File: ctx.location,
		Line: tok.Line,
	}
	if err := validateNodeName(node.Name); err != nil {
		return node, ctx.err(tok.Line, "%v", err)
	}
	ctx.pos++

	for ctx.pos < len(ctx.tokens) && ctx.tokens[ctx.pos].Line == node.Line {
		arg := ctx.tokens[ctx.pos]
		if isBrace(arg, "}") {
			break
		}
		ctx.pos++
		if isBrace(arg, "{") {
			ctx.nesting++
			children, err := ctx.readNodes()
			ctx.nesting--
			if err != nil {
				return node, err
			}
			node.Children = children
			break
		}
		node.Args = append(node.Args, arg.Text)
	}

	return node, nil
}

var envvarRe = regexp.MustCompile(`{env:([^}]+)}`)

func expandEnvironment(nodes []Node) []Node {
	// If nodes is nil - don't replace with empty slice, as nil indicates "no
	// block".
	if nodes == nil {
		return nil
	}

	expand := func(s string) string {
		return envvarRe.ReplaceAllStringFunc(s, func(match string) string {
			return os.Getenv(envvarRe.FindStringSubmatch(match)[1])
		})
	}

	newNodes := make([]Node, 0, len(nodes))
	for _, node := range nodes {
		if len(node.Args) != 0 {
			newArgs := make([]string, 0, len(node.Args))
			for _, arg := range node.Args {
				newArgs = append(newArgs, expand(arg))
			}
			node.Args = newArgs
		}
		node.Children = expandEnvironment(node.Children)
		newNodes = append(newNodes, node)
	}
	return newNodes
}

// Read parses the configuration from r. location is used in error messages
// and stored in Node.File.
//
// {env:NAME} in arguments is replaced with the value of the environment
// variable NAME.
func Read(r io.Reader, location string) ([]Node, error) {
	tokens, err := allTokens(r)
	if err != nil {
		return nil, err
	}

	ctx := parseContext{tokens: tokens, location: location}
	nodes, err := ctx.readNodes()
	if err != nil {
		return nil, err
	}
	return expandEnvironment(nodes), nil
}
