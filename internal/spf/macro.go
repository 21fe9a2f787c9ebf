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

package spf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMacroSyntax = errors.New("spf: malformed macro")

func dummyMacro(byte) (string, error) {
	return "x", nil
}

func macroErr(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMacroSyntax, fmt.Sprintf(format, args...))
}

// expandMacros expands macro-string as defined in RFC 7208 Section 7.
//
// value is called with the lower-case macro letter. Letters c, r, t are
// accepted only if exp is true (explain-string).
func expandMacros(s string, exp bool, value func(letter byte) (string, error)) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != '%' {
			if ch < 0x21 || ch > 0x7e {
				if !exp || ch != ' ' {
					return "", macroErr("invalid character %q", ch)
				}
			}
			b.WriteByte(ch)
			continue
		}

		i++
		if i == len(s) {
			return "", macroErr("trailing %%")
		}
		switch s[i] {
		case '%':
			b.WriteByte('%')
			continue
		case '_':
			b.WriteByte(' ')
			continue
		case '-':
			b.WriteString("%20")
			continue
		case '{':
		default:
			return "", macroErr("invalid escape %%%c", s[i])
		}

		end := strings.IndexByte(s[i:], '}')
		if end == -1 {
			return "", macroErr("missing }")
		}
		expr := s[i+1 : i+end]
		i += end

		expanded, err := expandMacroExpr(expr, exp, value)
		if err != nil {
			return "", err
		}
		b.WriteString(expanded)
	}
	return b.String(), nil
}

// expandMacroExpr expands the contents of %{...}.
func expandMacroExpr(expr string, exp bool, value func(letter byte) (string, error)) (string, error) {
	if expr == "" {
		return "", macroErr("empty macro")
	}

	letter := expr[0]
	upper := letter >= 'A' && letter <= 'Z'
	if upper {
		letter += 'a' - 'A'
	}
	switch letter {
	case 's', 'l', 'o', 'd', 'i', 'p', 'h', 'v':
	case 'c', 'r', 't':
		if !exp {
			return "", macroErr("%%{%c} is allowed only in explanation", expr[0])
		}
	default:
		return "", macroErr("unknown macro letter %q", expr[0])
	}

	rest := expr[1:]
	digitsEnd := 0
	for digitsEnd < len(rest) && rest[digitsEnd] >= '0' && rest[digitsEnd] <= '9' {
		digitsEnd++
	}
	keep := 0
	if digitsEnd != 0 {
		n, err := strconv.Atoi(rest[:digitsEnd])
		if err != nil || n == 0 {
			return "", macroErr("invalid label count %q", rest[:digitsEnd])
		}
		keep = n
	}
	rest = rest[digitsEnd:]

	reverse := false
	if len(rest) != 0 && (rest[0] == 'r' || rest[0] == 'R') {
		reverse = true
		rest = rest[1:]
	}

	delims := rest
	for _, ch := range delims {
		if !strings.ContainsRune(".-+,/_=", ch) {
			return "", macroErr("invalid delimiter %q", ch)
		}
	}
	if delims == "" {
		delims = "."
	}

	v, err := value(letter)
	if err != nil {
		return "", err
	}

	if keep != 0 || reverse || rest != "" {
		parts := splitAny(v, delims)
		if reverse {
			for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
				parts[i], parts[j] = parts[j], parts[i]
			}
		}
		if keep != 0 && keep < len(parts) {
			parts = parts[len(parts)-keep:]
		}
		v = strings.Join(parts, ".")
	}

	if upper {
		v = urlEscape(v)
	}
	return v, nil
}

// splitAny splits s at every occurrence of any of the delims characters.
// Empty parts are kept.
func splitAny(s, delims string) []string {
	parts := make([]string, 0, strings.Count(s, ".")+1)
	for {
		i := strings.IndexAny(s, delims)
		if i == -1 {
			return append(parts, s)
		}
		parts = append(parts, s[:i])
		s = s[i+1:]
	}
}

// urlEscape escapes all characters except for "unreserved" ones (RFC 3986).
func urlEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' ||
			ch == '-' || ch == '.' || ch == '_' || ch == '~' {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", ch)
	}
	return b.String()
}

// ipMacro formats the address for %{i}: dotted quad for IPv4 and dot-separated
// nibbles for IPv6.
func ipMacro(ip []byte) string {
	if len(ip) == 4 {
		return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
	}
	var b strings.Builder
	for i, by := range ip {
		if i != 0 {
			b.WriteByte('.')
		}
		fmt.Fprintf(&b, "%x.%x", by>>4, by&0xf)
	}
	return b.String()
}
