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

package dns

import (
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// ToASCII returns the A-label form of the domain without the trailing dot.
// The result is used in DNS queries and policy URLs.
func ToASCII(domain string) (string, error) {
	return idna.Lookup.ToASCII(strings.TrimSuffix(domain, "."))
}

// ForLookup returns the canonical U-label form of the domain used as a
// cache key and for comparisons: NFC-normalized, lower-case, without the
// trailing dot.
//
// For malformed domains the lower-cased input is returned together with
// the error.
func ForLookup(domain string) (string, error) {
	uDomain, err := idna.ToUnicode(domain)
	if err != nil {
		return strings.ToLower(domain), err
	}
	// ToLower does no full case folding, NFC has to be applied first.
	uDomain = norm.NFC.String(uDomain)
	return strings.TrimSuffix(strings.ToLower(uDomain), "."), nil
}
