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

import "testing"

func TestForLookup(t *testing.T) {
	for _, c := range []struct {
		in, out string
	}{
		{"Example.ORG.", "example.org"},
		{"mx.example.org", "mx.example.org"},
		{"xn--e1afmkfd.xn--p1ai", "пример.рф"},
		{"ПРИМЕР.рф", "пример.рф"},
		{"MX.Пример.РФ.", "mx.пример.рф"},
	} {
		got, err := ForLookup(c.in)
		if err != nil {
			t.Errorf("ForLookup(%q): %v", c.in, err)
			continue
		}
		if got != c.out {
			t.Errorf("ForLookup(%q) = %q, want %q", c.in, got, c.out)
		}
	}
}

func TestToASCII(t *testing.T) {
	got, err := ToASCII("пример.рф.")
	if err != nil {
		t.Fatal(err)
	}
	if got != "xn--e1afmkfd.xn--p1ai" {
		t.Fatalf("wrong A-label: %s", got)
	}
}
