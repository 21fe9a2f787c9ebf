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

package testutils

import (
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/foxcpp/mxtrust/framework/log"
)

var (
	debugLog  = flag.Bool("test.debuglog", false, "(mxtrust) Turn on debug log messages")
	directLog = flag.Bool("test.directlog", false, "(mxtrust) Log to stderr instead of test log")
)

// Logger returns the Logger that writes to the test log, so messages are
// shown only for failed tests (or with -v).
func Logger(t testing.TB, name string) log.Logger {
	l := log.Logger{Name: name, Debug: *debugLog}
	if *directLog {
		l.Out = log.WriterOutput(os.Stderr, true)
		return l
	}
	l.Out = log.FuncOutput(func(_ time.Time, debug bool, str string) {
		t.Helper()
		str = strings.TrimSuffix(str, "\n")
		if debug {
			str = "[debug] " + str
		}
		t.Log(str)
	}, nil)
	return l
}
