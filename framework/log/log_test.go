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

package log

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/foxcpp/mxtrust/framework/exterrors"
	"go.uber.org/zap"
)

func captureLogger(debug bool) (Logger, *[]string) {
	var lines []string
	return Logger{
		Out: FuncOutput(func(_ time.Time, debug bool, msg string) {
			if debug {
				msg = "[debug] " + msg
			}
			lines = append(lines, msg)
		}, func() error { return nil }),
		Name:  "test",
		Debug: debug,
	}, &lines
}

func TestLoggerMsg(t *testing.T) {
	l, lines := captureLogger(false)
	l.Msg("policy fetched", "domain", "example.org", "max_age", 86400, "took", 2*time.Second)

	want := `test: policy fetched	{"domain":"example.org","max_age":86400,"took":"2s"}`
	if len(*lines) != 1 || (*lines)[0] != want {
		t.Fatalf("wrong output:\nwant %q\ngot  %v", want, *lines)
	}
}

func TestLoggerError(t *testing.T) {
	l, lines := captureLogger(false)

	err := exterrors.WithFields(errors.New("connection refused"), map[string]interface{}{
		"url": "https://mta-sts.example.org/.well-known/mta-sts.txt",
	})
	l.Error("fetch failed", err, "domain", "example.org")

	want := `test: fetch failed	{"domain":"example.org","reason":"connection refused","url":"https://mta-sts.example.org/.well-known/mta-sts.txt"}`
	if len(*lines) != 1 || (*lines)[0] != want {
		t.Fatalf("wrong output:\nwant %q\ngot  %v", want, *lines)
	}

	l.Error("ignored", nil)
	if len(*lines) != 1 {
		t.Fatal("nil error should not be logged")
	}
}

func TestLoggerDebug(t *testing.T) {
	l, lines := captureLogger(false)
	l.Debugf("hidden %d", 1)
	l.DebugMsg("hidden")
	if len(*lines) != 0 {
		t.Fatalf("debug messages written with Debug=false: %v", *lines)
	}

	l.Debug = true
	l.Debugf("shown %d", 2)
	if len(*lines) != 1 || (*lines)[0] != "[debug] test: shown 2\t" {
		t.Fatalf("wrong output: %v", *lines)
	}
}

func TestLoggerSublogger(t *testing.T) {
	l, lines := captureLogger(false)
	l.Sublogger("cache").Printf("pruned")
	if len(*lines) != 1 || !strings.HasPrefix((*lines)[0], "test/cache: pruned") {
		t.Fatalf("wrong output: %v", *lines)
	}
}

func TestLoggerZap(t *testing.T) {
	l, lines := captureLogger(false)
	z := l.Zap()
	z.Debug("hidden")
	z.Info("lookup", zap.String("domain", "example.org"))

	want := `test: lookup	{"domain":"example.org"}`
	if len(*lines) != 1 || (*lines)[0] != want {
		t.Fatalf("wrong output:\nwant %q\ngot  %v", want, *lines)
	}
}

func TestWriterOutput(t *testing.T) {
	var b strings.Builder
	out := WriterOutput(&b, true)
	stamp := time.Date(2020, 1, 2, 3, 4, 5, 6000000, time.FixedZone("", 3600))

	out.Write(stamp, false, "spf: pass")
	out.Write(stamp, true, "dane: checking")
	if err := out.Close(); err != nil {
		t.Fatal(err)
	}

	want := "2020-01-02T02:04:05.006Z spf: pass\n2020-01-02T02:04:05.006Z [debug] dane: checking\n"
	if b.String() != want {
		t.Fatalf("wrong output:\nwant %q\ngot  %q", want, b.String())
	}
}

func TestLoggerMsg_Misformatted(t *testing.T) {
	l, lines := captureLogger(false)
	l.Msg("odd", "domain", "example.org", 42, "x", "dangling")

	want := `test: odd	{"domain":"example.org","field2":42,"field3":"x","field4":"dangling"}`
	if len(*lines) != 1 || (*lines)[0] != want {
		t.Fatalf("wrong output:\nwant %q\ngot  %v", want, *lines)
	}
}
