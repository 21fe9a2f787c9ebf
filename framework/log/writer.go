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
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type writerOutput struct {
	timestamps bool

	mu sync.Mutex
	w  io.Writer
}

func (w *writerOutput) Write(stamp time.Time, debug bool, msg string) {
	var b strings.Builder
	if w.timestamps {
		b.WriteString(stamp.UTC().Format("2006-01-02T15:04:05.000Z "))
	}
	if debug {
		b.WriteString("[debug] ")
	}
	b.WriteString(msg)
	b.WriteByte('\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, b.String()); err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to write message to log: %v\n", err)
	}
}

func (w *writerOutput) Close() error {
	if c, ok := w.w.(io.Closer); ok && w.w != os.Stderr && w.w != os.Stdout {
		return c.Close()
	}
	return nil
}

// WriterOutput returns the Output that writes each message as a single line
// to w. Messages are prefixed with a millisecond-precision UTC timestamp
// (unless timestamps is false) and with [debug] for debug messages.
//
// Writes are serialized, so the Output can be shared by goroutines. Close
// closes w if it is an io.Closer other than os.Stdout or os.Stderr.
func WriterOutput(w io.Writer, timestamps bool) Output {
	return &writerOutput{timestamps: timestamps, w: w}
}
