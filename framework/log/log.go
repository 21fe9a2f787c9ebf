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

// Package log implements a minimalistic logging library used by all
// verifiers.
package log

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/foxcpp/mxtrust/framework/exterrors"
	"go.uber.org/zap"
)

// Logger writes messages prefixed with its Name to Out, or to
// DefaultLogger.Out if Out is nil. It carries no state and can be copied.
// Output implementations are responsible for serialization.
type Logger struct {
	Out   Output
	Name  string
	Debug bool

	// Fields are added to every structured message.
	Fields map[string]interface{}
}

// Zap returns a zap.Logger writing to the same Output.
func (l Logger) Zap() *zap.Logger {
	return zap.New(zapCore{l: l})
}

// Sublogger returns a copy of the Logger with the name extended by
// "/"+name.
func (l Logger) Sublogger(name string) Logger {
	if l.Name != "" {
		name = l.Name + "/" + name
	}
	l.Name = name
	return l
}

func (l Logger) Debugf(format string, val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Printf(format string, val ...interface{}) {
	l.log(false, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Println(val ...interface{}) {
	l.log(false, l.formatMsg(strings.TrimRight(fmt.Sprintln(val...), "\n"), nil))
}

// Msg writes an event log message in a machine-readable format (currently
// JSON).
//
//	name: msg\t{"key":"value","key2":"value2"}
//
// fields should contain key strings followed by corresponding values, e.g.
// []interface{}{"domain", "example.org", "result", "pass"}.
//
// Values implementing LogFormatter, fmt.Stringer or error are represented
// by the corresponding string. time.Time is written in ISO 8601 format.
func (l Logger) Msg(msg string, fields ...interface{}) {
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(false, l.formatMsg(msg, m))
}

// Error writes an event log message containing information about the error.
// Fields attached to err using exterrors.WithFields (or errors having a
// Fields method) are added to the message. The error text is stored in the
// "reason" field unless err already provides one.
//
// msg should describe the context in which the error is handled, e.g.
// "policy fetch failed".
func (l Logger) Error(msg string, err error, fields ...interface{}) {
	if err == nil {
		return
	}

	errFields := exterrors.Fields(err)
	allFields := make(map[string]interface{}, len(fields)+len(errFields)+2)
	for k, v := range errFields {
		allFields[k] = v
	}

	if allFields["reason"] == nil {
		allFields["reason"] = err.Error()
	}
	fieldsToMap(fields, allFields)

	l.log(false, l.formatMsg(msg, allFields))
}

func (l Logger) DebugMsg(kind string, fields ...interface{}) {
	if !l.Debug {
		return
	}
	m := make(map[string]interface{}, len(fields)/2)
	fieldsToMap(fields, m)
	l.log(true, l.formatMsg(kind, m))
}

// fieldsToMap copies key-value pairs into out. Misformatted pairs are
// stored under "fieldN" keys.
func fieldsToMap(fields []interface{}, out map[string]interface{}) {
	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		switch {
		case !ok:
			out[fmt.Sprint("field", i)] = fields[i]
			if i+1 < len(fields) {
				out[fmt.Sprint("field", i+1)] = fields[i+1]
			}
		case i+1 == len(fields):
			out[fmt.Sprint("field", i)] = key
		default:
			out[key] = fields[i+1]
		}
	}
}

func (l Logger) formatMsg(msg string, fields map[string]interface{}) string {
	var formatted strings.Builder
	formatted.WriteString(msg)
	formatted.WriteByte('\t')

	if len(l.Fields)+len(fields) != 0 {
		if fields == nil {
			fields = make(map[string]interface{})
		}
		for k, v := range l.Fields {
			if _, ok := fields[k]; !ok {
				fields[k] = v
			}
		}
		if err := marshalOrderedJSON(&formatted, fields); err != nil {
			return fmt.Sprintf("[BROKEN FORMATTING: %v] %v %+v", err, msg, fields)
		}
	}

	return formatted.String()
}

type LogFormatter interface {
	FormatLog() string
}

func (l Logger) log(debug bool, s string) {
	out := l.Out
	if out == nil {
		out = DefaultLogger.Out
	}
	if out == nil {
		return
	}
	if l.Name != "" {
		s = l.Name + ": " + s
	}
	out.Write(time.Now(), debug, s)
}

// DefaultLogger is used by package-level functions and by Loggers
// without Out.
var DefaultLogger = Logger{Out: WriterOutput(os.Stderr, false)}

func Println(val ...interface{}) { DefaultLogger.Println(val...) }
