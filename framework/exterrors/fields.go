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

// Package exterrors contains helpers to attach extra information
// (log fields, retry classification) to errors.
package exterrors

import "errors"

// FieldsError is implemented by errors that carry additional structured
// information for logging.
type FieldsError interface {
	error
	Fields() map[string]interface{}
}

type withFields struct {
	error
	fields map[string]interface{}
}

func (e withFields) Unwrap() error {
	return e.error
}

func (e withFields) Fields() map[string]interface{} {
	return e.fields
}

// Fields collects fields from err and all errors it wraps. If the same key
// is set at multiple levels, the outermost value is used.
func Fields(err error) map[string]interface{} {
	res := make(map[string]interface{})
	for ; err != nil; err = errors.Unwrap(err) {
		fe, ok := err.(FieldsError)
		if !ok {
			continue
		}
		for k, v := range fe.Fields() {
			if _, set := res[k]; !set && v != nil {
				res[k] = v
			}
		}
	}
	return res
}

// WithFields attaches fields to err. err is still accessible using
// errors.Is and errors.As.
func WithFields(err error, fields map[string]interface{}) error {
	return withFields{error: err, fields: fields}
}
