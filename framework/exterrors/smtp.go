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

package exterrors

import (
	"fmt"

	"github.com/emersion/go-smtp"
)

type EnhancedCode [3]int

func (ec EnhancedCode) FormatCode() string {
	return fmt.Sprintf("%d.%d.%d", ec[0], ec[1], ec[2])
}

// SMTPError extends emersion/go-smtp.SMTPError with the Fields method for
// logging. Use SMTP to get the reply for the go-smtp server.
type SMTPError struct {
	// SMTP status code. Most of the time 4xx (temporary failure) or 5xx
	// (permanent failure).
	Code int

	// Enhanced SMTP status code (RFC 3463), e.g. {5, 7, 23} for SPF
	// validation failure.
	EnhancedCode EnhancedCode

	// Message sent to the remote party.
	Message string

	// The name of the verifier that produced the error.
	CheckName string

	// The name of the remote host or domain the error is about.
	TargetName string

	// Underlying error, not included in the SMTP reply.
	Err error

	// Short human-readable description of the problem, included in the
	// logs instead of Err.Error() if set.
	Reason string

	// Additional fields to include in the log message.
	Misc map[string]interface{}
}

// SMTP returns the reply to send to the client. Only the code and the
// message are included, other fields are for logs.
func (se *SMTPError) SMTP() *smtp.SMTPError {
	return &smtp.SMTPError{
		Code:         se.Code,
		EnhancedCode: smtp.EnhancedCode(se.EnhancedCode),
		Message:      se.Message,
	}
}

func (se *SMTPError) Unwrap() error {
	return se.Err
}

func (se *SMTPError) Fields() map[string]interface{} {
	ctx := make(map[string]interface{}, len(se.Misc)+3)
	for k, v := range se.Misc {
		ctx[k] = v
	}
	ctx["smtp_code"] = se.Code
	ctx["smtp_enchcode"] = se.EnhancedCode.FormatCode()
	ctx["smtp_msg"] = se.Message
	if se.CheckName != "" {
		ctx["check"] = se.CheckName
	}
	if se.TargetName != "" {
		ctx["target"] = se.TargetName
	}
	if se.Reason != "" {
		ctx["reason"] = se.Reason
	}
	return ctx
}

// Temporary reports whether the reply code is a 4xx one.
func (se *SMTPError) Temporary() bool {
	return se.Code/100 == 4
}

func (se *SMTPError) Error() string {
	if se.Reason != "" {
		return se.Reason
	}
	if se.Err != nil {
		return se.Err.Error()
	}
	return fmt.Sprintf("%d %s %s", se.Code, se.EnhancedCode.FormatCode(), se.Message)
}
