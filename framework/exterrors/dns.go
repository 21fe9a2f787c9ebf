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
	"context"
	"errors"
	"net"
)

// UnwrapDNSErr extracts the short error description from *net.DNSError.
//
// misc is never nil so the caller can extend it with its own values.
func UnwrapDNSErr(err error) (reason string, misc map[string]interface{}) {
	var dnsErr *net.DNSError
	if !errors.As(err, &dnsErr) {
		return "", map[string]interface{}{}
	}

	// Nor server name, nor DNS name are usually useful, so exclude them.
	misc = map[string]interface{}{}
	if dnsErr.IsTimeout {
		misc["dns_timeout"] = true
	}
	return dnsErr.Err, misc
}

// IsTimeout reports whether err is caused by an expired deadline, either of a
// context or of a network operation.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
