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
	"context"
	"net"
	"time"
)

var overrideServ string

// OverrideServer makes DefaultResolver and NewExtResolver send all queries
// to the specified server. It should be called before any resolver is
// created.
//
// server is "IP:PORT" or just "IP" for port 53. The server should be
// reachable over both UDP and TCP. "system-default" cancels the override.
func OverrideServer(server string) {
	if server == "system-default" {
		overrideServ = ""
		return
	}
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	overrideServ = server
}

func override(server string) {
	net.DefaultResolver.PreferGo = true
	net.DefaultResolver.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
		dialer := net.Dialer{Timeout: time.Second}
		switch network {
		case "udp", "udp4", "udp6":
			network = "udp"
		case "tcp", "tcp4", "tcp6":
			network = "tcp"
		default:
			return nil, &net.OpError{Op: "dial", Net: network, Err: net.UnknownNetworkError(network)}
		}
		return dialer.DialContext(ctx, network, server)
	}
}
