// Spool is a print dispatch service for networked receipt printers.
// Copyright (C) 2025 Matthew Burns
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"spool/pkg/spool"
)

type cmdPresence struct {
	Connection connectionConfig `group:"Connection"`
}

func (cmd cmdPresence) Execute(_ []string) error {
	var entries []spool.PresenceEntry
	if err := cmd.Connection.getJSON("/api/presence", &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no printers have polled yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tSTATUS\tLAST SEEN\tADDR")
	for _, e := range entries {
		status := red("offline")
		if e.Online {
			status = green("online")
		}
		addr := e.Addr
		if addr == "" {
			addr = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Serial, status, ago(e.LastSeen), addr)
	}
	return w.Flush()
}
