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
	"strings"
	"text/tabwriter"

	"spool/pkg/spool"
)

type cmdPrinters struct {
	Connection connectionConfig `group:"Connection"`
	Online     bool             `long:"online" description:"Only printers seen within the presence window"`
}

func (cmd cmdPrinters) Execute(_ []string) error {
	path := "/api/printers"
	if cmd.Online {
		path = "/api/printers/online"
	}

	var printers []spool.PrinterStatus
	if err := cmd.Connection.getJSON(path, &printers); err != nil {
		return err
	}
	if len(printers) == 0 {
		fmt.Println("no printers")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERIAL\tSTATUS\tRESTAURANTS\tQUEUED\tLAST SEEN")
	for _, p := range printers {
		status := red("offline")
		if p.Online {
			status = green("online")
		}
		lastSeen := "never"
		if p.LastSeen != nil {
			lastSeen = ago(*p.LastSeen)
		}
		tenants := strings.Join(p.Tenants, ",")
		if tenants == "" {
			tenants = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", p.Serial, status, tenants, p.Queued, lastSeen)
	}
	return w.Flush()
}
