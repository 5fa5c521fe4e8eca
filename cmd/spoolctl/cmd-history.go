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
	"net/url"
	"os"
	"text/tabwriter"

	"spool/pkg/spool"
)

type cmdHistory struct {
	Connection connectionConfig `group:"Connection"`
	Args       struct {
		Serial string `positional-arg-name:"serial" description:"Printer serial number"`
	} `positional-args:"true" required:"true"`
}

func (cmd cmdHistory) Execute(_ []string) error {
	var entries []spool.HistoryEntry
	path := "/api/printers/" + url.PathEscape(cmd.Args.Serial) + "/history"
	if err := cmd.Connection.getJSON(path, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no history")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tSTAGE\tRESTAURANT\tTOKEN\tORDER\tCUSTOMER")
	for _, e := range entries {
		order := e.Order
		if order == "" {
			order = "-"
		}
		customer := e.Customer
		if customer == "" {
			customer = "-"
		}
		stage := string(e.Stage)
		switch e.Stage {
		case spool.StageCompleted:
			stage = green(stage)
		case spool.StageFailed, spool.StageRenderFailed:
			stage = red(stage)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.At.Format("15:04:05"), stage, e.Tenant, e.Token, order, customer)
	}
	return w.Flush()
}
