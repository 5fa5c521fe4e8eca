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

// spoolctl is the operator CLI for a running spoold instance.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "printers", "List configured printers", `
List every configured printer with its restaurant mapping, presence, and
queued job count. --online restricts the view to printers seen within the
presence window.
`, &cmdPrinters{})

	addCmd(parser, "history", "Show a printer's delivery history", `
Show the recent delivery history of one printer, newest first.
`, &cmdHistory{})

	addCmd(parser, "queue", "Show a restaurant's queued jobs", `
Show the pending print jobs of one restaurant in creation order.
`, &cmdQueue{})

	addCmd(parser, "presence", "Show raw printer poll activity", `
Dump the poll tracker: every serial that has ever polled, newest first,
whether or not it is still in the mapping.
`, &cmdPresence{})

	addCmd(parser, "print", "Submit an order for printing", `
Submit an order document to the intake endpoint. The order JSON is read
from --order or stdin.
`, &cmdPrint{})

	addCmd(parser, "reload", "Force a mapping refresh", `
Force an immediate refresh of the device mapping from its remote source.
Requires the admin token when the server is configured with one.
`, &cmdReload{})

	job := addCmd(parser.Command, "job", "Inspect or drop a print job", "", &struct{}{})

	addCmd(job, "show", "Show a live job's current state", `
Show the current state of a job still in its queue. Completed and dropped
jobs are gone from the queue; use trail for those.
`, &cmdJobShow{})

	addCmd(job, "trail", "Show a job's audit trail", `
Show the persisted lifecycle events of one job token. Requires the server
to run with an audit database.
`, &cmdJobTrail{})

	addCmd(job, "drop", "Remove a job from its queue", `
Remove a job from its queue regardless of state. Requires the admin token
when the server is configured with one.
`, &cmdJobDrop{})

	if _, err := parser.Parse(); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	if err != nil {
		panic(err)
	}
	return cmd
}
