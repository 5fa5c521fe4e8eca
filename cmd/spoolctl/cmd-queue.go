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

type cmdQueue struct {
	Connection connectionConfig `group:"Connection"`
	Args       struct {
		Restaurant string `positional-arg-name:"restaurantId" description:"Restaurant identifier"`
	} `positional-args:"true" required:"true"`
}

func (cmd cmdQueue) Execute(_ []string) error {
	var jobs []spool.Job
	path := "/api/queues/" + url.PathEscape(cmd.Args.Restaurant)
	if err := cmd.Connection.getJSON(path, &jobs); err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOKEN\tSTATUS\tCONTENT\tCREATED\tORDER\tCUSTOMER")
	for _, j := range jobs {
		content := "pending"
		if j.HasContent {
			content = "ready"
		}
		order := j.Meta.OrderNumber
		if order == "" {
			order = j.Meta.OrderID
		}
		if order == "" {
			order = "-"
		}
		customer := j.Meta.Customer
		if customer == "" {
			customer = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.Token, j.Status, content, ago(j.CreatedAt), order, customer)
	}
	return w.Flush()
}
