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
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"spool/pkg/spool"
)

// auditEvent mirrors the server's audit trail rows.
type auditEvent struct {
	At     time.Time
	Stage  string
	Token  string
	Tenant string
	Serial string
	Detail string
}

type cmdJobShow struct {
	Connection connectionConfig `group:"Connection"`
	Args       struct {
		Token string `positional-arg-name:"token" description:"Job token"`
	} `positional-args:"true" required:"true"`
}

func (cmd cmdJobShow) Execute(_ []string) error {
	var job spool.Job
	path := "/api/jobs/" + url.PathEscape(cmd.Args.Token)
	if err := cmd.Connection.getJSON(path, &job); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "token\t%s\n", job.Token)
	fmt.Fprintf(w, "restaurant\t%s\n", job.Tenant)
	fmt.Fprintf(w, "status\t%s\n", job.Status)
	content := "pending"
	if job.HasContent {
		content = "ready"
	}
	fmt.Fprintf(w, "content\t%s\n", content)
	fmt.Fprintf(w, "created\t%s\n", job.CreatedAt.Format(time.RFC3339))
	if job.OfferedAt != nil {
		fmt.Fprintf(w, "offered\t%s\n", job.OfferedAt.Format(time.RFC3339))
	}
	if job.SentAt != nil {
		fmt.Fprintf(w, "sent\t%s\n", job.SentAt.Format(time.RFC3339))
	}
	if job.Serial != "" {
		fmt.Fprintf(w, "serial\t%s\n", job.Serial)
	}
	if job.Meta.OrderNumber != "" {
		fmt.Fprintf(w, "order\t%s\n", job.Meta.OrderNumber)
	}
	if job.Meta.Customer != "" {
		fmt.Fprintf(w, "customer\t%s\n", job.Meta.Customer)
	}
	return w.Flush()
}

type cmdJobTrail struct {
	Connection connectionConfig `group:"Connection"`
	Args       struct {
		Token string `positional-arg-name:"token" description:"Job token"`
	} `positional-args:"true" required:"true"`
}

func (cmd cmdJobTrail) Execute(_ []string) error {
	var events []auditEvent
	path := "/api/jobs/" + url.PathEscape(cmd.Args.Token) + "/trail"
	if err := cmd.Connection.getJSON(path, &events); err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("no events")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tSTAGE\tRESTAURANT\tSERIAL\tDETAIL")
	for _, e := range events {
		serial := e.Serial
		if serial == "" {
			serial = "-"
		}
		detail := e.Detail
		if detail == "" {
			detail = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.At.Format(time.RFC3339), e.Stage, e.Tenant, serial, detail)
	}
	return w.Flush()
}

type cmdJobDrop struct {
	Connection connectionConfig `group:"Connection"`
	Args       struct {
		Token string `positional-arg-name:"token" description:"Job token"`
	} `positional-args:"true" required:"true"`
}

func (cmd cmdJobDrop) Execute(_ []string) error {
	path := "/api/jobs/" + url.PathEscape(cmd.Args.Token)
	if err := cmd.Connection.do(http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	fmt.Println(green("dropped"), cmd.Args.Token)
	return nil
}
