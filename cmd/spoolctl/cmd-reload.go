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
)

type cmdReload struct {
	Connection connectionConfig `group:"Connection"`
}

func (cmd cmdReload) Execute(_ []string) error {
	var resp struct {
		OK      bool `json:"ok"`
		Serials int  `json:"serials"`
	}
	if err := cmd.Connection.postJSON("/api/admin/reload", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("%s mapping refreshed, %d serials configured\n", green("ok"), resp.Serials)
	return nil
}
