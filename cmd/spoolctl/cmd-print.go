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
	"encoding/json"
	"fmt"
	"io"
	"os"
)

type cmdPrint struct {
	Connection connectionConfig `group:"Connection"`
	Restaurant []string         `long:"restaurant" short:"r" required:"true" description:"restaurantId to queue for; may be repeated"`
	Order      string           `long:"order" short:"o" description:"Path to the order JSON (defaults to stdin)"`
}

func (cmd cmdPrint) Execute(_ []string) error {
	var raw []byte
	var err error
	if cmd.Order != "" {
		raw, err = os.ReadFile(cmd.Order)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("reading order: %w", err)
	}
	if !json.Valid(raw) {
		return fmt.Errorf("order is not valid JSON")
	}

	payload := map[string]any{
		"restaurantId": cmd.Restaurant,
		"order":        json.RawMessage(raw),
	}
	var resp struct {
		OK     bool     `json:"ok"`
		Tokens []string `json:"tokens"`
	}
	if err := cmd.Connection.postJSON("/api/print", payload, &resp); err != nil {
		return err
	}
	for _, token := range resp.Tokens {
		fmt.Println(green("queued"), token)
	}
	return nil
}
