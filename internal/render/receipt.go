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

package render

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Receipt is the order content drawn onto the ticket. Fields come from the
// intake payload on a best-effort basis; everything is optional except that
// an all-empty receipt still renders a valid ticket. The tenant is
// deliberately absent: one order fans out to several tenants and they all
// share one rendering.
type Receipt struct {
	Venue       string
	OrderNumber string
	OrderID     string
	Customer    string
	Items       []Line
	Total       string
	Note        string
	PlacedAt    string
}

// Line is one receipt item row.
type Line struct {
	Qty   string
	Name  string
	Price string
}

// Renderer turns a receipt into a raster image. Implementations must honor
// ctx: the broker bounds each render with a timeout.
type Renderer interface {
	Render(ctx context.Context, r Receipt) (image.Image, error)
}

// Ticket layout geometry. Face7x13 gives 40 columns at this canvas width;
// Finish upscales the result to the printer width.
const (
	ticketColumns = 40
	ticketMarginX = 8
	ticketMarginY = 10
	ticketLineH   = 13
	ticketWidth   = ticketColumns*7 + 2*ticketMarginX
)

// TicketRenderer draws a fixed-layout monochrome ticket with the x/image
// bitmap font. It stands in for an HTML rendering pipeline: same contract,
// no browser.
type TicketRenderer struct{}

func (TicketRenderer) Render(ctx context.Context, r Receipt) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lines := layout(r)
	height := len(lines)*ticketLineH + 2*ticketMarginY
	img := image.NewGray(image.Rect(0, 0, ticketWidth, height))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
	}
	y := ticketMarginY + ticketLineH - 2
	for _, line := range lines {
		d.Dot = fixed.P(ticketMarginX, y)
		d.DrawString(line)
		y += ticketLineH
	}
	return img, nil
}

func layout(r Receipt) []string {
	divider := strings.Repeat("-", ticketColumns)
	var lines []string

	venue := r.Venue
	if venue == "" {
		venue = "RECEIPT"
	}
	lines = append(lines, center(strings.ToUpper(venue)), "")

	switch {
	case r.OrderNumber != "":
		lines = append(lines, "Order #"+r.OrderNumber)
	case r.OrderID != "":
		lines = append(lines, "Order "+r.OrderID)
	}
	if r.Customer != "" {
		lines = append(lines, clip("Customer: "+r.Customer))
	}
	if r.PlacedAt != "" {
		lines = append(lines, clip(r.PlacedAt))
	}

	if len(r.Items) > 0 {
		lines = append(lines, divider)
		for _, it := range r.Items {
			lines = append(lines, fmt.Sprintf("%2.2s %-29.29s %7.7s", it.Qty, it.Name, it.Price))
		}
		lines = append(lines, divider)
	}

	if r.Total != "" {
		lines = append(lines, fmt.Sprintf("%-26s%14.14s", "TOTAL", r.Total))
	}
	if r.Note != "" {
		lines = append(lines, "", clip("Note: "+r.Note))
	}
	lines = append(lines, "")
	return lines
}

func center(s string) string {
	if len(s) >= ticketColumns {
		return s[:ticketColumns]
	}
	pad := (ticketColumns - len(s)) / 2
	return strings.Repeat(" ", pad) + s
}

func clip(s string) string {
	if len(s) > ticketColumns {
		return s[:ticketColumns]
	}
	return s
}

// ParseReceipt extracts ticket fields from a decoded order document. The
// upstream point-of-sale schema drifts, so every field is fished out of the
// usual key spellings and missing ones just leave blanks on the ticket.
func ParseReceipt(order map[string]any) Receipt {
	r := Receipt{
		Venue:       pickString(order, "restaurantName", "venue", "storeName"),
		OrderNumber: pickStringish(order, "orderNumber", "order_number", "number"),
		OrderID:     pickStringish(order, "orderId", "order_id", "id"),
		Customer:    pickString(order, "customerName", "customer_name"),
		Total:       pickMoney(order, "total", "totalAmount", "total_amount"),
		Note:        pickString(order, "note", "notes", "comment"),
		PlacedAt:    pickString(order, "placedAt", "createdAt", "timestamp"),
	}

	if r.Customer == "" {
		// Some payloads nest the customer: {"customer": {"name": ...}}.
		if m, ok := order["customer"].(map[string]any); ok {
			r.Customer = pickString(m, "name", "customerName")
		} else {
			r.Customer = pickString(order, "customer")
		}
	}

	items, ok := order["items"].([]any)
	if !ok {
		items, _ = order["lines"].([]any)
	}
	for _, raw := range items {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		r.Items = append(r.Items, Line{
			Qty:   pickStringish(m, "quantity", "qty", "count"),
			Name:  pickString(m, "name", "title", "item"),
			Price: pickMoney(m, "price", "amount", "total"),
		})
	}
	return r
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// pickStringish accepts strings and JSON numbers; order numbers show up as
// both.
func pickStringish(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			if v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10)
			}
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// pickMoney formats numeric amounts with two decimals and passes strings
// through untouched.
func pickMoney(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', 2, 64)
		}
	}
	return ""
}
