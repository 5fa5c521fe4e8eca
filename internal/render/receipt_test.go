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
	"encoding/json"
	"errors"
	"image/color"
	"testing"
)

func TestTicketRendererDrawsInk(t *testing.T) {
	img, err := TicketRenderer{}.Render(context.Background(), Receipt{
		Venue:       "Big Belly Burger",
		OrderNumber: "42",
		Customer:    "Ada",
		Items: []Line{
			{Qty: "2", Name: "Cheeseburger", Price: "11.00"},
			{Qty: "1", Name: "Fries", Price: "3.50"},
		},
		Total: "14.50",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if got := img.Bounds().Dx(); got != ticketWidth {
		t.Errorf("width = %d, want %d", got, ticketWidth)
	}

	// The ticket must contain actual ink, not just white paper.
	ink := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if g := color.GrayModel.Convert(img.At(x, y)).(color.Gray); g.Y < 128 {
				ink++
			}
		}
	}
	if ink == 0 {
		t.Error("rendered ticket has no ink pixels")
	}
}

func TestTicketRendererEmptyReceipt(t *testing.T) {
	img, err := TicketRenderer{}.Render(context.Background(), Receipt{})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if img.Bounds().Dy() == 0 {
		t.Error("empty receipt rendered a zero-height ticket")
	}
}

func TestTicketRendererHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := TicketRenderer{}.Render(ctx, Receipt{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestTicketGrowsWithItems(t *testing.T) {
	small, err := TicketRenderer{}.Render(context.Background(), Receipt{OrderNumber: "1"})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	items := make([]Line, 12)
	for i := range items {
		items[i] = Line{Qty: "1", Name: "Dish", Price: "9.00"}
	}
	large, err := TicketRenderer{}.Render(context.Background(), Receipt{OrderNumber: "1", Items: items})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if large.Bounds().Dy() <= small.Bounds().Dy() {
		t.Errorf("ticket did not grow: %d vs %d", large.Bounds().Dy(), small.Bounds().Dy())
	}
}

func TestParseReceipt(t *testing.T) {
	raw := `{
		"restaurantName": "Noodle Bar",
		"orderNumber": 107,
		"orderId": "ord_9f2",
		"customer": {"name": "Grace"},
		"items": [
			{"quantity": 2, "name": "Ramen", "price": 12.5},
			{"qty": "1", "title": "Gyoza", "amount": "6.00"}
		],
		"total": 31,
		"note": "no scallions"
	}`
	var order map[string]any
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}

	r := ParseReceipt(order)
	if r.Venue != "Noodle Bar" {
		t.Errorf("venue = %q", r.Venue)
	}
	if r.OrderNumber != "107" {
		t.Errorf("order number = %q", r.OrderNumber)
	}
	if r.OrderID != "ord_9f2" {
		t.Errorf("order id = %q", r.OrderID)
	}
	if r.Customer != "Grace" {
		t.Errorf("customer = %q", r.Customer)
	}
	if r.Total != "31.00" {
		t.Errorf("total = %q", r.Total)
	}
	if r.Note != "no scallions" {
		t.Errorf("note = %q", r.Note)
	}
	if len(r.Items) != 2 {
		t.Fatalf("items = %d", len(r.Items))
	}
	if r.Items[0].Qty != "2" || r.Items[0].Name != "Ramen" || r.Items[0].Price != "12.50" {
		t.Errorf("item 0 = %+v", r.Items[0])
	}
	if r.Items[1].Qty != "1" || r.Items[1].Name != "Gyoza" || r.Items[1].Price != "6.00" {
		t.Errorf("item 1 = %+v", r.Items[1])
	}
}

func TestParseReceiptSnakeCase(t *testing.T) {
	order := map[string]any{
		"order_number":  "55",
		"customer_name": "Lin",
		"lines": []any{
			map[string]any{"count": float64(3), "item": "Dumplings", "total": "15.00"},
		},
	}

	r := ParseReceipt(order)
	if r.OrderNumber != "55" || r.Customer != "Lin" {
		t.Errorf("receipt = %+v", r)
	}
	if len(r.Items) != 1 || r.Items[0].Name != "Dumplings" || r.Items[0].Qty != "3" {
		t.Errorf("items = %+v", r.Items)
	}
}

func TestLayoutClipping(t *testing.T) {
	long := "This customer name is far longer than a forty column thermal ticket"
	lines := layout(Receipt{Customer: long})
	for _, line := range lines {
		if len(line) > ticketColumns {
			t.Errorf("line %q exceeds %d columns", line, ticketColumns)
		}
	}
}
