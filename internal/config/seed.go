package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

// ParseRoomTypes parses ROOM_TYPES, a comma separated list of
// id:capacity pairs such as "standard:10,deluxe:6,royal_suite:5".
func ParseRoomTypes(s string) ([]model.RoomType, error) {
	var out []model.RoomType
	seen := map[string]bool{}
	for _, item := range splitList(s) {
		parts := strings.Split(item, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("room type %q: want id:capacity", item)
		}
		id := strings.TrimSpace(parts[0])
		capacity, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if id == "" || err != nil || capacity < 0 {
			return nil, fmt.Errorf("room type %q: invalid id or capacity", item)
		}
		if seen[id] {
			return nil, fmt.Errorf("room type %q listed twice", id)
		}
		seen[id] = true
		out = append(out, model.RoomType{ID: id, Name: displayName(id), TotalCapacity: capacity})
	}
	return out, nil
}

// ParseTicketTypes parses TICKET_TYPES, a comma separated list of
// id:quantity:price_cents[:YYYY-MM-DD] entries.  The optional date is the
// event date in UTC.
func ParseTicketTypes(s string) ([]model.TicketType, error) {
	var out []model.TicketType
	seen := map[string]bool{}
	for _, item := range splitList(s) {
		parts := strings.Split(item, ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("ticket type %q: want id:quantity:price_cents[:date]", item)
		}
		id := strings.TrimSpace(parts[0])
		qty, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if id == "" || err != nil || qty < 0 {
			return nil, fmt.Errorf("ticket type %q: invalid id or quantity", item)
		}
		price, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil || price < 0 {
			return nil, fmt.Errorf("ticket type %q: invalid price", item)
		}
		if seen[id] {
			return nil, fmt.Errorf("ticket type %q listed twice", id)
		}
		seen[id] = true
		tt := model.TicketType{ID: id, Name: displayName(id), PriceCents: price, TotalQuantity: qty, AvailableQuantity: qty}
		if len(parts) == 4 {
			d, err := time.Parse("2006-01-02", strings.TrimSpace(parts[3]))
			if err != nil {
				return nil, fmt.Errorf("ticket type %q: invalid event date: %w", item, err)
			}
			tt.EventDate = &d
		}
		out = append(out, tt)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// displayName turns "royal_suite" into "Royal Suite".
func displayName(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
