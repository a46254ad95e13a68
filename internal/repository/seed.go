package repository

import (
	"context"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

// Seed makes sure the configured room and ticket types exist.  Types that
// are already stored keep their current counters.
func Seed(ctx context.Context, s Store, rooms []model.RoomType, tickets []model.TicketType) error {
	return s.WithTx(ctx, func(tx Tx) error {
		for _, rt := range rooms {
			if err := tx.EnsureRoomType(ctx, rt); err != nil {
				return err
			}
		}
		for _, tt := range tickets {
			if err := tx.EnsureTicketType(ctx, tt); err != nil {
				return err
			}
		}
		return nil
	})
}
