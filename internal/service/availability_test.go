package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/hotel-reservation/internal/model"
)

func TestAvailabilityChecker(t *testing.T) {
	f := newFixture(t, []model.RoomType{{ID: "deluxe", TotalCapacity: 2}},
		[]model.TicketType{{ID: "gala", TotalQuantity: 3}})
	ctx := context.Background()
	checker := NewAvailabilityChecker(f.store)

	_, err := f.reserve.Reserve(ctx, roomRequest("deluxe", "2024-06-01", "2024-06-04"))
	require.NoError(t, err)

	a, err := checker.Room(ctx, "deluxe", day("2024-06-02"), day("2024-06-03"))
	require.NoError(t, err)
	assert.Equal(t, Availability{Available: true, Remaining: 1, Capacity: 2}, a)

	a, err = checker.Room(ctx, "deluxe", day("2024-06-04"), day("2024-06-05"))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Remaining)

	_, err = checker.Room(ctx, "deluxe", day("2024-06-04"), day("2024-06-01"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = checker.Room(ctx, "nope", day("2024-06-01"), day("2024-06-02"))
	assert.ErrorIs(t, err, ErrUnknownItem)

	holdTickets(t, f, 2)
	a, err = checker.Tickets(ctx, "gala", 2)
	require.NoError(t, err)
	assert.Equal(t, Availability{Available: false, Remaining: 1, Capacity: 3}, a)
}

func TestRoomsListsEveryRoomType(t *testing.T) {
	f := newFixture(t, []model.RoomType{
		{ID: "deluxe", Name: "Deluxe", TotalCapacity: 2},
		{ID: "royal_suite", Name: "Royal Suite", TotalCapacity: 1},
	}, nil)
	ctx := context.Background()
	checker := NewAvailabilityChecker(f.store)

	_, err := f.reserve.Reserve(ctx, roomRequest("royal_suite", "2024-06-01", "2024-06-03"))
	require.NoError(t, err)

	rooms, err := checker.Rooms(ctx, day("2024-06-02"), day("2024-06-04"))
	require.NoError(t, err)
	assert.Equal(t, []RoomOption{
		{RoomTypeID: "deluxe", Name: "Deluxe", Availability: Availability{Available: true, Remaining: 2, Capacity: 2}},
		{RoomTypeID: "royal_suite", Name: "Royal Suite", Availability: Availability{Available: false, Remaining: 0, Capacity: 1}},
	}, rooms)

	// checkout day is free again
	rooms, err = checker.Rooms(ctx, day("2024-06-03"), day("2024-06-04"))
	require.NoError(t, err)
	assert.True(t, rooms[1].Availability.Available)

	_, err = checker.Rooms(ctx, day("2024-06-04"), day("2024-06-04"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
