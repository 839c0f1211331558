// Package raffles provides raffle inventory access and the ticket
// number suggestion service.
package raffles

import (
	"context"

	"github.com/tombolo/tombolo/internal/domain"
)

// Repository defines the interface for raffle inventory access.
type Repository interface {
	GetRaffle(ctx context.Context, id string) (*domain.Raffle, error)

	// GetUnavailableIndices returns the indices of sold tickets plus
	// tickets under an unexpired reservation, as a point-in-time
	// snapshot.
	GetUnavailableIndices(ctx context.Context, raffleID string) (map[int]struct{}, error)

	// ListSoldTickets returns committed ticket rows for exports.
	ListSoldTickets(ctx context.Context, raffleID string) ([]domain.SoldTicket, error)
}
