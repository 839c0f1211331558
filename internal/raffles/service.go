package raffles

import (
	"context"
	"fmt"

	"github.com/tombolo/tombolo/internal/allocator"
	"github.com/tombolo/tombolo/internal/domain"
)

// Service suggests ticket numbers for purchase flows. The suggestion
// is not a reservation: the snapshot of unavailable indices can go
// stale under concurrent buyers, and the authoritative claim step can
// reject individual indices, in which case the caller re-invokes
// selection for the shortfall.
type Service struct {
	repo Repository
}

// NewService creates a raffles service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// SelectTickets proposes quantity collision-free ticket numbers for an
// active raffle, skipping excludeNumbers the buyer already holds.
func (s *Service) SelectTickets(ctx context.Context, raffleID string, quantity int, excludeNumbers []string) (*allocator.Selection, error) {
	raffle, err := s.repo.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	if raffle.Status != domain.RaffleStatusActive {
		return nil, fmt.Errorf("%w: status is %s", ErrRaffleNotActive, raffle.Status)
	}

	unavailable, err := s.repo.GetUnavailableIndices(ctx, raffleID)
	if err != nil {
		return nil, fmt.Errorf("load unavailable indices: %w", err)
	}

	return allocator.Select(allocator.Request{
		TotalTickets:   raffle.TotalTickets,
		Unavailable:    unavailable,
		Numbering:      raffle.Numbering(),
		Quantity:       quantity,
		ExcludeNumbers: excludeNumbers,
	})
}
