// Package postgres provides PostgreSQL implementation of the raffles
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tombolo/tombolo/internal/domain"
	"github.com/tombolo/tombolo/internal/raffles"
)

// Repository implements raffles.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetRaffle retrieves a raffle by ID.
func (r *Repository) GetRaffle(ctx context.Context, id string) (*domain.Raffle, error) {
	query := `
		SELECT id, title, status, total_tickets, start_number, number_step, created_at, updated_at
		FROM raffles
		WHERE id = $1
	`
	var raffle domain.Raffle
	err := r.db.QueryRow(ctx, query, id).Scan(
		&raffle.ID,
		&raffle.Title,
		&raffle.Status,
		&raffle.TotalTickets,
		&raffle.StartNumber,
		&raffle.NumberStep,
		&raffle.CreatedAt,
		&raffle.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, raffles.ErrRaffleNotFound
		}
		return nil, fmt.Errorf("get raffle: %w", err)
	}
	return &raffle, nil
}

// GetUnavailableIndices returns sold indices plus indices under an
// unexpired reservation.
func (r *Repository) GetUnavailableIndices(ctx context.Context, raffleID string) (map[int]struct{}, error) {
	query := `
		SELECT ticket_index
		FROM tickets
		WHERE raffle_id = $1
		  AND (status = 'sold' OR (status = 'reserved' AND reserved_until > now()))
	`
	rows, err := r.db.Query(ctx, query, raffleID)
	if err != nil {
		return nil, fmt.Errorf("query unavailable indices: %w", err)
	}
	defer rows.Close()

	unavailable := make(map[int]struct{})
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scan ticket index: %w", err)
		}
		unavailable[idx] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unavailable indices: %w", err)
	}
	return unavailable, nil
}

// ListSoldTickets returns committed ticket rows ordered by sale time.
func (r *Repository) ListSoldTickets(ctx context.Context, raffleID string) ([]domain.SoldTicket, error) {
	query := `
		SELECT raffle_id, ticket_index, ticket_number, buyer_email, order_id, sold_at
		FROM tickets
		WHERE raffle_id = $1 AND status = 'sold'
		ORDER BY sold_at ASC
	`
	rows, err := r.db.Query(ctx, query, raffleID)
	if err != nil {
		return nil, fmt.Errorf("query sold tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.SoldTicket
	for rows.Next() {
		var t domain.SoldTicket
		if err := rows.Scan(
			&t.RaffleID,
			&t.TicketIndex,
			&t.TicketNumber,
			&t.BuyerEmail,
			&t.OrderID,
			&t.SoldAt,
		); err != nil {
			return nil, fmt.Errorf("scan sold ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sold tickets: %w", err)
	}
	return tickets, nil
}
