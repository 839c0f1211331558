package export

import (
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombolo/tombolo/internal/domain"
	"github.com/tombolo/tombolo/internal/jobs"
)

type mockSource struct {
	tickets []domain.SoldTicket
	err     error
}

func (m *mockSource) ListSoldTickets(_ context.Context, _ string) ([]domain.SoldTicket, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tickets, nil
}

func soldTickets() []domain.SoldTicket {
	soldAt := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	return []domain.SoldTicket{
		{RaffleID: "raf_1", TicketIndex: 0, TicketNumber: "001", BuyerEmail: "a@example.com", OrderID: "ord_1", SoldAt: soldAt},
		{RaffleID: "raf_1", TicketIndex: 41, TicketNumber: "042", BuyerEmail: "b@example.com", OrderID: "ord_2", SoldAt: soldAt},
	}
}

func TestGenerator_Execute(t *testing.T) {
	g := NewGenerator(&mockSource{tickets: soldTickets()})

	result, err := g.Execute(context.Background(), &jobs.ExportSalesPayload{
		RaffleID:    "raf_1",
		RequestedBy: "organizer@example.com",
	})
	require.NoError(t, err)

	res, ok := result.(Result)
	require.True(t, ok)
	assert.Equal(t, "raf_1", res.RaffleID)
	assert.Equal(t, 2, res.Rows)
	assert.Positive(t, res.SizeBytes)
	assert.NotEmpty(t, res.GeneratedAt)
}

func TestGenerator_Execute_SourceError(t *testing.T) {
	g := NewGenerator(&mockSource{err: errors.New("database down")})

	_, err := g.Execute(context.Background(), &jobs.ExportSalesPayload{
		RaffleID:    "raf_1",
		RequestedBy: "organizer@example.com",
	})
	assert.Error(t, err)
}

func TestGenerator_Execute_WrongPayloadType(t *testing.T) {
	g := NewGenerator(&mockSource{})

	_, err := g.Execute(context.Background(), 42)
	assert.Error(t, err)
}

func TestBuildCSV(t *testing.T) {
	data, err := buildCSV(soldTickets())
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"ticket_number", "ticket_index", "buyer_email", "order_id", "sold_at"}, records[0])
	assert.Equal(t, []string{"001", "0", "a@example.com", "ord_1", "2026-03-01T10:30:00Z"}, records[1])
	assert.Equal(t, []string{"042", "41", "b@example.com", "ord_2", "2026-03-01T10:30:00Z"}, records[2])
}

func TestBuildCSV_Empty(t *testing.T) {
	data, err := buildCSV(nil)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
}
