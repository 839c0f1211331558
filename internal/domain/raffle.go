package domain

import "time"

// RaffleStatus represents the sales state of a raffle.
type RaffleStatus string

// Raffle statuses.
const (
	RaffleStatusDraft     RaffleStatus = "draft"
	RaffleStatusActive    RaffleStatus = "active"
	RaffleStatusSoldOut   RaffleStatus = "sold_out"
	RaffleStatusDrawn     RaffleStatus = "drawn"
	RaffleStatusCancelled RaffleStatus = "cancelled"
)

// Raffle represents a single draw with a fixed ticket inventory.
// Ticket identity is the zero-based index; the formatted ticket number
// is a display derivative computed from the numbering config.
type Raffle struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Status       RaffleStatus `json:"status"`
	TotalTickets int          `json:"total_tickets"`
	StartNumber  int          `json:"start_number"`
	NumberStep   int          `json:"number_step"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Numbering returns the display numbering config for the raffle.
func (r *Raffle) Numbering() Numbering {
	return Numbering{StartNumber: r.StartNumber, Step: r.NumberStep}
}

// Numbering controls how ticket indices are formatted for display.
type Numbering struct {
	StartNumber int `json:"start_number"`
	Step        int `json:"step"`
}

// SoldTicket is one committed ticket row, used by the sales export.
type SoldTicket struct {
	RaffleID     string    `json:"raffle_id"`
	TicketIndex  int       `json:"ticket_index"`
	TicketNumber string    `json:"ticket_number"`
	BuyerEmail   string    `json:"buyer_email"`
	OrderID      string    `json:"order_id"`
	SoldAt       time.Time `json:"sold_at"`
}
