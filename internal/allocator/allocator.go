// Package allocator selects fair, collision-free ticket indices out of
// a raffle's inventory snapshot. It is pure and stateless: it performs
// no writes and makes no reservation commitment. The caller must still
// claim the returned indices through the authoritative reservation
// step, which can reject individual indices claimed concurrently.
package allocator

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/tombolo/tombolo/internal/domain"
)

// MaxQuantityPerCall is the hard cap on tickets selected in one call.
const MaxQuantityPerCall = 100000

// Rejection sampling is only worth it when the needed count is a small
// fraction of a large pool; otherwise building and shuffling the full
// candidate list is cheaper and always succeeds.
const (
	rejectionPoolFloor   = 10000
	rejectionNeededCap   = 50000
	rejectionDrawsPerHit = 10
)

// Allocator errors.
var (
	ErrInvalidQuantity  = errors.New("quantity must be a positive integer")
	ErrQuantityTooLarge = fmt.Errorf("quantity exceeds the per-call maximum of %d", MaxQuantityPerCall)
	ErrInvalidInventory = errors.New("invalid ticket inventory")
)

// Request is a point-in-time selection request against an inventory
// snapshot. Unavailable holds sold and actively-reserved indices;
// ExcludeNumbers holds formatted ticket numbers the caller already
// holds and does not want again.
type Request struct {
	TotalTickets   int
	Unavailable    map[int]struct{}
	Numbering      domain.Numbering
	Quantity       int
	ExcludeNumbers []string
}

// Selection pairs formatted ticket numbers with their indices
// positionally. Warning is set whenever fewer than the requested
// quantity could be produced.
type Selection struct {
	Numbers   []string `json:"selected_numbers"`
	Indices   []int    `json:"selected_indices"`
	Requested int      `json:"requested"`
	Available int      `json:"available"`
	Warning   string   `json:"warning,omitempty"`
}

// Select picks up to Quantity collision-free indices. Both strategies
// draw from crypto/rand: ticket assignment must be unpredictable, so a
// statistical PRNG is not acceptable here.
func Select(req Request) (*Selection, error) {
	if req.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if req.Quantity > MaxQuantityPerCall {
		return nil, ErrQuantityTooLarge
	}
	if req.TotalTickets <= 0 {
		return nil, fmt.Errorf("%w: total tickets must be positive", ErrInvalidInventory)
	}
	if req.Numbering.Step <= 0 {
		return nil, fmt.Errorf("%w: numbering step must be positive", ErrInvalidInventory)
	}

	width := numberWidth(req.Numbering, req.TotalTickets)

	// Fold excluded formatted numbers back into indices so both
	// strategies can treat them uniformly with unavailable indices.
	blocked := make(map[int]struct{}, len(req.Unavailable)+len(req.ExcludeNumbers))
	for idx := range req.Unavailable {
		if idx >= 0 && idx < req.TotalTickets {
			blocked[idx] = struct{}{}
		}
	}
	for _, number := range req.ExcludeNumbers {
		if idx, ok := indexOfNumber(req.Numbering, req.TotalTickets, number); ok {
			blocked[idx] = struct{}{}
		}
	}

	available := req.TotalTickets - len(blocked)
	needed := req.Quantity
	if needed > available {
		needed = available
	}

	var indices []int
	var err error
	if useRejectionSampling(needed, req.TotalTickets) {
		indices, err = sampleByRejection(req.TotalTickets, blocked, needed)
	} else {
		indices, err = sampleByShuffle(req.TotalTickets, blocked, needed)
	}
	if err != nil {
		return nil, err
	}

	selection := &Selection{
		Numbers:   make([]string, len(indices)),
		Indices:   indices,
		Requested: req.Quantity,
		Available: available,
	}
	for i, idx := range indices {
		selection.Numbers[i] = FormatNumber(req.Numbering, idx, width)
	}
	if len(indices) < req.Quantity {
		selection.Warning = fmt.Sprintf("only %d of %d requested tickets could be selected", len(indices), req.Quantity)
	}
	return selection, nil
}

// useRejectionSampling decides the selection strategy by cost: drawing
// random candidates beats materializing the pool only when the pool is
// large and the ask is a small slice of it.
func useRejectionSampling(needed, totalTickets int) bool {
	if totalTickets <= rejectionPoolFloor {
		return false
	}
	limit := totalTickets / 10
	if limit > rejectionNeededCap {
		limit = rejectionNeededCap
	}
	return needed <= limit
}

// sampleByRejection draws random indices, discarding collisions, until
// needed hits are collected or the draw budget runs out. An adversarial
// unavailability pattern can exhaust the budget; the caller surfaces
// that as a shortfall warning rather than an error.
func sampleByRejection(totalTickets int, blocked map[int]struct{}, needed int) ([]int, error) {
	selected := make([]int, 0, needed)
	seen := make(map[int]struct{}, needed)

	maxDraws := needed * rejectionDrawsPerHit
	for draws := 0; draws < maxDraws && len(selected) < needed; draws++ {
		idx, err := randomInt(totalTickets)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		if _, bad := blocked[idx]; bad {
			continue
		}
		seen[idx] = struct{}{}
		selected = append(selected, idx)
	}
	return selected, nil
}

// sampleByShuffle materializes every selectable index, applies a
// Fisher-Yates shuffle, and takes the first needed entries.
func sampleByShuffle(totalTickets int, blocked map[int]struct{}, needed int) ([]int, error) {
	candidates := make([]int, 0, totalTickets-len(blocked))
	for idx := 0; idx < totalTickets; idx++ {
		if _, bad := blocked[idx]; !bad {
			candidates = append(candidates, idx)
		}
	}

	for i := len(candidates) - 1; i > 0; i-- {
		j, err := randomInt(i + 1)
		if err != nil {
			return nil, err
		}
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}

	if needed > len(candidates) {
		needed = len(candidates)
	}
	return candidates[:needed], nil
}

// FormatNumber renders the display ticket number for an index,
// zero-padded to width digits.
func FormatNumber(numbering domain.Numbering, index, width int) string {
	return fmt.Sprintf("%0*d", width, numbering.StartNumber+index*numbering.Step)
}

// NumberWidth returns the digit width of the largest possible ticket
// number in the raffle.
func NumberWidth(numbering domain.Numbering, totalTickets int) int {
	return numberWidth(numbering, totalTickets)
}

func numberWidth(numbering domain.Numbering, totalTickets int) int {
	largest := numbering.StartNumber + (totalTickets-1)*numbering.Step
	return len(strconv.Itoa(largest))
}

// indexOfNumber inverts the numbering scheme. ok is false for numbers
// that do not correspond to any index in this raffle.
func indexOfNumber(numbering domain.Numbering, totalTickets int, number string) (int, bool) {
	value, err := strconv.Atoi(number)
	if err != nil {
		return 0, false
	}
	offset := value - numbering.StartNumber
	if offset < 0 || offset%numbering.Step != 0 {
		return 0, false
	}
	idx := offset / numbering.Step
	if idx >= totalTickets {
		return 0, false
	}
	return idx, true
}

// randomInt returns a uniform random index in [0, n) from crypto/rand.
func randomInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random source: %w", err)
	}
	return int(v.Int64()), nil
}
