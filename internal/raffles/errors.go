package raffles

import "errors"

// Service errors.
var (
	ErrRaffleNotFound  = errors.New("raffle not found")
	ErrRaffleNotActive = errors.New("raffle is not selling tickets")
)
