package raffles

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/tombolo/tombolo/internal/allocator"
	"github.com/tombolo/tombolo/internal/pkg/httputil"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrRaffleNotFound, Status: http.StatusNotFound, Message: "raffle not found"},
	{Error: ErrRaffleNotActive, Status: http.StatusConflict, Message: "raffle is not selling tickets"},
	{Error: allocator.ErrInvalidQuantity, Status: http.StatusBadRequest, Message: "quantity must be a positive integer"},
	{Error: allocator.ErrQuantityTooLarge, Status: http.StatusBadRequest},
	{Error: allocator.ErrInvalidInventory, Status: http.StatusConflict, Message: "raffle inventory is not selectable"},
}

// Handler handles HTTP requests for ticket selection.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a raffles handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterRoutes registers raffle routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/raffles/{id}/tickets/select", h.SelectTickets)
}

// SelectTicketsRequest represents the request body for ticket
// selection.
type SelectTicketsRequest struct {
	Quantity       int      `json:"quantity" validate:"required,gt=0"`
	ExcludeNumbers []string `json:"exclude_numbers" validate:"omitempty,max=1000,dive,max=12"`
}

// SelectTickets handles POST /raffles/{id}/tickets/select.
// The response proposes ticket numbers only; the checkout flow must
// still commit them through the reservation step.
func (h *Handler) SelectTickets(w http.ResponseWriter, r *http.Request) {
	raffleID := chi.URLParam(r, "id")

	var req SelectTicketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	selection, err := h.service.SelectTickets(r.Context(), raffleID, req.Quantity, req.ExcludeNumbers)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, selection)
}
