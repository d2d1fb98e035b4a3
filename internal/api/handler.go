package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/stamp-calculator/internal/calculator"
	"github.com/eugenenazirov/stamp-calculator/internal/currency"
	"github.com/eugenenazirov/stamp-calculator/internal/domain"
	"github.com/eugenenazirov/stamp-calculator/internal/planner"
	"github.com/eugenenazirov/stamp-calculator/internal/storage"
)

type contextKey string

const requestIDContextKey contextKey = "requestID"

const maxBodyBytes = 1 << 20

// CombinationFinder runs combination searches for the calculate endpoint.
type CombinationFinder interface {
	FindCombinations(ctx context.Context, q planner.Query) (planner.Outcome, error)
}

// Handler wires the inventory store and the search planner into HTTP handlers.
type Handler struct {
	storage storage.Storage
	finder  CombinationFinder

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// NewHandler constructs a Handler with the provided dependencies.
func NewHandler(store storage.Storage, finder CombinationFinder, opts ...HandlerOption) *Handler {
	h := &Handler{
		storage: store,
		finder:  finder,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:    "ok",
		Timestamp: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// decodeJSON reads a JSON body into dst and reports a 400 when it cannot.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse JSON payload")
		return false
	}
	return true
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type errorResponse struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// amount renders a decimal as a JSON number with a fixed number of decimals.
func amount(d decimal.Decimal, places int32) json.Number {
	return json.Number(d.StringFixed(places))
}

func euros(d decimal.Decimal) json.Number {
	return amount(d, currency.EUR.Decimals())
}

type stampResponse struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	FaceValue json.Number `json:"faceValue"`
	Currency  string      `json:"currency"`
	EuroValue json.Number `json:"euroValue"`
	Quantity  int         `json:"quantity"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func newStampResponse(st domain.Stamp) stampResponse {
	c := st.Currency
	if c == nil {
		c = currency.EUR
	}
	return stampResponse{
		ID:        st.ID,
		Name:      st.Name,
		FaceValue: amount(st.FaceValue, c.Decimals()),
		Currency:  c.Code(),
		EuroValue: euros(currency.FromMinor(st.MinorValue())),
		Quantity:  st.Quantity,
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}
}

func newStampResponses(stamps []domain.Stamp) []stampResponse {
	out := make([]stampResponse, 0, len(stamps))
	for _, st := range stamps {
		out = append(out, newStampResponse(st))
	}
	return out
}

type rateResponse struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Rate      json.Number `json:"rate"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func newRateResponse(r domain.PostageRate) rateResponse {
	return rateResponse{
		ID:        r.ID,
		Name:      r.Name,
		Rate:      euros(r.Rate),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string, suggestion ...string) {
	resp := errorResponse{
		Error:   message,
		Details: details,
	}
	if len(suggestion) > 0 {
		resp.Suggestion = suggestion[0]
	}
	writeJSON(w, status, resp)
}

// statusClientClosedRequest marks requests abandoned by the client before a response was ready.
const statusClientClosedRequest = 499

func writeInternalError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) {
		w.WriteHeader(statusClientClosedRequest)
		return
	}
	writeError(w, http.StatusInternalServerError, "Internal error", err.Error())
}

// writeStoreError maps storage and validation errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrStampNotFound):
		writeError(w, http.StatusNotFound, "Stamp not found", err.Error())
	case errors.Is(err, storage.ErrRateNotFound):
		writeError(w, http.StatusNotFound, "Postage rate not found", err.Error(), "GET /api/rates lists the known rates")
	case errors.Is(err, storage.ErrInsufficientQuantity):
		writeError(w, http.StatusConflict, "Insufficient stamps", err.Error(), "Refresh the collection and pick another combination")
	case errors.Is(err, storage.ErrInvalidConsume):
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
	case errors.Is(err, domain.ErrInvalidStamp):
		writeError(w, http.StatusBadRequest, "Invalid stamp", err.Error())
	case errors.Is(err, domain.ErrInvalidRate):
		writeError(w, http.StatusBadRequest, "Invalid postage rate", err.Error())
	case errors.Is(err, currency.ErrUnknownCurrency):
		writeError(w, http.StatusBadRequest, "Invalid stamp", err.Error(), "Supported currencies are EUR and ITL")
	case errors.Is(err, calculator.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "Invalid request", err.Error())
	default:
		writeInternalError(w, err)
	}
}
