package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

type upsertRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

type ratesResponse struct {
	Rates []rateResponse `json:"rates"`
}

func (h *Handler) handleListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.storage.ListRates(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	out := make([]rateResponse, 0, len(rates))
	for _, rate := range rates {
		out = append(out, newRateResponse(rate))
	}
	writeJSON(w, http.StatusOK, ratesResponse{Rates: out})
}

func (h *Handler) handleGetRate(w http.ResponseWriter, r *http.Request) {
	rate, err := h.storage.GetRate(r.Context(), rateNameParam(r))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRateResponse(rate))
}

func (h *Handler) handleUpsertRate(w http.ResponseWriter, r *http.Request) {
	var req upsertRateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rate, err := h.storage.UpsertRate(r.Context(), domain.PostageRate{
		Name: rateNameParam(r),
		Rate: req.Rate,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRateResponse(rate))
}

func (h *Handler) handleDeleteRate(w http.ResponseWriter, r *http.Request) {
	if err := h.storage.DeleteRate(r.Context(), rateNameParam(r)); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// rateNameParam returns the decoded {name} path segment.
func rateNameParam(r *http.Request) string {
	raw := chi.URLParam(r, "name")
	if name, err := url.PathUnescape(raw); err == nil {
		raw = name
	}
	return strings.TrimSpace(raw)
}
