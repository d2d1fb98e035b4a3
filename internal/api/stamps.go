package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/stamp-calculator/internal/currency"
	"github.com/eugenenazirov/stamp-calculator/internal/domain"
)

type addStampRequest struct {
	Name      string          `json:"name"`
	FaceValue decimal.Decimal `json:"faceValue"`
	Currency  string          `json:"currency"`
	Quantity  *int            `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

type consumeRequest struct {
	Stamps []struct {
		ID       int64 `json:"id"`
		Quantity int   `json:"quantity"`
	} `json:"stamps"`
}

type stampsResponse struct {
	Stamps  []stampResponse `json:"stamps"`
	Count   int             `json:"count"`
	Message string          `json:"message,omitempty"`
}

type clearResponse struct {
	Removed int    `json:"removed"`
	Message string `json:"message"`
}

func (h *Handler) handleListStamps(w http.ResponseWriter, r *http.Request) {
	stamps, err := h.storage.ListStamps(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stampsResponse{Stamps: newStampResponses(stamps), Count: len(stamps)})
}

func (h *Handler) handleAddStamp(w http.ResponseWriter, r *http.Request) {
	var req addStampRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	c, err := currency.Parse(req.Currency)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	saved, err := h.storage.AddStamp(r.Context(), domain.Stamp{
		Name:      req.Name,
		FaceValue: req.FaceValue,
		Currency:  c,
		Quantity:  quantity,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newStampResponse(saved))
}

func (h *Handler) handleClearStamps(w http.ResponseWriter, r *http.Request) {
	removed, err := h.storage.ClearStamps(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clearResponse{
		Removed: removed,
		Message: fmt.Sprintf("Removed %d stamps from the collection", removed),
	})
}

func (h *Handler) handleGetStamp(w http.ResponseWriter, r *http.Request) {
	id, ok := stampIDParam(w, r)
	if !ok {
		return
	}
	st, err := h.storage.GetStamp(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStampResponse(st))
}

func (h *Handler) handleUpdateStampQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := stampIDParam(w, r)
	if !ok {
		return
	}
	var req updateQuantityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		writeError(w, http.StatusBadRequest, "Invalid request", "quantity is required")
		return
	}

	st, err := h.storage.UpdateStampQuantity(r.Context(), id, *req.Quantity)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStampResponse(st))
}

func (h *Handler) handleDeleteStamp(w http.ResponseWriter, r *http.Request) {
	id, ok := stampIDParam(w, r)
	if !ok {
		return
	}
	if err := h.storage.DeleteStamp(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConsumeStamps removes the stamps of a chosen combination from the collection.
func (h *Handler) handleConsumeStamps(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	usage := make(map[int64]int, len(req.Stamps))
	for _, s := range req.Stamps {
		usage[s.ID] += s.Quantity
	}

	updated, err := h.storage.ConsumeStamps(r.Context(), usage)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stampsResponse{
		Stamps:  newStampResponses(updated),
		Count:   len(updated),
		Message: "Stamps removed from the collection",
	})
}

func stampIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", fmt.Sprintf("stamp id %q must be a positive integer", raw))
		return 0, false
	}
	return id, true
}
