package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/eugenenazirov/stamp-calculator/internal/calculator"
	"github.com/eugenenazirov/stamp-calculator/internal/currency"
	"github.com/eugenenazirov/stamp-calculator/internal/planner"
	"github.com/eugenenazirov/stamp-calculator/internal/storage"
)

type calculateRequest struct {
	Target     decimal.NullDecimal `json:"target"`
	Rate       string              `json:"rate"`
	MaxStamps  int                 `json:"maxStamps"`
	MaxOverpay decimal.NullDecimal `json:"maxOverpay"`
}

type usedStampResponse struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	FaceValue json.Number `json:"faceValue"`
	Currency  string      `json:"currency"`
	Quantity  int         `json:"quantity"`
}

type combinationResponse struct {
	Stamps          []usedStampResponse `json:"stamps"`
	TotalValue      json.Number         `json:"totalValue"`
	Overpay         json.Number         `json:"overpay"`
	TotalStampCount int                 `json:"totalStampCount"`
	DistinctStamps  int                 `json:"distinctStamps"`
}

type calculateResponse struct {
	Target            json.Number           `json:"target"`
	Rate              string                `json:"rate,omitempty"`
	MaxOverpay        json.Number           `json:"maxOverpay"`
	MaxStamps         int                   `json:"maxStamps"`
	Combinations      []combinationResponse `json:"combinations"`
	Accepted          int                   `json:"accepted"`
	Incomplete        bool                  `json:"incomplete"`
	Cached            bool                  `json:"cached"`
	Message           string                `json:"message,omitempty"`
	CalculationTimeMs int64                 `json:"calculationTimeMs"`
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.MaxStamps < 0 {
		writeError(w, http.StatusBadRequest, "Invalid request", "maxStamps must not be negative")
		return
	}

	out, err := h.finder.FindCombinations(r.Context(), planner.Query{
		Target:     req.Target,
		RateName:   strings.TrimSpace(req.Rate),
		MaxStamps:  req.MaxStamps,
		MaxOverpay: req.MaxOverpay,
	})
	if err != nil {
		switch {
		case errors.Is(err, planner.ErrSearchTimeout):
			writeError(w, http.StatusGatewayTimeout, "Calculation timed out", err.Error(),
				"Lower maxStamps or maxOverpay to narrow the search")
		case errors.Is(err, storage.ErrRateNotFound):
			writeStoreError(w, err)
		case errors.Is(err, calculator.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, "Invalid request", err.Error(),
				"Send a positive target in euros or the name of a stored rate, and a non-negative maxOverpay")
		default:
			writeInternalError(w, err)
		}
		return
	}

	combos := make([]combinationResponse, 0, len(out.Result.Combinations))
	for _, c := range out.Result.Combinations {
		stamps := make([]usedStampResponse, 0, len(c.Stamps))
		for _, s := range c.Stamps {
			places := currency.EUR.Decimals()
			if cur, err := currency.Parse(s.Currency); err == nil {
				places = cur.Decimals()
			}
			stamps = append(stamps, usedStampResponse{
				ID:        s.ID,
				Name:      s.Name,
				FaceValue: amount(s.FaceValue, places),
				Currency:  s.Currency,
				Quantity:  s.Quantity,
			})
		}
		combos = append(combos, combinationResponse{
			Stamps:          stamps,
			TotalValue:      euros(c.TotalValue),
			Overpay:         euros(c.Overpay),
			TotalStampCount: c.TotalStamps,
			DistinctStamps:  c.DistinctStamps(),
		})
	}

	resp := calculateResponse{
		Target:            euros(out.Request.Target),
		MaxOverpay:        euros(out.Request.Overpay()),
		MaxStamps:         out.Request.MaxLength(),
		Combinations:      combos,
		Accepted:          out.Result.Accepted,
		Incomplete:        out.Result.Incomplete,
		Cached:            out.Cached,
		CalculationTimeMs: out.Duration.Milliseconds(),
	}
	if out.Rate != nil {
		resp.Rate = out.Rate.Name
	}
	if len(combos) == 0 {
		resp.Message = "No combination of owned stamps covers the target within the overpay margin"
	}
	writeJSON(w, http.StatusOK, resp)
}
