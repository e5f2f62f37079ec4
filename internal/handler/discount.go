package handler

import (
	"net/http"

	"github.com/mingrao/skewer-shop/internal/domain/discount"
)

type redeemCodeRequest struct {
	Code string `json:"code"`
}

// instrumentResponse is the wire form of an issued discount instrument.
type instrumentResponse struct {
	ID              string `json:"id"`
	Kind            string `json:"kind"`
	Name            string `json:"name"`
	Value           string `json:"value"`
	MinSpend        string `json:"minSpend"`
	ScopedProductID string `json:"scopedProductId,omitempty"`
	Status          string `json:"status"`
}

// redeemCode turns a promo code into an owned discount instrument. The
// instrument id is what checkout then accepts as couponId.
func (h *Handler) redeemCode(w http.ResponseWriter, r *http.Request) {
	var req redeemCodeRequest
	if err := decodeBody(r, &req); err != nil || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	ins, err := discount.Redeem(r.Context(), h.promos, userID(r.Context()), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, instrumentResponse{
		ID:              ins.ID,
		Kind:            string(ins.Kind),
		Name:            ins.Name,
		Value:           ins.Value.StringFixed(2),
		MinSpend:        ins.MinSpend.StringFixed(2),
		ScopedProductID: ins.ScopedProductID,
		Status:          string(ins.Status),
	})
}
