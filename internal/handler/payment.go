package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mingrao/skewer-shop/internal/domain/order"
	"github.com/mingrao/skewer-shop/internal/payment"
)

type createPaymentRequest struct {
	OrderID string `json:"orderId"`
}

// createPayment registers a payment intent for a pending order and hands
// the provider invocation parameters to the client.
func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	var req createPaymentRequest
	if err := decodeBody(r, &req); err != nil || req.OrderID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	owner := userID(r.Context())
	o, err := h.orders.GetForOwner(r.Context(), owner, req.OrderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if o.Status != order.StatusPending {
		writeError(w, r, &order.InvalidStateError{Current: o.Status})
		return
	}

	intent, err := h.gateway.CreateIntent(r.Context(), o.OrderNo, minorUnits(o.Total), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// paymentNotify is the provider webhook. Processing is deliberately
// asymmetric: a signature failure is rejected, but once the notification is
// verified the response is always an ack, even when settlement errors out.
// The provider redelivers until acked; the conditional settlement
// transition makes those retries harmless.
func (h *Handler) paymentNotify(w http.ResponseWriter, r *http.Request) {
	lg := zctx.From(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ackResponse("FAIL", "unreadable body"))
		return
	}

	n, err := h.gateway.ParseNotification(r.Header, body)
	if err != nil {
		if errors.Is(err, payment.ErrBadSignature) {
			lg.Warn("webhook signature rejected")
			writeJSON(w, http.StatusUnauthorized, ackResponse("FAIL", "invalid signature"))
			return
		}
		writeJSON(w, http.StatusBadRequest, ackResponse("FAIL", "malformed notification"))
		return
	}

	h.settle(r, n)
	writeJSON(w, http.StatusOK, ackResponse("SUCCESS", ""))
}

// queryPayment is the client-side poll. It asks the provider for the
// transaction state and funnels a success into the same settlement path the
// webhook uses.
func (h *Handler) queryPayment(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetForOwner(r.Context(), userID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if o.Status == order.StatusPending {
		n, err := h.gateway.QueryStatus(r.Context(), o.OrderNo)
		if err != nil {
			writeError(w, r, err)
			return
		}
		h.settle(r, n)

		if refreshed, err := h.orders.GetForOwner(r.Context(), userID(r.Context()), r.PathValue("id")); err == nil {
			o = refreshed
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"orderNo": o.OrderNo,
		"status":  string(o.Status),
	})
}

// settle funnels a verified notification into the reconciler. Only SUCCESS
// settles; other states are logged and dropped. Errors are logged, never
// surfaced: both callers ack regardless.
func (h *Handler) settle(r *http.Request, n *payment.Notification) {
	lg := zctx.From(r.Context())

	if n.Status != payment.StatusSuccess {
		lg.Info("ignoring non-success payment state",
			zap.String("order_no", n.OrderNo),
			zap.String("state", string(n.Status)),
		)
		return
	}

	key := "settle:" + n.OrderNo + ":" + n.TransactionID
	if h.guard != nil && !h.guard.FirstSighting(r.Context(), key) {
		lg.Info("duplicate notification dropped", zap.String("order_no", n.OrderNo))
		return
	}

	outcome, _, err := h.reconciler.ConfirmPayment(r.Context(), n.OrderNo)
	if err != nil {
		// Give the claim back so the provider's redelivery retries the
		// settlement instead of being dropped for the guard's TTL.
		if h.guard != nil {
			h.guard.Release(r.Context(), key)
		}
		lg.Error("settlement failed", zap.String("order_no", n.OrderNo), zap.Error(err))
		return
	}
	if outcome == order.OutcomeNotFound {
		lg.Warn("notification for unknown order", zap.String("order_no", n.OrderNo))
	}
}

func ackResponse(code, message string) map[string]string {
	resp := map[string]string{"code": code}
	if message != "" {
		resp["message"] = message
	}
	return resp
}

// minorUnits converts a two-decimal amount into integer minor units.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).IntPart()
}
