// Package handler exposes the settlement pipeline over HTTP and owns the
// mapping from domain errors to status codes.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/mingrao/skewer-shop/internal/domain/auth"
	"github.com/mingrao/skewer-shop/internal/domain/catalog"
	"github.com/mingrao/skewer-shop/internal/domain/discount"
	"github.com/mingrao/skewer-shop/internal/domain/order"
	"github.com/mingrao/skewer-shop/internal/domain/store"
	"github.com/mingrao/skewer-shop/internal/payment"
)

// DuplicateFilter pre-filters redelivered settlement notifications. It is an
// optimization only; the conditional settlement transition remains the
// correctness mechanism, so implementations must fail open. Release gives a
// claimed key back when the work behind it failed and should be retried.
type DuplicateFilter interface {
	FirstSighting(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
}

// Handler serves the order and payment API.
type Handler struct {
	assembler  *order.Assembler
	reconciler *order.Reconciler
	orders     order.Repository
	gateway    payment.Gateway
	guard      DuplicateFilter
	sessions   auth.Repository
	promos     discount.PromoRepository
}

// NewHandler wires the HTTP layer. guard may be nil; the webhook then
// relies solely on the conditional settlement transition.
func NewHandler(
	assembler *order.Assembler,
	reconciler *order.Reconciler,
	orders order.Repository,
	gateway payment.Gateway,
	guard DuplicateFilter,
	sessions auth.Repository,
	promos discount.PromoRepository,
) *Handler {
	return &Handler{
		assembler:  assembler,
		reconciler: reconciler,
		orders:     orders,
		gateway:    gateway,
		guard:      guard,
		sessions:   sessions,
		promos:     promos,
	}
}

// Register mounts all routes on mux. Every route except the payment webhook
// requires a bearer session.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", h.requireAuth(h.createOrder))
	mux.HandleFunc("GET /api/orders", h.requireAuth(h.listOrders))
	mux.HandleFunc("GET /api/orders/{id}", h.requireAuth(h.getOrder))
	mux.HandleFunc("POST /api/orders/{id}/cancel", h.requireAuth(h.cancelOrder))
	mux.HandleFunc("POST /api/orders/{id}/complete", h.requireAuth(h.completeOrder))

	mux.HandleFunc("POST /api/payment/create", h.requireAuth(h.createPayment))
	mux.HandleFunc("POST /api/payment/notify", h.paymentNotify)
	mux.HandleFunc("GET /api/payment/query/{id}", h.requireAuth(h.queryPayment))

	mux.HandleFunc("POST /api/coupons/redeem", h.requireAuth(h.redeemCode))
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors onto the HTTP taxonomy. Messages for 4xx
// come from the error itself; 5xx responses never leak internals.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr *catalog.InsufficientStockError
		stateErr *order.InvalidStateError
		gwErr    *payment.GatewayError
	)

	switch {
	case errors.Is(err, order.ErrEmptySelection),
		errors.Is(err, order.ErrAddressRequired),
		errors.Is(err, order.ErrInvalidDeliveryMode):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: 400, Message: err.Error()})

	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, discount.ErrNotFound),
		errors.Is(err, discount.ErrCodeNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Code: 404, Message: err.Error()})

	case errors.Is(err, order.ErrDeliveryDisabled),
		errors.Is(err, discount.ErrAlreadyRedeemed):
		writeJSON(w, http.StatusConflict, errorResponse{Code: 409, Message: err.Error()})

	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, errorResponse{Code: 409, Message: stockErr.Error()})

	case errors.As(err, &stateErr):
		writeJSON(w, http.StatusConflict, errorResponse{Code: 409, Message: stateErr.Error()})

	case errors.Is(err, store.ErrNotConfigured),
		errors.Is(err, payment.ErrUnavailable),
		errors.As(err, &gwErr):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: 503, Message: "service temporarily unavailable, retry later"})

	default:
		zctx.From(r.Context()).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: 500, Message: "internal error"})
	}
}

func decodeBody(r *http.Request, into any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(into)
}

// lineItemResponse is the wire form of one order line.
type lineItemResponse struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Bonus     bool   `json:"bonus,omitempty"`
}

// orderResponse is the wire form of an order. Money travels as fixed
// two-decimal strings.
type orderResponse struct {
	ID             string             `json:"id"`
	OrderNo        string             `json:"orderNo"`
	Items          []lineItemResponse `json:"items"`
	Subtotal       string             `json:"subtotal"`
	DiscountAmount string             `json:"discountAmount"`
	DeliveryFee    string             `json:"deliveryFee"`
	Total          string             `json:"total"`
	DeliveryMode   string             `json:"deliveryMode"`
	Remark         string             `json:"remark,omitempty"`
	Status         string             `json:"status"`
	CancelReason   string             `json:"cancelReason,omitempty"`
	CreatedAt      time.Time          `json:"createdAt"`
	PaidAt         *time.Time         `json:"paidAt,omitempty"`
	CompletedAt    *time.Time         `json:"completedAt,omitempty"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]lineItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = lineItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Quantity:  item.Quantity,
			Bonus:     item.Bonus,
		}
	}
	return orderResponse{
		ID:             o.ID,
		OrderNo:        o.OrderNo,
		Items:          items,
		Subtotal:       o.Subtotal.StringFixed(2),
		DiscountAmount: o.DiscountAmount.StringFixed(2),
		DeliveryFee:    o.DeliveryFee.StringFixed(2),
		Total:          o.Total.StringFixed(2),
		DeliveryMode:   string(o.DeliveryMode),
		Remark:         o.Remark,
		Status:         string(o.Status),
		CancelReason:   o.CancelReason,
		CreatedAt:      o.CreatedAt,
		PaidAt:         o.PaidAt,
		CompletedAt:    o.CompletedAt,
	}
}
