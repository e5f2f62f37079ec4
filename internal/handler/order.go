package handler

import (
	"net/http"
	"strconv"

	"github.com/mingrao/skewer-shop/internal/domain/order"
	"github.com/mingrao/skewer-shop/internal/domain/store"
)

type createOrderRequest struct {
	CartLineIDs       []string `json:"cartLineIds"`
	DeliveryMode      string   `json:"deliveryMode"`
	DeliveryAddressID string   `json:"deliveryAddressId,omitempty"`
	CouponID          string   `json:"couponId,omitempty"`
	VoucherIDs        []string `json:"voucherIds,omitempty"`
	Remark            string   `json:"remark,omitempty"`
}

type createOrderResponse struct {
	Order    orderResponse `json:"order"`
	Warnings []string      `json:"warnings,omitempty"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
		return
	}

	res, err := h.assembler.CreateOrder(r.Context(), order.CreateOrderRequest{
		OwnerID:           userID(r.Context()),
		CartLineIDs:       req.CartLineIDs,
		DeliveryMode:      store.DeliveryMode(req.DeliveryMode),
		DeliveryAddressID: req.DeliveryAddressID,
		CouponID:          req.CouponID,
		VoucherIDs:        req.VoucherIDs,
		Remark:            req.Remark,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createOrderResponse{
		Order:    toOrderResponse(res.Order),
		Warnings: res.Warnings,
	})
}

type listOrdersResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := intQuery(q.Get("page"), 1)
	pageSize := intQuery(q.Get("pageSize"), 10)
	status := order.Status(q.Get("status"))

	orders, total, err := h.orders.ListForOwner(r.Context(), userID(r.Context()), status, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: out, Total: total, Page: page})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetForOwner(r.Context(), userID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type cancelOrderRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Code: 400, Message: "invalid request body"})
			return
		}
	}

	o, err := h.reconciler.Cancel(r.Context(), userID(r.Context()), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) completeOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.reconciler.Complete(r.Context(), userID(r.Context()), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func intQuery(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	return n
}
