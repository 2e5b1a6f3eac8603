package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// GetCart handles GET /api/cart requests.
func (h *RESTHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	items, err := h.store.Items(r.Context(), owner)
	if err != nil {
		h.handleStoreError(w, err, "get cart")
		return
	}

	view := model.CartView{
		Items:      items,
		Aggregates: model.ComputeAggregates(items),
	}
	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(view))
}

// AddCartItem handles POST /api/cart requests.
func (h *RESTHandler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var input model.AddCartItemRequest
	if !h.decodeBody(w, r, &input) {
		return
	}

	item, err := h.store.AddItem(r.Context(), owner, input.ProductID, input.Quantity)
	if err != nil {
		h.handleStoreError(w, err, "add cart item")
		return
	}

	h.publishCartUpdate(r.Context(), owner)
	h.writeJSON(w, http.StatusCreated, model.NewSuccessResponse(item))
}

// UpdateCartItem handles PUT /api/cart/{id} requests.
func (h *RESTHandler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id := model.ID(mux.Vars(r)["id"])

	var input model.UpdateCartItemRequest
	if !h.decodeBody(w, r, &input) {
		return
	}

	item, err := h.store.SetQuantity(r.Context(), owner, id, input.Quantity)
	if err != nil {
		h.handleStoreError(w, err, "update cart item")
		return
	}

	h.publishCartUpdate(r.Context(), owner)
	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(item))
}

// RemoveCartItem handles DELETE /api/cart/{id} requests.
func (h *RESTHandler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	id := model.ID(mux.Vars(r)["id"])

	if err := h.store.RemoveItem(r.Context(), owner, id); err != nil {
		h.handleStoreError(w, err, "delete cart item")
		return
	}

	h.publishCartUpdate(r.Context(), owner)
	h.writeJSON(w, http.StatusNoContent, nil)
}

// publishCartUpdate notifies the owner's subscribers of the new item count.
func (h *RESTHandler) publishCartUpdate(ctx context.Context, owner string) {
	items, err := h.store.Items(ctx, owner)
	if err != nil {
		h.logger.Warn("skipping cart event", zap.String("owner", owner), zap.Error(err))
		return
	}
	count := model.ComputeAggregates(items).Count
	h.events.Publish(owner, model.NewCartEvent(model.EventTypeCartUpdated, count))
}
