package handler

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/auth"
	"github.com/vyrodovalexey/cartsync/internal/model"
)

// Login handles POST /api/auth/login requests.
func (h *RESTHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input model.LoginRequest
	if !h.decodeBody(w, r, &input) {
		return
	}

	user, err := h.users.Authenticate(input.Email, input.Password)
	if err != nil {
		h.logger.Info("login rejected", zap.String("email", input.Email), zap.Error(err))
		h.handleAuthError(w, err, "login")
		return
	}

	h.writeToken(w, http.StatusOK, user)
}

// Register handles POST /api/auth/register requests. The account stays
// unverified until the one-time password is confirmed, so no token is
// returned.
func (h *RESTHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input model.RegisterRequest
	if !h.decodeBody(w, r, &input) {
		return
	}

	user, err := h.users.Register(r.Context(), input.Username, input.Email, input.Password)
	if err != nil {
		h.handleAuthError(w, err, "register")
		return
	}

	h.writeJSON(w, http.StatusCreated, model.NewSuccessResponse(model.AuthResult{
		User:    user,
		Message: "verification code sent",
	}))
}

// VerifyOTP handles POST /api/auth/verify-otp requests.
func (h *RESTHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var input model.VerifyOTPRequest
	if !h.decodeBody(w, r, &input) {
		return
	}

	user, err := h.users.VerifyOTP(input.Email, input.OTP)
	if err != nil {
		h.handleAuthError(w, err, "verify otp")
		return
	}

	h.writeToken(w, http.StatusOK, user)
}

func (h *RESTHandler) writeToken(w http.ResponseWriter, status int, user *model.User) {
	token, expiresAt, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, status, model.NewSuccessResponse(model.AuthResult{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user,
	}))
}

// Profile handles GET /api/user/profile requests.
func (h *RESTHandler) Profile(w http.ResponseWriter, r *http.Request) {
	info, ok := auth.FromContext(r.Context())
	if !ok || info.Subject == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	username, _ := info.Claims[auth.ClaimUsername].(string)
	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(model.User{
		ID:       model.ID(info.Subject),
		Username: username,
		Email:    info.Email(),
	}))
}

// ListProducts handles GET /api/products requests.
func (h *RESTHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.Products(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "failed to retrieve products")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(products))
}

// GetProduct handles GET /api/products/{id} requests.
func (h *RESTHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.store.Product(r.Context(), model.ID(mux.Vars(r)["id"]))
	if err != nil {
		h.handleStoreError(w, err, "get product")
		return
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(product))
}

// ListAddresses handles GET /api/user/addresses requests.
func (h *RESTHandler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	addresses, err := h.store.Addresses(r.Context(), owner)
	if err != nil {
		h.handleStoreError(w, err, "list addresses")
		return
	}
	if addresses == nil {
		addresses = []model.Address{}
	}

	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(addresses))
}

// AddAddress handles POST /api/user/addresses requests.
func (h *RESTHandler) AddAddress(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var input model.Address
	if !h.decodeBody(w, r, &input) {
		return
	}

	address, err := h.store.AddAddress(r.Context(), owner, input)
	if err != nil {
		h.handleStoreError(w, err, "add address")
		return
	}

	h.writeJSON(w, http.StatusCreated, model.NewSuccessResponse(address))
}

// Checkout handles POST /api/checkout requests. The cart is emptied and the
// owner's subscribers receive order_completed.
func (h *RESTHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}

	var input model.CheckoutRequest
	if !h.decodeBody(w, r, &input) {
		return
	}

	order, err := h.store.Checkout(r.Context(), owner, input.ShippingAddressID)
	if err != nil {
		h.handleStoreError(w, err, "checkout")
		return
	}

	h.logger.Info("order placed",
		zap.String("order_id", order.ID.String()),
		zap.String("owner", owner),
		zap.Stringer("total", order.Total),
	)
	h.events.Publish(owner, model.NewOrderCompletedEvent(order.ID))
	h.writeJSON(w, http.StatusCreated, model.NewSuccessResponse(order))
}
