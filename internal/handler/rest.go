package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/auth"
	"github.com/vyrodovalexey/cartsync/internal/model"
	"github.com/vyrodovalexey/cartsync/internal/store"
)

// Version is the application version.
const Version = "1.0.0"

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// RESTHandler serves the cart, account, catalog and checkout endpoints.
type RESTHandler struct {
	store    store.Store
	tokens   *auth.TokenService
	users    *auth.UserDirectory
	events   EventPublisher
	validate *validator.Validate
	logger   *zap.Logger
}

// NewRESTHandler creates a new RESTHandler instance. A nil events publisher
// discards cart events.
func NewRESTHandler(
	s store.Store,
	tokens *auth.TokenService,
	users *auth.UserDirectory,
	events EventPublisher,
	logger *zap.Logger,
) *RESTHandler {
	if events == nil {
		events = noopPublisher{}
	}
	return &RESTHandler{
		store:    s,
		tokens:   tokens,
		users:    users,
		events:   events,
		validate: newValidator(),
		logger:   logger,
	}
}

// RegisterRoutes registers the probes on router and the API under /api.
func (h *RESTHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	router.HandleFunc("/ready", h.ReadyCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/cart", h.GetCart).Methods(http.MethodGet)
	api.HandleFunc("/cart", h.AddCartItem).Methods(http.MethodPost)
	api.HandleFunc("/cart/{id}", h.UpdateCartItem).Methods(http.MethodPut)
	api.HandleFunc("/cart/{id}", h.RemoveCartItem).Methods(http.MethodDelete)

	api.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/verify-otp", h.VerifyOTP).Methods(http.MethodPost)

	api.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", h.GetProduct).Methods(http.MethodGet)

	api.HandleFunc("/user/profile", h.Profile).Methods(http.MethodGet)
	api.HandleFunc("/user/addresses", h.ListAddresses).Methods(http.MethodGet)
	api.HandleFunc("/user/addresses", h.AddAddress).Methods(http.MethodPost)

	api.HandleFunc("/checkout", h.Checkout).Methods(http.MethodPost)
}

// HealthCheck handles GET /health requests.
func (h *RESTHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Version: Version,
	}
	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(response))
}

// ReadyCheck handles GET /ready requests. The server is ready once the
// catalog can be read.
func (h *RESTHandler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.Products(r.Context()); err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, model.NewSuccessResponse(ReadyResponse{Status: "ready"}))
}

// owner returns the authenticated subject, writing a 401 when there is none.
func (h *RESTHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	info, ok := auth.FromContext(r.Context())
	if !ok || info.Subject == "" {
		h.writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return info.Subject, true
}

// decodeBody decodes and validates a JSON request body into dst. It writes
// a 400 response and returns false on failure.
func (h *RESTHandler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(dst); err != nil {
		h.logger.Warn("invalid request body", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		h.logger.Warn("validation failed", zap.Error(err))
		h.writeValidationError(w, err)
		return false
	}

	return true
}

// handleStoreError handles store errors and writes appropriate HTTP responses.
func (h *RESTHandler) handleStoreError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "cart item not found")
	case errors.Is(err, store.ErrProductNotFound):
		h.writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, store.ErrAddressNotFound):
		h.writeError(w, http.StatusNotFound, "address not found")
	case errors.Is(err, store.ErrInvalidID):
		h.writeError(w, http.StatusBadRequest, "invalid ID")
	case errors.Is(err, store.ErrInvalidQuantity):
		h.writeError(w, http.StatusBadRequest, store.ErrInvalidQuantity.Error())
	case errors.Is(err, store.ErrInsufficientStock):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrEmptyCart):
		h.writeError(w, http.StatusBadRequest, "cart is empty")
	default:
		h.logger.Error("store operation failed", zap.String("operation", operation), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleAuthError maps account errors onto HTTP responses.
func (h *RESTHandler) handleAuthError(w http.ResponseWriter, err error, operation string) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		h.writeError(w, http.StatusUnauthorized, "invalid email or password")
	case errors.Is(err, auth.ErrNotVerified):
		h.writeError(w, http.StatusForbidden, "account is not verified")
	case errors.Is(err, auth.ErrUserExists):
		h.writeError(w, http.StatusConflict, "user already exists")
	case errors.Is(err, auth.ErrInvalidOTP):
		h.writeError(w, http.StatusBadRequest, "invalid or expired one-time password")
	default:
		h.logger.Error("account operation failed", zap.String("operation", operation), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a JSON response with the given status code.
func (h *RESTHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// writeError writes an error response with the given status code and message.
func (h *RESTHandler) writeError(w http.ResponseWriter, status int, message string) {
	response := model.ErrorResponse{
		Code:    status,
		Message: message,
	}
	h.writeJSON(w, status, response)
}

// writeValidationError lists every failed field as "field: reason".
func (h *RESTHandler) writeValidationError(w http.ResponseWriter, err error) {
	var details []string
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fe := range validationErrors {
			details = append(details, fe.Field()+": "+validationMessage(fe))
		}
	}

	h.writeJSON(w, http.StatusBadRequest, model.ErrorResponse{
		Code:    http.StatusBadRequest,
		Message: "request validation failed",
		Details: strings.Join(details, "; "),
	})
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "is invalid"
	}
}
