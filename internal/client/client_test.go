package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL+"/api", opts...)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
		wantErr error
	}{
		{name: "trims trailing slash", baseURL: "http://localhost:5001/api/", want: "http://localhost:5001/api"},
		{name: "trims whitespace", baseURL: "  http://x/api ", want: "http://x/api"},
		{name: "empty", baseURL: "", wantErr: ErrEmptyBaseURL},
		{name: "only slash", baseURL: "/", wantErr: ErrEmptyBaseURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.baseURL)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.BaseURL())
			assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
		})
	}
}

func TestFetchCart_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantIDs   []model.ID
		wantPrice string
	}{
		{
			name:    "bare array",
			body:    `[{"id":"a","productId":"p1","quantity":2,"product":{"id":"p1","name":"Mug","price":"9.50"}}]`,
			wantIDs: []model.ID{"a"}, wantPrice: "9.5",
		},
		{
			name:    "items wrapper",
			body:    `{"items":[{"id":"a","productId":"p1","quantity":1,"product":{"id":"p1","price":3}}],"count":1}`,
			wantIDs: []model.ID{"a"}, wantPrice: "3",
		},
		{
			name:    "legacy cart wrapper with numeric ids",
			body:    `{"cart":{"id":7,"CartItems":[{"id":11,"quantity":1,"price":"12.00","productId":5,"Product":{"id":5,"name":"Tee","price":"12.00"}}]}}`,
			wantIDs: []model.ID{"11"}, wantPrice: "12",
		},
		{
			name:    "success envelope",
			body:    `{"success":true,"data":{"items":[{"id":"x","productId":"p","quantity":1,"product":{"id":"p","price":1.25}}]}}`,
			wantIDs: []model.ID{"x"}, wantPrice: "1.25",
		},
		{
			name:    "empty cart object",
			body:    `{"cart":null}`,
			wantIDs: []model.ID{},
		},
		{
			name:    "empty body",
			body:    ``,
			wantIDs: []model.ID{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/api/cart", r.URL.Path)
				_, _ = io.WriteString(w, tt.body)
			})

			// Act
			items, err := c.FetchCart(context.Background())

			// Assert
			require.NoError(t, err)
			ids := make([]model.ID, 0, len(items))
			for _, item := range items {
				ids = append(ids, item.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
			if tt.wantPrice != "" {
				assert.True(t, items[0].Product.Price.Equal(decimal.RequireFromString(tt.wantPrice)),
					"price %s", items[0].Product.Price)
			}
		})
	}
}

func TestFetchCart_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `"nope"`)
	})

	_, err := c.FetchCart(context.Background())

	assert.ErrorIs(t, err, ErrUnexpectedBody)
}

func TestBearerToken(t *testing.T) {
	var token atomic.Value
	token.Store("")

	var gotAuth atomic.Value
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `[]`)
	}, WithTokenSource(TokenFunc(func() string { return token.Load().(string) })))

	_, err := c.FetchCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", gotAuth.Load())

	token.Store("abc")
	_, err = c.FetchCart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", gotAuth.Load())
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantIs      error
		wantMessage string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"error":"Cart item not found"}`, wantIs: ErrNotFound, wantMessage: "Cart item not found"},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"code":401,"message":"invalid token"}`, wantIs: ErrUnauthorized, wantMessage: "invalid token"},
		{name: "bad request plain text", status: http.StatusBadRequest, body: "bad quantity\n", wantMessage: "bad quantity"},
		{name: "server error", status: http.StatusInternalServerError, body: ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			err := c.RemoveItem(context.Background(), "item-1")

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.wantMessage, apiErr.Message)
			if tt.wantIs != nil {
				assert.ErrorIs(t, err, tt.wantIs)
			} else {
				assert.NotErrorIs(t, err, ErrNotFound)
				assert.NotErrorIs(t, err, ErrUnauthorized)
			}
		})
	}
}

func TestAddItem_Body(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]any{"productId": "p-1", "quantity": float64(3)}, body)
		w.WriteHeader(http.StatusCreated)
	})

	require.NoError(t, c.AddItem(context.Background(), "p-1", 3))
}

func TestUpdateItem_Echo(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantNil bool
		wantQty int
	}{
		{name: "envelope with row", body: `{"success":true,"data":{"id":"i1","productId":"p1","quantity":4}}`, wantQty: 4},
		{name: "bare row", body: `{"id":"i1","quantity":5,"product":{"id":"p1"}}`, wantQty: 5},
		{name: "message only", body: `{"message":"Cart updated"}`, wantNil: true},
		{name: "no body", body: ``, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPut, r.Method)
				assert.Equal(t, "/api/cart/i1", r.URL.Path)
				_, _ = io.WriteString(w, tt.body)
			})

			item, err := c.UpdateItem(context.Background(), "i1", 4)

			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, item)
				return
			}
			require.NotNil(t, item)
			assert.Equal(t, model.ID("i1"), item.ID)
			assert.Equal(t, model.ID("p1"), item.ProductID)
			assert.Equal(t, tt.wantQty, item.Quantity)
		})
	}
}

func TestLogin(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantToken string
		wantErr   error
	}{
		{name: "bare", body: `{"token":"t1","user":{"id":1,"email":"a@b.c"}}`, wantToken: "t1"},
		{name: "envelope", body: `{"success":true,"data":{"token":"t2"}}`, wantToken: "t2"},
		{name: "otp required", body: `{"message":"OTP sent"}`, wantErr: ErrNoToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/auth/login", r.URL.Path)
				_, _ = io.WriteString(w, tt.body)
			})

			result, err := c.Login(context.Background(), "a@b.c", "secret")

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantToken, result.Token)
		})
	}
}

func TestRegister_WithoutToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"message":"OTP sent to email"}`)
	})

	result, err := c.Register(context.Background(), "ann", "ann@example.com", "password1")

	require.NoError(t, err)
	assert.Empty(t, result.Token)
	assert.Equal(t, "OTP sent to email", result.Message)
}

func TestProductsAndCheckout(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/products", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"products":[{"id":1,"name":"Mug","price":"4.00"},{"id":2,"name":"Tee","price":"12.50"}]}`)
	})
	mux.HandleFunc("/api/products/2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"success":true,"data":{"id":2,"name":"Tee","price":"12.50"}}`)
	})
	mux.HandleFunc("/api/checkout", func(w http.ResponseWriter, r *http.Request) {
		var req model.CheckoutRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, model.ID("addr-1"), req.ShippingAddressID)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"message":"Order placed","order":{"id":"o-1","status":"pending","total":"16.50"}}`)
	})
	c := newTestClient(t, mux.ServeHTTP)
	ctx := context.Background()

	products, err := c.Products(ctx)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, model.ID("1"), products[0].ID)

	product, err := c.Product(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, "Tee", product.Name)

	order, err := c.Checkout(ctx, "addr-1")
	require.NoError(t, err)
	assert.Equal(t, model.ID("o-1"), order.ID)
	assert.True(t, order.Total.Equal(decimal.RequireFromString("16.5")))
}

func TestAddresses(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"success":true,"data":{"id":"a-2","fullName":"Ann","city":"Oslo"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"addresses":[{"id":"a-1","fullName":"Ann","isDefault":true}]}`)
	})
	ctx := context.Background()

	list, err := c.Addresses(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].IsDefault)

	created, err := c.AddAddress(ctx, model.Address{FullName: "Ann", City: "Oslo"})
	require.NoError(t, err)
	assert.Equal(t, model.ID("a-2"), created.ID)
}

func TestRateLimit(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `[]`)
	}, WithRateLimit(1, 1))

	_, err := c.FetchCart(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.FetchCart(ctx)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.FetchCart(context.Background())

	require.Error(t, err)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
}

func TestEventStreamURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{base: "http://localhost:5001/api", want: "ws://localhost:5001/api/ws"},
		{base: "https://shop.example/api", want: "wss://shop.example/api/ws"},
		{base: "ftp://x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := eventStreamURL(tt.base)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedScheme)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWatchEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !assert.Equal(t, "/api/ws", r.URL.Path) {
			return
		}
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(model.NewCartEvent(model.EventTypePing, 0))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{broken"))
		_ = conn.WriteJSON(model.NewOrderCompletedEvent("o-9"))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}, WithTokenSource(TokenFunc(func() string { return "tok" })))

	var received []model.CartEvent
	err := c.WatchEvents(context.Background(), func(_ context.Context, e model.CartEvent) {
		received = append(received, e)
	})

	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, model.EventTypeOrderCompleted, received[0].Type)
	assert.Equal(t, model.ID("o-9"), received[0].OrderID)
}

func TestWatchEvents_HandshakeRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	})

	err := c.WatchEvents(context.Background(), func(context.Context, model.CartEvent) {})

	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestWatchEvents_ContextCanceled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	err := c.WatchEvents(ctx, func(context.Context, model.CartEvent) {})

	assert.NoError(t, err)
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "x", errorMessage([]byte(`{"error":"x","message":"y"}`)))
	assert.Equal(t, "y", errorMessage([]byte(`{"message":"y"}`)))
	assert.Equal(t, "plain", errorMessage([]byte(" plain \n")))
	assert.True(t, strings.HasPrefix(errorMessage([]byte(`{}`)), "{"))
}
