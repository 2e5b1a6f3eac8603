package cart

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/client"
	"github.com/vyrodovalexey/cartsync/internal/localstore"
	"github.com/vyrodovalexey/cartsync/internal/model"
	"github.com/vyrodovalexey/cartsync/internal/session"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Storage: localstore.NewMemoryStorage()})
	assert.ErrorIs(t, err, ErrNilRemote)

	_, err = New(Options{Remote: newFakeRemote()})
	assert.ErrorIs(t, err, ErrNilStorage)

	c, err := New(Options{Remote: newFakeRemote(), Storage: localstore.NewMemoryStorage()})
	require.NoError(t, err)
	assert.True(t, c.Loading(), "loading until Start returns")
	assert.Equal(t, StateGuest, c.State())
}

func TestCart_StartGuestRehydrates(t *testing.T) {
	// Arrange
	ctx := context.Background()
	storage := localstore.NewMemoryStorage()
	require.NoError(t, storage.Set(ctx, GuestCartKey,
		[]byte(`[{"id":"g-1","productId":"7","quantity":2,"product":{"id":"7","name":"Mug","price":"4.50"}}]`)))
	remote := newFakeRemote()
	c := newTestCart(t, remote, storage)

	// Act
	require.NoError(t, c.Start(ctx, false))

	// Assert
	assert.False(t, c.Loading())
	assert.Equal(t, StateGuest, c.State())
	assert.Equal(t, 2, c.Count())
	assert.True(t, c.Total().Equal(decimal.RequireFromString("9")))
	assert.Empty(t, remote.Calls())
}

func TestCart_StartAuthenticatedFetches(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.seed(product("7", "1.25"), 4)
	c := newTestCart(t, remote, nil)

	require.NoError(t, c.Start(ctx, true))

	assert.Equal(t, StateAuthenticated, c.State())
	assert.Equal(t, 4, c.Count())
	assert.True(t, c.Total().Equal(decimal.NewFromInt(5)))
}

func TestCart_StartAuthenticatedFetchFails(t *testing.T) {
	remote := newFakeRemote()
	remote.setFetchErr(errConnRefused)
	c := newTestCart(t, remote, nil)

	err := c.Start(context.Background(), true)

	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.False(t, c.Loading())
	assert.Equal(t, StateAuthenticated, c.State())
}

func TestCart_GuestMutationsPersist(t *testing.T) {
	// Arrange
	ctx := context.Background()
	storage := localstore.NewMemoryStorage()
	c := newTestCart(t, newFakeRemote(), storage)
	require.NoError(t, c.Start(ctx, false))

	// Act
	require.NoError(t, c.AddToCart(ctx, product("7", "3.00"), 1, ""))
	require.NoError(t, c.AddToCart(ctx, product("7", "3.00"), 2, ""))
	require.NoError(t, c.AddToCart(ctx, product("8", "1.00"), 1, ""))
	item := c.Items()[0]
	require.NoError(t, c.UpdateQuantity(ctx, item.ID, "", 5))
	require.NoError(t, c.RemoveFromCart(ctx, "", "8"))

	// Assert
	assert.Equal(t, 5, c.Count())
	assert.True(t, c.Total().Equal(decimal.NewFromInt(15)))

	reloaded := newTestCart(t, newFakeRemote(), storage)
	require.NoError(t, reloaded.Start(ctx, false))
	if diff := cmp.Diff(c.Items(), reloaded.Items(), cmpItems[0]); diff != "" {
		t.Errorf("guest storage does not mirror the store (-store +reloaded):\n%s", diff)
	}
}

func TestCart_GuestProductIDFallback(t *testing.T) {
	ctx := context.Background()
	c := newTestCart(t, newFakeRemote(), nil)
	require.NoError(t, c.Start(ctx, false))
	require.NoError(t, c.AddToCart(ctx, product("7", "2.00"), 1, ""))

	require.NoError(t, c.UpdateQuantity(ctx, "", "7", 3))
	assert.Equal(t, 3, c.Count())

	assert.ErrorIs(t, c.UpdateQuantity(ctx, "", "404", 3), ErrItemNotFound)

	require.NoError(t, c.RemoveFromCart(ctx, "", "7"))
	assert.Zero(t, c.Count())
}

func TestCart_InvalidQuantityIsLocal(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	id := remote.seed(product("7", "1.00"), 3)
	c := newTestCart(t, remote, nil)
	require.NoError(t, c.Start(ctx, true))
	before := c.Items()
	callsBefore := len(remote.Calls())

	for _, qty := range []int{0, -1} {
		assert.ErrorIs(t, c.UpdateQuantity(ctx, id, "7", qty), ErrInvalidQuantity)
		assert.ErrorIs(t, c.AddToCart(ctx, product("7", "1.00"), qty, ""), ErrInvalidQuantity)
	}

	assert.Equal(t, before, c.Items())
	assert.Len(t, remote.Calls(), callsBefore, "invalid quantities never reach the network")
}

func TestCart_AddToCartRequiresProductID(t *testing.T) {
	c := newTestCart(t, newFakeRemote(), nil)

	err := c.AddToCart(context.Background(), model.Product{Name: "nameless"}, 1, "")

	assert.ErrorIs(t, err, model.ErrEmptyProductID)
}

func TestCart_GuestPersistenceFailureDoesNotFailMutation(t *testing.T) {
	ctx := context.Background()
	storage := &failingStorage{Storage: localstore.NewMemoryStorage()}
	c := newTestCart(t, newFakeRemote(), storage)
	require.NoError(t, c.Start(ctx, false))
	storage.failSet = true

	err := c.AddToCart(ctx, product("7", "1.00"), 1, "")

	require.NoError(t, err)
	assert.Equal(t, 1, c.Count())
	assert.Equal(t, 1, storage.setCalls)
}

func TestCart_AuthenticatedAdd(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote(product("7", "2.00"))
	c := newTestCart(t, remote, nil)
	require.NoError(t, c.Start(ctx, true))

	require.NoError(t, c.AddToCart(ctx, product("7", "2.00"), 2, "ignored-variant"))

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, model.ID("srv-1"), items[0].ID)
	assert.True(t, items[0].VariantID.IsZero())
	assert.Equal(t, 2, c.Count())
}

// Authenticated user updates item 42 of product 7 from 3 to 5. The store shows
// 5 while the request is in flight; the request fails and the refetch puts
// the server's 3 back.
func TestCart_OptimisticUpdateRolledBackByRefetch(t *testing.T) {
	// Arrange
	ctx := context.Background()
	remote := newFakeRemote()
	remote.items = []model.CartItem{{ID: "42", ProductID: "7", Product: product("7", "1.00"), Quantity: 3}}
	c := newTestCart(t, remote, nil)
	require.NoError(t, c.Start(ctx, true))

	var optimistic int
	remote.updateHook = func(model.ID, int) {
		optimistic = c.Count()
	}
	remote.setUpdateErr(errConnRefused)

	// Act
	err := c.UpdateQuantity(ctx, "42", "7", 5)

	// Assert
	assert.ErrorIs(t, err, ErrNetworkFailure)
	assert.Equal(t, 5, optimistic, "store shows the optimistic quantity immediately")
	assert.Equal(t, 3, c.Items()[0].Quantity, "store reflects the server after refetch")
}

// Two rapid updates of one item, 3 to 4 then 4 to 5, settle at 5 even though
// the first request is slow.
func TestCart_RapidUpdatesSettleOnLast(t *testing.T) {
	// Arrange
	ctx := context.Background()
	remote := newFakeRemote()
	id := remote.seed(product("7", "1.00"), 3)
	c := newTestCart(t, remote, nil)
	require.NoError(t, c.Start(ctx, true))

	firstInFlight := make(chan struct{})
	releaseFirst := make(chan struct{})
	var once sync.Once
	remote.updateHook = func(_ model.ID, quantity int) {
		if quantity == 4 {
			once.Do(func() { close(firstInFlight) })
			<-releaseFirst
		}
	}

	// Act
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = c.UpdateQuantity(ctx, id, "7", 4)
	}()
	<-firstInFlight
	go func() {
		defer wg.Done()
		errs[1] = c.UpdateQuantity(ctx, id, "7", 5)
	}()
	time.Sleep(20 * time.Millisecond)
	close(releaseFirst)
	wg.Wait()

	// Assert
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 5, c.Items()[0].Quantity)
	assert.Equal(t, 5, remote.ServerItems()[0].Quantity)
	assert.Equal(t, []string{"GET /cart", "PUT /cart/srv-1 4", "PUT /cart/srv-1 5"}, remote.Calls())
}

func TestCart_AddWaitsForUpdateOfSameLine(t *testing.T) {
	// Arrange
	ctx := context.Background()
	remote := newFakeRemote()
	id := remote.seed(product("7", "1.00"), 3)
	c := newTestCart(t, remote, nil)
	require.NoError(t, c.Start(ctx, true))

	updateInFlight := make(chan struct{})
	releaseUpdate := make(chan struct{})
	remote.updateHook = func(model.ID, int) {
		close(updateInFlight)
		<-releaseUpdate
	}

	// Act
	updateErr := make(chan error, 1)
	go func() { updateErr <- c.UpdateQuantity(ctx, id, "", 5) }()
	<-updateInFlight

	addErr := make(chan error, 1)
	go func() { addErr <- c.AddToCart(ctx, product("7", "1.00"), 1, "") }()

	select {
	case err := <-addErr:
		t.Fatalf("add finished while the update was in flight: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(releaseUpdate)

	// Assert
	require.NoError(t, <-updateErr)
	require.NoError(t, <-addErr)
	assert.Equal(t, 6, c.Items()[0].Quantity)
	assert.Equal(t, 6, remote.ServerItems()[0].Quantity)
	assert.Equal(t, []string{"GET /cart", "PUT /cart/srv-1 5", "POST /cart 7 x1", "GET /cart"}, remote.Calls())
}

func TestCart_UpdateSurvivesConcurrentAddOfOtherLine(t *testing.T) {
	// Arrange
	ctx := context.Background()
	remote := newFakeRemote(product("8", "2.00"))
	id := remote.seed(product("7", "1.00"), 3)
	c := newTestCart(t, remote, nil)
	require.NoError(t, c.Start(ctx, true))

	updateInFlight := make(chan struct{})
	releaseUpdate := make(chan struct{})
	remote.updateHook = func(model.ID, int) {
		close(updateInFlight)
		<-releaseUpdate
	}

	// Act
	updateErr := make(chan error, 1)
	go func() { updateErr <- c.UpdateQuantity(ctx, id, "", 5) }()
	<-updateInFlight
	require.NoError(t, c.AddToCart(ctx, product("8", "2.00"), 1, ""), "fetch sees the old quantity of the other line")
	close(releaseUpdate)
	require.NoError(t, <-updateErr)

	// Assert
	line, ok := c.store.Find(id)
	require.True(t, ok)
	assert.Equal(t, 5, line.Quantity)
	assert.Equal(t, 5, remote.ServerItems()[0].Quantity)
}

func TestCart_AuthenticatedRemove(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.seed(product("7", "1.00"), 1)
	keep := remote.seed(product("8", "1.00"), 1)
	c := newTestCart(t, remote, nil)
	require.NoError(t, c.Start(ctx, true))

	require.NoError(t, c.RemoveFromCart(ctx, "", "7"))
	require.NoError(t, c.RemoveFromCart(ctx, "", "7"), "absent product is a no-op")
	require.NoError(t, c.RemoveFromCart(ctx, "srv-1", ""), "server 404 is not fatal")

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, keep, items[0].ID)
}

func TestCart_UnauthorizedClearsCredential(t *testing.T) {
	// Arrange
	ctx := context.Background()
	storage := localstore.NewMemoryStorage()
	tracker := session.NewTracker(storage, zap.NewNop())
	require.NoError(t, tracker.SetToken(ctx, "expired-on-server"))

	remote := newFakeRemote()
	remote.seed(product("7", "1.00"), 1)
	c, err := New(Options{
		Remote:  remote,
		Storage: storage,
		Logger:  zap.NewNop(),
		OnUnauthorized: func(ctx context.Context) {
			_ = tracker.Clear(ctx)
		},
	})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx, tracker.Authenticated()))
	unsubscribe := c.Observe(tracker)
	defer unsubscribe()

	remote.setFetchErr(&client.APIError{StatusCode: http.StatusUnauthorized, Message: "invalid token"})

	// Act
	err = c.Refresh(ctx)

	// Assert
	assert.ErrorIs(t, err, client.ErrUnauthorized)
	assert.False(t, tracker.Authenticated())
	assert.Equal(t, StateGuest, c.State(), "losing the credential drives the logout transition")
	assert.Zero(t, c.Count())
}

func TestCart_ObserveDrivesTransitions(t *testing.T) {
	// Arrange
	ctx := context.Background()
	storage := localstore.NewMemoryStorage()
	tracker := session.NewTracker(storage, zap.NewNop())
	remote := newFakeRemote(product("7", "2.00"), product("9", "1.00"))
	c := newTestCart(t, remote, storage)
	require.NoError(t, c.Start(ctx, tracker.Authenticated()))
	unsubscribe := c.Observe(tracker)
	defer unsubscribe()

	require.NoError(t, c.AddToCart(ctx, product("7", "2.00"), 2, ""))
	require.NoError(t, c.AddToCart(ctx, product("9", "1.00"), 1, ""))

	// Act: login
	require.NoError(t, tracker.SetToken(ctx, "token"))

	// Assert
	assert.Equal(t, StateAuthenticated, c.State())
	assert.Len(t, remote.ServerItems(), 2)
	assert.Equal(t, 3, c.Count())
	report, transitionErr := c.LastTransition()
	require.NoError(t, transitionErr)
	assert.Equal(t, 2, report.Migrated)

	// Act: logout
	require.NoError(t, tracker.Clear(ctx))

	// Assert
	assert.Equal(t, StateGuest, c.State())
	assert.Zero(t, c.Count())
	assert.Len(t, remote.ServerItems(), 2, "logout keeps the server cart")
}

func TestCart_SessionChangedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	c := newTestCart(t, remote, nil)
	require.NoError(t, c.Start(ctx, false))

	_, err := c.SessionChanged(ctx, true)
	require.NoError(t, err)
	_, err = c.SessionChanged(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, []string{"GET /cart"}, remote.Calls())
}

func TestCart_RefreshAfterOrderCompleted(t *testing.T) {
	ctx := context.Background()
	remote := newFakeRemote()
	remote.seed(product("7", "1.00"), 2)
	c := newTestCart(t, remote, nil)
	require.NoError(t, c.Start(ctx, true))
	require.Equal(t, 2, c.Count())

	remote.mu.Lock()
	remote.items = nil
	remote.mu.Unlock()
	require.NoError(t, c.Refresh(ctx))

	assert.Zero(t, c.Count())
}

func TestCart_SubscribeSeesConsistentSnapshots(t *testing.T) {
	ctx := context.Background()
	c := newTestCart(t, newFakeRemote(), nil)
	require.NoError(t, c.Start(ctx, false))

	var mu sync.Mutex
	var snaps []Snapshot
	unsubscribe := c.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	})
	defer unsubscribe()

	require.NoError(t, c.AddToCart(ctx, product("1", "1.50"), 2, ""))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, snaps, 1)
	assert.Equal(t, model.ComputeAggregates(snaps[0].Items), snaps[0].Aggregates)
}

func TestCart_ConcurrentGuestMutations(t *testing.T) {
	ctx := context.Background()
	c := newTestCart(t, newFakeRemote(), nil)
	require.NoError(t, c.Start(ctx, false))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := product("1", "1.00")
			if i%2 == 1 {
				p = product("2", "1.00")
			}
			_ = c.AddToCart(ctx, p, 1, "")
		}()
	}
	wg.Wait()

	assert.Len(t, c.Items(), 2)
	assert.Equal(t, 20, c.Count())
	assert.Zero(t, c.locks.size())
}
