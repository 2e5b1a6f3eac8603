package cart

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/client"
	"github.com/vyrodovalexey/cartsync/internal/localstore"
	"github.com/vyrodovalexey/cartsync/internal/model"
)

var errConnRefused = errors.New("dial tcp 127.0.0.1:5001: connect: connection refused")

// cmpItems compares item lists by value, ignoring generated ids.
var cmpItems = []cmp.Option{
	cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }),
	cmpopts.IgnoreFields(model.CartItem{}, "ID"),
	cmpopts.EquateEmpty(),
}

func product(id string, price string) model.Product {
	return model.Product{
		ID:    model.ID(id),
		Name:  "Product " + id,
		Price: decimal.RequireFromString(price),
	}
}

// fakeRemote is an in-memory server cart with failure injection.
type fakeRemote struct {
	mu      sync.Mutex
	items   []model.CartItem
	nextID  int
	catalog map[model.ID]model.Product

	addErr     map[model.ID]error
	fetchErr   error
	updateErr  error
	removeErr  error
	echoUpdate bool

	// addAppliedErr is returned after an add has been applied, as when the
	// response is lost.
	addAppliedErr error

	// updateHook runs before an update is applied, outside the lock.
	updateHook func(itemID model.ID, quantity int)

	calls []string
}

func newFakeRemote(products ...model.Product) *fakeRemote {
	f := &fakeRemote{
		catalog: make(map[model.ID]model.Product),
		addErr:  make(map[model.ID]error),
	}
	for _, p := range products {
		f.catalog[p.ID] = p
	}
	return f
}

func (f *fakeRemote) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) ServerItems() []model.CartItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.CloneItems(f.items)
}

// seed places an item in the server cart and returns its id.
func (f *fakeRemote) seed(p model.Product, quantity int) model.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalog[p.ID] = p
	f.nextID++
	id := model.ID(fmt.Sprintf("srv-%d", f.nextID))
	f.items = append(f.items, model.CartItem{ID: id, ProductID: p.ID, Product: p, Quantity: quantity})
	return id
}

func (f *fakeRemote) FetchCart(_ context.Context) ([]model.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GET /cart")

	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return model.CloneItems(f.items), nil
}

func (f *fakeRemote) AddItem(_ context.Context, productID model.ID, quantity int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("POST /cart %s x%d", productID, quantity))

	if err := f.addErr[productID]; err != nil {
		return err
	}
	for i := range f.items {
		if f.items[i].ProductID == productID {
			f.items[i].Quantity += quantity
			return f.addAppliedErr
		}
	}

	p, ok := f.catalog[productID]
	if !ok {
		p = model.Product{ID: productID}
	}
	f.nextID++
	f.items = append(f.items, model.CartItem{
		ID:        model.ID(fmt.Sprintf("srv-%d", f.nextID)),
		ProductID: productID,
		Product:   p,
		Quantity:  quantity,
	})
	return f.addAppliedErr
}

func (f *fakeRemote) UpdateItem(_ context.Context, itemID model.ID, quantity int) (*model.CartItem, error) {
	f.mu.Lock()
	hook := f.updateHook
	f.record(fmt.Sprintf("PUT /cart/%s %d", itemID, quantity))
	f.mu.Unlock()

	if hook != nil {
		hook(itemID, quantity)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.updateErr != nil {
		return nil, f.updateErr
	}
	for i := range f.items {
		if f.items[i].ID == itemID {
			f.items[i].Quantity = quantity
			if f.echoUpdate {
				row := f.items[i]
				return &row, nil
			}
			return nil, nil
		}
	}
	return nil, &client.APIError{StatusCode: http.StatusNotFound, Message: "Cart item not found"}
}

func (f *fakeRemote) RemoveItem(_ context.Context, itemID model.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("DELETE /cart/%s", itemID))

	if f.removeErr != nil {
		return f.removeErr
	}
	for i := range f.items {
		if f.items[i].ID == itemID {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return &client.APIError{StatusCode: http.StatusNotFound, Message: "Cart item not found"}
}

func (f *fakeRemote) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeRemote) setUpdateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateErr = err
}

// failingStorage wraps a Storage and fails writes on demand.
type failingStorage struct {
	localstore.Storage

	mu       sync.Mutex
	failSet  bool
	setCalls int
}

func (s *failingStorage) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.setCalls++
	fail := s.failSet
	s.mu.Unlock()

	if fail {
		return fmt.Errorf("write %s: no space left on device", key)
	}
	return s.Storage.Set(ctx, key, value)
}

// newTestCart builds a Cart over an in-memory storage and the given remote.
func newTestCart(t *testing.T, remote Remote, storage localstore.Storage) *Cart {
	t.Helper()

	if storage == nil {
		storage = localstore.NewMemoryStorage()
	}
	c, err := New(Options{Remote: remote, Storage: storage, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}
	return c
}
