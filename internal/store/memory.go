package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// MemoryStore implements Store with in-memory maps guarded by one lock, so
// checkout sees a consistent cart, catalog and address book.
type MemoryStore struct {
	mu        sync.RWMutex
	products  map[model.ID]model.Product
	carts     map[string][]model.CartItem
	addresses map[string][]model.Address
	orders    map[string][]model.Order
	newID     func() model.ID
	now       func() time.Time
}

// NewMemoryStore creates a MemoryStore seeded with products.
func NewMemoryStore(products ...model.Product) *MemoryStore {
	s := &MemoryStore{
		products:  make(map[model.ID]model.Product, len(products)),
		carts:     make(map[string][]model.CartItem),
		addresses: make(map[string][]model.Address),
		orders:    make(map[string][]model.Order),
		newID: func() model.ID {
			return model.ID(uuid.New().String())
		},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// Items returns the owner's cart lines in insertion order.
func (s *MemoryStore) Items(ctx context.Context, owner string) ([]model.CartItem, error) {
	if err := checkContext(ctx, "list cart"); err != nil {
		return nil, err
	}

	if owner == "" {
		return nil, ErrInvalidOwner
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return model.CloneItems(s.carts[owner]), nil
}

// AddItem adds quantity of a product to the owner's cart, merging into the
// existing line for that product.
func (s *MemoryStore) AddItem(ctx context.Context, owner string, productID model.ID, quantity int) (*model.CartItem, error) {
	if err := checkContext(ctx, "add cart item"); err != nil {
		return nil, err
	}

	if owner == "" {
		return nil, ErrInvalidOwner
	}

	if quantity < model.MinQuantity {
		return nil, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, ErrProductNotFound
	}

	cart := s.carts[owner]
	idx := slices.IndexFunc(cart, func(item model.CartItem) bool {
		return item.ProductID == productID
	})

	if idx >= 0 {
		total := cart[idx].Quantity + quantity
		if !inStock(product, total) {
			return nil, ErrInsufficientStock
		}
		cart[idx].Quantity = total
		cart[idx].Product = product
		cart[idx].Price = product.Price
		item := cart[idx]
		return &item, nil
	}

	if !inStock(product, quantity) {
		return nil, ErrInsufficientStock
	}

	item := model.CartItem{
		ID:        s.newID(),
		ProductID: productID,
		Product:   product,
		Quantity:  quantity,
		Price:     product.Price,
	}
	s.carts[owner] = append(cart, item)

	return &item, nil
}

// SetQuantity replaces the quantity of one of the owner's cart lines.
func (s *MemoryStore) SetQuantity(ctx context.Context, owner string, itemID model.ID, quantity int) (*model.CartItem, error) {
	if err := checkContext(ctx, "update cart item"); err != nil {
		return nil, err
	}

	if itemID.IsZero() {
		return nil, ErrInvalidID
	}

	if quantity < model.MinQuantity {
		return nil, ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.carts[owner]
	idx := indexOfItem(cart, itemID)
	if idx < 0 {
		return nil, ErrNotFound
	}

	if product, ok := s.products[cart[idx].ProductID]; ok && !inStock(product, quantity) {
		return nil, ErrInsufficientStock
	}

	cart[idx].Quantity = quantity
	item := cart[idx]

	return &item, nil
}

// RemoveItem deletes one of the owner's cart lines.
func (s *MemoryStore) RemoveItem(ctx context.Context, owner string, itemID model.ID) error {
	if err := checkContext(ctx, "delete cart item"); err != nil {
		return err
	}

	if itemID.IsZero() {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.carts[owner]
	idx := indexOfItem(cart, itemID)
	if idx < 0 {
		return ErrNotFound
	}

	s.carts[owner] = slices.Delete(cart, idx, idx+1)

	return nil
}

// Products returns the catalog ordered by product ID.
func (s *MemoryStore) Products(ctx context.Context) ([]model.Product, error) {
	if err := checkContext(ctx, "list products"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]model.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		return products[i].ID < products[j].ID
	})

	return products, nil
}

// Product retrieves a product by its ID.
func (s *MemoryStore) Product(ctx context.Context, id model.ID) (*model.Product, error) {
	if err := checkContext(ctx, "get product"); err != nil {
		return nil, err
	}

	if id.IsZero() {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}

	return &product, nil
}

// PutProduct creates or replaces a catalog product.
func (s *MemoryStore) PutProduct(ctx context.Context, product model.Product) error {
	if err := checkContext(ctx, "put product"); err != nil {
		return err
	}

	if err := product.Validate(); err != nil {
		return fmt.Errorf("put product: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.products[product.ID] = product

	return nil
}

// Addresses returns the owner's shipping addresses.
func (s *MemoryStore) Addresses(ctx context.Context, owner string) ([]model.Address, error) {
	if err := checkContext(ctx, "list addresses"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.addresses[owner]), nil
}

// AddAddress stores a shipping address. The first address becomes the
// default, and a new default clears the previous one.
func (s *MemoryStore) AddAddress(ctx context.Context, owner string, address model.Address) (*model.Address, error) {
	if err := checkContext(ctx, "add address"); err != nil {
		return nil, err
	}

	if owner == "" {
		return nil, ErrInvalidOwner
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.addresses[owner]
	address.ID = s.newID()
	if len(existing) == 0 {
		address.IsDefault = true
	}
	if address.IsDefault {
		for i := range existing {
			existing[i].IsDefault = false
		}
	}
	s.addresses[owner] = append(existing, address)

	return &address, nil
}

// Checkout creates an order from the owner's cart and empties the cart.
// Stock is checked again but not reserved.
func (s *MemoryStore) Checkout(ctx context.Context, owner string, shippingAddressID model.ID) (*model.Order, error) {
	if err := checkContext(ctx, "checkout"); err != nil {
		return nil, err
	}

	if owner == "" {
		return nil, ErrInvalidOwner
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.ContainsFunc(s.addresses[owner], func(a model.Address) bool {
		return a.ID == shippingAddressID
	}) {
		return nil, ErrAddressNotFound
	}

	cart := s.carts[owner]
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	for _, item := range cart {
		if product, ok := s.products[item.ProductID]; ok && !inStock(product, item.Quantity) {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientStock, product.Name)
		}
	}

	items := model.CloneItems(cart)
	order := model.Order{
		ID:                s.newID(),
		Items:             items,
		Total:             model.ComputeAggregates(items).Total,
		ShippingAddressID: shippingAddressID,
		Status:            model.OrderStatusPending,
		CreatedAt:         s.now(),
	}
	s.orders[owner] = append(s.orders[owner], order)
	delete(s.carts, owner)

	return &order, nil
}

// Orders returns the owner's orders, oldest first.
func (s *MemoryStore) Orders(ctx context.Context, owner string) ([]model.Order, error) {
	if err := checkContext(ctx, "list orders"); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.orders[owner]), nil
}

func checkContext(ctx context.Context, operation string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", operation, ctx.Err())
	default:
		return nil
	}
}

func indexOfItem(cart []model.CartItem, itemID model.ID) int {
	return slices.IndexFunc(cart, func(item model.CartItem) bool {
		return item.ID == itemID
	})
}

// inStock reports whether quantity can be taken. Zero stock means the
// product is not stock-tracked.
func inStock(product model.Product, quantity int) bool {
	return product.Stock <= 0 || quantity <= product.Stock
}
