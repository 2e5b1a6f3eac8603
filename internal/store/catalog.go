package store

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// DefaultCatalog returns the products a fresh server starts with.
func DefaultCatalog() []model.Product {
	return []model.Product{
		{ID: "1", Name: "Linen Shirt", Price: decimal.RequireFromString("39.90"), Stock: 25,
			ImageURL: "/images/linen-shirt.jpg"},
		{ID: "2", Name: "Canvas Tote", Price: decimal.RequireFromString("18.50"), Stock: 40,
			ImageURL: "/images/canvas-tote.jpg"},
		{ID: "3", Name: "Wool Beanie", Price: decimal.RequireFromString("22.00"), Stock: 15,
			ImageURL: "/images/wool-beanie.jpg"},
		{ID: "4", Name: "Leather Belt", Price: decimal.RequireFromString("45.00"), Stock: 10,
			ImageURL: "/images/leather-belt.jpg"},
		{ID: "5", Name: "Gift Card", Price: decimal.RequireFromString("25.00")},
	}
}

// LoadCatalog reads a JSON array of products from path and validates each.
func LoadCatalog(path string) ([]model.Product, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var products []model.Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	seen := make(map[model.ID]bool, len(products))
	for i := range products {
		if err := products[i].Validate(); err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		if seen[products[i].ID] {
			return nil, fmt.Errorf("catalog entry %d: duplicate product id %s", i, products[i].ID)
		}
		seen[products[i].ID] = true
	}

	return products, nil
}
