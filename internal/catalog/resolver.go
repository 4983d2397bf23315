// Package catalog resolves current product prices for order placement and
// serves the read-only product listing.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/rosepetal/storefront/pkg/models"
)

type Resolver interface {
	ResolvePrice(ctx context.Context, productID int64) (decimal.Decimal, error)
}

type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
}

type StoreResolver struct {
	products ProductReader
}

func NewResolver(products ProductReader) *StoreResolver {
	return &StoreResolver{products: products}
}

func (r *StoreResolver) ResolvePrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	p, err := r.products.GetProduct(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return p.Price, nil
}

// Snapshot resolves each distinct id once and returns the prices as of the
// call. A single unresolvable id fails the whole snapshot.
func Snapshot(ctx context.Context, r Resolver, ids []int64) (map[int64]decimal.Decimal, error) {
	prices := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		if _, ok := prices[id]; ok {
			continue
		}
		price, err := r.ResolvePrice(ctx, id)
		if err != nil {
			return nil, err
		}
		prices[id] = price
	}
	return prices, nil
}
