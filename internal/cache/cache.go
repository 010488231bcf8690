package cache

import (
	"context"
	"time"

	"github.com/imbasito/spos-sub001/internal/domain"
)

// ProductCache caches product-listing pages under a catalog version.
// Writers bump the version on every stock or price mutation instead of
// enumerating page keys; stale pages simply expire under their TTL.
type ProductCache interface {
	GetPage(ctx context.Context, version int64, page int) ([]domain.Product, bool, error)
	SetPage(ctx context.Context, version int64, page int, products []domain.Product, ttl time.Duration) error
	Version(ctx context.Context) (int64, error)
	BumpVersion(ctx context.Context) (int64, error)
}

type NoopProductCache struct{}

func (NoopProductCache) GetPage(_ context.Context, _ int64, _ int) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) SetPage(_ context.Context, _ int64, _ int, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Version(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopProductCache) BumpVersion(_ context.Context) (int64, error) {
	return 0, nil
}
