package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/domain"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	apperrors "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/errors"
)

const keyPrefix = "cart:"

// CartRepository implements repository.CartRepository using Redis. Carts are
// stored as JSON under "cart:<owner key>" and expire after the configured TTL
// of inactivity.
type CartRepository struct {
	client *redis.Client
	ttl    time.Duration
}

var _ repository.CartRepository = (*CartRepository)(nil)

// NewCartRepository creates a new Redis-backed cart repository.
func NewCartRepository(client *redis.Client, ttl time.Duration) *CartRepository {
	return &CartRepository{
		client: client,
		ttl:    ttl,
	}
}

// Get retrieves a cart by owner key from Redis.
func (r *CartRepository) Get(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, keyPrefix+ownerKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.NotFound("cart", ownerKey)
		}
		return nil, fmt.Errorf("redis get cart: %w", err)
	}
	return decode(data)
}

// SaveIfVersion writes the cart under WATCH so that a concurrent write
// between the version check and the SET aborts the transaction.
func (r *CartRepository) SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) error {
	key := keyPrefix + cart.Owner.Key()
	next := *cart
	next.Version = expectedVersion + 1

	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current := 0
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get cart: %w", err)
		default:
			stored, err := decode(raw)
			if err != nil {
				return err
			}
			current = stored.Version
		}
		if current != expectedVersion {
			return apperrors.Conflict("cart " + cart.Owner.Key() + " was modified concurrently")
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case errors.Is(err, redis.TxFailedErr):
		return apperrors.Conflict("cart " + cart.Owner.Key() + " was modified concurrently")
	case errors.Is(err, apperrors.ErrConflict):
		return err
	case err != nil:
		return fmt.Errorf("redis save cart: %w", err)
	}

	cart.Version = next.Version
	return nil
}

// Delete removes a cart from Redis by owner key.
func (r *CartRepository) Delete(ctx context.Context, ownerKey string) error {
	if err := r.client.Del(ctx, keyPrefix+ownerKey).Err(); err != nil {
		return fmt.Errorf("redis del cart: %w", err)
	}
	return nil
}

func decode(data []byte) (*domain.Cart, error) {
	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}
	return &cart, nil
}
