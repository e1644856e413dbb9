package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/wishlist-rest/internal/domain"
	"github.com/utafrali/wishlist-rest/internal/repository"
)

const (
	keyPrefix = "wishlist:"

	// minGenTTL bounds how long a load may run and still be checked
	// against the generation it started with.
	minGenTTL = 10 * time.Minute
)

var errStaleLoad = errors.New("wishlist invalidated during load")

func wishlistKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

func itemsKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10) + ":items"
}

// genKey holds a counter bumped on every invalidation of the wishlist. A
// load only writes its result back if the counter did not move meanwhile.
func genKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10) + ":gen"
}

// CacheMetrics counts cache lookups by outcome.
type CacheMetrics struct {
	lookups *prometheus.CounterVec
}

// NewCacheMetrics registers the cache counters on reg.
func NewCacheMetrics(reg prometheus.Registerer, namespace string) *CacheMetrics {
	return &CacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Wishlist cache lookups by entry kind and result.",
		}, []string{"kind", "result"}),
	}
}

func (m *CacheMetrics) observe(kind, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(kind, result).Inc()
}

// CachedWishlistRepository is a read-through Redis cache in front of another
// WishlistRepository. GetByID and ListItems are cached; every mutation drops
// the entries of the wishlists it touched and bumps their generation, so a
// load that raced with the mutation never writes stale data back. Redis
// failures are logged and the call falls through to the wrapped repository.
type CachedWishlistRepository struct {
	next    repository.WishlistRepository
	client  *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
	metrics *CacheMetrics
	group   singleflight.Group
}

var _ repository.WishlistRepository = (*CachedWishlistRepository)(nil)

// NewCachedWishlistRepository wraps next with a Redis cache. metrics may be nil.
func NewCachedWishlistRepository(next repository.WishlistRepository, client *redis.Client, ttl time.Duration, logger *slog.Logger, metrics *CacheMetrics) *CachedWishlistRepository {
	return &CachedWishlistRepository{
		next:    next,
		client:  client,
		ttl:     ttl,
		logger:  logger,
		metrics: metrics,
	}
}

// GetByID returns the wishlist from cache, loading and storing it on a miss.
func (r *CachedWishlistRepository) GetByID(ctx context.Context, id int64) (*domain.Wishlist, error) {
	key := wishlistKey(id)

	var cached domain.Wishlist
	if r.load(ctx, key, "wishlist", &cached) {
		return &cached, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		gen, genOK := r.generation(ctx, id)
		w, err := r.next.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if genOK {
			r.store(ctx, id, key, gen, w)
		}
		return w, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers sharing a flight each get their own copy.
	w := *v.(*domain.Wishlist)
	w.Items = slices.Clone(w.Items)
	return &w, nil
}

// ListItems returns the wishlist's items from cache, loading them on a miss.
func (r *CachedWishlistRepository) ListItems(ctx context.Context, wishlistID int64) ([]domain.WishlistItem, error) {
	key := itemsKey(wishlistID)

	var cached []domain.WishlistItem
	if r.load(ctx, key, "items", &cached) {
		if cached == nil {
			cached = []domain.WishlistItem{}
		}
		return cached, nil
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		gen, genOK := r.generation(ctx, wishlistID)
		items, err := r.next.ListItems(ctx, wishlistID)
		if err != nil {
			return nil, err
		}
		if genOK {
			r.store(ctx, wishlistID, key, gen, items)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]domain.WishlistItem)), nil
}

// List is not cached.
func (r *CachedWishlistRepository) List(ctx context.Context, filter repository.WishlistFilter) ([]*domain.Wishlist, int, error) {
	return r.next.List(ctx, filter)
}

// GetDefault is not cached.
func (r *CachedWishlistRepository) GetDefault(ctx context.Context, userID int64) (*domain.Wishlist, error) {
	return r.next.GetDefault(ctx, userID)
}

func (r *CachedWishlistRepository) Create(ctx context.Context, w *domain.Wishlist) error {
	return r.next.Create(ctx, w)
}

func (r *CachedWishlistRepository) Update(ctx context.Context, w *domain.Wishlist) error {
	err := r.next.Update(ctx, w)
	r.invalidate(ctx, w.ID)
	return err
}

func (r *CachedWishlistRepository) Delete(ctx context.Context, id int64) error {
	err := r.next.Delete(ctx, id)
	r.invalidate(ctx, id)
	return err
}

func (r *CachedWishlistRepository) AddItem(ctx context.Context, wishlistID int64, item domain.WishlistItem) error {
	err := r.next.AddItem(ctx, wishlistID, item)
	r.invalidate(ctx, wishlistID)
	return err
}

func (r *CachedWishlistRepository) RemoveItem(ctx context.Context, wishlistID, productID int64) error {
	err := r.next.RemoveItem(ctx, wishlistID, productID)
	r.invalidate(ctx, wishlistID)
	return err
}

func (r *CachedWishlistRepository) ReplaceItems(ctx context.Context, wishlistID int64, productIDs []int64) error {
	err := r.next.ReplaceItems(ctx, wishlistID, productIDs)
	r.invalidate(ctx, wishlistID)
	return err
}

func (r *CachedWishlistRepository) UpdateWithItems(ctx context.Context, w *domain.Wishlist, productIDs []int64) error {
	err := r.next.UpdateWithItems(ctx, w, productIDs)
	r.invalidate(ctx, w.ID)
	return err
}

func (r *CachedWishlistRepository) RemoveProductEverywhere(ctx context.Context, productID int64) ([]int64, error) {
	ids, err := r.next.RemoveProductEverywhere(ctx, productID)
	r.invalidate(ctx, ids...)
	return ids, err
}

// load reads key into dst. It reports false on a miss or any Redis error.
func (r *CachedWishlistRepository) load(ctx context.Context, key, kind string, dst any) bool {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.metrics.observe(kind, "error")
			r.logger.WarnContext(ctx, "wishlist cache read failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		} else {
			r.metrics.observe(kind, "miss")
		}
		return false
	}

	if err := json.Unmarshal(data, dst); err != nil {
		r.metrics.observe(kind, "error")
		r.logger.WarnContext(ctx, "wishlist cache entry corrupt",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	r.metrics.observe(kind, "hit")
	return true
}

// generation returns the wishlist's invalidation counter, "" when it was
// never bumped. ok is false when Redis could not be read; the loaded value
// must then not be cached.
func (r *CachedWishlistRepository) generation(ctx context.Context, id int64) (gen string, ok bool) {
	gen, err := r.client.Get(ctx, genKey(id)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		r.logger.WarnContext(ctx, "wishlist cache generation read failed",
			slog.Int64("wishlist_id", id),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	return gen, true
}

// store writes v under key unless the wishlist was invalidated after gen was
// read. WATCH aborts the write if an invalidation lands in between.
func (r *CachedWishlistRepository) store(ctx context.Context, id int64, key, gen string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.logger.WarnContext(ctx, "marshal wishlist cache entry", slog.String("error", err.Error()))
		return
	}

	gk := genKey(id)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, gk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleLoad
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}, gk)

	switch {
	case err == nil:
	case errors.Is(err, errStaleLoad), errors.Is(err, redis.TxFailedErr):
		r.logger.DebugContext(ctx, "wishlist changed during load, not caching", slog.String("key", key))
	default:
		r.logger.WarnContext(ctx, "wishlist cache write failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// invalidate bumps the generation of every id and drops its cached wishlist
// and items in one MULTI/EXEC.
func (r *CachedWishlistRepository) invalidate(ctx context.Context, ids ...int64) {
	if len(ids) == 0 {
		return
	}
	keys := make([]string, 0, 2*len(ids))
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, genKey(id))
			pipe.Expire(ctx, genKey(id), r.genTTL())
			keys = append(keys, wishlistKey(id), itemsKey(id))
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		r.logger.WarnContext(ctx, "wishlist cache invalidation failed",
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
	}
}

func (r *CachedWishlistRepository) genTTL() time.Duration {
	return max(r.ttl, minGenTTL)
}
