package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/wishlist-rest/internal/domain"
	"github.com/utafrali/wishlist-rest/internal/repository"
	apperrors "github.com/utafrali/wishlist-rest/pkg/errors"
)

// --- Mock Repository ---

type mockWishlistRepository struct {
	mock.Mock
}

func (m *mockWishlistRepository) List(ctx context.Context, filter repository.WishlistFilter) ([]*domain.Wishlist, int, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]*domain.Wishlist), args.Int(1), args.Error(2)
}

func (m *mockWishlistRepository) GetByID(ctx context.Context, id int64) (*domain.Wishlist, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Wishlist), args.Error(1)
}

func (m *mockWishlistRepository) GetDefault(ctx context.Context, userID int64) (*domain.Wishlist, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Wishlist), args.Error(1)
}

func (m *mockWishlistRepository) Create(ctx context.Context, w *domain.Wishlist) error {
	return m.Called(ctx, w).Error(0)
}

func (m *mockWishlistRepository) Update(ctx context.Context, w *domain.Wishlist) error {
	return m.Called(ctx, w).Error(0)
}

func (m *mockWishlistRepository) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockWishlistRepository) ListItems(ctx context.Context, wishlistID int64) ([]domain.WishlistItem, error) {
	args := m.Called(ctx, wishlistID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.WishlistItem), args.Error(1)
}

func (m *mockWishlistRepository) AddItem(ctx context.Context, wishlistID int64, item domain.WishlistItem) error {
	return m.Called(ctx, wishlistID, item).Error(0)
}

func (m *mockWishlistRepository) RemoveItem(ctx context.Context, wishlistID, productID int64) error {
	return m.Called(ctx, wishlistID, productID).Error(0)
}

func (m *mockWishlistRepository) ReplaceItems(ctx context.Context, wishlistID int64, productIDs []int64) error {
	return m.Called(ctx, wishlistID, productIDs).Error(0)
}

func (m *mockWishlistRepository) UpdateWithItems(ctx context.Context, w *domain.Wishlist, productIDs []int64) error {
	return m.Called(ctx, w, productIDs).Error(0)
}

func (m *mockWishlistRepository) RemoveProductEverywhere(ctx context.Context, productID int64) ([]int64, error) {
	args := m.Called(ctx, productID)
	return args.Get(0).([]int64), args.Error(1)
}

// --- Test Helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestCache(t *testing.T) (*CachedWishlistRepository, *mockWishlistRepository, *miniredis.Miniredis, *CacheMetrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	next := new(mockWishlistRepository)
	metrics := NewCacheMetrics(prometheus.NewRegistry(), "test")
	return NewCachedWishlistRepository(next, client, time.Minute, discardLogger(), metrics), next, mr, metrics
}

func sampleWishlist() *domain.Wishlist {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Wishlist{
		ID:        3,
		UserID:    7,
		Name:      "Gifts",
		Slug:      "gifts",
		Token:     "ABCDEF123456",
		Privacy:   domain.PrivacyShared,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ---------------------------------------------------------------------------
// GetByID
// ---------------------------------------------------------------------------

func TestCachedWishlistRepository_GetByID_MissThenHit(t *testing.T) {
	repo, next, mr, metrics := setupTestCache(t)
	ctx := context.Background()
	w := sampleWishlist()

	next.On("GetByID", ctx, int64(3)).Return(w, nil).Once()

	got, err := repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Gifts", got.Name)
	assert.True(t, mr.Exists("wishlist:3"))
	assert.Equal(t, time.Minute, mr.TTL("wishlist:3"))

	got, err = repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, w.Token, got.Token)
	assert.True(t, w.CreatedAt.Equal(got.CreatedAt))

	next.AssertNumberOfCalls(t, "GetByID", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("wishlist", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("wishlist", "hit")))
}

func TestCachedWishlistRepository_GetByID_NotFoundIsNotCached(t *testing.T) {
	repo, next, mr, _ := setupTestCache(t)
	ctx := context.Background()

	next.On("GetByID", ctx, int64(9)).Return(nil, apperrors.NotFound("wishlist", "9")).Twice()

	for i := 0; i < 2; i++ {
		_, err := repo.GetByID(ctx, 9)
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	}
	assert.False(t, mr.Exists("wishlist:9"))
	next.AssertExpectations(t)
}

func TestCachedWishlistRepository_GetByID_CorruptEntryFallsThrough(t *testing.T) {
	repo, next, mr, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("wishlist:3", "{not json"))
	next.On("GetByID", ctx, int64(3)).Return(sampleWishlist(), nil).Once()

	got, err := repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)

	raw, err := mr.Get("wishlist:3")
	require.NoError(t, err)
	var cached domain.Wishlist
	require.NoError(t, json.Unmarshal([]byte(raw), &cached))
	assert.Equal(t, "Gifts", cached.Name)
}

func TestCachedWishlistRepository_GetByID_ConcurrentMissesShareOneLoad(t *testing.T) {
	repo, next, _, _ := setupTestCache(t)
	ctx := context.Background()

	release := make(chan struct{})
	next.On("GetByID", ctx, int64(3)).
		Run(func(mock.Arguments) { <-release }).
		Return(sampleWishlist(), nil)

	var wg sync.WaitGroup
	results := make([]*domain.Wishlist, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := repo.GetByID(ctx, 3)
			assert.NoError(t, err)
			results[i] = w
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, len(next.Calls), 5)
	for _, w := range results {
		require.NotNil(t, w)
		assert.Equal(t, int64(3), w.ID)
	}
	results[0].Name = "mutated"
	assert.Equal(t, "Gifts", results[1].Name)
}

// ---------------------------------------------------------------------------
// ListItems
// ---------------------------------------------------------------------------

func TestCachedWishlistRepository_ListItems_MissThenHit(t *testing.T) {
	repo, next, _, _ := setupTestCache(t)
	ctx := context.Background()

	items := []domain.WishlistItem{{ProductID: 100, Quantity: 1, DateAdded: time.Now().UTC().Truncate(time.Second)}}
	next.On("ListItems", ctx, int64(3)).Return(items, nil).Once()

	got, err := repo.ListItems(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = repo.ListItems(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(100), got[0].ProductID)
	next.AssertNumberOfCalls(t, "ListItems", 1)
}

func TestCachedWishlistRepository_ListItems_EmptyListCached(t *testing.T) {
	repo, next, _, _ := setupTestCache(t)
	ctx := context.Background()

	next.On("ListItems", ctx, int64(3)).Return([]domain.WishlistItem{}, nil).Once()

	_, err := repo.ListItems(ctx, 3)
	require.NoError(t, err)
	got, err := repo.ListItems(ctx, 3)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	next.AssertNumberOfCalls(t, "ListItems", 1)
}

// ---------------------------------------------------------------------------
// Invalidation
// ---------------------------------------------------------------------------

func TestCachedWishlistRepository_MutationsInvalidate(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(next *mockWishlistRepository)
		mutate func(repo *CachedWishlistRepository) error
	}{
		{
			name:   "update",
			setup:  func(next *mockWishlistRepository) { next.On("Update", mock.Anything, mock.Anything).Return(nil) },
			mutate: func(repo *CachedWishlistRepository) error { return repo.Update(context.Background(), sampleWishlist()) },
		},
		{
			name:   "delete",
			setup:  func(next *mockWishlistRepository) { next.On("Delete", mock.Anything, int64(3)).Return(nil) },
			mutate: func(repo *CachedWishlistRepository) error { return repo.Delete(context.Background(), 3) },
		},
		{
			name: "add item",
			setup: func(next *mockWishlistRepository) {
				next.On("AddItem", mock.Anything, int64(3), mock.Anything).Return(nil)
			},
			mutate: func(repo *CachedWishlistRepository) error {
				return repo.AddItem(context.Background(), 3, domain.WishlistItem{ProductID: 1, Quantity: 1})
			},
		},
		{
			name: "remove item fails",
			setup: func(next *mockWishlistRepository) {
				next.On("RemoveItem", mock.Anything, int64(3), int64(1)).Return(apperrors.NotFound("wishlist item", "1"))
			},
			mutate: func(repo *CachedWishlistRepository) error {
				err := repo.RemoveItem(context.Background(), 3, 1)
				if errors.Is(err, apperrors.ErrNotFound) {
					return nil
				}
				return err
			},
		},
		{
			name: "replace items",
			setup: func(next *mockWishlistRepository) {
				next.On("ReplaceItems", mock.Anything, int64(3), []int64{1, 2}).Return(nil)
			},
			mutate: func(repo *CachedWishlistRepository) error {
				return repo.ReplaceItems(context.Background(), 3, []int64{1, 2})
			},
		},
		{
			name: "update with items",
			setup: func(next *mockWishlistRepository) {
				next.On("UpdateWithItems", mock.Anything, mock.Anything, []int64{1}).Return(nil)
			},
			mutate: func(repo *CachedWishlistRepository) error {
				return repo.UpdateWithItems(context.Background(), sampleWishlist(), []int64{1})
			},
		},
		{
			name: "remove product everywhere",
			setup: func(next *mockWishlistRepository) {
				next.On("RemoveProductEverywhere", mock.Anything, int64(1)).Return([]int64{3}, nil)
			},
			mutate: func(repo *CachedWishlistRepository) error {
				_, err := repo.RemoveProductEverywhere(context.Background(), 1)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, next, mr, _ := setupTestCache(t)
			require.NoError(t, mr.Set("wishlist:3", "{}"))
			require.NoError(t, mr.Set("wishlist:3:items", "[]"))
			require.NoError(t, mr.Set("wishlist:4", "{}"))

			tt.setup(next)
			require.NoError(t, tt.mutate(repo))

			assert.False(t, mr.Exists("wishlist:3"))
			assert.False(t, mr.Exists("wishlist:3:items"))
			assert.True(t, mr.Exists("wishlist:4"))

			gen, err := mr.Get("wishlist:3:gen")
			require.NoError(t, err)
			assert.Equal(t, "1", gen)
			assert.Greater(t, mr.TTL("wishlist:3:gen"), time.Duration(0))
		})
	}
}

func TestCachedWishlistRepository_GetByID_LoadRacingUpdateIsNotCached(t *testing.T) {
	repo, next, mr, _ := setupTestCache(t)
	ctx := context.Background()

	stale := sampleWishlist()
	fresh := sampleWishlist()
	fresh.Name = "Renamed"

	// The update commits and invalidates while the load is still in
	// flight with the old row.
	next.On("Update", ctx, mock.Anything).Return(nil)
	next.On("GetByID", ctx, int64(3)).
		Run(func(mock.Arguments) {
			require.NoError(t, repo.Update(ctx, fresh))
		}).
		Return(stale, nil).Once()
	next.On("GetByID", ctx, int64(3)).Return(fresh, nil).Once()

	got, err := repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Gifts", got.Name)
	assert.False(t, mr.Exists("wishlist:3"), "stale load must not be written back")

	got, err = repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, mr.Exists("wishlist:3"))

	got, err = repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	next.AssertNumberOfCalls(t, "GetByID", 2)
}

func TestCachedWishlistRepository_ListItems_LoadRacingAddIsNotCached(t *testing.T) {
	repo, next, mr, _ := setupTestCache(t)
	ctx := context.Background()

	item := domain.WishlistItem{ProductID: 100, Quantity: 1}
	next.On("AddItem", ctx, int64(3), item).Return(nil)
	next.On("ListItems", ctx, int64(3)).
		Run(func(mock.Arguments) {
			require.NoError(t, repo.AddItem(ctx, 3, item))
		}).
		Return([]domain.WishlistItem{}, nil).Once()
	next.On("ListItems", ctx, int64(3)).Return([]domain.WishlistItem{item}, nil).Once()

	got, err := repo.ListItems(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.False(t, mr.Exists("wishlist:3:items"))

	got, err = repo.ListItems(ctx, 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, mr.Exists("wishlist:3:items"))
}

func TestCachedWishlistRepository_StoreSkipsWhenGenerationMoved(t *testing.T) {
	repo, _, mr, _ := setupTestCache(t)
	ctx := context.Background()

	gen, ok := repo.generation(ctx, 3)
	require.True(t, ok)
	assert.Equal(t, "", gen)

	repo.invalidate(ctx, 3)
	repo.store(ctx, 3, wishlistKey(3), gen, sampleWishlist())
	assert.False(t, mr.Exists("wishlist:3"))

	gen, ok = repo.generation(ctx, 3)
	require.True(t, ok)
	repo.store(ctx, 3, wishlistKey(3), gen, sampleWishlist())
	assert.True(t, mr.Exists("wishlist:3"))
}

func TestCachedWishlistRepository_PassThroughs(t *testing.T) {
	repo, next, _, _ := setupTestCache(t)
	ctx := context.Background()

	filter := repository.WishlistFilter{UserID: 7, Limit: 10}
	next.On("List", ctx, filter).Return([]*domain.Wishlist{sampleWishlist()}, 1, nil)
	next.On("GetDefault", ctx, int64(7)).Return(sampleWishlist(), nil)
	next.On("Create", ctx, mock.AnythingOfType("*domain.Wishlist")).Return(nil)

	list, total, err := repo.List(ctx, filter)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, total)

	_, err = repo.GetDefault(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, &domain.Wishlist{Name: "x"}))
	next.AssertExpectations(t)
}

// ---------------------------------------------------------------------------
// Redis failures
// ---------------------------------------------------------------------------

func TestCachedWishlistRepository_RedisDownFallsThrough(t *testing.T) {
	client, rmock := redismock.NewClientMock()
	next := new(mockWishlistRepository)
	metrics := NewCacheMetrics(prometheus.NewRegistry(), "test")
	repo := NewCachedWishlistRepository(next, client, time.Minute, discardLogger(), metrics)
	ctx := context.Background()

	w := sampleWishlist()
	data, err := json.Marshal(w)
	require.NoError(t, err)

	// Without a readable generation the loaded value is not cached.
	rmock.ExpectGet("wishlist:3").SetErr(errors.New("connection refused"))
	rmock.ExpectGet("wishlist:3:gen").SetErr(errors.New("connection refused"))
	next.On("GetByID", ctx, int64(3)).Return(w, nil)

	got, err := repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("wishlist", "error")))
	assert.NoError(t, rmock.ExpectationsWereMet())

	// A hit still decodes through the same client.
	rmock.ExpectGet("wishlist:3").SetVal(string(data))
	got, err = repo.GetByID(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, w.Token, got.Token)
	assert.NoError(t, rmock.ExpectationsWereMet())
}

func TestCachedWishlistRepository_InvalidationFailureIsNotReturned(t *testing.T) {
	repo, next, mr, _ := setupTestCache(t)
	ctx := context.Background()

	mr.Close()
	next.On("Delete", ctx, int64(3)).Return(nil)
	assert.NoError(t, repo.Delete(ctx, 3))
	next.AssertExpectations(t)
}

func TestCacheMetrics_NilSafe(t *testing.T) {
	var m *CacheMetrics
	assert.NotPanics(t, func() { m.observe("wishlist", "hit") })
}
