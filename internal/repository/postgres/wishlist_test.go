package postgres

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/wishlist-rest/internal/domain"
	"github.com/utafrali/wishlist-rest/internal/repository"
	apperrors "github.com/utafrali/wishlist-rest/pkg/errors"
)

func newWishlistTestFixture(t *testing.T) (*WishlistRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	repo := NewWishlistRepository(mock)
	return repo, mock
}

var wishlistCols = []string{
	"id", "user_id", "session_id", "name", "slug", "token", "privacy",
	"is_default", "created_at", "updated_at", "expires_at",
}

func wishlistRow(id, userID int64, name string, privacy domain.Privacy, isDefault bool, now time.Time) []any {
	return []any{
		id, userID, "", name, "my-wishlist", "ABCDEF123456", privacy,
		isDefault, now, now, (*time.Time)(nil),
	}
}

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

func TestWishlistRepository_List_Success(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	now := time.Now()
	cols := append(append([]string{}, wishlistCols...), "total_count")
	rows := pgxmock.NewRows(cols).
		AddRow(append(wishlistRow(1, 7, "My wishlist", domain.PrivacyPublic, true, now), 2)...).
		AddRow(append(wishlistRow(2, 7, "Gifts", domain.PrivacyPrivate, false, now), 2)...)

	mock.ExpectQuery("SELECT .+ FROM wishlists\\s+WHERE user_id = \\$1 AND session_id IS NULL").
		WithArgs(int64(7), 10, 0).
		WillReturnRows(rows)

	got, total, err := repo.List(context.Background(), repository.WishlistFilter{UserID: 7, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.True(t, got[0].IsDefault)
	assert.Equal(t, "Gifts", got[1].Name)
	assert.Equal(t, domain.PrivacyPrivate, got[1].Privacy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_List_IncludeSessions(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	cols := append(append([]string{}, wishlistCols...), "total_count")
	mock.ExpectQuery("WHERE user_id = \\$1\\s+ORDER BY").
		WithArgs(int64(7), 10, 0).
		WillReturnRows(pgxmock.NewRows(cols))

	got, total, err := repo.List(context.Background(), repository.WishlistFilter{UserID: 7, IncludeSessions: true})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.Equal(t, 0, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_List_PastLastPageCountsSeparately(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	cols := append(append([]string{}, wishlistCols...), "total_count")
	mock.ExpectQuery("SELECT .+ FROM wishlists").
		WithArgs(int64(7), 10, 50).
		WillReturnRows(pgxmock.NewRows(cols))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM wishlists").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	got, total, err := repo.List(context.Background(), repository.WishlistFilter{UserID: 7, Limit: 10, Offset: 50})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 3, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_List_QueryError(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM wishlists").
		WithArgs(int64(7), 10, 0).
		WillReturnError(errors.New("connection refused"))

	_, _, err := repo.List(context.Background(), repository.WishlistFilter{UserID: 7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list wishlists")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// GetByID / GetDefault
// ---------------------------------------------------------------------------

func TestWishlistRepository_GetByID_Success(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT .+ FROM wishlists WHERE id = \\$1").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows(wishlistCols).
			AddRow(wishlistRow(3, 7, "Gifts", domain.PrivacyShared, false, now)...))

	w, err := repo.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), w.ID)
	assert.Equal(t, int64(7), w.UserID)
	assert.Equal(t, domain.PrivacyShared, w.Privacy)
	assert.Nil(t, w.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM wishlists WHERE id = \\$1").
		WithArgs(int64(404)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_GetDefault_NotFound(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("WHERE user_id = \\$1 AND is_default").
		WithArgs(int64(7)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetDefault(context.Background(), 7)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Create / Update / Delete
// ---------------------------------------------------------------------------

func TestWishlistRepository_Create_Success(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	now := time.Now()
	w := &domain.Wishlist{UserID: 7, Name: "Gifts", Slug: "gifts", Token: "ABCDEF123456", Privacy: domain.PrivacyPublic}

	mock.ExpectQuery("INSERT INTO wishlists").
		WithArgs(int64(7), "", "Gifts", "gifts", "ABCDEF123456", domain.PrivacyPublic, false, (*time.Time)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(11), now, now))

	require.NoError(t, repo.Create(context.Background(), w))
	assert.Equal(t, int64(11), w.ID)
	assert.Equal(t, now, w.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_Create_DuplicateToken(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	w := &domain.Wishlist{UserID: 7, Name: "Gifts", Slug: "gifts", Token: "ABCDEF123456"}
	mock.ExpectQuery("INSERT INTO wishlists").
		WithArgs(int64(7), "", "Gifts", "gifts", "ABCDEF123456", domain.PrivacyPublic, false, (*time.Time)(nil)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "wishlists_token_key"})

	err := repo.Create(context.Background(), w)
	assert.True(t, errors.Is(err, apperrors.ErrAlreadyExists))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_Create_UniqueViolations(t *testing.T) {
	tests := []struct {
		name       string
		constraint string
		wantIs     error
		wantStatus int
	}{
		{"token clash", "wishlists_token_key", apperrors.ErrAlreadyExists, http.StatusConflict},
		{"second default for user", "uq_wishlists_default_per_user", apperrors.ErrConflict, http.StatusConflict},
		{"unknown constraint", "some_other_key", nil, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newWishlistTestFixture(t)
			defer mock.Close()

			w := &domain.Wishlist{UserID: 7, Name: "Gifts", Slug: "gifts", Token: "ABCDEF123456", IsDefault: true}
			mock.ExpectQuery("INSERT INTO wishlists").
				WithArgs(int64(7), "", "Gifts", "gifts", "ABCDEF123456", domain.PrivacyPublic, true, (*time.Time)(nil)).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: tt.constraint})

			err := repo.Create(context.Background(), w)
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.True(t, errors.Is(err, tt.wantIs))
			}
			assert.False(t, tt.constraint != "wishlists_token_key" && errors.Is(err, apperrors.ErrAlreadyExists),
				"only the token constraint is reported as a token collision")
			assert.Equal(t, tt.wantStatus, apperrors.HTTPStatus(err))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWishlistRepository_Update_Success(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	now := time.Now()
	w := &domain.Wishlist{ID: 3, Name: "Renamed", Slug: "renamed", Privacy: domain.PrivacyPrivate}
	mock.ExpectQuery("UPDATE wishlists").
		WithArgs(int64(3), "Renamed", "renamed", domain.PrivacyPrivate).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))

	require.NoError(t, repo.Update(context.Background(), w))
	assert.Equal(t, now, w.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_Update_NotFound(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	w := &domain.Wishlist{ID: 3, Name: "Renamed", Slug: "renamed"}
	mock.ExpectQuery("UPDATE wishlists").
		WithArgs(int64(3), "Renamed", "renamed", domain.PrivacyPublic).
		WillReturnError(pgx.ErrNoRows)

	err := repo.Update(context.Background(), w)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_Delete(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM wishlists WHERE id = \\$1").
		WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM wishlists WHERE id = \\$1").
		WithArgs(int64(4)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.NoError(t, repo.Delete(context.Background(), 3))
	assert.True(t, errors.Is(repo.Delete(context.Background(), 4), apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

func TestWishlistRepository_ListItems(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT product_id, quantity, date_added\\s+FROM wishlist_items").
		WithArgs(int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"product_id", "quantity", "date_added"}).
			AddRow(int64(100), 1, now).
			AddRow(int64(101), 4, now))

	items, err := repo.ListItems(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(101), items[1].ProductID)
	assert.Equal(t, 4, items[1].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_AddItem(t *testing.T) {
	tests := []struct {
		name     string
		result   pgconn.CommandTag
		err      error
		sentinel error
	}{
		{name: "inserted", result: pgxmock.NewResult("UPDATE", 1)},
		{name: "duplicate", result: pgxmock.NewResult("UPDATE", 0), sentinel: apperrors.ErrAlreadyExists},
		{name: "missing wishlist", err: &pgconn.PgError{Code: "23503"}, sentinel: apperrors.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newWishlistTestFixture(t)
			defer mock.Close()

			exp := mock.ExpectExec("INSERT INTO wishlist_items").WithArgs(int64(3), int64(100), 2)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(tt.result)
			}

			err := repo.AddItem(context.Background(), 3, domain.WishlistItem{ProductID: 100, Quantity: 2})
			if tt.sentinel == nil {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, tt.sentinel), "got %v", err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWishlistRepository_RemoveItem(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	mock.ExpectExec("DELETE FROM wishlist_items WHERE wishlist_id = \\$1 AND product_id = \\$2").
		WithArgs(int64(3), int64(100)).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM wishlist_items WHERE wishlist_id = \\$1 AND product_id = \\$2").
		WithArgs(int64(3), int64(999)).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.NoError(t, repo.RemoveItem(context.Background(), 3, 100))
	assert.True(t, errors.Is(repo.RemoveItem(context.Background(), 3, 999), apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_ReplaceItems_Success(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	ids := []int64{100, 101}
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wishlist_items").WithArgs(int64(3), ids).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO wishlist_items").WithArgs(int64(3), ids).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE wishlists SET updated_at").WithArgs(int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceItems(context.Background(), 3, ids))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_ReplaceItems_RollsBackOnError(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wishlist_items").WithArgs(int64(3), []int64{}).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec("INSERT INTO wishlist_items").WithArgs(int64(3), []int64{}).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := repo.ReplaceItems(context.Background(), 3, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert new items")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_UpdateWithItems_Success(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	now := time.Now()
	ids := []int64{100, 101}
	w := &domain.Wishlist{ID: 3, Name: "Renamed", Slug: "renamed", Privacy: domain.PrivacyShared}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE wishlists").
		WithArgs(int64(3), "Renamed", "renamed", domain.PrivacyShared).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))
	mock.ExpectExec("DELETE FROM wishlist_items").WithArgs(int64(3), ids).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO wishlist_items").WithArgs(int64(3), ids).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, repo.UpdateWithItems(context.Background(), w, ids))
	assert.Equal(t, now, w.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_UpdateWithItems_RollsBackRename(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	ids := []int64{100}
	w := &domain.Wishlist{ID: 3, Name: "Renamed", Slug: "renamed"}

	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE wishlists").
		WithArgs(int64(3), "Renamed", "renamed", domain.PrivacyPublic).
		WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(time.Now()))
	mock.ExpectExec("DELETE FROM wishlist_items").WithArgs(int64(3), ids).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.UpdateWithItems(context.Background(), w, ids)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delete stale items")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_UpdateWithItems_NotFound(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	w := &domain.Wishlist{ID: 3, Name: "Renamed", Slug: "renamed"}
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE wishlists").
		WithArgs(int64(3), "Renamed", "renamed", domain.PrivacyPublic).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err := repo.UpdateWithItems(context.Background(), w, []int64{100})
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistRepository_RemoveProductEverywhere(t *testing.T) {
	repo, mock := newWishlistTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("DELETE FROM wishlist_items WHERE product_id = \\$1 RETURNING wishlist_id").
		WithArgs(int64(100)).
		WillReturnRows(pgxmock.NewRows([]string{"wishlist_id"}).AddRow(int64(3)).AddRow(int64(9)))

	ids, err := repo.RemoveProductEverywhere(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 9}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}
