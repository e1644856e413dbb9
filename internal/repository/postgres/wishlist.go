package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/utafrali/wishlist-rest/internal/domain"
	"github.com/utafrali/wishlist-rest/internal/repository"
	"github.com/utafrali/wishlist-rest/pkg/database"
	apperrors "github.com/utafrali/wishlist-rest/pkg/errors"
)

const wishlistColumns = `id, user_id, COALESCE(session_id, ''), name, slug, token, privacy, is_default, created_at, updated_at, expires_at`

// WishlistRepository implements repository.WishlistRepository using PostgreSQL.
type WishlistRepository struct {
	db database.DBTX
}

var _ repository.WishlistRepository = (*WishlistRepository)(nil)

// NewWishlistRepository creates a new PostgreSQL-backed wishlist repository.
func NewWishlistRepository(db database.DBTX) *WishlistRepository {
	return &WishlistRepository{db: db}
}

func scanWishlist(row pgx.Row, extra ...any) (*domain.Wishlist, error) {
	var w domain.Wishlist
	dest := append([]any{
		&w.ID, &w.UserID, &w.SessionID, &w.Name, &w.Slug, &w.Token,
		&w.Privacy, &w.IsDefault, &w.CreatedAt, &w.UpdatedAt, &w.ExpiresAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &w, nil
}

// List returns a page of wishlists and the total match count.
func (r *WishlistRepository) List(ctx context.Context, filter repository.WishlistFilter) (_ []*domain.Wishlist, _ int, err error) {
	where := "WHERE user_id = $1"
	if !filter.IncludeSessions {
		where += " AND session_id IS NULL"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT ` + wishlistColumns + `, count(*) OVER() AS total_count
		FROM wishlists
		` + where + `
		ORDER BY is_default DESC, created_at ASC, id ASC
		LIMIT $2 OFFSET $3`

	ctx, end := database.TraceQuery(ctx, "ListWishlists", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, filter.UserID, limit, filter.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list wishlists: %w", err)
	}
	defer rows.Close()

	wishlists := []*domain.Wishlist{}
	total := 0
	for rows.Next() {
		w, err := scanWishlist(rows, &total)
		if err != nil {
			return nil, 0, fmt.Errorf("scan wishlist: %w", err)
		}
		wishlists = append(wishlists, w)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate wishlist rows: %w", err)
	}

	// An offset past the end yields no rows and so no window count.
	if len(wishlists) == 0 && filter.Offset > 0 {
		if err := r.db.QueryRow(ctx, `SELECT count(*) FROM wishlists `+where, filter.UserID).Scan(&total); err != nil {
			return nil, 0, fmt.Errorf("count wishlists: %w", err)
		}
	}
	return wishlists, total, nil
}

// GetByID retrieves a wishlist by ID.
func (r *WishlistRepository) GetByID(ctx context.Context, id int64) (_ *domain.Wishlist, err error) {
	query := `SELECT ` + wishlistColumns + ` FROM wishlists WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "GetWishlist", query)
	defer func() { end(err) }()

	w, err := scanWishlist(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("wishlist", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("get wishlist %d: %w", id, err)
	}
	return w, nil
}

// GetDefault retrieves the user's default wishlist.
func (r *WishlistRepository) GetDefault(ctx context.Context, userID int64) (_ *domain.Wishlist, err error) {
	query := `SELECT ` + wishlistColumns + ` FROM wishlists WHERE user_id = $1 AND is_default ORDER BY id LIMIT 1`

	ctx, end := database.TraceQuery(ctx, "GetDefaultWishlist", query)
	defer func() { end(err) }()

	w, err := scanWishlist(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("default wishlist for user", strconv.FormatInt(userID, 10))
		}
		return nil, fmt.Errorf("get default wishlist: %w", err)
	}
	return w, nil
}

// Create inserts a new wishlist.
func (r *WishlistRepository) Create(ctx context.Context, w *domain.Wishlist) (err error) {
	query := `
		INSERT INTO wishlists (user_id, session_id, name, slug, token, privacy, is_default, expires_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	ctx, end := database.TraceQuery(ctx, "CreateWishlist", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query,
		w.UserID, w.SessionID, w.Name, w.Slug, w.Token, w.Privacy, w.IsDefault, w.ExpiresAt,
	).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		switch uniqueViolation(err) {
		case tokenConstraint:
			return apperrors.AlreadyExists("wishlist", "token", w.Token)
		case defaultWishlistConstraint:
			return apperrors.Conflict("user already has a default wishlist")
		}
		return fmt.Errorf("insert wishlist: %w", err)
	}
	return nil
}

// Update saves the mutable fields of a wishlist.
func (r *WishlistRepository) Update(ctx context.Context, w *domain.Wishlist) (err error) {
	query := updateWishlistQuery

	ctx, end := database.TraceQuery(ctx, "UpdateWishlist", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query, w.ID, w.Name, w.Slug, w.Privacy).Scan(&w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("wishlist", strconv.FormatInt(w.ID, 10))
		}
		return fmt.Errorf("update wishlist %d: %w", w.ID, err)
	}
	return nil
}

// Delete removes a wishlist. Items go with it through ON DELETE CASCADE.
func (r *WishlistRepository) Delete(ctx context.Context, id int64) (err error) {
	query := `DELETE FROM wishlists WHERE id = $1`

	ctx, end := database.TraceQuery(ctx, "DeleteWishlist", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete wishlist %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("wishlist", strconv.FormatInt(id, 10))
	}
	return nil
}

// ListItems returns a wishlist's items in the order they were added.
func (r *WishlistRepository) ListItems(ctx context.Context, wishlistID int64) (_ []domain.WishlistItem, err error) {
	query := `
		SELECT product_id, quantity, date_added
		FROM wishlist_items
		WHERE wishlist_id = $1
		ORDER BY date_added ASC, product_id ASC`

	ctx, end := database.TraceQuery(ctx, "ListWishlistItems", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, wishlistID)
	if err != nil {
		return nil, fmt.Errorf("list wishlist items: %w", err)
	}
	defer rows.Close()

	items := []domain.WishlistItem{}
	for rows.Next() {
		var it domain.WishlistItem
		if err := rows.Scan(&it.ProductID, &it.Quantity, &it.DateAdded); err != nil {
			return nil, fmt.Errorf("scan wishlist item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wishlist item rows: %w", err)
	}
	return items, nil
}

// AddItem inserts a product into a wishlist and touches the wishlist.
func (r *WishlistRepository) AddItem(ctx context.Context, wishlistID int64, item domain.WishlistItem) (err error) {
	query := `
		WITH ins AS (
			INSERT INTO wishlist_items (wishlist_id, product_id, quantity)
			VALUES ($1, $2, $3)
			ON CONFLICT (wishlist_id, product_id) DO NOTHING
			RETURNING wishlist_id
		)
		UPDATE wishlists SET updated_at = NOW() WHERE id IN (SELECT wishlist_id FROM ins)`

	ctx, end := database.TraceQuery(ctx, "AddWishlistItem", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, wishlistID, item.ProductID, item.Quantity)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.NotFound("wishlist", strconv.FormatInt(wishlistID, 10))
		}
		return fmt.Errorf("add wishlist item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.AlreadyExists("wishlist item", "product_id", strconv.FormatInt(item.ProductID, 10))
	}
	return nil
}

// RemoveItem deletes a product from a wishlist.
func (r *WishlistRepository) RemoveItem(ctx context.Context, wishlistID, productID int64) (err error) {
	query := `DELETE FROM wishlist_items WHERE wishlist_id = $1 AND product_id = $2`

	ctx, end := database.TraceQuery(ctx, "RemoveWishlistItem", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, wishlistID, productID)
	if err != nil {
		return fmt.Errorf("remove wishlist item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("wishlist item", strconv.FormatInt(productID, 10))
	}
	return nil
}

const (
	deleteStaleItemsQuery = `DELETE FROM wishlist_items WHERE wishlist_id = $1 AND NOT (product_id = ANY($2))`
	insertNewItemsQuery   = `
		INSERT INTO wishlist_items (wishlist_id, product_id, quantity)
		SELECT $1, unnest($2::bigint[]), 1
		ON CONFLICT (wishlist_id, product_id) DO NOTHING`
	touchWishlistQuery  = `UPDATE wishlists SET updated_at = NOW() WHERE id = $1`
	updateWishlistQuery = `
		UPDATE wishlists
		SET name = $2, slug = $3, privacy = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`
)

type txStep struct {
	what  string
	query string
	args  []any
}

func itemSteps(wishlistID int64, productIDs []int64) []txStep {
	if productIDs == nil {
		productIDs = []int64{}
	}
	return []txStep{
		{"delete stale items", deleteStaleItemsQuery, []any{wishlistID, productIDs}},
		{"insert new items", insertNewItemsQuery, []any{wishlistID, productIDs}},
	}
}

func execSteps(ctx context.Context, tx pgx.Tx, op string, steps []txStep) error {
	for _, step := range steps {
		if _, err := tx.Exec(ctx, step.query, step.args...); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("%s: %s: %w", op, step.what, err)
		}
	}
	return nil
}

// ReplaceItems sets the wishlist's product set.
func (r *WishlistRepository) ReplaceItems(ctx context.Context, wishlistID int64, productIDs []int64) (err error) {
	ctx, end := database.TraceQuery(ctx, "ReplaceWishlistItems", insertNewItemsQuery)
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace items: %w", err)
	}

	steps := append(itemSteps(wishlistID, productIDs), txStep{"touch wishlist", touchWishlistQuery, []any{wishlistID}})
	if err = execSteps(ctx, tx, "replace items", steps); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace items: %w", err)
	}
	return nil
}

// UpdateWithItems saves name, slug and privacy of w and replaces its
// product set in a single transaction.
func (r *WishlistRepository) UpdateWithItems(ctx context.Context, w *domain.Wishlist, productIDs []int64) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateWishlistWithItems", updateWishlistQuery)
	defer func() { end(err) }()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update wishlist: %w", err)
	}

	if err = tx.QueryRow(ctx, updateWishlistQuery, w.ID, w.Name, w.Slug, w.Privacy).Scan(&w.UpdatedAt); err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("wishlist", strconv.FormatInt(w.ID, 10))
		}
		return fmt.Errorf("update wishlist %d: %w", w.ID, err)
	}

	if err = execSteps(ctx, tx, "update wishlist items", itemSteps(w.ID, productIDs)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update wishlist: %w", err)
	}
	return nil
}

// RemoveProductEverywhere deletes a product from all wishlists.
func (r *WishlistRepository) RemoveProductEverywhere(ctx context.Context, productID int64) (_ []int64, err error) {
	query := `DELETE FROM wishlist_items WHERE product_id = $1 RETURNING wishlist_id`

	ctx, end := database.TraceQuery(ctx, "RemoveProductEverywhere", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("remove product %d from wishlists: %w", productID, err)
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan wishlist id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate removed rows: %w", err)
	}
	return ids, nil
}

// Unique constraints on wishlists, as named in the migrations.
const (
	tokenConstraint           = "wishlists_token_key"
	defaultWishlistConstraint = "uq_wishlists_default_per_user"
)

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// uniqueViolation returns the name of the violated unique constraint, or ""
// when err is not a unique violation.
func uniqueViolation(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName
	}
	return ""
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}
