package repository

import (
	"context"

	"github.com/utafrali/wishlist-rest/internal/domain"
)

// WishlistFilter selects wishlists for listing.
type WishlistFilter struct {
	UserID int64
	// IncludeSessions also returns wishlists that belong to anonymous
	// sessions rather than a user.
	IncludeSessions bool
	Limit           int
	Offset          int
}

// WishlistRepository defines wishlist persistence. Wishlists returned by
// List, GetByID and GetDefault carry no items; use ListItems for those.
type WishlistRepository interface {
	// List returns the wishlists matching filter and the total match count.
	List(ctx context.Context, filter WishlistFilter) ([]*domain.Wishlist, int, error)

	// GetByID returns a NotFound error when the wishlist does not exist.
	GetByID(ctx context.Context, id int64) (*domain.Wishlist, error)

	// GetDefault returns the user's default wishlist or a NotFound error.
	GetDefault(ctx context.Context, userID int64) (*domain.Wishlist, error)

	// Create inserts w and sets its ID and timestamps. A token collision
	// returns an AlreadyExists error; a second default wishlist for the
	// same user returns a Conflict error.
	Create(ctx context.Context, w *domain.Wishlist) error

	// Update saves name, slug and privacy of w and refreshes UpdatedAt.
	Update(ctx context.Context, w *domain.Wishlist) error

	// Delete removes a wishlist and its items.
	Delete(ctx context.Context, id int64) error

	// ListItems returns the items of a wishlist, oldest first.
	ListItems(ctx context.Context, wishlistID int64) ([]domain.WishlistItem, error)

	// AddItem returns an AlreadyExists error when the product is present.
	AddItem(ctx context.Context, wishlistID int64, item domain.WishlistItem) error

	// RemoveItem returns a NotFound error when the product is absent.
	RemoveItem(ctx context.Context, wishlistID, productID int64) error

	// ReplaceItems makes productIDs the wishlist's product set in one
	// transaction. Kept products keep their quantity; new ones get 1.
	ReplaceItems(ctx context.Context, wishlistID int64, productIDs []int64) error

	// UpdateWithItems applies Update and ReplaceItems atomically.
	UpdateWithItems(ctx context.Context, w *domain.Wishlist, productIDs []int64) error

	// RemoveProductEverywhere deletes productID from every wishlist and
	// returns the IDs of the wishlists that held it.
	RemoveProductEverywhere(ctx context.Context, productID int64) ([]int64, error)
}
