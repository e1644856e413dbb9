package domain

import (
	"fmt"
	"time"
)

// Privacy controls who besides the owner may view a wishlist.
type Privacy int

const (
	PrivacyPublic  Privacy = 0
	PrivacyShared  Privacy = 1
	PrivacyPrivate Privacy = 2
)

// Valid reports whether p is one of the known privacy levels.
func (p Privacy) Valid() bool {
	return p >= PrivacyPublic && p <= PrivacyPrivate
}

func (p Privacy) String() string {
	switch p {
	case PrivacyPublic:
		return "public"
	case PrivacyShared:
		return "shared"
	case PrivacyPrivate:
		return "private"
	default:
		return fmt.Sprintf("privacy(%d)", int(p))
	}
}

// DefaultWishlistName is used for the wishlist created on a user's first add.
const DefaultWishlistName = "My wishlist"

// Wishlist is a named collection of products owned by a user, or by an
// anonymous session when UserID is 0.
type Wishlist struct {
	ID        int64          `json:"id"`
	UserID    int64          `json:"user_id"`
	SessionID string         `json:"session_id,omitempty"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	Token     string         `json:"token"`
	Privacy   Privacy        `json:"privacy"`
	IsDefault bool           `json:"is_default"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	Items     []WishlistItem `json:"items"`
}

// WishlistItem is a product reference plus quantity within a wishlist.
type WishlistItem struct {
	ProductID int64     `json:"product_id"`
	Quantity  int       `json:"quantity"`
	DateAdded time.Time `json:"date_added"`
}

// IsSession reports whether the wishlist belongs to an anonymous session.
func (w *Wishlist) IsSession() bool {
	return w.UserID == 0 && w.SessionID != ""
}

// OwnedBy reports whether userID owns the wishlist. Session wishlists have
// no owning user.
func (w *Wishlist) OwnedBy(userID int64) bool {
	return userID != 0 && w.UserID == userID
}

// HasProduct reports whether productID is already in the wishlist.
func (w *Wishlist) HasProduct(productID int64) bool {
	for _, it := range w.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// ProductIDs lists the products in item order.
func (w *Wishlist) ProductIDs() []int64 {
	ids := make([]int64, 0, len(w.Items))
	for _, it := range w.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

// ItemCount is the number of distinct products in the wishlist.
func (w *Wishlist) ItemCount() int {
	return len(w.Items)
}
