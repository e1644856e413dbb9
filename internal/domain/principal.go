package domain

// Role names carried in access tokens.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// Capability is a permission on one wishlist.
type Capability string

const (
	CapabilityView  Capability = "view"
	CapabilityWrite Capability = "write"
)

// Principal is the authenticated user of a request. The zero value is an
// anonymous visitor.
type Principal struct {
	UserID int64
	Role   string
}

// LoggedIn reports whether the principal is an authenticated user.
func (p Principal) LoggedIn() bool {
	return p.UserID > 0
}

// IsAdmin reports whether the principal may manage every wishlist.
func (p Principal) IsAdmin() bool {
	return p.LoggedIn() && p.Role == RoleAdmin
}

// Can reports whether p holds capability c on w.
//
// Owners and admins hold every capability. Any logged-in user may view
// public and shared wishlists; private wishlists are owner-only.
func (p Principal) Can(w *Wishlist, c Capability) bool {
	if w == nil || !p.LoggedIn() {
		return false
	}
	if p.IsAdmin() || w.OwnedBy(p.UserID) {
		return true
	}
	if c != CapabilityView {
		return false
	}
	return w.Privacy == PrivacyPublic || w.Privacy == PrivacyShared
}
