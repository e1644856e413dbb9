package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/wishlist-rest/internal/domain"
	apperrors "github.com/utafrali/wishlist-rest/pkg/errors"
	"github.com/utafrali/wishlist-rest/pkg/httputil"
	"github.com/utafrali/wishlist-rest/pkg/middleware"
)

// Namespace is the REST namespace every wishlist route lives under.
const Namespace = "yith/wishlist/v1"

// Response messages shared by permission checks and handlers.
const (
	MsgAuthRequired      = "Authentication Required"
	MsgInvalidID         = "Invalid id"
	MsgNotFound          = "Wishlist not found!"
	MsgNoReadPermission  = "You do not have permission to read."
	MsgNoWritePermission = "You do not have permission to write."
)

// PermissionFunc decides whether a request may reach its handler. A non-nil
// error is written as the response instead.
type PermissionFunc func(r *http.Request) error

// Route is one entry of the route table.
type Route struct {
	Name       string
	Method     string
	Pattern    string
	Permission PermissionFunc
	Handler    http.HandlerFunc
}

// RouteFilter may add, drop or replace routes before registration.
type RouteFilter func(routes []Route) []Route

// RegisterOptions customises RegisterRoutes.
type RegisterOptions struct {
	Filters []RouteFilter
	Before  []func(r chi.Router)
	After   []func(r chi.Router)
}

// RegisterRoutes mounts routes on r, running each route's permission check
// before its handler.
func RegisterRoutes(r chi.Router, routes []Route, opts RegisterOptions) {
	for _, hook := range opts.Before {
		hook(r)
	}

	for _, filter := range opts.Filters {
		routes = filter(routes)
	}
	for _, route := range routes {
		r.Method(route.Method, route.Pattern, guard(route.Permission, route.Handler))
	}

	for _, hook := range opts.After {
		hook(r)
	}
}

func guard(permission PermissionFunc, next http.HandlerFunc) http.Handler {
	if permission == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := permission(r); err != nil {
			httputil.WriteError(w, r, err, nil)
			return
		}
		next(w, r)
	})
}

// Routes returns the wishlist route table.
func (h *WishlistHandler) Routes() []Route {
	return []Route{
		{Name: "get", Method: http.MethodGet, Pattern: "/wishlists", Permission: h.CheckAuth, Handler: h.List},
		{Name: "post", Method: http.MethodPost, Pattern: "/wishlists", Permission: h.CheckAuth, Handler: h.Create},
		{Name: "get_single", Method: http.MethodGet, Pattern: "/wishlists/{id:[0-9]+}", Permission: h.CheckReadCap, Handler: h.Get},
		{Name: "update_single", Method: http.MethodPut, Pattern: "/wishlists/{id:[0-9]+}", Permission: h.CheckWriteCap, Handler: h.Update},
		{Name: "delete", Method: http.MethodDelete, Pattern: "/wishlists/{id:[0-9]+}", Permission: h.CheckWriteCap, Handler: h.Delete},
		{Name: "add_product", Method: http.MethodPost, Pattern: "/wishlists/{id:[0-9]+}/product/{product_id:[0-9]+}", Permission: h.CheckWriteCap, Handler: h.AddProduct},
		{Name: "remove_product", Method: http.MethodDelete, Pattern: "/wishlists/{id:[0-9]+}/product/{product_id:[0-9]+}", Permission: h.CheckWriteCap, Handler: h.RemoveProduct},
	}
}

// --- Permission checks ---

func principal(r *http.Request) domain.Principal {
	id := middleware.IdentityFromContext(r.Context())
	return domain.Principal{UserID: id.UserID, Role: id.Role}
}

func errNotFound() error {
	return &apperrors.AppError{Code: "NOT_FOUND", Message: MsgNotFound, Status: http.StatusNotFound, Err: apperrors.ErrNotFound}
}

// CheckAuth passes requests from signed-in callers.
func (h *WishlistHandler) CheckAuth(r *http.Request) error {
	if principal(r).LoggedIn() {
		return nil
	}
	return apperrors.Unauthorized(MsgAuthRequired)
}

// CheckReadCap passes callers that may view the wishlist in the path.
func (h *WishlistHandler) CheckReadCap(r *http.Request) error {
	return h.checkCap(r, domain.CapabilityView, MsgNoReadPermission)
}

// CheckWriteCap passes callers that may modify the wishlist in the path.
func (h *WishlistHandler) CheckWriteCap(r *http.Request) error {
	return h.checkCap(r, domain.CapabilityWrite, MsgNoWritePermission)
}

func (h *WishlistHandler) checkCap(r *http.Request, c domain.Capability, denied string) error {
	if err := h.CheckAuth(r); err != nil {
		return err
	}

	id := httputil.ParseID(chi.URLParam(r, "id"))
	if id == 0 {
		return errNotFound()
	}

	ok, err := h.service.CurrentUserCan(r.Context(), id, principal(r), c)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return errNotFound()
		}
		return err
	}
	if !ok {
		return apperrors.Forbidden(denied)
	}
	return nil
}
