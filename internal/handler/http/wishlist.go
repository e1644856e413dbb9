package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/wishlist-rest/internal/domain"
	"github.com/utafrali/wishlist-rest/internal/service"
	apperrors "github.com/utafrali/wishlist-rest/pkg/errors"
	"github.com/utafrali/wishlist-rest/pkg/httputil"
	"github.com/utafrali/wishlist-rest/pkg/pagination"
	"github.com/utafrali/wishlist-rest/pkg/validator"
)

// WishlistService is the wishlist engine the handlers delegate to.
type WishlistService interface {
	Query(ctx context.Context, q service.WishlistQuery) ([]*domain.Wishlist, int, error)
	Get(ctx context.Context, id int64) (*domain.Wishlist, error)
	Create(ctx context.Context, userID int64, in service.CreateInput) (*domain.Wishlist, error)
	Update(ctx context.Context, id int64, in service.UpdateInput) (*domain.Wishlist, error)
	Delete(ctx context.Context, id int64) error
	Add(ctx context.Context, in service.AddInput) error
	Remove(ctx context.Context, in service.RemoveInput) error
	CurrentUserCan(ctx context.Context, wishlistID int64, p domain.Principal, c domain.Capability) (bool, error)
}

// WishlistHandler handles HTTP requests for wishlist endpoints.
type WishlistHandler struct {
	service WishlistService
	logger  *slog.Logger
}

// NewWishlistHandler creates a new wishlist HTTP handler.
func NewWishlistHandler(svc WishlistService, logger *slog.Logger) *WishlistHandler {
	return &WishlistHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// CreateWishlistRequest is the body of POST /wishlists.
type CreateWishlistRequest struct {
	Name    string `json:"name" validate:"required,max=255"`
	Privacy int    `json:"privacy" validate:"gte=0,lte=2"`
}

// UpdateWishlistRequest is the body of PUT /wishlists/{id}. Omitted fields
// are left unchanged.
type UpdateWishlistRequest struct {
	Name       *string  `json:"name" validate:"omitempty,min=1,max=255"`
	Privacy    *int     `json:"privacy" validate:"omitempty,gte=0,lte=2"`
	ProductIDs *[]int64 `json:"product_ids"`
}

// AddProductRequest is the optional body of POST .../product/{product_id}.
type AddProductRequest struct {
	Quantity *int `json:"quantity"`
}

// DeleteWishlistResponse is returned by DELETE /wishlists/{id}.
type DeleteWishlistResponse struct {
	ID int64 `json:"id"`
}

// --- Handlers ---

// List handles GET /wishlists.
func (h *WishlistHandler) List(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r)

	wishlists, total, err := h.service.Query(r.Context(), service.WishlistQuery{
		UserID:  principal(r).UserID,
		Page:    page.Page,
		PerPage: page.PerPage,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if wishlists == nil {
		wishlists = []*domain.Wishlist{}
	}

	pagination.WriteHeaders(w, total, page)
	httputil.WriteJSON(w, http.StatusOK, wishlists)
}

// Create handles POST /wishlists.
func (h *WishlistHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateWishlistRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	wl, err := h.service.Create(r.Context(), principal(r).UserID, service.CreateInput{
		Name:    req.Name,
		Privacy: domain.Privacy(req.Privacy),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, wl)
}

// Get handles GET /wishlists/{id}.
func (h *WishlistHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := httputil.ParseID(chi.URLParam(r, "id"))
	if id == 0 {
		writeInvalidID(w, r)
		return
	}

	wl, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wl)
}

// Update handles PUT /wishlists/{id}.
func (h *WishlistHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := httputil.ParseID(chi.URLParam(r, "id"))
	if id == 0 {
		writeInvalidID(w, r)
		return
	}

	var req UpdateWishlistRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	in := service.UpdateInput{Name: req.Name, ProductIDs: req.ProductIDs}
	if req.Privacy != nil {
		p := domain.Privacy(*req.Privacy)
		in.Privacy = &p
	}

	wl, err := h.service.Update(r.Context(), id, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wl)
}

// Delete handles DELETE /wishlists/{id}.
func (h *WishlistHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := httputil.ParseID(chi.URLParam(r, "id"))
	if id == 0 {
		writeInvalidID(w, r)
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DeleteWishlistResponse{ID: id})
}

// AddProduct handles POST /wishlists/{id}/product/{product_id}. The
// quantity comes from the query string or the JSON body and defaults to 1.
func (h *WishlistHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	wishlistID := httputil.ParseID(chi.URLParam(r, "id"))
	productID := httputil.ParseID(chi.URLParam(r, "product_id"))
	if productID == 0 {
		httputil.WriteError(w, r, errNotFound(), h.logger)
		return
	}

	quantity, err := parseQuantity(r)
	if err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	p := principal(r)
	err = h.service.Add(r.Context(), service.AddInput{
		UserID:     p.UserID,
		Admin:      p.IsAdmin(),
		WishlistID: wishlistID,
		ProductID:  productID,
		Quantity:   quantity,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeWishlist(w, r, wishlistID)
}

// RemoveProduct handles DELETE /wishlists/{id}/product/{product_id}.
func (h *WishlistHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	wishlistID := httputil.ParseID(chi.URLParam(r, "id"))
	productID := httputil.ParseID(chi.URLParam(r, "product_id"))
	if wishlistID == 0 || productID == 0 {
		httputil.WriteError(w, r, errNotFound(), h.logger)
		return
	}

	p := principal(r)
	err := h.service.Remove(r.Context(), service.RemoveInput{
		UserID:     p.UserID,
		Admin:      p.IsAdmin(),
		WishlistID: wishlistID,
		ProductID:  productID,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeWishlist(w, r, wishlistID)
}

// --- Helpers ---

// writeWishlist responds with the current state of a wishlist after a
// successful mutation.
func (h *WishlistHandler) writeWishlist(w http.ResponseWriter, r *http.Request, id int64) {
	wl, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, wl)
}

// writeError reports a missing wishlist with the route's own 404 message
// and hands everything else to the shared error writer.
func (h *WishlistHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status == http.StatusNotFound {
		err = errNotFound()
	}
	httputil.WriteError(w, r, err, h.logger)
}

func writeInvalidID(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorBody(w, r, http.StatusUnprocessableEntity, "INVALID_INPUT", MsgInvalidID)
}

func parseQuantity(r *http.Request) (int, error) {
	if v := r.URL.Query().Get("quantity"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			return 0, errors.New("quantity must be an integer")
		}
		return orDefaultQuantity(q), nil
	}

	if r.Body == nil || r.Body == http.NoBody {
		return 1, nil
	}
	var req AddProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return 1, nil
		}
		return 0, fmt.Errorf("decode request body: %w", err)
	}
	if req.Quantity == nil {
		return 1, nil
	}
	return orDefaultQuantity(*req.Quantity), nil
}

// orDefaultQuantity maps an explicit zero to the default of 1. Negative
// values are passed on for the engine to reject.
func orDefaultQuantity(q int) int {
	if q == 0 {
		return 1
	}
	return q
}
