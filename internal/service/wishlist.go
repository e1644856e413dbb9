package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"strings"

	"github.com/utafrali/wishlist-rest/internal/catalog"
	"github.com/utafrali/wishlist-rest/internal/domain"
	"github.com/utafrali/wishlist-rest/internal/event"
	"github.com/utafrali/wishlist-rest/internal/repository"
	apperrors "github.com/utafrali/wishlist-rest/pkg/errors"
	"github.com/utafrali/wishlist-rest/pkg/pagination"
	"github.com/utafrali/wishlist-rest/pkg/slug"
)

// Messages of the domain errors the engine returns.
const (
	MsgAlreadyInWishlist = "The product is already in your wishlist!"
	MsgNotInWishlist     = "The product is not in your wishlist."
	MsgProductNotFound   = "The product does not exist."
	MsgInvalidProduct    = "An error occurred while adding the products to the wishlist."
	MsgInvalidQuantity   = "Quantity must be at least 1."
	MsgQuantityTooLarge  = "Quantity is too large."
	MsgNotOwner          = "You cannot modify a wishlist that belongs to another user."
	MsgLoginRequired     = "You must be logged in to use a default wishlist."
	MsgNameRequired      = "Wishlist name is required."
	MsgNameTooLong       = "Wishlist name must be at most 255 characters."
	MsgInvalidPrivacy    = "Privacy must be 0 (public), 1 (shared) or 2 (private)."
	MsgNothingToUpdate   = "Nothing to update."
)

const (
	tokenLength     = 12
	tokenAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxNameLength   = 255
	maxTokenRetries = 3

	// maxQuantity is the largest value the quantity column holds.
	maxQuantity = math.MaxInt32
)

// WishlistService implements the wishlist business rules.
type WishlistService struct {
	repo     repository.WishlistRepository
	catalog  catalog.ProductCatalog
	producer *event.Producer
	logger   *slog.Logger
	newToken func() (string, error)
}

// NewWishlistService creates a new wishlist service. producer may be nil.
func NewWishlistService(repo repository.WishlistRepository, products catalog.ProductCatalog, producer *event.Producer, logger *slog.Logger) *WishlistService {
	return &WishlistService{
		repo:     repo,
		catalog:  products,
		producer: producer,
		logger:   logger,
		newToken: generateToken,
	}
}

// WishlistQuery selects the wishlists returned by Query.
type WishlistQuery struct {
	UserID          int64
	IncludeSessions bool
	Page            int
	PerPage         int
}

// CreateInput holds the parameters for creating a wishlist.
type CreateInput struct {
	Name    string
	Privacy domain.Privacy
}

// UpdateInput holds the parameters for updating a wishlist. Nil fields are
// left unchanged; a non-nil ProductIDs replaces the product set.
type UpdateInput struct {
	Name       *string
	Privacy    *domain.Privacy
	ProductIDs *[]int64
}

// AddInput holds the parameters for adding a product. A zero WishlistID
// targets the user's default wishlist, which is created when missing.
// Admin skips the ownership check.
type AddInput struct {
	UserID     int64
	Admin      bool
	WishlistID int64
	ProductID  int64
	Quantity   int
}

// RemoveInput holds the parameters for removing a product. A zero
// WishlistID targets the user's default wishlist.
type RemoveInput struct {
	UserID     int64
	Admin      bool
	WishlistID int64
	ProductID  int64
}

// Query returns one page of wishlists with their items, and the total
// number of matching wishlists.
func (s *WishlistService) Query(ctx context.Context, q WishlistQuery) ([]*domain.Wishlist, int, error) {
	page := pagination.Params{Page: q.Page, PerPage: q.PerPage}.Normalize()

	wishlists, total, err := s.repo.List(ctx, repository.WishlistFilter{
		UserID:          q.UserID,
		IncludeSessions: q.IncludeSessions,
		Limit:           page.PerPage,
		Offset:          page.Offset(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("query wishlists: %w", err)
	}

	for _, w := range wishlists {
		if err := s.loadItems(ctx, w); err != nil {
			return nil, 0, err
		}
	}
	return wishlists, total, nil
}

// Get returns a wishlist with its items.
func (s *WishlistService) Get(ctx context.Context, id int64) (*domain.Wishlist, error) {
	w, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Create creates a wishlist for userID. The user's first wishlist becomes
// the default one.
func (s *WishlistService) Create(ctx context.Context, userID int64, in CreateInput) (*domain.Wishlist, error) {
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	if !in.Privacy.Valid() {
		return nil, apperrors.Unprocessable(MsgInvalidPrivacy)
	}

	isDefault := false
	if _, err := s.repo.GetDefault(ctx, userID); err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("look up default wishlist: %w", err)
		}
		isDefault = true
	}

	w := &domain.Wishlist{
		UserID:    userID,
		Name:      name,
		Slug:      slug.Generate(name),
		Privacy:   in.Privacy,
		IsDefault: isDefault,
		Items:     []domain.WishlistItem{},
	}
	err = s.insert(ctx, w)
	if err != nil && w.IsDefault && errors.Is(err, apperrors.ErrConflict) {
		// A concurrent request created the default wishlist first.
		w.IsDefault = false
		err = s.insert(ctx, w)
	}
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "wishlist created",
		slog.Int64("wishlist_id", w.ID),
		slog.Int64("user_id", userID),
		slog.Bool("is_default", w.IsDefault),
	)
	if err := s.producer.PublishWishlistCreated(ctx, w); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish wishlist created event",
			slog.Int64("wishlist_id", w.ID),
			slog.String("error", err.Error()),
		)
	}
	return w, nil
}

// Update changes a wishlist's name, privacy or product set.
func (s *WishlistService) Update(ctx context.Context, id int64, in UpdateInput) (*domain.Wishlist, error) {
	if in.Name == nil && in.Privacy == nil && in.ProductIDs == nil {
		return nil, apperrors.Unprocessable(MsgNothingToUpdate)
	}

	w, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	// Everything is validated before the first write.
	if in.Name != nil {
		name, err := normalizeName(*in.Name)
		if err != nil {
			return nil, err
		}
		w.Name = name
		w.Slug = slug.Generate(name)
	}
	if in.Privacy != nil {
		if !in.Privacy.Valid() {
			return nil, apperrors.Unprocessable(MsgInvalidPrivacy)
		}
		w.Privacy = *in.Privacy
	}
	var ids []int64
	if in.ProductIDs != nil {
		if ids, err = s.checkProducts(ctx, w, *in.ProductIDs); err != nil {
			return nil, err
		}
	}

	meta := in.Name != nil || in.Privacy != nil
	switch {
	case meta && in.ProductIDs != nil:
		err = s.repo.UpdateWithItems(ctx, w, ids)
	case meta:
		err = s.repo.Update(ctx, w)
	default:
		err = s.repo.ReplaceItems(ctx, w.ID, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("update wishlist: %w", err)
	}

	updated, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "wishlist updated", slog.Int64("wishlist_id", id))
	if err := s.producer.PublishWishlistUpdated(ctx, updated); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish wishlist updated event",
			slog.Int64("wishlist_id", id),
			slog.String("error", err.Error()),
		)
	}
	return updated, nil
}

// Delete removes a wishlist and its items.
func (s *WishlistService) Delete(ctx context.Context, id int64) error {
	w, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "wishlist deleted",
		slog.Int64("wishlist_id", id),
		slog.Int64("user_id", w.UserID),
	)
	if err := s.producer.PublishWishlistDeleted(ctx, w); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish wishlist deleted event",
			slog.Int64("wishlist_id", id),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Add puts a product into a wishlist.
func (s *WishlistService) Add(ctx context.Context, in AddInput) error {
	if in.ProductID <= 0 {
		return apperrors.Unprocessable(MsgInvalidProduct)
	}
	if in.Quantity < 1 {
		return apperrors.Unprocessable(MsgInvalidQuantity)
	}
	if in.Quantity > maxQuantity {
		return apperrors.Unprocessable(MsgQuantityTooLarge)
	}

	exists, err := s.catalog.Exists(ctx, in.ProductID)
	if err != nil {
		return fmt.Errorf("check product %d: %w", in.ProductID, err)
	}
	if !exists {
		return apperrors.Unprocessable(MsgProductNotFound)
	}

	var w *domain.Wishlist
	if in.WishlistID == 0 {
		w, err = s.defaultWishlist(ctx, in.UserID)
	} else {
		w, err = s.repo.GetByID(ctx, in.WishlistID)
	}
	if err != nil {
		return err
	}
	if !in.Admin && !w.OwnedBy(in.UserID) {
		return apperrors.Unprocessable(MsgNotOwner)
	}

	err = s.repo.AddItem(ctx, w.ID, domain.WishlistItem{ProductID: in.ProductID, Quantity: in.Quantity})
	if err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return apperrors.Unprocessable(MsgAlreadyInWishlist)
		}
		return fmt.Errorf("add product to wishlist: %w", err)
	}

	s.logger.InfoContext(ctx, "product added to wishlist",
		slog.Int64("wishlist_id", w.ID),
		slog.Int64("product_id", in.ProductID),
		slog.Int("quantity", in.Quantity),
	)
	if err := s.producer.PublishProductAdded(ctx, w, in.ProductID, in.Quantity); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish product added event",
			slog.Int64("wishlist_id", w.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Remove takes a product out of a wishlist.
func (s *WishlistService) Remove(ctx context.Context, in RemoveInput) error {
	if in.ProductID <= 0 {
		return apperrors.Unprocessable(MsgNotInWishlist)
	}

	var (
		w   *domain.Wishlist
		err error
	)
	if in.WishlistID == 0 {
		if in.UserID <= 0 {
			return apperrors.Unprocessable(MsgLoginRequired)
		}
		w, err = s.repo.GetDefault(ctx, in.UserID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Unprocessable(MsgNotInWishlist)
		}
	} else {
		w, err = s.repo.GetByID(ctx, in.WishlistID)
	}
	if err != nil {
		return err
	}
	if !in.Admin && !w.OwnedBy(in.UserID) {
		return apperrors.Unprocessable(MsgNotOwner)
	}

	if err := s.repo.RemoveItem(ctx, w.ID, in.ProductID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Unprocessable(MsgNotInWishlist)
		}
		return fmt.Errorf("remove product from wishlist: %w", err)
	}

	s.logger.InfoContext(ctx, "product removed from wishlist",
		slog.Int64("wishlist_id", w.ID),
		slog.Int64("product_id", in.ProductID),
	)
	if err := s.producer.PublishProductRemoved(ctx, w.ID, w.UserID, in.ProductID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish product removed event",
			slog.Int64("wishlist_id", w.ID),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// CurrentUserCan reports whether p holds capability c on the wishlist.
// A missing wishlist is returned as a NotFound error.
func (s *WishlistService) CurrentUserCan(ctx context.Context, wishlistID int64, p domain.Principal, c domain.Capability) (bool, error) {
	w, err := s.repo.GetByID(ctx, wishlistID)
	if err != nil {
		return false, err
	}
	return p.Can(w, c), nil
}

// PurgeProduct removes a product from every wishlist and returns the IDs
// of the wishlists that held it.
func (s *WishlistService) PurgeProduct(ctx context.Context, productID int64) ([]int64, error) {
	ids, err := s.repo.RemoveProductEverywhere(ctx, productID)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.producer.PublishProductRemoved(ctx, id, 0, productID); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish product removed event",
				slog.Int64("wishlist_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
	return ids, nil
}

func (s *WishlistService) loadItems(ctx context.Context, w *domain.Wishlist) error {
	items, err := s.repo.ListItems(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("load items of wishlist %d: %w", w.ID, err)
	}
	w.Items = items
	return nil
}

// defaultWishlist returns the user's default wishlist, creating it when
// the user has none yet.
func (s *WishlistService) defaultWishlist(ctx context.Context, userID int64) (*domain.Wishlist, error) {
	if userID <= 0 {
		return nil, apperrors.Unprocessable(MsgLoginRequired)
	}

	w, err := s.repo.GetDefault(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, fmt.Errorf("look up default wishlist: %w", err)
	}

	w = &domain.Wishlist{
		UserID:    userID,
		Name:      domain.DefaultWishlistName,
		Slug:      slug.Generate(domain.DefaultWishlistName),
		Privacy:   domain.PrivacyPublic,
		IsDefault: true,
		Items:     []domain.WishlistItem{},
	}
	if err := s.insert(ctx, w); err != nil {
		// A concurrent request may have created it first.
		if errors.Is(err, apperrors.ErrConflict) {
			return s.repo.GetDefault(ctx, userID)
		}
		return nil, err
	}

	s.logger.InfoContext(ctx, "default wishlist created",
		slog.Int64("wishlist_id", w.ID),
		slog.Int64("user_id", userID),
	)
	if err := s.producer.PublishWishlistCreated(ctx, w); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish wishlist created event",
			slog.Int64("wishlist_id", w.ID),
			slog.String("error", err.Error()),
		)
	}
	return w, nil
}

// insert creates w with a fresh token, drawing a new one on collision.
func (s *WishlistService) insert(ctx context.Context, w *domain.Wishlist) error {
	var err error
	for attempt := 0; attempt < maxTokenRetries; attempt++ {
		if w.Token, err = s.newToken(); err != nil {
			return fmt.Errorf("generate wishlist token: %w", err)
		}
		err = s.repo.Create(ctx, w)
		if err == nil || !errors.Is(err, apperrors.ErrAlreadyExists) {
			break
		}
		s.logger.WarnContext(ctx, "wishlist token collision, retrying", slog.Int("attempt", attempt+1))
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return apperrors.Internal(fmt.Errorf("no unique wishlist token after %d attempts: %v", maxTokenRetries, err))
	case errors.Is(err, apperrors.ErrConflict):
		return err
	}
	return fmt.Errorf("create wishlist: %w", err)
}

// checkProducts validates a replacement product set. Products already in
// the wishlist are accepted without a catalog lookup.
func (s *WishlistService) checkProducts(ctx context.Context, w *domain.Wishlist, productIDs []int64) ([]int64, error) {
	seen := make(map[int64]struct{}, len(productIDs))
	ids := make([]int64, 0, len(productIDs))
	for _, id := range productIDs {
		if id <= 0 {
			return nil, apperrors.Unprocessable(MsgInvalidProduct)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)

		if w.HasProduct(id) {
			continue
		}
		exists, err := s.catalog.Exists(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("check product %d: %w", id, err)
		}
		if !exists {
			return nil, apperrors.Unprocessable(MsgProductNotFound)
		}
	}
	return ids, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", apperrors.Unprocessable(MsgNameRequired)
	case len([]rune(name)) > maxNameLength:
		return "", apperrors.Unprocessable(MsgNameTooLong)
	}
	return name, nil
}

// generateToken returns a random uppercase alphanumeric token.
func generateToken() (string, error) {
	return tokenFrom(rand.Reader)
}

// tokenFrom draws every character uniformly from tokenAlphabet. rand.Int
// rejects out-of-range samples, so no character is favoured.
func tokenFrom(src io.Reader) (string, error) {
	n := big.NewInt(int64(len(tokenAlphabet)))
	b := make([]byte, tokenLength)
	for i := range b {
		idx, err := rand.Int(src, n)
		if err != nil {
			return "", err
		}
		b[i] = tokenAlphabet[idx.Int64()]
	}
	return string(b), nil
}
