package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/utafrali/wishlist-rest/internal/domain"
	pkgkafka "github.com/utafrali/wishlist-rest/pkg/kafka"
	"github.com/utafrali/wishlist-rest/pkg/logger"
)

// Kafka topic constants for wishlist domain events.
const (
	TopicWishlistCreated        = "ecommerce.wishlist.created"
	TopicWishlistUpdated        = "ecommerce.wishlist.updated"
	TopicWishlistDeleted        = "ecommerce.wishlist.deleted"
	TopicWishlistProductAdded   = "ecommerce.wishlist.product_added"
	TopicWishlistProductRemoved = "ecommerce.wishlist.product_removed"
)

// Aggregate type constant.
const AggregateTypeWishlist = "wishlist"

// Source identifier for events originating from the wishlist service.
const SourceWishlistService = "wishlist-service"

// WishlistData is the payload for wishlist.created and wishlist.updated.
type WishlistData struct {
	ID         int64   `json:"id"`
	UserID     int64   `json:"user_id"`
	Name       string  `json:"name"`
	Slug       string  `json:"slug"`
	Token      string  `json:"token"`
	Privacy    string  `json:"privacy"`
	IsDefault  bool    `json:"is_default"`
	ProductIDs []int64 `json:"product_ids"`
}

// WishlistDeletedData is the payload for wishlist.deleted.
type WishlistDeletedData struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"user_id"`
}

// WishlistProductData is the payload for wishlist.product_added and
// wishlist.product_removed.
type WishlistProductData struct {
	WishlistID int64 `json:"wishlist_id"`
	UserID     int64 `json:"user_id"`
	ProductID  int64 `json:"product_id"`
	Quantity   int   `json:"quantity,omitempty"`
}

// Publisher sends envelopes to a topic. *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes wishlist domain events. A nil *Producer, or one built
// on a nil Publisher, drops every event.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the wishlist service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

func newWishlistData(w *domain.Wishlist) WishlistData {
	return WishlistData{
		ID:         w.ID,
		UserID:     w.UserID,
		Name:       w.Name,
		Slug:       w.Slug,
		Token:      w.Token,
		Privacy:    w.Privacy.String(),
		IsDefault:  w.IsDefault,
		ProductIDs: w.ProductIDs(),
	}
}

// PublishWishlistCreated publishes a wishlist.created event.
func (p *Producer) PublishWishlistCreated(ctx context.Context, w *domain.Wishlist) error {
	return p.publish(ctx, TopicWishlistCreated, w.ID, newWishlistData(w))
}

// PublishWishlistUpdated publishes a wishlist.updated event.
func (p *Producer) PublishWishlistUpdated(ctx context.Context, w *domain.Wishlist) error {
	return p.publish(ctx, TopicWishlistUpdated, w.ID, newWishlistData(w))
}

// PublishWishlistDeleted publishes a wishlist.deleted event.
func (p *Producer) PublishWishlistDeleted(ctx context.Context, w *domain.Wishlist) error {
	return p.publish(ctx, TopicWishlistDeleted, w.ID, WishlistDeletedData{ID: w.ID, UserID: w.UserID})
}

// PublishProductAdded publishes a wishlist.product_added event.
func (p *Producer) PublishProductAdded(ctx context.Context, w *domain.Wishlist, productID int64, quantity int) error {
	return p.publish(ctx, TopicWishlistProductAdded, w.ID, WishlistProductData{
		WishlistID: w.ID,
		UserID:     w.UserID,
		ProductID:  productID,
		Quantity:   quantity,
	})
}

// PublishProductRemoved publishes a wishlist.product_removed event.
func (p *Producer) PublishProductRemoved(ctx context.Context, wishlistID, userID, productID int64) error {
	return p.publish(ctx, TopicWishlistProductRemoved, wishlistID, WishlistProductData{
		WishlistID: wishlistID,
		UserID:     userID,
		ProductID:  productID,
	})
}

func (p *Producer) publish(ctx context.Context, topic string, wishlistID int64, data any) error {
	if p == nil || p.kafka == nil {
		return nil
	}

	event, err := pkgkafka.NewEvent(topic, strconv.FormatInt(wishlistID, 10), AggregateTypeWishlist, SourceWishlistService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.InfoContext(ctx, "published wishlist event",
		slog.String("topic", topic),
		slog.Int64("wishlist_id", wishlistID),
		slog.String("event_id", event.EventID),
	)
	return nil
}
