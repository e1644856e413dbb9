package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	pkgkafka "github.com/utafrali/wishlist-rest/pkg/kafka"
)

// Topics consumed from other services.
const (
	TopicProductDeleted = "ecommerce.product.deleted"
)

// ConsumerGroupID is the default consumer group for the wishlist service.
const ConsumerGroupID = "wishlist-service"

// ProductDeletedData is the payload of product.deleted. The product
// service sends the ID as a string; numbers are accepted too.
type ProductDeletedData struct {
	ID json.Number `json:"id"`
}

// ProductPurger drops a product from every wishlist holding it.
type ProductPurger interface {
	PurgeProduct(ctx context.Context, productID int64) ([]int64, error)
}

// ConsumerHandler routes incoming Kafka events to the appropriate handler.
type ConsumerHandler struct {
	purger ProductPurger
	logger *slog.Logger
}

// NewConsumerHandler creates a new event consumer handler.
func NewConsumerHandler(purger ProductPurger, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{
		purger: purger,
		logger: logger,
	}
}

// Handle processes an incoming Kafka event based on its event type.
func (h *ConsumerHandler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicProductDeleted:
		return h.handleProductDeleted(ctx, event)
	default:
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

// handleProductDeleted removes the deleted product from all wishlists.
// Events whose product ID is not numeric can never match a wishlist item
// and are skipped.
func (h *ConsumerHandler) handleProductDeleted(ctx context.Context, event *pkgkafka.Event) error {
	var data ProductDeletedData
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.WarnContext(ctx, "skipping product.deleted with bad payload",
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	productID, err := strconv.ParseInt(data.ID.String(), 10, 64)
	if err != nil || productID <= 0 {
		h.logger.WarnContext(ctx, "skipping product.deleted with non-numeric product id",
			slog.String("event_id", event.EventID),
			slog.String("product_id", data.ID.String()),
		)
		return nil
	}

	ids, err := h.purger.PurgeProduct(ctx, productID)
	if err != nil {
		return fmt.Errorf("purge product %d: %w", productID, err)
	}

	h.logger.InfoContext(ctx, "removed deleted product from wishlists",
		slog.String("event_id", event.EventID),
		slog.Int64("product_id", productID),
		slog.Int("wishlists", len(ids)),
	)
	return nil
}
