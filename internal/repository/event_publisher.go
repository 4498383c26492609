package repository

import (
	"context"

	"product-order-api/internal/domain/model"
)

// 注文イベントの送信先
type OrderEventPublisher interface {
	Publish(ctx context.Context, ev model.OrderEvent) error
}
