package repository

import (
	"context"

	"product-order-api/internal/domain/model"
)

type OrderRepository interface {
	List(ctx context.Context, q ListQuery) ([]model.Order, error)
	FindByID(ctx context.Context, orderID int64) (model.Order, error)

	//ステータス変更・削除の前に注文行をロックする
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)

	Create(ctx context.Context, order model.Order) (model.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error
	Delete(ctx context.Context, orderID int64) error
}
