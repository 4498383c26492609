package repository

import "context"

// 在庫の増減だけを約束（商品台帳）
type InventoryRepository interface {
	// 在庫が足りるときだけ減算
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)

	// 在庫戻し（キャンセル・削除）
	IncreaseStock(ctx context.Context, productID int64, qty int64) error
}
