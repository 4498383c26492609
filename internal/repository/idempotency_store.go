package repository

import (
	"context"
	"errors"
)

// 同じキーの注文作成がまだ処理中
var ErrIdempotencyInProgress = errors.New("idempotency key in progress")

// 注文作成の二重送信防止キーの保存先
type IdempotencyStore interface {
	// キーを予約する。完了済みなら作成済みの注文IDを返す（reserved=false）。
	// 処理中ならErrIdempotencyInProgress。
	Reserve(ctx context.Context, key string) (existingOrderID int64, reserved bool, err error)

	// 作成した注文IDを記録
	Complete(ctx context.Context, key string, orderID int64) error

	// 作成失敗時に予約を解除
	Release(ctx context.Context, key string) error
}
