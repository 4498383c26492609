package repository

import (
	"context"

	"product-order-api/internal/domain/model"
)

// 履歴の取得条件（nilは条件なし）
type AuditLogFilter struct {
	ResourceType *model.AuditResourceType
	ResourceID   *int64
	Limit        int
}

// 注文1件分の履歴
func OrderHistoryFilter(orderID int64, limit int) AuditLogFilter {
	rt := model.AuditResourceOrder
	return AuditLogFilter{ResourceType: &rt, ResourceID: &orderID, Limit: limit}
}

// 監査ログ。Createは業務と同じtxで呼ぶ
type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error
	List(ctx context.Context, filter AuditLogFilter) ([]model.AuditLog, error)
}
