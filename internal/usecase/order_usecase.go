package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"product-order-api/internal/domain/model"
	repo "product-order-api/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// commit後のRedis/Kafkaへの書き込みに使う上限
const sideEffectTimeout = 5 * time.Second

// 注文処理（在庫チェック・合計計算・状態遷移・在庫戻し）
type OrderUsecase struct {
	tx     repo.TransactionManager
	events repo.OrderEventPublisher
	idem   repo.IdempotencyStore
	log    zerolog.Logger
	now    func() time.Time
}

// idemはnil可（Redisなし）
func NewOrderUsecase(
	tx repo.TransactionManager,
	events repo.OrderEventPublisher,
	idem repo.IdempotencyStore,
	log zerolog.Logger,
) *OrderUsecase {
	return &OrderUsecase{
		tx:     tx,
		events: events,
		idem:   idem,
		log:    log.With().Str("usecase", "order").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

type OrderItemInput struct {
	ProductID int64
	Quantity  int64
}

type CreateOrderInput struct {
	CustomerName   string
	CustomerEmail  string
	Items          []OrderItemInput
	IdempotencyKey string
}

type OrderItemOutput struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type OrderOutput struct {
	ID            int64             `json:"id"`
	CustomerName  string            `json:"customer_name"`
	CustomerEmail string            `json:"customer_email"`
	TotalAmount   decimal.Decimal   `json:"total_amount"`
	Status        model.OrderStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Items         []OrderItemOutput `json:"order_items"`
}

// 注文作成。在庫の確認・減算・合計計算・保存を1トランザクションで行う。
// どれか1つでも失敗したら在庫は一切減らない。
func (u *OrderUsecase) CreateOrder(ctx context.Context, in CreateOrderInput) (OrderOutput, error) {
	if err := validateCreateOrder(in); err != nil {
		return OrderOutput{}, err
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	reserved := false
	if key != "" && u.idem != nil {
		existingID, ok, err := u.idem.Reserve(ctx, key)
		switch {
		case errors.Is(err, repo.ErrIdempotencyInProgress):
			return OrderOutput{}, NewBusinessLogicError("A request with this Idempotency-Key is already being processed")
		case err != nil:
			//キャッシュが落ちていても注文は受ける
			u.log.Error().Err(err).Str("idempotency_key", key).Msg("idempotency reserve failed")
		case !ok:
			//同じキーなら同じ結果
			return u.GetOrder(ctx, existingID)
		default:
			reserved = true
		}
	}

	out, err := u.placeOrder(ctx, in)

	if reserved {
		u.settleIdempotency(ctx, key, out.ID, err)
	}
	if err != nil {
		return OrderOutput{}, err
	}

	u.publish(ctx, model.OrderEvent{
		Type:        model.OrderEventCreated,
		OrderID:     out.ID,
		Status:      out.Status,
		TotalAmount: out.TotalAmount,
	})
	return out, nil
}

// 予約の後始末。リクエストが切断されていても解除/完了は必ず送る
func (u *OrderUsecase) settleIdempotency(ctx context.Context, key string, orderID int64, placeErr error) {
	sctx, cancel := detach(ctx)
	defer cancel()

	if placeErr != nil {
		if err := u.idem.Release(sctx, key); err != nil {
			u.log.Error().Err(err).Str("idempotency_key", key).Msg("idempotency release failed")
		}
		return
	}
	if err := u.idem.Complete(sctx, key, orderID); err != nil {
		u.log.Error().Err(err).Str("idempotency_key", key).Int64("order_id", orderID).Msg("idempotency complete failed")
	}
}

func (u *OrderUsecase) placeOrder(ctx context.Context, in CreateOrderInput) (OrderOutput, error) {
	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		//商品行をid昇順でロック（逆順ロックによるデッドロックを避ける）
		locked := make(map[int64]model.Product)
		for _, id := range distinctProductIDs(in.Items) {
			p, err := r.Products().FindByIDForUpdate(ctx, id)
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			locked[id] = p
		}

		//同じ注文内で同じ商品が複数行あっても残りで判定する
		remaining := make(map[int64]int64, len(locked))
		for id, p := range locked {
			remaining[id] = p.Stock
		}

		items := make([]model.OrderItem, 0, len(in.Items))
		total := decimal.Zero

		for _, it := range in.Items {
			p, ok := locked[it.ProductID]
			if !ok {
				return NewNotFoundError("Product", it.ProductID)
			}
			if remaining[p.ID] < it.Quantity {
				return insufficientStock(p.ID, remaining[p.ID], it.Quantity)
			}

			//在庫減算（足りないなら false）
			dec, err := r.Inventory().DecreaseStockIfEnough(ctx, p.ID, it.Quantity)
			if err != nil {
				return err
			}
			if !dec {
				return insufficientStock(p.ID, remaining[p.ID], it.Quantity)
			}
			remaining[p.ID] -= it.Quantity

			//スナップショット
			subtotal := model.LineSubtotal(p.Price, it.Quantity)
			if !model.AmountFits(subtotal) || !model.AmountFits(total.Add(subtotal)) {
				return amountOverflow()
			}
			items = append(items, model.OrderItem{
				ProductID: p.ID,
				Quantity:  it.Quantity,
				UnitPrice: p.Price,
				Subtotal:  subtotal,
			})
			total = total.Add(subtotal)
		}

		order, err := r.Orders().Create(ctx, model.Order{
			CustomerName:  strings.TrimSpace(in.CustomerName),
			CustomerEmail: strings.TrimSpace(in.CustomerEmail),
			TotalAmount:   total,
			Status:        model.OrderStatusPending,
		})
		if err != nil {
			return err
		}

		created, err := r.OrderItems().CreateBulk(ctx, order.ID, items)
		if err != nil {
			return err
		}

		if err := r.AuditLogs().Create(ctx, statusAudit(model.AuditActionCreateOrder, order.ID, "", order.Status)); err != nil {
			return err
		}

		out = toOrderOutput(order, created)
		return nil
	})
	if err != nil {
		return OrderOutput{}, u.fail(err, "Error creating order")
	}
	return out, nil
}

func (u *OrderUsecase) ListOrders(ctx context.Context, q repo.ListQuery) ([]OrderOutput, error) {
	if err := validateListQuery(q); err != nil {
		return []OrderOutput{}, err
	}

	var outs []OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, err := r.Orders().List(ctx, q)
		if err != nil {
			return err
		}

		ids := make([]int64, 0, len(orders))
		for _, o := range orders {
			ids = append(ids, o.ID)
		}
		itemsByOrder, err := r.OrderItems().ListByOrderIDs(ctx, ids)
		if err != nil {
			return err
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			outs = append(outs, toOrderOutput(o, itemsByOrder[o.ID]))
		}
		return nil
	})
	if err != nil {
		return []OrderOutput{}, u.fail(err, "Error listing orders")
	}
	return outs, nil
}

func (u *OrderUsecase) GetOrder(ctx context.Context, orderID int64) (OrderOutput, error) {
	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("Order", orderID)
		}
		if err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, u.fail(err, "Error retrieving order")
	}
	return out, nil
}

// ステータス更新。遷移表にない変更は拒否。cancelledへの遷移で在庫を戻す
func (u *OrderUsecase) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) (OrderOutput, error) {
	if !status.IsValid() {
		return OrderOutput{}, NewValidationError(fmt.Sprintf("invalid status %q", status))
	}

	var (
		out      OrderOutput
		previous model.OrderStatus
	)

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("Order", orderID)
		}
		if err != nil {
			return err
		}
		previous = o.Status

		if !o.Status.CanTransitionTo(status) {
			return invalidTransition(o.Status, status)
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		if status == model.OrderStatusCancelled && o.Status != model.OrderStatusCancelled {
			if err := u.restoreStock(ctx, r, orderID, items); err != nil {
				return err
			}
		}

		if err := r.Orders().UpdateStatus(ctx, orderID, status); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewNotFoundError("Order", orderID)
			}
			return err
		}

		if err := r.AuditLogs().Create(ctx, statusAudit(model.AuditActionUpdateOrderStatus, orderID, o.Status, status)); err != nil {
			return err
		}

		//updated_atを読み直す
		updated, err := r.Orders().FindByID(ctx, orderID)
		if err != nil {
			return err
		}
		out = toOrderOutput(updated, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, u.fail(err, "Error updating order")
	}

	u.publish(ctx, model.OrderEvent{
		Type:           model.OrderEventStatusChanged,
		OrderID:        out.ID,
		Status:         out.Status,
		PreviousStatus: previous,
		TotalAmount:    out.TotalAmount,
	})
	return out, nil
}

// 注文削除。cancelled以外は在庫を戻してから明細ごと消す（二重に戻さない）
func (u *OrderUsecase) DeleteOrder(ctx context.Context, orderID int64) error {
	var deleted model.Order

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByIDForUpdate(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("Order", orderID)
		}
		if err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return err
		}

		if o.Status != model.OrderStatusCancelled {
			if err := u.restoreStock(ctx, r, orderID, items); err != nil {
				return err
			}
		}

		//明細 → 注文の順で削除（FKのON DELETE CASCADEにも頼らない）
		if err := r.OrderItems().DeleteByOrderID(ctx, orderID); err != nil {
			return err
		}
		if err := r.Orders().Delete(ctx, orderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewNotFoundError("Order", orderID)
			}
			return err
		}

		if err := r.AuditLogs().Create(ctx, statusAudit(model.AuditActionDeleteOrder, orderID, o.Status, "")); err != nil {
			return err
		}

		deleted = o
		return nil
	})
	if err != nil {
		return u.fail(err, "Error deleting order")
	}

	u.publish(ctx, model.OrderEvent{
		Type:           model.OrderEventDeleted,
		OrderID:        deleted.ID,
		PreviousStatus: deleted.Status,
		TotalAmount:    deleted.TotalAmount,
	})
	return nil
}

// 注文の変更履歴（作成・ステータス変更）
func (u *OrderUsecase) GetOrderHistory(ctx context.Context, orderID int64) ([]model.AuditLog, error) {
	var logs []model.AuditLog

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().FindByID(ctx, orderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewNotFoundError("Order", orderID)
			}
			return err
		}

		var err error
		logs, err = r.AuditLogs().List(ctx, repo.OrderHistoryFilter(orderID, 200))
		return err
	})
	if err != nil {
		return []model.AuditLog{}, u.fail(err, "Error retrieving order history")
	}
	return logs, nil
}

// 明細の数量を商品在庫へ戻す。論理削除済みの商品はスキップ。
// 行ロックは注文作成と同じく商品id昇順で取る
func (u *OrderUsecase) restoreStock(ctx context.Context, r repo.TxRepos, orderID int64, items []model.OrderItem) error {
	sorted := make([]model.OrderItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	for _, it := range sorted {
		err := r.Inventory().IncreaseStock(ctx, it.ProductID, it.Quantity)
		if errors.Is(err, repo.ErrNotFound) {
			u.log.Warn().
				Int64("order_id", orderID).
				Int64("product_id", it.ProductID).
				Msg("product gone, stock not restored")
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// commit後の通知。失敗してもリクエストは成功のまま
func (u *OrderUsecase) publish(ctx context.Context, ev model.OrderEvent) {
	if u.events == nil {
		return
	}
	ev.OccurredAt = u.now()

	pctx, cancel := detach(ctx)
	defer cancel()
	if err := u.events.Publish(pctx, ev); err != nil {
		u.log.Error().Err(err).
			Str("event", string(ev.Type)).
			Int64("order_id", ev.OrderID).
			Msg("publish order event failed")
	}
}

// 呼び出し元のキャンセルを切り離し、時間だけ区切る
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}

// AppError以外はDBエラーとしてログしてまとめる
func (u *OrderUsecase) fail(err error, message string) error {
	if _, ok := AsAppError(err); !ok {
		u.log.Error().Err(err).Msg(message)
	}
	return asDatabaseError(err, message)
}

func validateCreateOrder(in CreateOrderInput) error {
	if n := utf8.RuneCountInString(strings.TrimSpace(in.CustomerName)); n == 0 || n > 255 {
		return NewSchemaError("customer_name must be between 1 and 255 characters")
	}
	if strings.TrimSpace(in.CustomerEmail) == "" {
		return NewSchemaError("customer_email is required")
	}
	if len(in.Items) == 0 {
		return NewSchemaError("order must contain at least one item")
	}
	for _, it := range in.Items {
		if it.ProductID <= 0 {
			return NewSchemaError("product_id must be > 0")
		}
		if it.Quantity <= 0 {
			return NewSchemaError("quantity must be > 0")
		}
	}
	return nil
}

func distinctProductIDs(items []OrderItemInput) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func insufficientStock(productID, available, requested int64) error {
	return NewBusinessLogicError(fmt.Sprintf(
		"Insufficient stock for product %d. Available: %d, Requested: %d",
		productID, available, requested,
	))
}

func amountOverflow() error {
	return NewBusinessLogicError(fmt.Sprintf(
		"Order total exceeds the maximum amount of %s", model.MaxAmount.StringFixed(model.AmountScale),
	))
}

func invalidTransition(from, to model.OrderStatus) error {
	valid := "none"
	if !from.IsTerminal() {
		valid = model.JoinStatuses(from.NextStatuses())
	}
	return NewBusinessLogicError(fmt.Sprintf(
		"Invalid status transition from %s to %s. Valid transitions are: %s",
		from, to, valid,
	))
}

func statusAudit(action model.AuditAction, orderID int64, before, after model.OrderStatus) model.AuditLog {
	log := model.AuditLog{
		Action:       action,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   orderID,
	}
	if before != "" {
		log.BeforeJSON = `{"status":"` + string(before) + `"}`
	}
	if after != "" {
		log.AfterJSON = `{"status":"` + string(after) + `"}`
	}
	return log
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}

	return OrderOutput{
		ID:            o.ID,
		CustomerName:  o.CustomerName,
		CustomerEmail: o.CustomerEmail,
		TotalAmount:   o.TotalAmount,
		Status:        o.Status,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Items:         outItems,
	}
}
