// Package memstore はテスト用のインメモリ実装。
// WithinTxは全体ロック＋スナップショットで、fnがerrorを返したら丸ごと捨てる。
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"product-order-api/internal/domain/model"
	repo "product-order-api/internal/repository"

	"gorm.io/gorm"
)

type data struct {
	products   map[int64]model.Product
	orders     map[int64]model.Order
	orderItems map[int64]model.OrderItem
	auditLogs  []model.AuditLog

	nextProductID   int64
	nextOrderID     int64
	nextOrderItemID int64
	nextAuditLogID  int64
}

func (d *data) clone() *data {
	c := *d
	c.products = make(map[int64]model.Product, len(d.products))
	for k, v := range d.products {
		c.products[k] = v
	}
	c.orders = make(map[int64]model.Order, len(d.orders))
	for k, v := range d.orders {
		c.orders[k] = v
	}
	c.orderItems = make(map[int64]model.OrderItem, len(d.orderItems))
	for k, v := range d.orderItems {
		c.orderItems[k] = v
	}
	c.auditLogs = append([]model.AuditLog(nil), d.auditLogs...)
	return &c
}

type Store struct {
	mu   sync.Mutex
	d    *data
	fail error
	now  func() time.Time
}

var (
	_ repo.TransactionManager = (*Store)(nil)
	_ repo.ProductRepository  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		d: &data{
			products:   map[int64]model.Product{},
			orders:     map[int64]model.Order{},
			orderItems: map[int64]model.OrderItem{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// 以降の全操作をerrで失敗させる（nilで解除）
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.d.clone()
	if err := fn(&repos{d: work, fail: s.fail, now: s.now}); err != nil {
		return err
	}
	s.d = work
	return nil
}

// tx外の単発アクセス（ProductUsecaseのCRUD用）
func (s *Store) locked(f func(r *repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(&repos{d: s.d, fail: s.fail, now: s.now})
}

func (s *Store) List(ctx context.Context, q repo.ListQuery) (out []model.Product, err error) {
	err = s.locked(func(r *repos) error {
		out, err = r.List(ctx, q)
		return err
	})
	return out, err
}

func (s *Store) FindByID(ctx context.Context, id int64) (out model.Product, err error) {
	err = s.locked(func(r *repos) error {
		out, err = r.FindByID(ctx, id)
		return err
	})
	return out, err
}

func (s *Store) FindByIDForUpdate(ctx context.Context, id int64) (model.Product, error) {
	return s.FindByID(ctx, id)
}

func (s *Store) Create(ctx context.Context, p model.Product) (out model.Product, err error) {
	err = s.locked(func(r *repos) error {
		out, err = r.Create(ctx, p)
		return err
	})
	return out, err
}

func (s *Store) Update(ctx context.Context, id int64, patch repo.ProductPatch) error {
	return s.locked(func(r *repos) error { return r.Update(ctx, id, patch) })
}

func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	return s.locked(func(r *repos) error { return r.SoftDelete(ctx, id) })
}

// テストの前提データ・検証用

func (s *Store) SeedProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, _ := (&repos{d: s.d, now: s.now}).Create(context.Background(), p)
	return out
}

// 論理削除済みも含めて返す
func (s *Store) Product(id int64) (model.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.d.products[id]
	return p, ok
}

func (s *Store) Order(id int64) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.d.orders[id]
	return o, ok
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.orders)
}

func (s *Store) OrderItemCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.orderItems)
}

func (s *Store) AuditLogs() []model.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditLog(nil), s.d.auditLogs...)
}

// TxRepos（全部同じdataを触る）
type repos struct {
	d    *data
	fail error
	now  func() time.Time
}

func (r *repos) Products() repo.ProductRepository     { return r }
func (r *repos) Inventory() repo.InventoryRepository  { return inventory{r} }
func (r *repos) Orders() repo.OrderRepository         { return orders{r} }
func (r *repos) OrderItems() repo.OrderItemRepository { return orderItems{r} }
func (r *repos) AuditLogs() repo.AuditLogRepository   { return auditLogs{r} }

// --- products ---

func (r *repos) List(_ context.Context, q repo.ListQuery) ([]model.Product, error) {
	if r.fail != nil {
		return []model.Product{}, r.fail
	}
	ids := make([]int64, 0, len(r.d.products))
	for id, p := range r.d.products {
		if !p.DeletedAt.Valid {
			ids = append(ids, id)
		}
	}
	out := make([]model.Product, 0)
	for _, id := range page(sortIDs(ids), q) {
		out = append(out, r.d.products[id])
	}
	return out, nil
}

func (r *repos) FindByID(_ context.Context, id int64) (model.Product, error) {
	if r.fail != nil {
		return model.Product{}, r.fail
	}
	p, ok := r.d.products[id]
	if !ok || p.DeletedAt.Valid {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r *repos) FindByIDForUpdate(ctx context.Context, id int64) (model.Product, error) {
	return r.FindByID(ctx, id)
}

func (r *repos) Create(_ context.Context, p model.Product) (model.Product, error) {
	if r.fail != nil {
		return model.Product{}, r.fail
	}
	r.d.nextProductID++
	p.ID = r.d.nextProductID
	now := r.now()
	p.CreatedAt, p.UpdatedAt = now, now
	r.d.products[p.ID] = p
	return p, nil
}

func (r *repos) Update(ctx context.Context, id int64, patch repo.ProductPatch) error {
	p, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if patch.IsEmpty() {
		return nil
	}
	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.ClearDescription {
		p.Description = nil
	} else if patch.Description != nil {
		d := *patch.Description
		p.Description = &d
	}
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Stock != nil {
		p.Stock = *patch.Stock
	}
	p.UpdatedAt = r.now()
	r.d.products[id] = p
	return nil
}

func (r *repos) SoftDelete(ctx context.Context, id int64) error {
	p, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	p.DeletedAt = gorm.DeletedAt{Time: r.now(), Valid: true}
	r.d.products[id] = p
	return nil
}

// --- inventory ---

type inventory struct{ r *repos }

func (i inventory) DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error) {
	p, err := i.r.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	i.r.d.products[productID] = p
	return true, nil
}

func (i inventory) IncreaseStock(ctx context.Context, productID int64, qty int64) error {
	p, err := i.r.FindByID(ctx, productID)
	if err != nil {
		return err
	}
	p.Stock += qty
	i.r.d.products[productID] = p
	return nil
}

// --- orders ---

type orders struct{ r *repos }

func (o orders) List(_ context.Context, q repo.ListQuery) ([]model.Order, error) {
	if o.r.fail != nil {
		return []model.Order{}, o.r.fail
	}
	ids := make([]int64, 0, len(o.r.d.orders))
	for id := range o.r.d.orders {
		ids = append(ids, id)
	}
	out := make([]model.Order, 0)
	for _, id := range page(sortIDs(ids), q) {
		out = append(out, o.r.d.orders[id])
	}
	return out, nil
}

func (o orders) FindByID(_ context.Context, orderID int64) (model.Order, error) {
	if o.r.fail != nil {
		return model.Order{}, o.r.fail
	}
	ord, ok := o.r.d.orders[orderID]
	if !ok {
		return model.Order{}, repo.ErrNotFound
	}
	return ord, nil
}

func (o orders) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	return o.FindByID(ctx, orderID)
}

func (o orders) Create(_ context.Context, ord model.Order) (model.Order, error) {
	if o.r.fail != nil {
		return model.Order{}, o.r.fail
	}
	o.r.d.nextOrderID++
	ord.ID = o.r.d.nextOrderID
	now := o.r.now()
	ord.CreatedAt, ord.UpdatedAt = now, now
	o.r.d.orders[ord.ID] = ord
	return ord, nil
}

func (o orders) UpdateStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	ord, err := o.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	ord.Status = status
	ord.UpdatedAt = o.r.now()
	o.r.d.orders[orderID] = ord
	return nil
}

func (o orders) Delete(ctx context.Context, orderID int64) error {
	if _, err := o.FindByID(ctx, orderID); err != nil {
		return err
	}
	delete(o.r.d.orders, orderID)
	//ON DELETE CASCADE
	for id, it := range o.r.d.orderItems {
		if it.OrderID == orderID {
			delete(o.r.d.orderItems, id)
		}
	}
	return nil
}

// --- order items ---

type orderItems struct{ r *repos }

func (oi orderItems) CreateBulk(_ context.Context, orderID int64, items []model.OrderItem) ([]model.OrderItem, error) {
	if oi.r.fail != nil {
		return nil, oi.r.fail
	}
	out := make([]model.OrderItem, len(items))
	for i, it := range items {
		oi.r.d.nextOrderItemID++
		it.ID = oi.r.d.nextOrderItemID
		it.OrderID = orderID
		oi.r.d.orderItems[it.ID] = it
		out[i] = it
	}
	return out, nil
}

func (oi orderItems) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	m, err := oi.ListByOrderIDs(ctx, []int64{orderID})
	if err != nil {
		return []model.OrderItem{}, err
	}
	if m[orderID] == nil {
		return []model.OrderItem{}, nil
	}
	return m[orderID], nil
}

func (oi orderItems) ListByOrderIDs(_ context.Context, orderIDs []int64) (map[int64][]model.OrderItem, error) {
	if oi.r.fail != nil {
		return nil, oi.r.fail
	}
	want := make(map[int64]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		want[id] = struct{}{}
	}
	ids := make([]int64, 0)
	for id, it := range oi.r.d.orderItems {
		if _, ok := want[it.OrderID]; ok {
			ids = append(ids, id)
		}
	}
	out := make(map[int64][]model.OrderItem, len(orderIDs))
	for _, id := range sortIDs(ids) {
		it := oi.r.d.orderItems[id]
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, nil
}

func (oi orderItems) DeleteByOrderID(_ context.Context, orderID int64) error {
	if oi.r.fail != nil {
		return oi.r.fail
	}
	for id, it := range oi.r.d.orderItems {
		if it.OrderID == orderID {
			delete(oi.r.d.orderItems, id)
		}
	}
	return nil
}

// --- audit logs ---

type auditLogs struct{ r *repos }

func (a auditLogs) Create(_ context.Context, log model.AuditLog) error {
	if a.r.fail != nil {
		return a.r.fail
	}
	a.r.d.nextAuditLogID++
	log.ID = a.r.d.nextAuditLogID
	log.CreatedAt = a.r.now()
	a.r.d.auditLogs = append(a.r.d.auditLogs, log)
	return nil
}

func (a auditLogs) List(_ context.Context, f repo.AuditLogFilter) ([]model.AuditLog, error) {
	if a.r.fail != nil {
		return []model.AuditLog{}, a.r.fail
	}
	out := make([]model.AuditLog, 0)
	for _, l := range a.r.d.auditLogs {
		if f.ResourceType != nil && l.ResourceType != *f.ResourceType {
			continue
		}
		if f.ResourceID != nil && l.ResourceID != *f.ResourceID {
			continue
		}
		out = append(out, l)
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func sortIDs(ids []int64) []int64 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func page(ids []int64, q repo.ListQuery) []int64 {
	if q.Skip >= len(ids) {
		return nil
	}
	ids = ids[q.Skip:]
	if q.Limit > 0 && q.Limit < len(ids) {
		ids = ids[:q.Limit]
	}
	return ids
}
