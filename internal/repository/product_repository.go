package repository

import (
	"context"
	"errors"

	"product-order-api/internal/domain/model"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("not found")

// skip/limit（id昇順）
type ListQuery struct {
	Skip  int
	Limit int
}

// 部分更新で変更する列だけを持つ。nilは「送られていない」。
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int64

	//trueならdescriptionをNULLにする（Descriptionより優先）
	ClearDescription bool
}

func (p ProductPatch) IsEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Price == nil && p.Stock == nil && !p.ClearDescription
}

// 商品の永続化（保存・取得）だけを約束。
type ProductRepository interface {
	List(ctx context.Context, q ListQuery) ([]model.Product, error)
	FindByID(ctx context.Context, id int64) (model.Product, error)

	//行ロック（SELECT ... FOR UPDATE）付きで取得
	FindByIDForUpdate(ctx context.Context, id int64) (model.Product, error)

	Create(ctx context.Context, p model.Product) (model.Product, error)
	Update(ctx context.Context, id int64, patch ProductPatch) error
	SoftDelete(ctx context.Context, id int64) error
}
