package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"product-order-api/internal/domain/model"
	repo "product-order-api/internal/repository"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type ProductUsecase struct {
	tx       repo.TransactionManager
	products repo.ProductRepository
	log      zerolog.Logger
}

// DI
func NewProductUsecase(tx repo.TransactionManager, products repo.ProductRepository, log zerolog.Logger) *ProductUsecase {
	return &ProductUsecase{
		tx:       tx,
		products: products,
		log:      log.With().Str("usecase", "product").Logger(),
	}
}

type CreateProductInput struct {
	Name        string
	Description *string
	Price       decimal.Decimal
	Stock       int64
}

// nilのフィールドは変更しない
type UpdateProductInput struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int64

	//descriptionにnullが送られた
	ClearDescription bool
}

func (u *ProductUsecase) ListProducts(ctx context.Context, q repo.ListQuery) ([]model.Product, error) {
	if err := validateListQuery(q); err != nil {
		return []model.Product{}, err
	}

	items, err := u.products.List(ctx, q)
	if err != nil {
		u.log.Error().Err(err).Msg("list products failed")
		return []model.Product{}, NewDatabaseError("Error listing products", err)
	}
	return items, nil
}

func (u *ProductUsecase) GetProduct(ctx context.Context, productID int64) (model.Product, error) {
	p, err := u.products.FindByID(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Product{}, NewNotFoundError("Product", productID)
	}
	if err != nil {
		u.log.Error().Err(err).Int64("product_id", productID).Msg("get product failed")
		return model.Product{}, NewDatabaseError("Error retrieving product", err)
	}
	return p, nil
}

func (u *ProductUsecase) CreateProduct(ctx context.Context, in CreateProductInput) (model.Product, error) {
	name := strings.TrimSpace(in.Name)
	if err := validateProductFields(&name, in.Description, &in.Price, &in.Stock); err != nil {
		return model.Product{}, err
	}

	p, err := u.products.Create(ctx, model.Product{
		Name:        name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
	})
	if err != nil {
		u.log.Error().Err(err).Msg("create product failed")
		return model.Product{}, NewDatabaseError("Error creating product", err)
	}
	return p, nil
}

// 送られた項目だけ更新する。在庫が変わったら監査ログも残す
func (u *ProductUsecase) UpdateProduct(ctx context.Context, productID int64, in UpdateProductInput) (model.Product, error) {
	if in.Name != nil {
		trimmed := strings.TrimSpace(*in.Name)
		in.Name = &trimmed
	}
	if err := validateProductFields(in.Name, in.Description, in.Price, in.Stock); err != nil {
		return model.Product{}, err
	}

	patch := repo.ProductPatch{
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,

		ClearDescription: in.ClearDescription,
	}

	var out model.Product
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		before, err := r.Products().FindByIDForUpdate(ctx, productID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewNotFoundError("Product", productID)
		}
		if err != nil {
			return err
		}

		if err := r.Products().Update(ctx, productID, patch); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return NewNotFoundError("Product", productID)
			}
			return err
		}

		if in.Stock != nil && *in.Stock != before.Stock {
			if err := r.AuditLogs().Create(ctx, model.AuditLog{
				Action:       model.AuditActionUpdateStock,
				ResourceType: model.AuditResourceProduct,
				ResourceID:   productID,
				BeforeJSON:   fmt.Sprintf(`{"stock":%d}`, before.Stock),
				AfterJSON:    fmt.Sprintf(`{"stock":%d}`, *in.Stock),
			}); err != nil {
				return err
			}
		}

		out, err = r.Products().FindByID(ctx, productID)
		return err
	})
	if err != nil {
		if _, ok := AsAppError(err); !ok {
			u.log.Error().Err(err).Int64("product_id", productID).Msg("update product failed")
		}
		return model.Product{}, asDatabaseError(err, "Error updating product")
	}
	return out, nil
}

func (u *ProductUsecase) DeleteProduct(ctx context.Context, productID int64) error {
	err := u.products.SoftDelete(ctx, productID)
	if errors.Is(err, repo.ErrNotFound) {
		return NewNotFoundError("Product", productID)
	}
	if err != nil {
		u.log.Error().Err(err).Int64("product_id", productID).Msg("delete product failed")
		return NewDatabaseError("Error deleting product", err)
	}
	return nil
}

// nilは「未指定」として検査しない
func validateProductFields(name *string, description *string, price *decimal.Decimal, stock *int64) error {
	if name != nil {
		n := utf8.RuneCountInString(*name)
		if n == 0 {
			return NewValidationError("name is required")
		}
		if n > 255 {
			return NewValidationError("name must be at most 255 characters")
		}
	}
	if description != nil && utf8.RuneCountInString(*description) > 1000 {
		return NewValidationError("description must be at most 1000 characters")
	}
	if price != nil {
		if price.IsNegative() {
			return NewValidationError("price must be >= 0")
		}
		if price.GreaterThan(model.MaxAmount) {
			return NewValidationError("price must be <= " + model.MaxAmount.StringFixed(model.AmountScale))
		}
		if !model.AmountFits(*price) {
			return NewValidationError("price must have at most 2 decimal places")
		}
	}
	if stock != nil && *stock < 0 {
		return NewValidationError("stock must be >= 0")
	}
	return nil
}
