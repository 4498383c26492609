package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"unicode/utf8"

	repo "product-order-api/internal/repository"
	"product-order-api/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type ProductCreateRequest struct {
	Name        string           `json:"name" validate:"required,min=1,max=255"`
	Description *string          `json:"description" validate:"omitempty,max=1000"`
	Price       *decimal.Decimal `json:"price" validate:"required,gte=0"`
	Stock       *int64           `json:"stock" validate:"required,gte=0"`
}

// 送られた項目だけ更新。descriptionはnullで消せる
type ProductUpdateRequest struct {
	Name        *string          `json:"name" validate:"omitempty,min=1,max=255"`
	Description NullableString   `json:"description"`
	Price       *decimal.Decimal `json:"price" validate:"omitempty,gte=0"`
	Stock       *int64           `json:"stock" validate:"omitempty,gte=0"`
}

// キーの有無とnullを区別する文字列
//
//	キーなし → Set=false
//	null     → Set=true, Value=nil
//	"..."    → Set=true, Value=&"..."
type NullableString struct {
	Set   bool
	Value *string
}

func (n *NullableString) UnmarshalJSON(b []byte) error {
	n.Set = true
	if string(b) == "null" {
		n.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n.Value = &s
	return nil
}

// /products
type ProductHandler struct {
	uc *usecase.ProductUsecase
}

// DI
func NewProductHandler(uc *usecase.ProductUsecase) *ProductHandler {
	return &ProductHandler{uc: uc}
}

func (h *ProductHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/products")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.detail)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
}

func (h *ProductHandler) create(c echo.Context) error {
	var req ProductCreateRequest
	if err := c.Bind(&req); err != nil {
		return schemaError(err)
	}
	if err := c.Validate(&req); err != nil {
		return schemaError(err)
	}

	p, err := h.uc.CreateProduct(c.Request().Context(), usecase.CreateProductInput{
		Name:        req.Name,
		Description: req.Description,
		Price:       *req.Price,
		Stock:       *req.Stock,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *ProductHandler) list(c echo.Context) error {
	q, err := parseListQuery(c, usecase.DefaultProductLimit)
	if err != nil {
		return err
	}

	items, err := h.uc.ListProducts(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *ProductHandler) detail(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	p, err := h.uc.GetProduct(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *ProductHandler) update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req ProductUpdateRequest
	if err := c.Bind(&req); err != nil {
		return schemaError(err)
	}
	if err := c.Validate(&req); err != nil {
		return schemaError(err)
	}
	if d := req.Description.Value; d != nil && utf8.RuneCountInString(*d) > 1000 {
		return usecase.NewSchemaError("Description must satisfy max=1000")
	}

	p, err := h.uc.UpdateProduct(c.Request().Context(), id, usecase.UpdateProductInput{
		Name:             req.Name,
		Description:      req.Description.Value,
		Price:            req.Price,
		Stock:            req.Stock,
		ClearDescription: req.Description.Set && req.Description.Value == nil,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *ProductHandler) delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.uc.DeleteProduct(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// パスの:id（数値でなければ422）
func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, usecase.NewSchemaError("id must be an integer")
	}
	return id, nil
}

// skip（default 0）/ limit（default defLimit）
func parseListQuery(c echo.Context, defLimit int) (repo.ListQuery, error) {
	q := repo.ListQuery{Skip: 0, Limit: defLimit}

	if v := c.QueryParam("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, usecase.NewSchemaError("skip must be an integer")
		}
		q.Skip = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, usecase.NewSchemaError("limit must be an integer")
		}
		q.Limit = n
	}
	return q, nil
}
