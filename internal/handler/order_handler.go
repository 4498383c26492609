package handler

import (
	"net/http"

	"product-order-api/internal/domain/model"
	"product-order-api/internal/usecase"

	"github.com/labstack/echo/v4"
)

type OrderItemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

type OrderCreateRequest struct {
	CustomerName  string             `json:"customer_name" validate:"required,min=1,max=255"`
	CustomerEmail string             `json:"customer_email" validate:"required,email"`
	Items         []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type OrderStatusUpdateRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing completed cancelled"`
}

// /orders
type OrderHandler struct {
	uc *usecase.OrderUsecase
}

func NewOrderHandler(uc *usecase.OrderUsecase) *OrderHandler {
	return &OrderHandler{uc: uc}
}

func (h *OrderHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/orders")
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.detail)
	g.PUT("/:id", h.updateStatus)
	g.DELETE("/:id", h.delete)
	g.GET("/:id/history", h.history)
}

func (h *OrderHandler) create(c echo.Context) error {
	var req OrderCreateRequest
	if err := c.Bind(&req); err != nil {
		return schemaError(err)
	}
	if err := c.Validate(&req); err != nil {
		return schemaError(err)
	}

	items := make([]usecase.OrderItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, usecase.OrderItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	//二重送信防止キーはヘッダーから受け取る（bodyには入れない）
	idemKey := c.Request().Header.Get("Idempotency-Key")

	out, err := h.uc.CreateOrder(c.Request().Context(), usecase.CreateOrderInput{
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		Items:          items,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *OrderHandler) list(c echo.Context) error {
	q, err := parseListQuery(c, usecase.DefaultOrderLimit)
	if err != nil {
		return err
	}

	out, err := h.uc.ListOrders(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) detail(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	out, err := h.uc.GetOrder(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) updateStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	var req OrderStatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return schemaError(err)
	}
	if err := c.Validate(&req); err != nil {
		return schemaError(err)
	}

	out, err := h.uc.UpdateStatus(c.Request().Context(), id, model.OrderStatus(req.Status))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.uc.DeleteOrder(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *OrderHandler) history(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	logs, err := h.uc.GetOrderHistory(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, logs)
}
