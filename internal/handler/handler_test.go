package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"product-order-api/internal/domain/model"
	"product-order-api/internal/handler"
	"product-order-api/internal/infra/event"
	"product-order-api/internal/server"
	"product-order-api/internal/testutil/memstore"
	"product-order-api/internal/usecase"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	e     *echo.Echo
	store *memstore.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	log := zerolog.Nop()
	store := memstore.New()

	e := server.New(log, server.Handlers{
		Health:  handler.NewHealthHandler(func(context.Context) error { return nil }, log),
		Product: handler.NewProductHandler(usecase.NewProductUsecase(store, store, log)),
		Order:   handler.NewOrderHandler(usecase.NewOrderUsecase(store, event.NopPublisher{}, nil, log)),
	})
	return &testAPI{e: e, store: store}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handler.ErrorBody {
	t.Helper()
	var res handler.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return res.Error
}

// =====================
// 共通
// =====================

func TestHealthAndRoot(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome")

	rec = a.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","database":"connected"}`, rec.Body.String())
}

func TestHealth_DatabaseDown(t *testing.T) {
	log := zerolog.Nop()
	e := echo.New()
	handler.NewHealthHandler(func(context.Context) error { return errors.New("down") }, log).RegisterRoutes(e)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRoute_ErrorShape(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, usecase.CodeUnknown, body.Code)
	assert.Equal(t, usecase.TypeUnknown, body.Type)
	assert.Equal(t, "/nope", body.Path)
}

// =====================
// /products
// =====================

func TestProducts_CRUD(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/products", `{"name":"Widget","description":"blue","price":10.5,"stock":3}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var p map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.EqualValues(t, 1, p["id"])
	assert.EqualValues(t, 10.5, p["price"])

	rec = a.do(t, http.MethodGet, "/products/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPut, "/products/1", `{"stock":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.EqualValues(t, 7, p["stock"])
	assert.Equal(t, "Widget", p["name"])

	rec = a.do(t, http.MethodGet, "/products?skip=0&limit=10", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = a.do(t, http.MethodDelete, "/products/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = a.do(t, http.MethodGet, "/products/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, usecase.CodeNotFound, body.Code)
	assert.Equal(t, "Product with id 1 not found", body.Message)
	assert.Equal(t, "/products/1", body.Path)
}

func TestProducts_SchemaErrors(t *testing.T) {
	a := newTestAPI(t)

	cases := []struct {
		name, method, path, body string
	}{
		{"missing name", http.MethodPost, "/products", `{"price":1,"stock":1}`},
		{"negative price", http.MethodPost, "/products", `{"name":"x","price":-1,"stock":1}`},
		{"negative stock", http.MethodPost, "/products", `{"name":"x","price":1,"stock":-1}`},
		{"missing stock", http.MethodPost, "/products", `{"name":"x","price":1}`},
		{"bad json", http.MethodPost, "/products", `{"name":`},
		{"bad id", http.MethodGet, "/products/abc", ""},
		{"bad limit", http.MethodGet, "/products?limit=ten", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			body := decodeError(t, rec)
			assert.Equal(t, usecase.CodeValidation, body.Code)
			assert.Equal(t, usecase.TypeValidation, body.Type)
		})
	}
}

func TestProducts_PriceMustFitColumn(t *testing.T) {
	a := newTestAPI(t)

	cases := []struct {
		name, body, msg string
	}{
		{"too large", `{"name":"x","price":123456789012.5,"stock":1}`, "price must be <= 9999999999.99"},
		{"three decimals", `{"name":"x","price":1.005,"stock":1}`, "price must have at most 2 decimal places"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(t, http.MethodPost, "/products", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decodeError(t, rec)
			assert.Equal(t, usecase.CodeValidation, body.Code)
			assert.Equal(t, tc.msg, body.Message)
		})
	}

	_, ok := a.store.Product(1)
	assert.False(t, ok)
}

func TestProducts_UpdateDescriptionNullClears(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/products", `{"name":"Widget","description":"blue","price":1,"stock":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	//キーなしなら残る
	rec = a.do(t, http.MethodPut, "/products/1", `{"stock":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "blue", p["description"])

	rec = a.do(t, http.MethodPut, "/products/1", `{"description":null}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p = map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Contains(t, p, "description")
	assert.Nil(t, p["description"])
	assert.EqualValues(t, 2, p["stock"])

	rec = a.do(t, http.MethodPut, "/products/1", `{"description":"`+strings.Repeat("d", 1001)+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPut, "/products/1", `{"description":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

// =====================
// /orders
// =====================

func TestOrders_Lifecycle(t *testing.T) {
	a := newTestAPI(t)
	p := a.store.SeedProduct(model.Product{Name: "Widget", Price: decimal.RequireFromString("2.50"), Stock: 5})

	rec := a.do(t, http.MethodPost, "/orders",
		`{"customer_name":"Alice","customer_email":"alice@example.com","items":[{"product_id":1,"quantity":2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var o map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &o))
	assert.Equal(t, "pending", o["status"])
	assert.EqualValues(t, 5, o["total_amount"])
	items, ok := o["order_items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 1)

	got, _ := a.store.Product(p.ID)
	assert.Equal(t, int64(3), got.Stock)

	rec = a.do(t, http.MethodPut, "/orders/1", `{"status":"processing"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPut, "/orders/1", `{"status":"pending"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, usecase.CodeBusinessLogic, body.Code)
	assert.Equal(t, "Invalid status transition from processing to pending. Valid transitions are: completed, cancelled", body.Message)

	rec = a.do(t, http.MethodGet, "/orders/1/history", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/orders", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodDelete, "/orders/1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	got, _ = a.store.Product(p.ID)
	assert.Equal(t, int64(5), got.Stock)

	rec = a.do(t, http.MethodGet, "/orders/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrders_InsufficientStock(t *testing.T) {
	a := newTestAPI(t)
	a.store.SeedProduct(model.Product{Name: "Widget", Price: decimal.NewFromInt(1), Stock: 1})

	rec := a.do(t, http.MethodPost, "/orders",
		`{"customer_name":"Alice","customer_email":"alice@example.com","items":[{"product_id":1,"quantity":2}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeError(t, rec)
	assert.Equal(t, usecase.CodeBusinessLogic, body.Code)
	assert.Equal(t, usecase.TypeBusinessLogic, body.Type)
	assert.Equal(t, "Insufficient stock for product 1. Available: 1, Requested: 2", body.Message)
	assert.Equal(t, "/orders", body.Path)
}

func TestOrders_SchemaErrors(t *testing.T) {
	a := newTestAPI(t)

	cases := []struct {
		name, method, path, body string
	}{
		{"bad email", http.MethodPost, "/orders", `{"customer_name":"A","customer_email":"nope","items":[{"product_id":1,"quantity":1}]}`},
		{"no items", http.MethodPost, "/orders", `{"customer_name":"A","customer_email":"a@example.com","items":[]}`},
		{"zero quantity", http.MethodPost, "/orders", `{"customer_name":"A","customer_email":"a@example.com","items":[{"product_id":1,"quantity":0}]}`},
		{"unknown status", http.MethodPut, "/orders/1", `{"status":"shipped"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := a.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
		})
	}
}

func TestRequestID_Header(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestHTTPErrorHandler_HidesInternalErrors(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = handler.NewHTTPErrorHandler(zerolog.Nop())
	e.GET("/boom", func(echo.Context) error { return errors.New("nil pointer somewhere") })
	e.GET("/db", func(echo.Context) error {
		return usecase.NewDatabaseError("Error creating order", errors.New("pq: deadlock detected"))
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, usecase.CodeInternal, body.Code)
	assert.Equal(t, usecase.TypeServer, body.Type)
	assert.Equal(t, "An unexpected error occurred", body.Message)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/db", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body = decodeError(t, rec)
	assert.Equal(t, usecase.CodeDatabase, body.Code)
	assert.Equal(t, "Error creating order", body.Message)
	assert.NotContains(t, rec.Body.String(), "deadlock")
}
