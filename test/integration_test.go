//go:build integration

package test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mercato/storefront/internal/catalog"
	"github.com/mercato/storefront/internal/customers"
	"github.com/mercato/storefront/internal/domain"
	"github.com/mercato/storefront/internal/messaging"
	"github.com/mercato/storefront/internal/orders"
)

type fixture struct {
	productRepo  *catalog.ProductRepository
	customerRepo *customers.CustomerRepository
	orderRepo    *orders.OrderRepository
	service      *orders.PlacementService
	mux          *http.ServeMux
	cleanup      func()
}

func setup(ctx context.Context, t *testing.T) *fixture {
	t.Helper()

	pg := SetupPostgres(ctx, t)

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		pg.Cleanup()
		t.Fatalf("failed to open DB: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	productRepo := catalog.NewProductRepository(db)
	customerRepo := customers.NewCustomerRepository(db)
	orderRepo := orders.NewOrderRepository(db)
	service := orders.NewPlacementService(db)

	productHandler := catalog.NewHandler(productRepo, logger)
	customerHandler := customers.NewHandler(customerRepo, logger)
	orderHandler, err := orders.NewHandler(service, orderRepo, nil, logger)
	if err != nil {
		pg.Cleanup()
		t.Fatalf("failed to create order handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /products", productHandler.HandleCreate)
	mux.HandleFunc("GET /products", productHandler.HandleList)
	mux.HandleFunc("GET /products/{id}", productHandler.HandleGet)
	mux.HandleFunc("PUT /products/{id}/stock", productHandler.HandleUpdateStock)
	mux.HandleFunc("DELETE /products/{id}", productHandler.HandleDelete)
	mux.HandleFunc("POST /customers", customerHandler.HandleCreate)
	mux.HandleFunc("GET /customers", customerHandler.HandleList)
	mux.HandleFunc("DELETE /customers/{id}", customerHandler.HandleDelete)
	mux.HandleFunc("GET /customers/{id}/orders", orderHandler.HandleHistory)
	mux.HandleFunc("POST /orders", orderHandler.HandlePlace)
	mux.HandleFunc("GET /orders", orderHandler.HandleList)
	mux.HandleFunc("GET /orders/{id}", orderHandler.HandleGet)

	return &fixture{
		productRepo:  productRepo,
		customerRepo: customerRepo,
		orderRepo:    orderRepo,
		service:      service,
		mux:          mux,
		cleanup: func() {
			_ = db.Close()
			pg.Cleanup()
		},
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) seedProduct(ctx context.Context, t *testing.T, name string, priceCents int64, stock int) *domain.Product {
	t.Helper()

	product, err := f.productRepo.Create(ctx, name, priceCents, stock)
	if err != nil {
		t.Fatalf("failed to seed product %s: %v", name, err)
	}
	return product
}

func (f *fixture) seedCustomer(ctx context.Context, t *testing.T, name, email string) *domain.Customer {
	t.Helper()

	customer, err := f.customerRepo.Create(ctx, name, email)
	if err != nil {
		t.Fatalf("failed to seed customer %s: %v", email, err)
	}
	return customer
}

func (f *fixture) stockOf(ctx context.Context, t *testing.T, productID string) int {
	t.Helper()

	product, err := f.productRepo.GetByID(ctx, productID)
	if err != nil {
		t.Fatalf("failed to fetch product %s: %v", productID, err)
	}
	if product == nil {
		t.Fatalf("product %s not found", productID)
	}
	return product.Stock
}

func TestPlaceOrderFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := setup(ctx, t)
	defer f.cleanup()

	productA := f.seedProduct(ctx, t, "espresso beans", 1000, 5)
	productB := f.seedProduct(ctx, t, "filter paper", 350, 2)
	customer := f.seedCustomer(ctx, t, "Alice", "alice@example.com")

	reqBody := `{"customer_id": "` + customer.ID + `", "lines": [` +
		`{"product_id": "` + productA.ID + `", "quantity": 2},` +
		`{"product_id": "` + productB.ID + `", "quantity": 2}]}`

	rec := f.do(t, http.MethodPost, "/orders", reqBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var placed domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&placed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if placed.TotalCents != 2700 {
		t.Fatalf("expected total 2700, got %d", placed.TotalCents)
	}
	if len(placed.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(placed.Lines))
	}

	if got := f.stockOf(ctx, t, productA.ID); got != 3 {
		t.Fatalf("expected product A stock 3, got %d", got)
	}
	if got := f.stockOf(ctx, t, productB.ID); got != 0 {
		t.Fatalf("expected product B stock 0, got %d", got)
	}

	fetched, err := f.orderRepo.GetByID(ctx, placed.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if fetched == nil {
		t.Fatal("order not found after placement")
	}

	var lineSum int64
	for _, line := range fetched.Lines {
		lineSum += line.UnitPriceCents * int64(line.Quantity)
	}
	if lineSum != fetched.TotalCents {
		t.Fatalf("order total %d does not match line sum %d", fetched.TotalCents, lineSum)
	}
}

func TestPlaceOrderInsufficientStockRollsBack(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := setup(ctx, t)
	defer f.cleanup()

	productA := f.seedProduct(ctx, t, "espresso beans", 1000, 5)
	productB := f.seedProduct(ctx, t, "filter paper", 350, 2)
	customer := f.seedCustomer(ctx, t, "Alice", "alice@example.com")

	reqBody := `{"customer_id": "` + customer.ID + `", "lines": [` +
		`{"product_id": "` + productA.ID + `", "quantity": 2},` +
		`{"product_id": "` + productB.ID + `", "quantity": 3}]}`

	rec := f.do(t, http.MethodPost, "/orders", reqBody)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}

	// The first line's decrement must have been rolled back with the rest.
	if got := f.stockOf(ctx, t, productA.ID); got != 5 {
		t.Fatalf("expected product A stock 5 after rollback, got %d", got)
	}
	if got := f.stockOf(ctx, t, productB.ID); got != 2 {
		t.Fatalf("expected product B stock 2 after rollback, got %d", got)
	}

	history, err := f.orderRepo.ListByCustomer(ctx, customer.ID)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no orders after failed placement, got %d", len(history))
	}
}

func TestPlaceOrderUnknownCustomer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := setup(ctx, t)
	defer f.cleanup()

	product := f.seedProduct(ctx, t, "espresso beans", 1000, 5)

	reqBody := `{"customer_id": "11111111-2222-3333-4444-555555555555", "lines": [` +
		`{"product_id": "` + product.ID + `", "quantity": 1}]}`

	rec := f.do(t, http.MethodPost, "/orders", reqBody)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d: %s", http.StatusNotFound, rec.Code, rec.Body.String())
	}

	if got := f.stockOf(ctx, t, product.ID); got != 5 {
		t.Fatalf("expected stock untouched at 5, got %d", got)
	}
}

func TestPlaceOrderUnknownProduct(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := setup(ctx, t)
	defer f.cleanup()

	product := f.seedProduct(ctx, t, "espresso beans", 1000, 5)
	customer := f.seedCustomer(ctx, t, "Alice", "alice@example.com")

	reqBody := `{"customer_id": "` + customer.ID + `", "lines": [` +
		`{"product_id": "` + product.ID + `", "quantity": 2},` +
		`{"product_id": "11111111-2222-3333-4444-555555555555", "quantity": 1}]}`

	rec := f.do(t, http.MethodPost, "/orders", reqBody)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d: %s", http.StatusNotFound, rec.Code, rec.Body.String())
	}

	if got := f.stockOf(ctx, t, product.ID); got != 5 {
		t.Fatalf("expected stock untouched at 5, got %d", got)
	}
}

func TestDuplicateCustomerEmail(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := setup(ctx, t)
	defer f.cleanup()

	f.seedCustomer(ctx, t, "Alice", "alice@example.com")

	rec := f.do(t, http.MethodPost, "/customers", `{"name": "Another Alice", "email": "alice@example.com"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}

	all, err := f.customerRepo.List(ctx)
	if err != nil {
		t.Fatalf("failed to list customers: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 customer, got %d", len(all))
	}

	existing, err := f.customerRepo.GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("failed to fetch customer by email: %v", err)
	}
	if existing == nil || existing.Name != "Alice" {
		t.Fatalf("expected original customer to survive, got %+v", existing)
	}
}

func TestDuplicateProductName(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := setup(ctx, t)
	defer f.cleanup()

	f.seedProduct(ctx, t, "espresso beans", 1000, 5)

	rec := f.do(t, http.MethodPost, "/products", `{"name": "espresso beans", "price_cents": 900, "stock": 1}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}

	existing, err := f.productRepo.GetByName(ctx, "espresso beans")
	if err != nil {
		t.Fatalf("failed to fetch product by name: %v", err)
	}
	if existing == nil || existing.PriceCents != 1000 {
		t.Fatalf("expected original product to survive, got %+v", existing)
	}
}

func TestProductRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := setup(ctx, t)
	defer f.cleanup()

	created := f.seedProduct(ctx, t, "grinder", 14999, 7)

	fetched, err := f.productRepo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("failed to fetch product: %v", err)
	}
	if fetched == nil {
		t.Fatal("product not found after create")
	}
	if fetched.Name != created.Name || fetched.PriceCents != created.PriceCents || fetched.Stock != created.Stock {
		t.Fatalf("round trip mismatch: created %+v, fetched %+v", created, fetched)
	}

	rec := f.do(t, http.MethodPut, "/products/"+created.ID+"/stock", `{"stock": 42}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	if got := f.stockOf(ctx, t, created.ID); got != 42 {
		t.Fatalf("expected stock 42 after update, got %d", got)
	}
}

func TestOrderHistory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := setup(ctx, t)
	defer f.cleanup()

	product := f.seedProduct(ctx, t, "espresso beans", 1000, 10)
	customer := f.seedCustomer(ctx, t, "Alice", "alice@example.com")
	other := f.seedCustomer(ctx, t, "Bob", "bob@example.com")

	rec := f.do(t, http.MethodGet, "/customers/"+customer.ID+"/orders", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var history []domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d orders", len(history))
	}

	for range 2 {
		if _, err := f.service.PlaceOrder(ctx, customer.ID, []orders.LineRequest{
			{ProductID: product.ID, Quantity: 1},
		}); err != nil {
			t.Fatalf("failed to place order: %v", err)
		}
	}
	if _, err := f.service.PlaceOrder(ctx, other.ID, []orders.LineRequest{
		{ProductID: product.ID, Quantity: 1},
	}); err != nil {
		t.Fatalf("failed to place order for other customer: %v", err)
	}

	rec = f.do(t, http.MethodGet, "/customers/"+customer.ID+"/orders", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	history = nil
	if err := json.NewDecoder(rec.Body).Decode(&history); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 orders in history, got %d", len(history))
	}
	for _, order := range history {
		if order.CustomerID != customer.ID {
			t.Fatalf("history contains foreign order for customer %s", order.CustomerID)
		}
	}
}

func TestRepeatedPlacementIsNotIdempotent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := setup(ctx, t)
	defer f.cleanup()

	product := f.seedProduct(ctx, t, "espresso beans", 1000, 4)
	customer := f.seedCustomer(ctx, t, "Alice", "alice@example.com")

	lines := []orders.LineRequest{{ProductID: product.ID, Quantity: 2}}

	first, err := f.service.PlaceOrder(ctx, customer.ID, lines)
	if err != nil {
		t.Fatalf("first placement failed: %v", err)
	}
	second, err := f.service.PlaceOrder(ctx, customer.ID, lines)
	if err != nil {
		t.Fatalf("second placement failed: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("expected two distinct orders for repeated requests")
	}

	if got := f.stockOf(ctx, t, product.ID); got != 0 {
		t.Fatalf("expected stock 0 after two placements, got %d", got)
	}
}

func TestDeleteRestrictions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	f := setup(ctx, t)
	defer f.cleanup()

	product := f.seedProduct(ctx, t, "espresso beans", 1000, 5)
	spare := f.seedProduct(ctx, t, "spare part", 100, 1)
	customer := f.seedCustomer(ctx, t, "Alice", "alice@example.com")

	if _, err := f.service.PlaceOrder(ctx, customer.ID, []orders.LineRequest{
		{ProductID: product.ID, Quantity: 1},
	}); err != nil {
		t.Fatalf("failed to place order: %v", err)
	}

	rec := f.do(t, http.MethodDelete, "/customers/"+customer.ID, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d deleting customer with orders, got %d", http.StatusConflict, rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/products/"+product.ID, "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d deleting ordered product, got %d", http.StatusConflict, rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/products/"+spare.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d deleting unreferenced product, got %d", http.StatusNoContent, rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/products/"+spare.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status %d deleting missing product, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestOrderPlacedEventRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanupKafka := SetupKafka(ctx, t)
	defer cleanupKafka()

	producer := messaging.NewProducer(brokers, "order.placed")
	defer func() { _ = producer.Close() }()

	event := domain.OrderPlacedEvent{
		OrderID:    "order-1",
		CustomerID: "customer-1",
		Lines: []domain.OrderLine{
			{ProductID: "product-1", Quantity: 2, UnitPriceCents: 1000},
		},
		TotalCents: 2000,
		Timestamp:  time.Now().UTC(),
	}
	if err := producer.Publish(ctx, event.OrderID, event); err != nil {
		t.Fatalf("failed to publish event: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, "order.placed", "test-consumer",
		messaging.WithStartOffset(kafka.FirstOffset),
	)
	defer func() { _ = consumer.Close() }()

	received := make(chan domain.OrderPlacedEvent, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		_ = consumer.Consume(consumeCtx, func(_ context.Context, payload []byte) error {
			var got domain.OrderPlacedEvent
			if err := json.Unmarshal(payload, &got); err != nil {
				return err
			}
			received <- got
			return nil
		})
	}()

	select {
	case got := <-received:
		if got.OrderID != event.OrderID || got.TotalCents != event.TotalCents {
			t.Fatalf("event mismatch: sent %+v, got %+v", event, got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for order placed event")
	}
}
