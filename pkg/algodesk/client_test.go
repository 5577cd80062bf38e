package algodesk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"google.golang.org/grpc"

	"algodesk/internal/domain"
	"algodesk/internal/httpapi"
	"algodesk/internal/live"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:5000/"
	c := NewClient(baseURL, WithGRPCAddr("localhost:9090"))

	if c.baseURL != "http://localhost:5000" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.grpcAddr != "localhost:9090" {
		t.Errorf("grpcAddr = %q, want localhost:9090", c.grpcAddr)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestStatusAndOrders(t *testing.T) {
	var gotQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(httpapi.StatusResponse{Status: "success", Mode: domain.ModeLive, Running: true, Strategy: "momentum"})
	})
	mux.HandleFunc("GET /api/orders/history", func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		json.NewEncoder(w).Encode(httpapi.OrdersResponse{Status: "success", Orders: []domain.OrderRecord{{OrderID: "PAPER_1", Status: domain.OrderStatusExecuted}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := NewClient(srv.URL)
	ctx := context.Background()

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Mode != domain.ModeLive || !st.Running || st.Strategy != "momentum" {
		t.Errorf("Status = %+v", st)
	}

	orders, err := c.History(ctx, OrderQuery{Mode: "paper", Limit: 5})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(orders) != 1 || orders[0].OrderID != "PAPER_1" {
		t.Errorf("History = %+v", orders)
	}
	if gotQuery != "limit=5&mode=paper" {
		t.Errorf("query = %q, want limit=5&mode=paper", gotQuery)
	}
}

func TestPlaceOrderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req httpapi.OrderRequest
		json.NewDecoder(r.Body).Decode(&req)
		rec := domain.OrderRecord{
			OrderIntent: domain.OrderIntent{Symbol: req.Symbol, Quantity: req.Quantity},
			Status:      domain.OrderStatusRejected,
			Error:       "quantity must be positive",
		}
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(httpapi.ErrorResponse{Status: "error", Message: rec.Error, Order: &rec})
	}))
	defer srv.Close()

	rec, err := NewClient(srv.URL).PlaceOrder(context.Background(), httpapi.OrderRequest{Symbol: "TCS", Side: "BUY"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("PlaceOrder error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != "quantity must be positive" {
		t.Errorf("APIError = %+v", apiErr)
	}
	if rec.Status != domain.OrderStatusRejected || rec.Symbol != "TCS" {
		t.Errorf("record = %+v, want REJECTED TCS", rec)
	}
}

func TestUploadStrategy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, hdr, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(httpapi.ErrorResponse{Status: "error", Message: "No file provided"})
			return
		}
		src, _ := io.ReadAll(file)
		json.NewEncoder(w).Encode(httpapi.StrategyResponse{Status: "success", Filename: hdr.Filename, Strategy: string(src)})
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).UploadStrategy(context.Background(), "momentum.js", []byte("body"))
	if err != nil {
		t.Fatalf("UploadStrategy: %v", err)
	}
	if resp.Filename != "momentum.js" || resp.Strategy != "body" {
		t.Errorf("UploadStrategy = %+v", resp)
	}
}

func TestErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Stop(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "Bad Gateway" {
		t.Errorf("Stop error = %v, want Bad Gateway", err)
	}
}

func TestSubscribeEvents(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := NewClient("http://x").SubscribeEvents(context.Background(), nil, func(live.Event) {}); err == nil {
		t.Error("SubscribeEvents without a gRPC address should fail")
	}

	bus := live.NewBus()
	gs := grpc.NewServer()
	live.NewServer(bus, log).RegisterGRPC(gs)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go gs.Serve(ln)
	defer gs.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got := make(chan live.Event, 4)
	c := NewClient("http://unused", WithGRPCAddr(ln.Addr().String()), WithLogger(log))
	go c.SubscribeEvents(ctx, []string{live.EventOrderUpdate}, func(e live.Event) { got <- e })

	for bus.Subscribers() == 0 {
		if ctx.Err() != nil {
			t.Fatal("client never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	bus.Publish(live.NewEvent(live.EventMarketData, map[string]any{"AAPL": 1}))
	bus.Publish(live.NewEvent(live.EventOrderUpdate, map[string]any{"orderId": "PAPER_7"}))

	select {
	case e := <-got:
		if e.Type != live.EventOrderUpdate {
			t.Errorf("event type = %q, want order_update", e.Type)
		}
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
