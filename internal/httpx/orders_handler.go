package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/tokokita/storefront-api/internal/auth"
	kafkax "github.com/tokokita/storefront-api/internal/kafka"
	"github.com/tokokita/storefront-api/internal/orders"
)

// CheckoutService / QueryService dipisah interface supaya handler bisa dites
// tanpa database.
type CheckoutService interface {
	PlaceOrder(ctx context.Context, userID string) (*orders.PlacedOrder, error)
}

type QueryService interface {
	GetMyOrders(ctx context.Context, userID string) ([]orders.Order, error)
	GetOrder(ctx context.Context, orderID string, who auth.Identity) (*orders.Order, error)
	GetAllOrdersAdmin(ctx context.Context) ([]orders.AdminOrderRow, error)
}

type EventPublisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type OrdersHandler struct {
	Checkout CheckoutService
	Query    QueryService
	Producer EventPublisher // boleh nil (tanpa event)
	Service  string
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(RequireIdentity)
		r.Post("/", h.placeOrder)
		r.Get("/", h.myOrders)
		r.With(RequireAdmin).Get("/all/admin", h.allOrdersAdmin)
		r.Get("/{id}", h.getOrder)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Mapping taksonomi error -> HTTP status. Semua error transaksional sudah
// di-rollback sebelum sampai sini.
func writeError(w http.ResponseWriter, err error) {
	var stockErr *orders.InsufficientStockError
	switch {
	case errors.Is(err, orders.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "cart is empty"})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": stockErr.Error()})
	case errors.Is(err, orders.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "order not found"})
	case errors.Is(err, orders.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"message": "forbidden"})
	default:
		log.Printf("orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
	}
}

// POST /orders — body diabaikan: seluruh order diturunkan dari cart
// server-side, client tidak bisa menitipkan harga/qty.
func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	who, _ := auth.FromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	placed, err := h.Checkout.PlaceOrder(ctx, who.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	h.publishPlaced(r, placed)

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "order placed",
		"order_id": placed.OrderID,
	})
}

// Publish setelah commit, fire-and-forget. Gagal publish tidak menggagalkan
// checkout yang sudah ter-commit.
func (h *OrdersHandler) publishPlaced(r *http.Request, placed *orders.PlacedOrder) {
	if h.Producer == nil {
		return
	}
	ev, err := orders.NewOrderPlacedEvent(h.Service, r.Header.Get("X-Request-Id"), orders.OrderPlacedPayload{
		OrderID:    placed.OrderID,
		UserID:     placed.UserID,
		Items:      placed.Items,
		TotalCents: placed.TotalCents,
	})
	if err != nil {
		log.Printf("order placed event: %v", err)
		return
	}
	h.Producer.Publish(orders.PartitionKey(placed.OrderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(orders.EventOrderPlaced)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (h *OrdersHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	who, _ := auth.FromContext(r.Context())

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Query.GetMyOrders(ctx, who.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	who, _ := auth.FromContext(r.Context())
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Query.GetOrder(ctx, orderID, who)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o, "items": o.Items})
}

func (h *OrdersHandler) allOrdersAdmin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Query.GetAllOrdersAdmin(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
