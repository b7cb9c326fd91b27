package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tokokita/storefront-api/internal/auth"
	"github.com/tokokita/storefront-api/internal/redisx"
)

// Query: jalur baca, non-transaksional. Redis opsional (nil = tanpa cache).
type Query struct {
	DB    *pgxpool.Pool
	Redis *redis.Client
}

// GetMyOrders: semua order milik userID, item ter-attach, terbaru dulu.
func (q *Query) GetMyOrders(ctx context.Context, userID string) ([]Order, error) {
	rows, err := q.DB.Query(ctx, `
		SELECT id, user_id, status, total_cents,
		       shipping_name, shipping_address, shipping_city, shipping_postal_code,
		       created_at
		FROM orders WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	ids := make([]string, 0, 8)
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents,
			&o.Shipping.Name, &o.Shipping.Address, &o.Shipping.City, &o.Shipping.PostalCode,
			&o.CreatedAt); err != nil {
			return nil, err
		}
		o.Items = []OrderItem{}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return []Order{}, nil
	}

	items, err := q.itemsByOrder(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if its, ok := items[out[i].ID]; ok {
			out[i].Items = its
		}
	}
	return out, nil
}

// GetOrder: detail satu order dengan cek ownership. Cache read-through di
// Redis; ownership tetap dicek terhadap user_id yang tersimpan di payload
// cache, jadi cache tidak bisa membocorkan order user lain.
func (q *Query) GetOrder(ctx context.Context, orderID string, who auth.Identity) (*Order, error) {
	key := fmt.Sprintf(redisx.KeyOrderDetail, orderID)
	if q.Redis != nil {
		if s, err := q.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			var o Order
			if json.Unmarshal([]byte(s), &o) == nil {
				return authorize(&o, who)
			}
		}
	}

	o, err := q.fetchOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if q.Redis != nil {
		if b, err := json.Marshal(o); err == nil {
			_ = q.Redis.Set(ctx, key, b, redisx.TTLOrderDetail).Err()
		}
	}
	return authorize(o, who)
}

// GetAllOrdersAdmin: listing seluruh order + identitas pembeli.
// Pembatasan role admin dilakukan di boundary HTTP, bukan di sini.
func (q *Query) GetAllOrdersAdmin(ctx context.Context) ([]AdminOrderRow, error) {
	rows, err := q.DB.Query(ctx, `
		SELECT o.id, o.status, o.total_cents, o.created_at, u.name, u.email
		FROM orders o
		JOIN users u ON u.id = o.user_id
		ORDER BY o.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []AdminOrderRow{}
	for rows.Next() {
		var r AdminOrderRow
		if err := rows.Scan(&r.ID, &r.Status, &r.TotalCents, &r.CreatedAt, &r.Name, &r.Email); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func authorize(o *Order, who auth.Identity) (*Order, error) {
	if o.UserID != who.UserID && !who.IsAdmin() {
		return nil, ErrForbidden
	}
	return o, nil
}

func (q *Query) fetchOrder(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := q.DB.QueryRow(ctx, `
		SELECT id, user_id, status, total_cents,
		       shipping_name, shipping_address, shipping_city, shipping_postal_code,
		       created_at
		FROM orders WHERE id = $1`, orderID).
		Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents,
			&o.Shipping.Name, &o.Shipping.Address, &o.Shipping.City, &o.Shipping.PostalCode,
			&o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	items, err := q.itemsByOrder(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	if o.Items == nil {
		o.Items = []OrderItem{}
	}
	return &o, nil
}

func (q *Query) itemsByOrder(ctx context.Context, orderIDs []string) (map[string][]OrderItem, error) {
	rows, err := q.DB.Query(ctx, `
		SELECT order_id, product_id, qty, price_cents
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, product_id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]OrderItem{}
	for rows.Next() {
		var oid string
		var it OrderItem
		if err := rows.Scan(&oid, &it.ProductID, &it.Qty, &it.PriceCents); err != nil {
			return nil, err
		}
		out[oid] = append(out[oid], it)
	}
	return out, rows.Err()
}
