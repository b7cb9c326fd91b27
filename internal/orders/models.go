package orders

import "time"

type Status string

// Order dibuat langsung PLACED; progres selanjutnya diurus jalur admin di luar core ini.
const (
	StatusPlaced     Status = "PLACED"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
)

// CartLine: satu baris keranjang user, hasil join dengan harga & stok produk
// pada saat snapshot checkout (nilai di dalam transaksi, bukan cache).
type CartLine struct {
	ProductID  string
	Qty        int
	PriceCents int
	Stock      int
}

type ShippingSnapshot struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

type Order struct {
	ID         string           `json:"id"`
	UserID     string           `json:"user_id"`
	Status     Status           `json:"status"`
	TotalCents int              `json:"total_cents"`
	Shipping   ShippingSnapshot `json:"shipping"`
	CreatedAt  time.Time        `json:"created_at"`
	Items      []OrderItem      `json:"items"`
}

// OrderItem: price_cents adalah salinan harga saat checkout, bukan referensi
// ke products — edit katalog belakangan tidak mengubah order lama.
type OrderItem struct {
	ProductID  string `json:"product_id"`
	Qty        int    `json:"qty"`
	PriceCents int    `json:"price_cents"`
}

// AdminOrderRow: baris listing admin, join dengan identitas pembeli.
type AdminOrderRow struct {
	ID         string    `json:"id"`
	Status     Status    `json:"status"`
	TotalCents int       `json:"total_cents"`
	CreatedAt  time.Time `json:"created_at"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
}

// PlacedOrder: hasil checkout sukses, dipakai buat response + event payload.
type PlacedOrder struct {
	OrderID    string
	UserID     string
	TotalCents int
	Items      []OrderItem
}
