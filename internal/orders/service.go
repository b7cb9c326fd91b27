package orders

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store: operasi write yang dijalankan di dalam satu transaksi checkout.
// Semua method menerima tx yang sama; tidak ada state transaksi tersembunyi.
type Store interface {
	FindCartForUpdate(ctx context.Context, tx pgx.Tx, userID string) ([]CartLine, error)
	DecrementStock(ctx context.Context, tx pgx.Tx, productID string, qty int) (bool, error)
	SnapshotShipping(ctx context.Context, tx pgx.Tx, userID string) (ShippingSnapshot, error)
	InsertOrder(ctx context.Context, tx pgx.Tx, userID string, totalCents int, ship ShippingSnapshot) (string, error)
	InsertOrderLine(ctx context.Context, tx pgx.Tx, orderID string, line CartLine) error
	ClearCart(ctx context.Context, tx pgx.Tx, userID string) error
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Checkout: koordinator transaksi. Begin → snapshot cart (locked) → cek &
// kurangi stok per baris → tulis order + items → kosongkan cart → commit.
// Error di titik manapun → rollback penuh lewat defer, tanpa efek samping.
type Checkout struct {
	db    txBeginner
	store Store
}

func NewCheckout(db *pgxpool.Pool) *Checkout {
	return &Checkout{db: db, store: &Repo{DB: db}}
}

// PlaceOrder: ubah keranjang user jadi order persisten, atomik.
// Seluruh data order diturunkan server-side dari cart tersimpan — tidak ada
// harga/qty yang dipercaya dari client.
func (c *Checkout) PlaceOrder(ctx context.Context, userID string) (*PlacedOrder, error) {
	tx, err := c.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lines, err := c.store.FindCartForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	total := 0
	for _, l := range lines {
		if l.Stock < l.Qty {
			return nil, &InsufficientStockError{ProductID: l.ProductID, Requested: l.Qty, Available: l.Stock}
		}
		ok, err := c.store.DecrementStock(ctx, tx, l.ProductID, l.Qty)
		if err != nil {
			return nil, err
		}
		if !ok {
			// baris products sudah kita lock, harusnya tidak kejadian; tetap
			// dianggap shortfall supaya invariannya satu.
			return nil, &InsufficientStockError{ProductID: l.ProductID, Requested: l.Qty, Available: l.Stock}
		}
		total += l.Qty * l.PriceCents
	}

	ship, err := c.store.SnapshotShipping(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	orderID, err := c.store.InsertOrder(ctx, tx, userID, total, ship)
	if err != nil {
		return nil, err
	}

	items := make([]OrderItem, 0, len(lines))
	for _, l := range lines {
		if err := c.store.InsertOrderLine(ctx, tx, orderID, l); err != nil {
			return nil, err
		}
		items = append(items, OrderItem{ProductID: l.ProductID, Qty: l.Qty, PriceCents: l.PriceCents})
	}

	if err := c.store.ClearCart(ctx, tx, userID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &PlacedOrder{OrderID: orderID, UserID: userID, TotalCents: total, Items: items}, nil
}
