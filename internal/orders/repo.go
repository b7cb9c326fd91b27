package orders

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo: semua method write menerima pgx.Tx eksplisit — koordinator yang pegang
// lifecycle transaksi, repo tidak pernah begin/commit sendiri.
type Repo struct{ DB *pgxpool.Pool }

// FindCartForUpdate: snapshot keranjang + lock baris products (FOR UPDATE).
// ORDER BY product_id supaya urutan ambil lock deterministik antar transaksi
// yang menyentuh produk sama — menghindari deadlock silang.
func (r *Repo) FindCartForUpdate(ctx context.Context, tx pgx.Tx, userID string) ([]CartLine, error) {
	rows, err := tx.Query(ctx, `
		SELECT ci.product_id, ci.qty, p.price_cents, p.stock
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.user_id = $1
		ORDER BY ci.product_id
		FOR UPDATE OF p`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CartLine
	for rows.Next() {
		var l CartLine
		if err := rows.Scan(&l.ProductID, &l.Qty, &l.PriceCents, &l.Stock); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// DecrementStock: read-modify-write terhadap nilai stok di dalam transaksi.
// Guard stock >= qty di WHERE; RowsAffected 0 berarti stok kurang.
func (r *Repo) DecrementStock(ctx context.Context, tx pgx.Tx, productID string, qty int) (bool, error) {
	ct, err := tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// SnapshotShipping: salin alamat dari profil user saat checkout. Edit profil
// belakangan tidak boleh mengubah order lama (aturan yang sama dengan harga).
func (r *Repo) SnapshotShipping(ctx context.Context, tx pgx.Tx, userID string) (ShippingSnapshot, error) {
	var s ShippingSnapshot
	err := tx.QueryRow(ctx, `
		SELECT shipping_name, shipping_address, shipping_city, shipping_postal_code
		FROM users WHERE id = $1`, userID).
		Scan(&s.Name, &s.Address, &s.City, &s.PostalCode)
	return s, err
}

func (r *Repo) InsertOrder(ctx context.Context, tx pgx.Tx, userID string, totalCents int, ship ShippingSnapshot) (string, error) {
	orderID := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, status, total_cents,
		                   shipping_name, shipping_address, shipping_city, shipping_postal_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		orderID, userID, StatusPlaced, totalCents,
		ship.Name, ship.Address, ship.City, ship.PostalCode)
	if err != nil {
		return "", err
	}
	return orderID, nil
}

func (r *Repo) InsertOrderLine(ctx context.Context, tx pgx.Tx, orderID string, line CartLine) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_items(order_id, product_id, qty, price_cents)
		VALUES ($1, $2, $3, $4)`,
		orderID, line.ProductID, line.Qty, line.PriceCents)
	return err
}

// ClearCart: langkah terakhir sebelum commit; cart hanya kosong kalau checkout sukses.
func (r *Repo) ClearCart(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	return err
}
