package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

var errForced = errors.New("forced failure")

// memStore meniru perilaku Postgres yang diandalkan koordinator: per-product
// row lock (FOR UPDATE) yang dipegang sampai commit/rollback, dan write yang
// baru terlihat setelah commit. Dipakai juga sebagai txBeginner.
type memProduct struct {
	priceCents int
	stock      int
	mu         sync.Mutex // simulasi row lock
}

type memOrder struct {
	userID     string
	totalCents int
	ship       ShippingSnapshot
	items      []OrderItem
}

type memStore struct {
	mu       sync.Mutex
	seq      int
	products map[string]*memProduct
	carts    map[string][]CartLine // hanya ProductID+Qty yang diisi
	ship     map[string]ShippingSnapshot
	orders   map[string]*memOrder

	failOn string // nama method yang dipaksa error
}

func newMemStore() *memStore {
	return &memStore{
		products: map[string]*memProduct{},
		carts:    map[string][]CartLine{},
		ship:     map[string]ShippingSnapshot{},
		orders:   map[string]*memOrder{},
	}
}

type memTx struct {
	pgx.Tx // method lain tidak dipakai koordinator
	s      *memStore
	locked []*memProduct
	apply  []func() // staged writes, dijalankan saat commit
	done   bool
}

func (s *memStore) Begin(ctx context.Context) (pgx.Tx, error) {
	return &memTx{s: s}, nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.s.mu.Lock()
	for _, f := range t.apply {
		f()
	}
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.release()
	return nil
}

func (t *memTx) release() {
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.locked[i].mu.Unlock()
	}
	t.locked = nil
	t.done = true
}

func (s *memStore) fail(method string) error {
	if s.failOn == method {
		return errForced
	}
	return nil
}

func (s *memStore) FindCartForUpdate(ctx context.Context, tx pgx.Tx, userID string) ([]CartLine, error) {
	if err := s.fail("FindCartForUpdate"); err != nil {
		return nil, err
	}
	t := tx.(*memTx)
	s.mu.Lock()
	lines := append([]CartLine(nil), s.carts[userID]...)
	s.mu.Unlock()
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	for i := range lines {
		p := s.products[lines[i].ProductID]
		p.mu.Lock() // blok sampai transaksi pemegang lock commit/rollback
		t.locked = append(t.locked, p)
		lines[i].PriceCents = p.priceCents
		lines[i].Stock = p.stock
	}
	return lines, nil
}

func (s *memStore) DecrementStock(ctx context.Context, tx pgx.Tx, productID string, qty int) (bool, error) {
	if err := s.fail("DecrementStock"); err != nil {
		return false, err
	}
	t := tx.(*memTx)
	p := s.products[productID]
	if p.stock < qty {
		return false, nil
	}
	t.apply = append(t.apply, func() { p.stock -= qty })
	return true, nil
}

func (s *memStore) SnapshotShipping(ctx context.Context, tx pgx.Tx, userID string) (ShippingSnapshot, error) {
	if err := s.fail("SnapshotShipping"); err != nil {
		return ShippingSnapshot{}, err
	}
	return s.ship[userID], nil
}

func (s *memStore) InsertOrder(ctx context.Context, tx pgx.Tx, userID string, totalCents int, ship ShippingSnapshot) (string, error) {
	if err := s.fail("InsertOrder"); err != nil {
		return "", err
	}
	t := tx.(*memTx)
	s.mu.Lock()
	s.seq++
	id := fmt.Sprintf("order-%d", s.seq)
	s.mu.Unlock()
	t.apply = append(t.apply, func() {
		s.orders[id] = &memOrder{userID: userID, totalCents: totalCents, ship: ship}
	})
	return id, nil
}

func (s *memStore) InsertOrderLine(ctx context.Context, tx pgx.Tx, orderID string, line CartLine) error {
	if err := s.fail("InsertOrderLine"); err != nil {
		return err
	}
	t := tx.(*memTx)
	t.apply = append(t.apply, func() {
		o := s.orders[orderID]
		o.items = append(o.items, OrderItem{ProductID: line.ProductID, Qty: line.Qty, PriceCents: line.PriceCents})
	})
	return nil
}

func (s *memStore) ClearCart(ctx context.Context, tx pgx.Tx, userID string) error {
	if err := s.fail("ClearCart"); err != nil {
		return err
	}
	t := tx.(*memTx)
	t.apply = append(t.apply, func() { delete(s.carts, userID) })
	return nil
}

func (s *memStore) stock(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].stock
}

func (s *memStore) cartLen(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.carts[userID])
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func newTestCheckout(s *memStore) *Checkout {
	return &Checkout{db: s, store: s}
}

func TestPlaceOrderSuccess(t *testing.T) {
	s := newMemStore()
	s.products["p7"] = &memProduct{priceCents: 1000, stock: 5}
	s.carts["u1"] = []CartLine{{ProductID: "p7", Qty: 2}}
	s.ship["u1"] = ShippingSnapshot{Name: "Budi", Address: "Jl. Melati 1", City: "Bandung", PostalCode: "40111"}

	placed, err := newTestCheckout(s).PlaceOrder(context.Background(), "u1")
	require.NoError(t, err)
	require.NotEmpty(t, placed.OrderID)
	require.Equal(t, 2000, placed.TotalCents)

	require.Equal(t, 3, s.stock("p7"))
	require.Equal(t, 0, s.cartLen("u1"))
	require.Equal(t, 1, s.orderCount())

	o := s.orders[placed.OrderID]
	require.Equal(t, "u1", o.userID)
	require.Equal(t, 2000, o.totalCents)
	require.Equal(t, "Bandung", o.ship.City)
	require.Equal(t, []OrderItem{{ProductID: "p7", Qty: 2, PriceCents: 1000}}, o.items)
}

func TestPlaceOrderEmptyCart(t *testing.T) {
	s := newMemStore()
	_, err := newTestCheckout(s).PlaceOrder(context.Background(), "u1")
	require.ErrorIs(t, err, ErrEmptyCart)
	require.Equal(t, 0, s.orderCount())
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	s := newMemStore()
	s.products["p7"] = &memProduct{priceCents: 1000, stock: 5}
	s.carts["u1"] = []CartLine{{ProductID: "p7", Qty: 10}}

	_, err := newTestCheckout(s).PlaceOrder(context.Background(), "u1")

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, "p7", stockErr.ProductID)
	require.Equal(t, 10, stockErr.Requested)
	require.Equal(t, 5, stockErr.Available)

	require.Equal(t, 5, s.stock("p7"))
	require.Equal(t, 1, s.cartLen("u1"))
	require.Equal(t, 0, s.orderCount())
}

// Shortfall di baris kedua tidak boleh menyisakan decrement baris pertama.
func TestPlaceOrderMultiLineShortfallRollsBack(t *testing.T) {
	s := newMemStore()
	s.products["p1"] = &memProduct{priceCents: 500, stock: 10}
	s.products["p2"] = &memProduct{priceCents: 800, stock: 1}
	s.carts["u1"] = []CartLine{
		{ProductID: "p1", Qty: 3},
		{ProductID: "p2", Qty: 2},
	}

	_, err := newTestCheckout(s).PlaceOrder(context.Background(), "u1")

	var stockErr *InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Equal(t, "p2", stockErr.ProductID)
	require.Equal(t, 10, s.stock("p1"))
	require.Equal(t, 1, s.stock("p2"))
	require.Equal(t, 2, s.cartLen("u1"))
	require.Equal(t, 0, s.orderCount())
}

// Injeksi kegagalan di setiap langkah setelah transaksi mulai: post-state
// harus identik dengan pre-state.
func TestPlaceOrderRollbackOnFailure(t *testing.T) {
	steps := []string{"FindCartForUpdate", "DecrementStock", "SnapshotShipping", "InsertOrder", "InsertOrderLine", "ClearCart"}
	for _, step := range steps {
		t.Run(step, func(t *testing.T) {
			s := newMemStore()
			s.products["p1"] = &memProduct{priceCents: 500, stock: 10}
			s.carts["u1"] = []CartLine{{ProductID: "p1", Qty: 3}}
			s.failOn = step

			_, err := newTestCheckout(s).PlaceOrder(context.Background(), "u1")
			require.ErrorIs(t, err, errForced)

			require.Equal(t, 10, s.stock("p1"))
			require.Equal(t, 1, s.cartLen("u1"))
			require.Equal(t, 0, s.orderCount())
		})
	}
}

// Harga di order item adalah salinan saat checkout; update katalog sesudahnya
// tidak mengubah order lama.
func TestOrderLinePriceImmutable(t *testing.T) {
	s := newMemStore()
	s.products["p7"] = &memProduct{priceCents: 1000, stock: 5}
	s.carts["u1"] = []CartLine{{ProductID: "p7", Qty: 1}}

	placed, err := newTestCheckout(s).PlaceOrder(context.Background(), "u1")
	require.NoError(t, err)

	s.mu.Lock()
	s.products["p7"].priceCents = 9900
	s.mu.Unlock()

	require.Equal(t, 1000, s.orders[placed.OrderID].items[0].PriceCents)
	require.Equal(t, 1000, placed.Items[0].PriceCents)
}

// Dua checkout rebutan unit terakhir: tepat satu sukses, stok akhir 0.
func TestConcurrentCheckoutLastUnit(t *testing.T) {
	s := newMemStore()
	s.products["p9"] = &memProduct{priceCents: 1500, stock: 1}
	s.carts["uA"] = []CartLine{{ProductID: "p9", Qty: 1}}
	s.carts["uB"] = []CartLine{{ProductID: "p9", Qty: 1}}

	c := newTestCheckout(s)
	gate := make(chan struct{})
	results := make(chan error, 2)
	for _, user := range []string{"uA", "uB"} {
		go func(u string) {
			<-gate
			_, err := c.PlaceOrder(context.Background(), u)
			results <- err
		}(user)
	}
	close(gate)

	var success, shortfall int
	for i := 0; i < 2; i++ {
		err := <-results
		if err == nil {
			success++
			continue
		}
		var stockErr *InsufficientStockError
		require.ErrorAs(t, err, &stockErr)
		shortfall++
	}

	require.Equal(t, 1, success)
	require.Equal(t, 1, shortfall)
	require.Equal(t, 0, s.stock("p9"))
	require.Equal(t, 1, s.orderCount())
	// cart yang kalah tetap utuh, yang menang kosong
	require.Equal(t, 1, s.cartLen("uA")+s.cartLen("uB"))
}

// Storm: stok N, M>N checkout konkuren qty 1 — jumlah sukses tepat N,
// stok tidak pernah negatif.
func TestConcurrentCheckoutStorm(t *testing.T) {
	const stock, callers = 3, 10

	s := newMemStore()
	s.products["p9"] = &memProduct{priceCents: 700, stock: stock}
	users := make([]string, callers)
	for i := range users {
		users[i] = fmt.Sprintf("u%d", i)
		s.carts[users[i]] = []CartLine{{ProductID: "p9", Qty: 1}}
	}

	c := newTestCheckout(s)
	gate := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]error, callers)
	for i, u := range users {
		wg.Add(1)
		go func(idx int, user string) {
			defer wg.Done()
			<-gate
			_, results[idx] = c.PlaceOrder(context.Background(), user)
		}(i, u)
	}
	close(gate)
	wg.Wait()

	success := 0
	for _, err := range results {
		if err == nil {
			success++
		} else {
			var stockErr *InsufficientStockError
			require.ErrorAs(t, err, &stockErr)
		}
	}
	require.Equal(t, stock, success)
	require.Equal(t, 0, s.stock("p9"))
	require.Equal(t, stock, s.orderCount())
}

// Urutan lock deterministik: dua cart menyentuh produk sama dalam urutan
// input berbeda tidak boleh deadlock.
func TestOverlappingCartsNoDeadlock(t *testing.T) {
	s := newMemStore()
	s.products["p1"] = &memProduct{priceCents: 100, stock: 100}
	s.products["p2"] = &memProduct{priceCents: 200, stock: 100}
	s.carts["uA"] = []CartLine{{ProductID: "p1", Qty: 1}, {ProductID: "p2", Qty: 1}}
	s.carts["uB"] = []CartLine{{ProductID: "p2", Qty: 1}, {ProductID: "p1", Qty: 1}}

	c := newTestCheckout(s)
	gate := make(chan struct{})
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, u := range []string{"uA", "uB"} {
		wg.Add(1)
		go func(idx int, user string) {
			defer wg.Done()
			<-gate
			_, errs[idx] = c.PlaceOrder(context.Background(), user)
		}(i, u)
	}
	close(gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	require.Equal(t, 98, s.stock("p1"))
	require.Equal(t, 98, s.stock("p2"))
	require.Equal(t, 2, s.orderCount())
}
