package redisx

import "time"

const (
	// Cache detail order: order_detail:{order_id} -> JSON Order lengkap (termasuk
	// user_id pemilik, dipakai ulang buat cek ownership sebelum disajikan).
	KeyOrderDetail = "order_detail:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	// Order immutable kecuali status (jalur admin eksternal) — TTL pendek
	// membatasi staleness status di cache.
	TTLOrderDetail = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
