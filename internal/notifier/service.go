package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/tokokita/storefront-api/internal/kafka"
	"github.com/tokokita/storefront-api/internal/orders"
	"github.com/tokokita/storefront-api/internal/redisx"
)

// Service: consumer order.placed. Notifikasi di sini berupa log; kanal
// sungguhan (email/push) tinggal ganti isi notify.
type Service struct {
	Redis       *redis.Client // boleh nil (tanpa dedup)
	ServiceName string
}

// HandleOrderPlaced dipasang sebagai handler consumer.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil // ignore
	}

	// dedup per event_id; event ulang (rebalance, retry) tidak dinotifikasi dua kali
	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, "notifier", env.EventID)
		if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
			return nil
		}
		_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		return err
	}
	s.notify(p)
	return nil
}

func (s *Service) notify(p orders.OrderPlacedPayload) {
	log.Printf("[%s] order %s placed by user %s: %d item(s), total %d cents",
		s.ServiceName, p.OrderID, p.UserID, len(p.Items), p.TotalCents)
}
