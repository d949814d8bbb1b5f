package notify

import (
	"context"
	"log"
	"time"

	"globalwarming.dev/internal/sim/climate/curve"
)

// Notice is a Message with its display window.
type Notice struct {
	Message
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Sink receives one notice per region per round. Publish must not block for
// long; the websocket hub only queues.
type Sink interface {
	Publish(n Notice)
}

type SinkFunc func(n Notice)

func (f SinkFunc) Publish(n Notice) { f(n) }

type Config struct {
	Interval time.Duration
	Duration time.Duration
}

// Notifier samples every registered region on a fixed interval.
type Notifier struct {
	guide *Guide
	sink  Sink
	cfg   Config
	src   curve.Source
	log   *log.Logger
	now   func() time.Time
}

// NewNotifier takes ownership of src; it must not be shared with other
// goroutines.
func NewNotifier(guide *Guide, sink Sink, cfg Config, src curve.Source, logger *log.Logger) *Notifier {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Duration <= 0 || cfg.Duration > cfg.Interval {
		cfg.Duration = cfg.Interval
	}
	return &Notifier{guide: guide, sink: sink, cfg: cfg, src: src, log: logger, now: time.Now}
}

// Round builds and publishes one notice per registered region.
func (n *Notifier) Round() []Notice {
	now := n.now()
	ids := n.guide.Regions.IDs()
	out := make([]Notice, 0, len(ids))
	for _, id := range ids {
		notice := Notice{
			Message:   n.guide.Message(id, n.src),
			IssuedAt:  now,
			ExpiresAt: now.Add(n.cfg.Duration),
		}
		if n.sink != nil {
			n.sink.Publish(notice)
		}
		out = append(out, notice)
	}
	return out
}

func (n *Notifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.Interval)
	defer ticker.Stop()

	n.round()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.round()
		}
	}
}

func (n *Notifier) round() {
	notices := n.Round()
	if n.log != nil && len(notices) > 0 {
		n.log.Printf("published %d notices interval=%s ttl=%s", len(notices), n.cfg.Interval, n.cfg.Duration)
	}
}
