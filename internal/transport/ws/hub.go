package ws

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"globalwarming.dev/internal/protocol"
	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
	"globalwarming.dev/internal/sim/climate/notify"
)

var _ notify.Sink = (*Server)(nil)

// Publish fans a notice out to every subscribed session of its region.
// Sessions whose queue is full miss the notice.
func (s *Server) Publish(n notify.Notice) {
	msg := protocol.NotifyMsg{
		Type:            protocol.TypeNotify,
		ProtocolVersion: protocol.Version,
		Region:          string(n.Region),
		Subject:         n.Subject,
		Text:            n.Text,
		Band:            n.Band,
		Temperature:     n.Temperature,
		Disabled:        n.Disabled,
		IssuedAt:        n.IssuedAt.UTC().Format(time.RFC3339),
		ExpiresAt:       n.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if n.Kind.Valid() {
		msg.Kind = n.Kind.String()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		s.printf("marshal notice: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.sessions {
		if !sess.subscribe || sess.region != n.Region {
			continue
		}
		select {
		case sess.out <- b:
			s.stats.notifySent.Add(1)
		default:
			s.stats.notifyDropped.Add(1)
		}
	}
}

type Stats struct {
	Sessions      int               `json:"sessions"`
	RecordsTotal  uint64            `json:"records_total"`
	RateLimited   uint64            `json:"rate_limited_total"`
	NotifySent    uint64            `json:"notify_sent_total"`
	NotifyDropped uint64            `json:"notify_dropped_total"`
	Decisions     []DecisionCounter `json:"decisions"`
}

type DecisionCounter struct {
	Kind   string `json:"kind"`
	Action string `json:"action"`
	Count  uint64 `json:"count"`
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()
	return Stats{
		Sessions:      n,
		RecordsTotal:  s.stats.records.Load(),
		RateLimited:   s.stats.rateLimited.Load(),
		NotifySent:    s.stats.notifySent.Load(),
		NotifyDropped: s.stats.notifyDropped.Load(),
		Decisions:     s.stats.decisionCounters(),
	}
}

type decisionKey struct {
	kind   climate.Kind
	action effects.Action
}

type counters struct {
	records       atomic.Uint64
	rateLimited   atomic.Uint64
	notifySent    atomic.Uint64
	notifyDropped atomic.Uint64

	mu        sync.Mutex
	decisions map[decisionKey]uint64
}

func (c *counters) decision(kind climate.Kind, action effects.Action) {
	c.mu.Lock()
	if c.decisions == nil {
		c.decisions = map[decisionKey]uint64{}
	}
	c.decisions[decisionKey{kind, action}]++
	c.mu.Unlock()
}

func (c *counters) decisionCounters() []DecisionCounter {
	c.mu.Lock()
	out := make([]DecisionCounter, 0, len(c.decisions))
	for k, n := range c.decisions {
		out = append(out, DecisionCounter{Kind: k.kind.String(), Action: k.action.String(), Count: n})
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// rateWindow is a fixed window counter. A zero window or max disables it.
type rateWindow struct {
	start  time.Time
	count  int
	window time.Duration
	max    int
}

func newRateWindow(windowMs, max int) rateWindow {
	return rateWindow{window: time.Duration(windowMs) * time.Millisecond, max: max}
}

func (w *rateWindow) allow(now time.Time) bool {
	if w.window <= 0 || w.max <= 0 {
		return true
	}
	if w.start.IsZero() || now.Sub(w.start) >= w.window {
		w.start = now
		w.count = 0
	}
	if w.count >= w.max {
		return false
	}
	w.count++
	return true
}
