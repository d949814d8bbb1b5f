package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"globalwarming.dev/internal/persistence/indexdb"
	"globalwarming.dev/internal/protocol"
	"globalwarming.dev/internal/sim/climate"
	"globalwarming.dev/internal/sim/climate/effects"
	"globalwarming.dev/internal/sim/tuning"
)

// RecordSink receives every record accepted from a client.
type RecordSink interface {
	WriteRecord(rec climate.Record) error
}

type DecisionSink interface {
	WriteDecision(e effects.DecisionEntry) error
}

// Standings answers per-player score queries.
type Standings interface {
	PlayerScore(id climate.RegionID, actor string) int64
	Ranking(id climate.RegionID, limit int) []indexdb.Standing
}

type Config struct {
	DefaultRegion climate.RegionID
	Bands         effects.Bands
	RateLimits    tuning.RateLimits
	Catalogs      map[string]string
	// Token, when set, must be presented in HELLO.auth.token.
	Token string
	// Seed fixes the per-session random streams; zero seeds from the clock.
	Seed int64
}

type Deps struct {
	Regions   *climate.Registry
	Effects   *effects.Registry
	Records   RecordSink
	Decisions DecisionSink
	Standings Standings
}

type Server struct {
	cfg  Config
	deps Deps
	log  *log.Logger

	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	conns    map[*websocket.Conn]struct{}
	closing  bool
	handlers sync.WaitGroup
	seq      atomic.Int64

	stats counters
}

func NewServer(cfg Config, deps Deps, logger *log.Logger) *Server {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // plugin hosts connect server-to-server
		},
		sessions: map[*session]struct{}{},
		conns:    map[*websocket.Conn]struct{}{},
	}
	return s
}

type session struct {
	id        string
	client    string
	region    climate.RegionID
	subscribe bool
	out       chan []byte
	src       *rand.Rand

	events  rateWindow
	records rateWindow
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		if s.closing {
			s.mu.Unlock()
			http.Error(rw, "shutting down", http.StatusServiceUnavailable)
			return
		}
		s.handlers.Add(1)
		s.mu.Unlock()
		defer s.handlers.Done()

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if !s.track(conn) {
			return
		}
		defer s.untrack(conn)

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.attach(sess)
		defer s.detach(sess)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			reply := s.handle(sess, msg)
			if reply == nil {
				continue
			}
			b, err := json.Marshal(reply)
			if err != nil {
				s.printf("marshal reply: %v", err)
				continue
			}
			select {
			case sess.out <- b:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, "bad HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = writeJSON(conn, protocol.NewError("", protocol.ErrProtoVersion, "unsupported protocol_version "+hello.ProtocolVersion))
		closeWith(conn, "bad protocol_version")
		return nil
	}
	if s.cfg.Token != "" {
		tok := ""
		if hello.Auth != nil {
			tok = strings.TrimSpace(hello.Auth.Token)
		}
		if tok != s.cfg.Token {
			_ = writeJSON(conn, protocol.NewError("", protocol.ErrNoPermission, "bad token"))
			closeWith(conn, "unauthorized")
			return nil
		}
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}
	region := climate.RegionID(strings.TrimSpace(hello.Region))
	if region == "" {
		region = s.cfg.DefaultRegion
	}

	n := s.seq.Add(1)
	sess := &session{
		id:        uuid.NewString(),
		client:    hello.ClientName,
		region:    region,
		subscribe: hello.Subscribe,
		out:       make(chan []byte, 64),
		src:       rand.New(rand.NewSource(s.cfg.Seed + n)),
		events:    newRateWindow(s.cfg.RateLimits.EventsWindowMs, s.cfg.RateLimits.EventsMax),
		records:   newRateWindow(s.cfg.RateLimits.RecordsWindowMs, s.cfg.RateLimits.RecordsMax),
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Region:          string(region),
		Regions:         s.regionRefs(),
		Catalogs:        s.cfg.Catalogs,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	s.printf("session %s client=%s region=%s subscribe=%v", sess.id, sess.client, region, sess.subscribe)
	return sess
}

func (s *Server) regionRefs() []protocol.RegionRef {
	ids := s.deps.Regions.IDs()
	out := make([]protocol.RegionRef, 0, len(ids))
	for _, id := range ids {
		r, ok := s.deps.Regions.Lookup(id)
		if !ok {
			continue
		}
		ref := protocol.RegionRef{RegionID: string(id), Enabled: r.Enabled(), Temperature: r.Temperature()}
		for _, k := range r.EnabledEffects() {
			ref.Effects = append(ref.Effects, k.String())
		}
		out = append(out, ref)
	}
	return out
}

// handle returns the reply for one client message, or nil for none.
func (s *Server) handle(sess *session, msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return protocol.NewError("", protocol.ErrProtoBadRequest, "bad json")
	}
	if base.ProtocolVersion != protocol.Version {
		return protocol.NewError(base.ReqID, protocol.ErrProtoVersion, "unsupported protocol_version "+base.ProtocolVersion)
	}
	switch base.Type {
	case protocol.TypeEvent:
		var m protocol.EventMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewError(base.ReqID, protocol.ErrProtoBadRequest, err.Error())
		}
		if !sess.events.allow(time.Now()) {
			s.stats.rateLimited.Add(1)
			return protocol.NewError(m.ReqID, protocol.ErrRateLimit, "too many events")
		}
		return s.handleEvent(sess, m)
	case protocol.TypeRecord:
		var m protocol.RecordMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewError(base.ReqID, protocol.ErrProtoBadRequest, err.Error())
		}
		if !sess.records.allow(time.Now()) {
			s.stats.rateLimited.Add(1)
			return protocol.NewError(m.ReqID, protocol.ErrRateLimit, "too many records")
		}
		return s.handleRecord(sess, m)
	case protocol.TypeScoreReq:
		var m protocol.ScoreReqMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return protocol.NewError(base.ReqID, protocol.ErrProtoBadRequest, err.Error())
		}
		return s.handleScore(sess, m)
	default:
		return protocol.NewError(base.ReqID, protocol.ErrProtoBadRequest, "unexpected message type "+base.Type)
	}
}

func (s *Server) regionFor(sess *session, requested string) climate.RegionID {
	if id := strings.TrimSpace(requested); id != "" {
		return climate.RegionID(id)
	}
	return sess.region
}

func (s *Server) handleEvent(sess *session, m protocol.EventMsg) any {
	if m.ReqID == "" || strings.TrimSpace(m.Subject) == "" {
		return protocol.NewError(m.ReqID, protocol.ErrBadRequest, "req_id and subject are required")
	}
	kind, err := climate.ParseKind(m.Kind)
	if err != nil {
		return protocol.NewError(m.ReqID, protocol.ErrUnknownEffect, err.Error())
	}
	e, err := s.deps.Effects.Get(kind)
	if err != nil {
		return protocol.NewError(m.ReqID, protocol.ErrUnknownEffect, err.Error())
	}
	id := s.regionFor(sess, m.Region)

	// An unknown or disabled region is inert: the event goes ahead unchanged.
	r, _ := s.deps.Regions.Lookup(id)
	d := effects.Decide(r, e, s.cfg.Bands, m.Subject, sess.src)
	s.stats.decision(kind, d.Action)

	reply := protocol.DecisionMsg{
		Type:            protocol.TypeDecision,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		Region:          string(id),
		Kind:            kind.String(),
		Subject:         strings.ToUpper(strings.TrimSpace(m.Subject)),
		Action:          d.Action.String(),
		Outcome:         d.Outcome,
		Active:          d.Active,
	}
	if d.Active {
		reply.Temperature = d.Assessment.Temperature
		reply.Value = d.Assessment.Value
		reply.Band = d.Assessment.Band.String()
		reply.Adverse = d.Assessment.Adverse
		if s.deps.Decisions != nil && e.Gameplay {
			if err := s.deps.Decisions.WriteDecision(d.Entry(id, kind, m.Subject, time.Now())); err != nil {
				s.printf("write decision: %v", err)
			}
		}
	}
	return reply
}

func (s *Server) handleRecord(sess *session, m protocol.RecordMsg) any {
	if m.ReqID == "" || strings.TrimSpace(m.Actor) == "" || strings.TrimSpace(m.Material) == "" {
		return protocol.NewError(m.ReqID, protocol.ErrBadRequest, "req_id, actor and material are required")
	}
	id := s.regionFor(sess, m.Region)
	r, ok := s.deps.Regions.Lookup(id)
	if !ok {
		return protocol.NewError(m.ReqID, protocol.ErrRegionDisabled, string(id)+": "+climate.ErrRegionNotRegistered.Error())
	}

	var rec climate.Record
	switch strings.ToUpper(m.Activity) {
	case protocol.ActivityTreeGrow:
		if m.Blocks <= 0 {
			return protocol.NewError(m.ReqID, protocol.ErrBadRequest, "blocks must be positive")
		}
		rec = r.TreeGrow(m.Actor, m.Material, m.Blocks)
	case protocol.ActivityFurnaceBurn:
		rec = r.FurnaceBurn(m.Actor, m.Material)
	default:
		return protocol.NewError(m.ReqID, protocol.ErrBadRequest, "unknown activity "+m.Activity)
	}
	if s.deps.Records != nil {
		if err := s.deps.Records.WriteRecord(rec); err != nil {
			s.printf("write record %s: %v", rec.ID, err)
			return protocol.NewError(m.ReqID, protocol.ErrInternal, "record not stored")
		}
	}
	s.stats.records.Add(1)

	reply := protocol.RecordedMsg{
		Type:            protocol.TypeRecorded,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		RecordID:        rec.ID.String(),
		Region:          string(id),
		Actor:           rec.Actor,
		Delta:           rec.Delta(),
		RegionScore:     r.Score(),
	}
	if s.deps.Standings != nil {
		reply.PlayerScore = s.deps.Standings.PlayerScore(id, rec.Actor)
	}
	return reply
}

func (s *Server) handleScore(sess *session, m protocol.ScoreReqMsg) any {
	id := s.regionFor(sess, m.Region)
	r, ok := s.deps.Regions.Lookup(id)
	if !ok {
		return protocol.NewError(m.ReqID, protocol.ErrRegionDisabled, string(id)+": "+climate.ErrRegionNotRegistered.Error())
	}
	score := r.Score()
	reply := protocol.ScoreMsg{
		Type:            protocol.TypeScore,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		Region:          string(id),
		Enabled:         r.Enabled(),
		Score:           score,
		Temperature:     r.Temperature(),
		CarbonIndex:     r.CarbonIndex(score),
	}
	if s.deps.Standings != nil {
		if m.Actor != "" {
			reply.Actor = m.Actor
			reply.PlayerScore = s.deps.Standings.PlayerScore(id, m.Actor)
		}
		if m.Top > 0 {
			for _, st := range s.deps.Standings.Ranking(id, m.Top) {
				reply.Top = append(reply.Top, protocol.PlayerStanding{Actor: st.Actor, Score: st.Score})
			}
		}
	}
	return reply
}

// Shutdown refuses new connections, closes the open ones and waits for their
// handlers to return, so no message is still being applied once it returns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		_ = c.Close()
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) attach(sess *session) {
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) detach(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}
