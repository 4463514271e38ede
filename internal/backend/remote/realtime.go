package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/websocket"

	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/core/realtime"
)

const (
	socketPath       = "/realtime/v1/websocket"
	defaultHeartbeat = 30 * time.Second
	joinTimeout      = 10 * time.Second
	minRejoinDelay   = 500 * time.Millisecond
	maxRejoinDelay   = 30 * time.Second
)

// Phoenix channel events.
const (
	evJoin      = "phx_join"
	evLeave     = "phx_leave"
	evReply     = "phx_reply"
	evError     = "phx_error"
	evClose     = "phx_close"
	evHeartbeat = "heartbeat"
	evChanges   = "postgres_changes"
)

// phxMessage is a Phoenix v1 JSON frame.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	Data struct {
		Schema string         `json:"schema"`
		Table  string         `json:"table"`
		Type   string         `json:"type"`
		Record map[string]any `json:"record"`
	} `json:"data"`
}

// Realtime is a realtime.Channel over the hosted Phoenix socket. Each
// subscription owns one socket and rejoins with backoff when it drops.
type Realtime struct {
	client    *Client
	tokens    TokenSource
	heartbeat time.Duration
	minDelay  time.Duration
	maxDelay  time.Duration
	log       zerolog.Logger
	ref       atomic.Int64
}

var _ realtime.Channel = (*Realtime)(nil)

func NewRealtime(client *Client, tokens TokenSource, logger zerolog.Logger) *Realtime {
	return &Realtime{
		client:    client,
		tokens:    tokens,
		heartbeat: defaultHeartbeat,
		minDelay:  minRejoinDelay,
		maxDelay:  maxRejoinDelay,
		log:       logger,
	}
}

func (r *Realtime) nextRef() string {
	return strconv.FormatInt(r.ref.Add(1), 10)
}

func (r *Realtime) socketURL() string {
	u := *r.client.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = r.client.base.Path + socketPath
	u.RawQuery = url.Values{"apikey": {r.client.anonKey}, "vsn": {"1.0.0"}}.Encode()
	return u.String()
}

// Subscribe opens a socket, joins the channel for f and waits for the join
// reply. A dropped socket is rejoined until Unsubscribe is called or ctx is
// done. Only the first join reports its error.
func (r *Realtime) Subscribe(ctx context.Context, f realtime.Filter, handler func(realtime.Change)) (realtime.Subscription, error) {
	conn, err := r.join(ctx, f)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &socketSub{
		rt:      r,
		filter:  f,
		topic:   f.Topic(),
		handler: handler,
		cancel:  cancel,
		conn:    conn,
		done:    make(chan struct{}),
		log:     r.log.With().Str("topic", f.Topic()).Logger(),
	}
	go sub.run(ctx, conn)
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()

	sub.log.Debug().Msg("realtime joined")
	return sub, nil
}

// join dials the socket and joins the channel for f.
func (r *Realtime) join(ctx context.Context, f realtime.Filter) (*websocket.Conn, error) {
	const op = "realtime.subscribe"

	cfg, err := websocket.NewConfig(r.socketURL(), r.client.base.String())
	if err != nil {
		return nil, fault.Classify(op, fmt.Errorf("socket config: %w", err))
	}
	conn, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fault.Network(op, err)
	}

	token := ""
	if r.tokens != nil {
		token = r.tokens.AccessToken(ctx)
	}

	topic := f.Topic()
	joinPayload, _ := json.Marshal(map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]string{{
				"event":  "*",
				"schema": f.Schema,
				"table":  f.Table,
				"filter": f.Expr,
			}},
		},
		"access_token": token,
	})
	msg := phxMessage{Topic: topic, Event: evJoin, Payload: joinPayload, Ref: r.nextRef()}

	if err := websocket.JSON.Send(conn, msg); err != nil {
		_ = conn.Close()
		return nil, fault.Network(op, err)
	}

	deadline := time.Now().Add(joinTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	if err := awaitJoin(conn, op, topic, msg.Ref); err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})
	return conn, nil
}

func awaitJoin(conn *websocket.Conn, op, topic, ref string) error {
	for {
		var msg phxMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			return fault.Classify(op, err)
		}
		if msg.Topic != topic || msg.Ref != ref || msg.Event != evReply {
			continue
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fault.Classify(op, fmt.Errorf("decode join reply: %w", err))
		}
		if reply.Status != "ok" {
			return fault.Rejected(op, 0, fmt.Sprintf("join %s refused: %s", topic, string(reply.Response)))
		}
		return nil
	}
}

type socketSub struct {
	rt      *Realtime
	filter  realtime.Filter
	topic   string
	handler func(realtime.Change)
	cancel  context.CancelFunc
	log     zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
	once sync.Once
}

// run serves conn and every socket that replaces it after a drop.
func (s *socketSub) run(ctx context.Context, conn *websocket.Conn) {
	for {
		stop := make(chan struct{})
		go s.beat(conn, stop)
		err := s.read(conn)
		close(stop)

		select {
		case <-s.done:
			return
		default:
		}
		s.log.Warn().Err(err).Msg("realtime socket dropped, rejoining")

		conn = s.rejoin(ctx)
		if conn == nil || !s.swap(conn) {
			return
		}
		s.log.Info().Msg("realtime rejoined")
	}
}

// rejoin retries the join with exponential backoff. It returns nil once the
// subscription is closed.
func (s *socketSub) rejoin(ctx context.Context) *websocket.Conn {
	delay := s.rt.minDelay
	for {
		t := time.NewTimer(delay)
		select {
		case <-s.done:
			t.Stop()
			return nil
		case <-t.C:
		}

		conn, err := s.rt.join(ctx, s.filter)
		if err == nil {
			return conn
		}
		s.log.Debug().Err(err).Dur("delay", delay).Msg("rejoin failed")
		delay = min(delay*2, s.rt.maxDelay)
	}
}

// swap installs conn as the live socket. It reports false, closing conn, when
// the subscription ended during the rejoin.
func (s *socketSub) swap(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		_ = conn.Close()
		return false
	default:
	}
	s.conn = conn
	return true
}

// read delivers postgres_changes frames until the socket closes or the
// server closes the channel.
func (s *socketSub) read(conn *websocket.Conn) error {
	for {
		var msg phxMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			return err
		}

		switch msg.Event {
		case evChanges:
			var p changesPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				s.log.Warn().Err(err).Msg("undecodable change frame")
				continue
			}
			s.handler(realtime.Change{Type: p.Data.Type, Table: p.Data.Table, Record: p.Data.Record})
		case evError, evClose:
			if msg.Topic == s.topic {
				_ = conn.Close()
				return fmt.Errorf("channel %s: %s %s", s.topic, msg.Event, string(msg.Payload))
			}
		}
	}
}

func (s *socketSub) beat(conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(s.rt.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			hb := phxMessage{Topic: "phoenix", Event: evHeartbeat, Payload: json.RawMessage(`{}`), Ref: s.rt.nextRef()}
			if err := websocket.JSON.Send(conn, hb); err != nil {
				s.log.Debug().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// Unsubscribe leaves the channel, closes the socket and stops rejoining. It
// is idempotent.
func (s *socketSub) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		conn := s.conn
		s.mu.Unlock()

		s.cancel()
		leave := phxMessage{Topic: s.topic, Event: evLeave, Payload: json.RawMessage(`{}`), Ref: s.rt.nextRef()}
		_ = websocket.JSON.Send(conn, leave)
		err = conn.Close()
		s.log.Debug().Msg("realtime left")
	})
	return err
}
