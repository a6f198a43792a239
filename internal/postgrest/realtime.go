package postgrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/aksanoble/hasu/internal/logger"
)

// EventType is the kind of row change.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one row change pushed by the server. New is empty for
// deletes; Old carries at least the primary key for updates and deletes.
type ChangeEvent struct {
	Type            EventType
	Schema          string
	Table           string
	New             json.RawMessage
	Old             json.RawMessage
	CommitTimestamp string
}

// Handler receives change events serially, in delivery order.
type Handler func(ChangeEvent)

// Subscription selects the rows a channel receives.
type Subscription struct {
	Topic  string // channel name, defaults to schema:table
	Schema string
	Table  string
	Filter string // e.g. user_id=eq.<id>
	Event  string // "*" when empty
}

const (
	defaultHeartbeat = 25 * time.Second
	joinTimeout      = 10 * time.Second
)

// phoenix channel frame
type message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref"`
	JoinRef *string         `json:"join_ref,omitempty"`
}

type joinPayload struct {
	Config struct {
		Broadcast struct {
			Self bool `json:"self"`
		} `json:"broadcast"`
		Presence struct {
			Key string `json:"key"`
		} `json:"presence"`
		PostgresChanges []postgresChange `json:"postgres_changes"`
	} `json:"config"`
	AccessToken string `json:"access_token,omitempty"`
}

type postgresChange struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type changesPayload struct {
	Data struct {
		Type            EventType       `json:"type"`
		Schema          string          `json:"schema"`
		Table           string          `json:"table"`
		Record          json.RawMessage `json:"record"`
		OldRecord       json.RawMessage `json:"old_record"`
		CommitTimestamp string          `json:"commit_timestamp"`
	} `json:"data"`
}

// Realtime opens change-stream channels on the database's realtime endpoint.
type Realtime struct {
	c         *Client
	Heartbeat time.Duration
}

// Realtime returns the change-stream endpoint of c.
func (c *Client) Realtime() *Realtime {
	return &Realtime{c: c, Heartbeat: defaultHeartbeat}
}

// SocketURL returns ws(s)://host/realtime/v1/websocket?apikey=...&vsn=1.0.0
func (r *Realtime) SocketURL() (string, error) {
	u, err := url.Parse(r.c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid database url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := url.Values{}
	q.Set("apikey", r.c.apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Channel is one joined subscription. Close it to unsubscribe.
type Channel struct {
	conn    *websocket.Conn
	topic   string
	joinRef string
	ref     atomic.Int64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	once    sync.Once
	closing atomic.Bool
	done    chan struct{}
	err     error
}

func (ch *Channel) nextRef() string {
	return strconv.FormatInt(ch.ref.Add(1), 10)
}

func (ch *Channel) send(ctx context.Context, topic, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ref := ch.nextRef()
	joinRef := ch.joinRef
	msg := message{Topic: topic, Event: event, Payload: data, Ref: &ref}
	if topic == ch.topic && joinRef != "" {
		msg.JoinRef = &joinRef
	}
	return wsjson.Write(ctx, ch.conn, msg)
}

// Subscribe dials the socket, joins the channel and starts delivering
// events to handler. It returns once the server accepted the join.
func (r *Realtime) Subscribe(ctx context.Context, sub Subscription, handler Handler) (*Channel, error) {
	if sub.Table == "" {
		return nil, errors.New("realtime: table is required")
	}
	if sub.Schema == "" {
		sub.Schema = r.c.schema
	}
	if sub.Event == "" {
		sub.Event = "*"
	}
	if sub.Topic == "" {
		sub.Topic = sub.Schema + ":" + sub.Table
	}

	wsURL, err := r.SocketURL()
	if err != nil {
		return nil, err
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, joinTimeout)
	defer cancelDial()
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("realtime: failed to connect: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	runCtx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		conn:   conn,
		topic:  "realtime:" + sub.Topic,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	ch.joinRef = ch.nextRef()

	var join joinPayload
	join.Config.PostgresChanges = []postgresChange{{
		Event:  sub.Event,
		Schema: sub.Schema,
		Table:  sub.Table,
		Filter: sub.Filter,
	}}
	join.AccessToken = r.c.AccessToken()

	joinMsg, _ := json.Marshal(join)
	ref := ch.joinRef
	if err := wsjson.Write(dialCtx, conn, message{Topic: ch.topic, Event: "phx_join", Payload: joinMsg, Ref: &ref, JoinRef: &ref}); err != nil {
		cancel()
		_ = conn.Close(websocket.StatusInternalError, "join failed")
		return nil, fmt.Errorf("realtime: failed to join: %w", err)
	}

	if err := ch.awaitJoin(dialCtx); err != nil {
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		return nil, err
	}

	logger.Info("Realtime channel joined",
		logger.F("topic", ch.topic),
		logger.F("filter", sub.Filter))

	heartbeat := r.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	ch.wg.Add(2)
	go ch.readLoop(runCtx, handler)
	go ch.heartbeatLoop(runCtx, heartbeat)
	return ch, nil
}

func (ch *Channel) awaitJoin(ctx context.Context) error {
	for {
		var msg message
		if err := wsjson.Read(ctx, ch.conn, &msg); err != nil {
			return fmt.Errorf("realtime: no join reply: %w", err)
		}
		if msg.Event != "phx_reply" || msg.Ref == nil || *msg.Ref != ch.joinRef {
			continue
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("realtime: invalid join reply: %w", err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("realtime: join rejected: %s", strings.TrimSpace(string(reply.Response)))
		}
		return nil
	}
}

func (ch *Channel) readLoop(ctx context.Context, handler Handler) {
	defer ch.wg.Done()
	defer close(ch.done)

	for {
		var msg message
		if err := wsjson.Read(ctx, ch.conn, &msg); err != nil {
			if ctx.Err() == nil && !ch.closing.Load() {
				ch.err = err
				logger.Warn("Realtime channel closed", logger.F("topic", ch.topic), logger.F("error", err))
			}
			return
		}
		if msg.Topic != ch.topic {
			continue
		}

		switch msg.Event {
		case "postgres_changes":
			var p changesPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				logger.Warn("Dropping malformed change event", logger.F("error", err))
				continue
			}
			handler(ChangeEvent{
				Type:            p.Data.Type,
				Schema:          p.Data.Schema,
				Table:           p.Data.Table,
				New:             p.Data.Record,
				Old:             p.Data.OldRecord,
				CommitTimestamp: p.Data.CommitTimestamp,
			})
		case "phx_error", "phx_close":
			logger.Warn("Realtime channel ended by server", logger.F("topic", ch.topic), logger.F("event", msg.Event))
			ch.err = fmt.Errorf("realtime: %s", msg.Event)
			return
		}
	}
}

func (ch *Channel) heartbeatLoop(ctx context.Context, every time.Duration) {
	defer ch.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ch.send(ctx, "phoenix", "heartbeat", struct{}{}); err != nil {
				if ctx.Err() == nil {
					logger.Debug("Realtime heartbeat failed", logger.F("error", err))
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Done is closed when the channel stops receiving events.
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

// Err returns why the channel stopped, or nil after a clean Close.
func (ch *Channel) Err() error {
	select {
	case <-ch.done:
		return ch.err
	default:
		return nil
	}
}

// Close leaves the channel and closes the socket. It waits for the
// delivery goroutine, so no handler call happens after it returns.
func (ch *Channel) Close() error {
	var err error
	ch.once.Do(func() {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = ch.send(leaveCtx, ch.topic, "phx_leave", struct{}{})
		cancel()

		ch.closing.Store(true)
		err = ch.conn.Close(websocket.StatusNormalClosure, "")
		ch.cancel()
		ch.wg.Wait()
		logger.Info("Realtime channel closed", logger.F("topic", ch.topic))
	})
	return err
}
