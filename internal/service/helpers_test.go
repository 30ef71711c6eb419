package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatmesh/gateway/internal/adapter/fake"
	"github.com/chatmesh/gateway/internal/domain"
	"github.com/chatmesh/gateway/internal/port"
	"github.com/chatmesh/gateway/internal/registry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// sentEvent is one outbound event captured by a testConn.
type sentEvent struct {
	Name    string
	Payload any
}

// testConn is an in-memory registry.Conn that records everything sent
// to it.
type testConn struct {
	id     uuid.UUID
	userID uuid.UUID

	mu        sync.Mutex
	connected bool
	events    []sentEvent
}

func newTestConn(userID uuid.UUID) *testConn {
	return &testConn{id: uuid.New(), userID: userID, connected: true}
}

func (c *testConn) ID() uuid.UUID     { return c.id }
func (c *testConn) UserID() uuid.UUID { return c.userID }
func (c *testConn) Send(event string, payload any, _ time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return false
	}
	c.events = append(c.events, sentEvent{Name: event, Payload: payload})
	return true
}
func (c *testConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}
func (c *testConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
func (c *testConn) Meta() registry.ConnMeta {
	return registry.ConnMeta{UserAgent: "test", IP: "127.0.0.1"}
}

func (c *testConn) captured() []sentEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentEvent, len(c.events))
	copy(out, c.events)
	return out
}

func (c *testConn) eventNames() []string {
	evs := c.captured()
	names := make([]string, len(evs))
	for i, e := range evs {
		names[i] = e.Name
	}
	return names
}

func (c *testConn) countEvent(name string) int {
	n := 0
	for _, e := range c.captured() {
		if e.Name == name {
			n++
		}
	}
	return n
}

// recordedPublish is one envelope captured by recordingBus.
type recordedPublish struct {
	Topic   string
	Kind    string
	Payload any
}

// busHandler matches port.PubSub's Subscribe callback signature.
type busHandler func(ctx context.Context, topic, origin, kind string, payload []byte)

// recordingBus is an in-memory port.PubSub that records publishes and
// retains subscription handlers so tests can inject remote-origin
// events.
type recordingBus struct {
	mu        sync.Mutex
	published []recordedPublish
	handlers  map[string][]busHandler
}

func newRecordingBus() *recordingBus {
	return &recordingBus{handlers: make(map[string][]busHandler)}
}

func (b *recordingBus) Publish(_ context.Context, topic, kind string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, recordedPublish{Topic: topic, Kind: kind, Payload: payload})
	return nil
}

func (b *recordingBus) Subscribe(_ context.Context, pattern string, handler func(ctx context.Context, topic, origin, kind string, payload []byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[pattern] = append(b.handlers[pattern], handler)
	return nil
}

// emitRemote delivers an envelope to every handler subscribed to topic,
// as if it arrived from another instance.
func (b *recordingBus) emitRemote(topic, origin, kind string, payload any) {
	raw, _ := json.Marshal(payload)
	b.mu.Lock()
	handlers := append([]busHandler(nil), b.handlers[topic]...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(context.Background(), topic, origin, kind, raw)
	}
}

func (b *recordingBus) publishedKinds() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	kinds := make([]string, len(b.published))
	for i, p := range b.published {
		kinds[i] = p.Kind
	}
	return kinds
}

// world assembles the full component graph over the fake adapters, one
// instance's worth, the way cmd/fx.go does in production.
type world struct {
	verifier *fake.AuthVerifier
	users    *fake.UserRepo
	roomRepo *fake.RoomRepo
	files    *fake.FileRepo
	msgs     *fake.MessageRepo
	cache    *fake.Cache
	clock    *fake.Frozen
	gen      *fake.AIGenerator

	conns      *registry.ConnRegistry
	membership *registry.MembershipRegistry
	streams    *registry.StreamRegistry
	inflight   *registry.InFlightRegistry
	limiter    *registry.RateLimiter

	bus      *recordingBus
	fanout   *Fanout
	relay    *Relay
	auth     *Authenticator
	receipts *Receipts
	history  *History
	rooms    *Rooms
	ai       *AIStream
	ingest   *Ingest
}

// fastHistoryConfig keeps retries far below test timeouts.
func fastHistoryConfig() HistoryConfig {
	cfg := DefaultHistoryConfig()
	cfg.RetryBase = 5 * time.Millisecond
	cfg.RetryCapWait = 20 * time.Millisecond
	cfg.FetchTimeout = 500 * time.Millisecond
	return cfg
}

func newWorld() *world {
	logger := testLogger()
	w := &world{
		verifier: fake.NewAuthVerifier(),
		users:    fake.NewUserRepo(),
		roomRepo: fake.NewRoomRepo(),
		files:    fake.NewFileRepo(),
		msgs:     fake.NewMessageRepo(),
		cache:    fake.NewCache(),
		clock:    fake.NewFrozen(time.Unix(1_700_000_000, 0)),
		gen:      fake.NewAIGenerator(),

		conns:      registry.NewConnRegistry(logger),
		membership: registry.NewMembershipRegistry(),
		streams:    registry.NewStreamRegistry(),
		inflight:   registry.NewInFlightRegistry(),

		bus: newRecordingBus(),
	}
	w.gen.ChunkDelay = time.Millisecond

	w.limiter = registry.NewRateLimiter(registry.DefaultRateLimiterConfig(), w.cache, w.clock, logger)
	w.fanout = NewFanout(w.conns, w.bus, logger)
	w.relay = NewRelay(w.bus, w.fanout, logger)
	w.auth = NewAuthenticator(w.verifier, w.users, w.cache, logger)
	w.receipts = NewReceipts(w.msgs, w.clock, w.fanout, logger)
	w.history = NewHistory(fastHistoryConfig(), w.roomRepo, w.users, w.msgs, w.cache, w.inflight, w.receipts, logger)
	w.rooms = NewRooms(w.roomRepo, w.users, w.msgs, w.clock, w.membership, w.conns, w.fanout, w.relay, w.history, logger)
	w.ai = NewAIStream(w.gen, w.msgs, w.clock, w.streams, w.fanout, logger)
	w.ingest = NewIngest(DefaultIngestConfig(), w.roomRepo, w.users, w.files, w.msgs, w.clock, w.limiter, w.fanout, w.ai, w.cache, logger)
	return w
}

// addUser registers a user record plus a live connection for it.
func (w *world) addUser(name string) (uuid.UUID, *testConn) {
	id := uuid.New()
	w.users.Put(&domain.User{ID: id, Name: name, Email: name + "@example.com"})
	conn := newTestConn(id)
	w.conns.Register(context.Background(), conn)
	return id, conn
}

// addRoom creates a room whose participant set already contains users
// (invitation is out-of-scope room CRUD; the core only checks it).
func (w *world) addRoom(name string, users ...uuid.UUID) uuid.UUID {
	id := uuid.New()
	w.roomRepo.Put(&domain.Room{
		ID:           id,
		Name:         name,
		CreatorID:    firstOr(users, uuid.Nil),
		Participants: append([]uuid.UUID(nil), users...),
		CreatedAt:    w.clock.Now().UnixMilli(),
	})
	return id
}

func firstOr(ids []uuid.UUID, fallback uuid.UUID) uuid.UUID {
	if len(ids) > 0 {
		return ids[0]
	}
	return fallback
}

// seedMessages persists n text messages in roomID with CreatedAt
// 1..n, returning them in timestamp order.
func (w *world) seedMessages(roomID, sender uuid.UUID, n int) []*domain.Message {
	out := make([]*domain.Message, 0, n)
	for i := 1; i <= n; i++ {
		m := &domain.Message{
			ID:        uuid.New(),
			RoomID:    roomID,
			SenderID:  sender,
			Content:   "m",
			Kind:      domain.KindText,
			CreatedAt: int64(i),
		}
		if err := w.msgs.Create(context.Background(), m); err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

func inFlightKeyForTest() registry.InFlightKey {
	return registry.InFlightKey{RoomID: uuid.New(), UserID: uuid.New()}
}

// newRateLimiterOverFailingCache builds a limiter whose cache always
// fails, so every count lands in the in-process fallback registry.
func newRateLimiterOverFailingCache(w *world, logger *slog.Logger) *registry.RateLimiter {
	return registry.NewRateLimiter(registry.DefaultRateLimiterConfig(), failingCache{}, w.clock, logger)
}

// failingCache implements port.Cache and fails every operation, for
// exercising the degrade paths.
type failingCache struct{}

func (failingCache) Get(context.Context, string) (string, bool, error) {
	return "", false, errCacheDown
}
func (failingCache) Set(context.Context, string, string, time.Duration) error { return errCacheDown }
func (failingCache) Delete(context.Context, string) error                     { return errCacheDown }
func (failingCache) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errCacheDown
}

var errCacheDown = port.New(port.KindInternal, "cache unavailable")

// failingMessageRepo wraps a MessageRepo and fails Find a configurable
// number of times before delegating.
type failingMessageRepo struct {
	port.MessageRepo
	mu        sync.Mutex
	failFinds int
	findCalls int
}

func (r *failingMessageRepo) Find(ctx context.Context, q port.MessageQuery) ([]*domain.Message, error) {
	r.mu.Lock()
	r.findCalls++
	fail := r.findCalls <= r.failFinds
	r.mu.Unlock()
	if fail {
		return nil, port.New(port.KindTimeout, "simulated find timeout")
	}
	return r.MessageRepo.Find(ctx, q)
}
