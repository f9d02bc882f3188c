package broadcast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketIndexer/internal/metrics"
	"marketIndexer/internal/model"
	"marketIndexer/internal/storage"
)

const testSecret = "test-secret"

type fakeSender struct {
	mu       sync.Mutex
	capacity int
	msgs     []ServerMessage
	closed   bool
}

func (f *fakeSender) Send(msg ServerMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || (f.capacity > 0 && len(f.msgs) >= f.capacity) {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeSender) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSender) messages(kind string) []ServerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ServerMessage
	for _, msg := range f.msgs {
		if kind == "" || msg.Type == kind {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func signToken(t *testing.T, secret, subject, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: subject, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newTestService(opts ...Option) *Service {
	opts = append([]Option{WithClock(clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000)))}, opts...)
	return NewService(NewAuthenticator(testSecret), nil, opts...)
}

func notification(topic string, block uint64) model.DomainNotification {
	return model.DomainNotification{
		Topic:     topic,
		EventType: "trade:shares_bought",
		Payload:   model.EventBody{EventID: "0xabc:0", BlockNumber: block},
		Timestamp: int64(block),
	}
}

func TestGuestConnect(t *testing.T) {
	svc := newTestService()
	sender := &fakeSender{}
	id, identity, err := svc.Connect("", sender)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, RoleGuest, identity.Role)
	assert.Regexp(t, `^guest-[0-9a-f-]{36}$`, identity.ID)
	assert.Equal(t, 1, svc.ConnectionCount())

	greeting := sender.messages(MsgConnected)
	require.Len(t, greeting, 1)
	assert.Equal(t, id, greeting[0].ConnectionID)
	assert.Equal(t, int64(1_700_000_000_000), greeting[0].Timestamp)
}

func TestConnectRejectsInvalidToken(t *testing.T) {
	svc := newTestService()
	_, _, err := svc.Connect("not-a-jwt", &fakeSender{})
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = svc.Connect(signToken(t, "other-secret", "0xabc", RoleUser), &fakeSender{})
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, 0, svc.ConnectionCount())
}

func TestTokenIdentity(t *testing.T) {
	svc := newTestService()
	_, identity, err := svc.Connect(signToken(t, testSecret, "0xABCdef", ""), &fakeSender{})
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "0xabcdef", Role: RoleUser}, identity)
}

func TestUserTopicAuthorization(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	guest, _, err := svc.Connect("", &fakeSender{})
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Subscribe(ctx, guest, "user:0xabc"), ErrForbidden)

	owner, _, err := svc.Connect(signToken(t, testSecret, "0xABC", RoleUser), &fakeSender{})
	require.NoError(t, err)
	assert.NoError(t, svc.Subscribe(ctx, owner, "user:0xabc"))
	assert.ErrorIs(t, svc.Subscribe(ctx, owner, "user:0xdef"), ErrForbidden)

	admin, _, err := svc.Connect(signToken(t, testSecret, "ops", RoleAdmin), &fakeSender{})
	require.NoError(t, err)
	assert.NoError(t, svc.Subscribe(ctx, admin, "user:0xdef"))

	assert.ErrorIs(t, svc.Subscribe(ctx, guest, "bogus"), model.ErrInvalidTopic)
	assert.ErrorIs(t, svc.Subscribe(ctx, "missing", "global"), ErrUnknownConnection)
}

func TestTopicIsolation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	a, b := &fakeSender{}, &fakeSender{}
	connA, _, _ := svc.Connect("", a)
	connB, _, _ := svc.Connect("", b)
	require.NoError(t, svc.Subscribe(ctx, connA, "market:A"))
	require.NoError(t, svc.Subscribe(ctx, connB, "market:B"))

	svc.Publish(notification("market:B", 1))
	svc.Publish(notification("market:A", 2))

	gotA := a.messages(MsgNotification)
	require.Len(t, gotA, 1)
	assert.Equal(t, "market:A", gotA[0].Topic)
	gotB := b.messages(MsgNotification)
	require.Len(t, gotB, 1)
	assert.Equal(t, "market:B", gotB[0].Topic)
}

func TestPublishPreservesOrder(t *testing.T) {
	svc := newTestService()
	sender := &fakeSender{}
	conn, _, _ := svc.Connect("", sender)
	require.NoError(t, svc.Subscribe(context.Background(), conn, "global"))

	for block := uint64(1); block <= 20; block++ {
		svc.Publish(notification("global", block))
	}
	got := sender.messages(MsgNotification)
	require.Len(t, got, 20)
	for i, msg := range got {
		assert.Equal(t, int64(i+1), msg.Timestamp)
	}
}

func TestSlowConnectionDoesNotBlockOthers(t *testing.T) {
	m := metrics.New()
	svc := newTestService(WithMetrics(m))
	ctx := context.Background()
	slow := &fakeSender{capacity: 2}
	fast := &fakeSender{}
	slowID, _, _ := svc.Connect("", slow)
	fastID, _, _ := svc.Connect("", fast)
	require.NoError(t, svc.Subscribe(ctx, slowID, "global"))
	require.NoError(t, svc.Subscribe(ctx, fastID, "global"))

	for block := uint64(1); block <= 5; block++ {
		svc.Publish(notification("global", block))
	}
	assert.Len(t, fast.messages(MsgNotification), 5)
	assert.Empty(t, slow.messages(MsgNotification))

	expected := `
# HELP market_indexer_broadcast_dropped_sends_total Messages dropped because a connection buffer was full
# TYPE market_indexer_broadcast_dropped_sends_total counter
market_indexer_broadcast_dropped_sends_total 5
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "market_indexer_broadcast_dropped_sends_total"))
}

func TestMarketSubscribeSendsSnapshot(t *testing.T) {
	snapshots := map[string]interface{}{"7": map[string]string{"yes_price": "600000000000000000"}}
	svc := newTestService(WithSnapshots(func(_ context.Context, id string) (interface{}, error) {
		if id == "broken" {
			return nil, errors.New("db down")
		}
		snap, ok := snapshots[id]
		if !ok {
			return nil, storage.ErrNotFound
		}
		return snap, nil
	}))
	ctx := context.Background()
	sender := &fakeSender{}
	conn, _, _ := svc.Connect("", sender)

	require.NoError(t, svc.Subscribe(ctx, conn, "market:7"))
	require.NoError(t, svc.Subscribe(ctx, conn, "market:8"))
	require.NoError(t, svc.Subscribe(ctx, conn, "market:broken"))

	types := make([]string, 0)
	for _, msg := range sender.messages("") {
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{MsgConnected, MsgSubscribed, MsgSnapshot, MsgSubscribed, MsgSubscribed}, types)
	snap := sender.messages(MsgSnapshot)[0]
	assert.Equal(t, "market:7", snap.Topic)
	assert.Equal(t, snapshots["7"], snap.Data)
}

func TestUnsubscribeAndDisconnect(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	sender := &fakeSender{}
	conn, _, _ := svc.Connect("", sender)
	require.NoError(t, svc.Subscribe(ctx, conn, "market:1"))
	require.NoError(t, svc.Subscribe(ctx, conn, "global"))
	assert.Equal(t, []string{"global", "market:1"}, svc.Topics(conn))

	require.NoError(t, svc.Unsubscribe(conn, "market:1"))
	svc.Publish(notification("market:1", 1))
	assert.Empty(t, sender.messages(MsgNotification))
	assert.Equal(t, 1, svc.SubscriptionCount())

	svc.Disconnect(conn)
	svc.Disconnect(conn)
	assert.True(t, sender.isClosed())
	assert.Equal(t, 0, svc.ConnectionCount())
	assert.Equal(t, 0, svc.SubscriptionCount())
	assert.Empty(t, svc.Topics(conn))
	assert.ErrorIs(t, svc.Unsubscribe(conn, "global"), ErrUnknownConnection)
}

func TestSubscribeRacingDisconnectLeavesNoEntries(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		conn, _, err := svc.Connect("", &fakeSender{})
		require.NoError(t, err)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for _, topic := range []string{"global", "market:1", "market:2", "market:3"} {
				err := svc.Subscribe(ctx, conn, topic)
				if err != nil {
					assert.ErrorIs(t, err, ErrUnknownConnection)
				}
			}
		}()
		go func() {
			defer wg.Done()
			svc.Disconnect(conn)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, svc.ConnectionCount())
	assert.Equal(t, 0, svc.SubscriptionCount())
}

func TestCloseSendsMaintenanceNotice(t *testing.T) {
	svc := newTestService()
	a, b := &fakeSender{}, &fakeSender{}
	svc.Connect("", a)
	svc.Connect("", b)

	svc.Close("shutting down")
	for _, sender := range []*fakeSender{a, b} {
		notices := sender.messages(MsgMaintenance)
		require.Len(t, notices, 1)
		assert.Equal(t, "shutting down", notices[0].Message)
		assert.True(t, sender.isClosed())
	}
	assert.Equal(t, 0, svc.ConnectionCount())

	_, _, err := svc.Connect("", &fakeSender{})
	assert.ErrorIs(t, err, ErrClosed)
	svc.Close("again")
}

func TestTopicIndexKeepsBothDirections(t *testing.T) {
	x := newTopicIndex()
	assert.True(t, x.add("c1", "global"))
	assert.False(t, x.add("c1", "global"))
	assert.True(t, x.add("c1", "market:1"))
	assert.True(t, x.add("c2", "market:1"))
	assert.Equal(t, 3, x.size())

	assert.Equal(t, []string{"c1", "c2"}, x.subscribers("market:1"))
	assert.Equal(t, []string{"global", "market:1"}, x.topicsOf("c1"))

	assert.ElementsMatch(t, []string{"global", "market:1"}, x.removeConn("c1"))
	assert.Equal(t, []string{"c2"}, x.subscribers("market:1"))
	assert.Empty(t, x.subscribers("global"))
	assert.False(t, x.remove("c1", "market:1"))
	assert.True(t, x.remove("c2", "market:1"))
	assert.Equal(t, 0, x.size())
	assert.Empty(t, x.byTopic)
	assert.Empty(t, x.byConn)
}

func TestRequireRole(t *testing.T) {
	auth := NewAuthenticator(testSecret)
	_, err := auth.Require("", RoleAdmin)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = auth.Require(signToken(t, testSecret, "0xabc", RoleUser), RoleAdmin)
	assert.ErrorIs(t, err, ErrForbidden)
	id, err := auth.Require(signToken(t, testSecret, "ops", RoleAdmin), RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, "ops", id.ID)

	_, err = NewAuthenticator("").Identify(signToken(t, testSecret, "ops", RoleAdmin))
	assert.ErrorIs(t, err, ErrInvalidToken)
}
