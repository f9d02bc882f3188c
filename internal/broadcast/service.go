// Package broadcast fans domain notifications out to topic subscribers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"marketIndexer/internal/metrics"
	"marketIndexer/internal/model"
	"marketIndexer/internal/storage"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrClosed            = errors.New("broadcast service closed")
)

// Sender is the outbound side of one connection. Send must not block; it
// reports false when the message was dropped.
type Sender interface {
	Send(msg ServerMessage) bool
	Close()
}

// SnapshotFunc loads the current state of a market for a new subscriber.
type SnapshotFunc func(ctx context.Context, marketID string) (interface{}, error)

type connection struct {
	id       string
	identity Identity
	sender   Sender
}

type Option func(*Service)

func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithSnapshots(fn SnapshotFunc) Option {
	return func(s *Service) { s.snapshot = fn }
}

// Service tracks connections and their topic subscriptions.
type Service struct {
	auth     *Authenticator
	snapshot SnapshotFunc
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu     sync.RWMutex
	conns  map[string]*connection
	closed bool
	index  *topicIndex

	// pubMu serialises publishes so per-topic delivery follows call order.
	pubMu sync.Mutex
}

func NewService(auth *Authenticator, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if auth == nil {
		auth = NewAuthenticator("")
	}
	s := &Service{
		auth:   auth,
		clock:  clockwork.NewRealClock(),
		logger: logger.Named("broadcast"),
		conns:  make(map[string]*connection),
		index:  newTopicIndex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authenticate resolves a bearer token without registering a connection.
func (s *Service) Authenticate(token string) (Identity, error) {
	return s.auth.Identify(token)
}

// Connect registers sender under a new connection id and greets it.
func (s *Service) Connect(token string, sender Sender) (string, Identity, error) {
	identity, err := s.auth.Identify(token)
	if err != nil {
		return "", Identity{}, err
	}

	id := uuid.NewString()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", Identity{}, ErrClosed
	}
	s.conns[id] = &connection{id: id, identity: identity, sender: sender}
	count := len(s.conns)
	s.mu.Unlock()

	s.metrics.SetConnections(count)
	s.logger.Debug("connected", zap.String("conn", id), zap.String("identity", identity.ID), zap.String("role", identity.Role))
	s.send(id, sender, ServerMessage{Type: MsgConnected, ConnectionID: id, Identity: &identity})
	return id, identity, nil
}

// Subscribe authorizes and joins topic. Market subscribers immediately get a
// snapshot of the market.
func (s *Service) Subscribe(ctx context.Context, connID, rawTopic string) error {
	conn, err := s.lookup(connID)
	if err != nil {
		return err
	}
	topic, err := model.ParseTopic(rawTopic)
	if err != nil {
		return err
	}
	if err := authorize(conn.identity, topic); err != nil {
		return err
	}

	name := topic.String()
	s.pubMu.Lock()
	// Disconnect clears the index under pubMu after dropping the connection,
	// so a connection still present here cannot leave entries behind.
	s.mu.RLock()
	_, live := s.conns[connID]
	s.mu.RUnlock()
	if !live {
		s.pubMu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	added := s.index.add(connID, name)
	s.pubMu.Unlock()
	if added {
		s.metrics.SetSubscriptions(s.index.size())
	}
	s.send(connID, conn.sender, ServerMessage{Type: MsgSubscribed, Topic: name})

	if topic.Kind == model.TopicMarket && s.snapshot != nil {
		snap, err := s.snapshot(ctx, topic.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			s.logger.Warn("load market snapshot", zap.String("market", topic.ID), zap.Error(err))
		default:
			s.send(connID, conn.sender, ServerMessage{Type: MsgSnapshot, Topic: name, Data: snap})
		}
	}
	return nil
}

func (s *Service) Unsubscribe(connID, rawTopic string) error {
	conn, err := s.lookup(connID)
	if err != nil {
		return err
	}
	topic, err := model.ParseTopic(rawTopic)
	if err != nil {
		return err
	}
	name := topic.String()
	if s.index.remove(connID, name) {
		s.metrics.SetSubscriptions(s.index.size())
	}
	s.send(connID, conn.sender, ServerMessage{Type: MsgUnsubscribed, Topic: name})
	return nil
}

// Publish delivers n to every current subscriber of its topic. Slow
// connections lose the message; nothing is retried.
func (s *Service) Publish(n model.DomainNotification) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	msg := ServerMessage{
		Type:      MsgNotification,
		Topic:     n.Topic,
		EventType: n.EventType,
		Data:      n.Payload,
		Timestamp: n.Timestamp,
	}
	for _, connID := range s.index.subscribers(n.Topic) {
		s.mu.RLock()
		conn, ok := s.conns[connID]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		s.send(connID, conn.sender, msg)
	}
	s.metrics.NotificationPublished(n.EventType)
}

// Disconnect removes the connection and all its subscriptions. Unknown ids
// are ignored.
func (s *Service) Disconnect(connID string) {
	s.mu.Lock()
	conn, ok := s.conns[connID]
	delete(s.conns, connID)
	count := len(s.conns)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.pubMu.Lock()
	topics := s.index.removeConn(connID)
	s.pubMu.Unlock()
	conn.sender.Close()

	s.metrics.SetConnections(count)
	s.metrics.SetSubscriptions(s.index.size())
	s.logger.Debug("disconnected", zap.String("conn", connID), zap.Int("topics", len(topics)))
}

// Close sends notice to every connection and disconnects them all. Later
// connects fail with ErrClosed.
func (s *Service) Close(notice string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]*connection, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		s.send(conn.id, conn.sender, ServerMessage{Type: MsgMaintenance, Message: notice})
		s.Disconnect(conn.id)
	}
	s.logger.Info("broadcast closed", zap.Int("connections", len(conns)))
}

func (s *Service) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

func (s *Service) SubscriptionCount() int {
	return s.index.size()
}

// Topics lists the topics conn is subscribed to.
func (s *Service) Topics(connID string) []string {
	return s.index.topicsOf(connID)
}

func (s *Service) lookup(connID string) (*connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[connID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}
	return conn, nil
}

func (s *Service) send(connID string, sender Sender, msg ServerMessage) {
	if msg.Timestamp == 0 {
		msg.Timestamp = s.clock.Now().UnixMilli()
	}
	if !sender.Send(msg) {
		s.metrics.DroppedSend()
		s.logger.Debug("dropped message", zap.String("conn", connID), zap.String("type", msg.Type))
	}
}

// authorize allows user topics only to their owner or a privileged identity.
func authorize(identity Identity, topic model.Topic) error {
	if topic.Kind != model.TopicUser || identity.Privileged() {
		return nil
	}
	if identity.Role == RoleGuest || !strings.EqualFold(identity.ID, topic.ID) {
		return fmt.Errorf("%w: %s", ErrForbidden, topic)
	}
	return nil
}
