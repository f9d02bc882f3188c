package broadcast

import (
	"sort"
	"sync"
)

// topicIndex maps topics to connections and connections to topics. Both
// directions change under one lock.
type topicIndex struct {
	mu      sync.RWMutex
	byTopic map[string]map[string]struct{}
	byConn  map[string]map[string]struct{}
	total   int
}

func newTopicIndex() *topicIndex {
	return &topicIndex{
		byTopic: make(map[string]map[string]struct{}),
		byConn:  make(map[string]map[string]struct{}),
	}
}

// add subscribes conn to topic. It reports false when already subscribed.
func (x *topicIndex) add(conn, topic string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.byConn[conn][topic]; ok {
		return false
	}
	if x.byTopic[topic] == nil {
		x.byTopic[topic] = make(map[string]struct{})
	}
	if x.byConn[conn] == nil {
		x.byConn[conn] = make(map[string]struct{})
	}
	x.byTopic[topic][conn] = struct{}{}
	x.byConn[conn][topic] = struct{}{}
	x.total++
	return true
}

func (x *topicIndex) remove(conn, topic string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.byConn[conn][topic]; !ok {
		return false
	}
	x.unlinkLocked(conn, topic)
	return true
}

// removeConn drops every subscription of conn and returns the topics it held.
func (x *topicIndex) removeConn(conn string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	topics := keys(x.byConn[conn])
	for _, topic := range topics {
		x.unlinkLocked(conn, topic)
	}
	delete(x.byConn, conn)
	return topics
}

func (x *topicIndex) unlinkLocked(conn, topic string) {
	delete(x.byTopic[topic], conn)
	if len(x.byTopic[topic]) == 0 {
		delete(x.byTopic, topic)
	}
	delete(x.byConn[conn], topic)
	if len(x.byConn[conn]) == 0 {
		delete(x.byConn, conn)
	}
	x.total--
}

func (x *topicIndex) subscribers(topic string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return keys(x.byTopic[topic])
}

func (x *topicIndex) topicsOf(conn string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return keys(x.byConn[conn])
}

// size is the number of (connection, topic) pairs.
func (x *topicIndex) size() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.total
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
