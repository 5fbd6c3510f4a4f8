// Package pubsub maintains the pool of websocket connections Twitch's
// pub/sub edge uses to push drop, points and notification events in real
// time, and dispatches incoming messages to per-category handlers.
package pubsub

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"twitchdropsfarmer/internal/model"
)

const wsEndpoint = "wss://pubsub-edge.twitch.tv/v1"

// Handler receives a decoded pub/sub message payload for one topic
// category.
type Handler func(topic model.WebsocketTopic, messageType string, payload map[string]interface{})

// Pool spreads subscribed topics across connections, respecting
// MaxTopicsPerConnection, and opens additional connections up to
// MaxWebsockets as needed.
type Pool struct {
	authToken func() string
	handlers  map[model.TopicCategory]Handler

	mu          sync.Mutex
	connections []*connection
	closed      bool
}

// New returns an empty Pool. authToken is called fresh for every LISTEN
// so a token refresh mid-session is picked up automatically.
func New(authToken func() string) *Pool {
	return &Pool{authToken: authToken, handlers: make(map[model.TopicCategory]Handler)}
}

// OnCategory registers the handler invoked for every message belonging to
// topics of the given category.
func (p *Pool) OnCategory(category model.TopicCategory, h Handler) {
	p.handlers[category] = h
}

// AddTopics subscribes to the given topics, opening new connections as
// needed. It is a no-op for topics already subscribed.
func (p *Pool) AddTopics(ctx context.Context, topics ...model.WebsocketTopic) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range topics {
		if p.ownerLocked(t) != nil {
			continue
		}
		conn := p.connectionWithRoomLocked()
		if conn == nil {
			if len(p.connections) >= model.MaxWebsockets {
				return fmt.Errorf("pubsub: all %d connections full", model.MaxWebsockets)
			}
			conn = newConnection(p.authToken, p.dispatch)
			p.connections = append(p.connections, conn)
			conn.start(ctx)
		}
		conn.addTopic(t)
	}
	return nil
}

// RemoveTopics unsubscribes from the given topics, then compacts the
// connection pool.
func (p *Pool) RemoveTopics(topics ...model.WebsocketTopic) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range topics {
		if c := p.ownerLocked(t); c != nil {
			c.removeTopic(t)
		}
	}
	p.compactLocked()
}

// compactLocked stops the pool's last connection and redistributes its
// topics across the others whenever the remaining topics would still fit
// across one fewer connection — undoing the growth AddTopics does as
// topics are unsubscribed over a session's lifetime.
func (p *Pool) compactLocked() {
	n := len(p.connections)
	if n < 2 {
		return
	}
	total := 0
	for _, c := range p.connections {
		total += c.topicCount()
	}
	if total > (n-1)*model.MaxTopicsPerConnection {
		return
	}

	last := p.connections[n-1]
	spill := last.desiredTopics()
	last.stop()
	p.connections = p.connections[:n-1]

	for _, t := range spill {
		conn := p.connectionWithRoomLocked()
		if conn == nil {
			logrus.WithField("topic", t.String()).Warn("pubsub: compaction found no room for a spilled topic")
			continue
		}
		conn.addTopic(t)
	}
}

func (p *Pool) ownerLocked(t model.WebsocketTopic) *connection {
	for _, c := range p.connections {
		if c.hasTopic(t) {
			return c
		}
	}
	return nil
}

func (p *Pool) connectionWithRoomLocked() *connection {
	for _, c := range p.connections {
		if c.topicCount() < model.MaxTopicsPerConnection {
			return c
		}
	}
	return nil
}

// Stop closes every connection in the pool.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, c := range p.connections {
		c.stop()
	}
}

func (p *Pool) dispatch(topic model.WebsocketTopic, messageType string, payload map[string]interface{}) {
	h, ok := p.handlers[topic.Category]
	if !ok {
		logrus.WithField("topic", topic.String()).Debug("pubsub: no handler for category")
		return
	}
	h(topic, messageType, payload)
}

func randomNonce(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		for i := range b {
			b[i] = alphabet[i%len(alphabet)]
		}
		return string(b)
	}
	for i, v := range buf {
		b[i] = alphabet[int(v)%len(alphabet)]
	}
	return string(b)
}

// envelope is the generic pub/sub wire frame.
type envelope struct {
	Type  string          `json:"type"`
	Nonce string          `json:"nonce,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type listenData struct {
	Topics    []string `json:"topics"`
	AuthToken string   `json:"auth_token,omitempty"`
}

type messageData struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

type innerMessage struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}
