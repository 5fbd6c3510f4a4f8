package pubsub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"twitchdropsfarmer/internal/backoff"
	"twitchdropsfarmer/internal/model"
)

// connection owns one websocket to the pub/sub edge and the topics
// currently LISTENed on it.
type connection struct {
	authToken func() string
	dispatch  func(model.WebsocketTopic, string, map[string]interface{})

	mu     sync.Mutex
	topics map[string]model.WebsocketTopic

	submitted map[string]bool // topics LISTENed on the current socket (sent; replies are not checked)

	stopCh chan struct{}
	doneCh chan struct{}
}

func newConnection(authToken func() string, dispatch func(model.WebsocketTopic, string, map[string]interface{})) *connection {
	return &connection{
		authToken: authToken,
		dispatch:  dispatch,
		topics:    make(map[string]model.WebsocketTopic),
		submitted: make(map[string]bool),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (c *connection) addTopic(t model.WebsocketTopic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[t.String()] = t
}

func (c *connection) removeTopic(t model.WebsocketTopic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, t.String())
}

func (c *connection) hasTopic(t model.WebsocketTopic) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.topics[t.String()]
	return ok
}

func (c *connection) topicCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.topics)
}

func (c *connection) desiredLocked() map[string]model.WebsocketTopic {
	cp := make(map[string]model.WebsocketTopic, len(c.topics))
	for k, v := range c.topics {
		cp[k] = v
	}
	return cp
}

// desiredTopics returns every topic currently tracked on this connection,
// used by the pool's compaction pass to redistribute them elsewhere before
// the connection is stopped.
func (c *connection) desiredTopics() []model.WebsocketTopic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.WebsocketTopic, 0, len(c.topics))
	for _, t := range c.topics {
		out = append(out, t)
	}
	return out
}

func (c *connection) stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *connection) start(ctx context.Context) {
	go c.run(ctx)
}

// run cycles connect -> ping/topic-diff/receive -> reconnect until
// stopped, with exponential backoff between reconnect attempts.
func (c *connection) run(ctx context.Context) {
	defer close(c.doneCh)
	b := backoff.New(model.BackoffInitial, model.BackoffMax)

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsEndpoint, nil)
		if err != nil {
			logrus.WithError(err).Warn("pubsub: dial failed, backing off")
			if !sleepOrStop(c.stopCh, ctx, b.Next()) {
				return
			}
			continue
		}
		b.Reset()

		closedByServer, err := c.handle(ctx, ws)
		ws.Close()
		if err != nil {
			logrus.WithError(err).Debug("pubsub: connection ended")
		}
		if !closedByServer {
			// local stop or context cancel
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
		}
		if !sleepOrStop(c.stopCh, ctx, b.Next()) {
			return
		}
	}
}

func sleepOrStop(stopCh chan struct{}, ctx context.Context, d time.Duration) bool {
	select {
	case <-stopCh:
		return false
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// handle runs one connection's full lifecycle: submits the current topic
// set, then alternates between pinging on schedule and reading incoming
// frames until the connection closes.
func (c *connection) handle(ctx context.Context, ws *websocket.Conn) (closedByServer bool, err error) {
	recvCh := make(chan []byte, 16)
	recvErrCh := make(chan error, 1)
	go func() {
		for {
			_, msg, err := ws.ReadMessage()
			if err != nil {
				recvErrCh <- err
				return
			}
			recvCh <- msg
		}
	}()

	pingTicker := time.NewTicker(model.PingInterval)
	defer pingTicker.Stop()
	topicTicker := time.NewTicker(time.Second)
	defer topicTicker.Stop()

	lastPong := time.Now()

	c.submitted = make(map[string]bool)
	if err := c.syncTopics(ws); err != nil {
		return false, err
	}

	for {
		select {
		case <-c.stopCh:
			c.sendClose(ws)
			return false, nil
		case <-ctx.Done():
			c.sendClose(ws)
			return false, ctx.Err()

		case <-pingTicker.C:
			if time.Since(lastPong) > model.PingInterval+model.PongTimeout {
				return false, &model.WebsocketClosedError{Received: false}
			}
			if err := ws.WriteJSON(envelope{Type: "PING"}); err != nil {
				return false, err
			}

		case <-topicTicker.C:
			if err := c.syncTopics(ws); err != nil {
				return false, err
			}

		case err := <-recvErrCh:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, &model.WebsocketClosedError{Received: true}
			}
			return false, err

		case raw := <-recvCh:
			var env envelope
			if jsonErr := json.Unmarshal(raw, &env); jsonErr != nil {
				continue
			}
			switch env.Type {
			case "PONG":
				lastPong = time.Now()
			case "RECONNECT":
				return true, &model.WebsocketClosedError{Received: true}
			case "MESSAGE":
				var md messageData
				if jsonErr := json.Unmarshal(env.Data, &md); jsonErr != nil {
					continue
				}
				// Dispatched as a detached task so a slow or blocking
				// handler can never stall this connection's receive loop
				// (and therefore its PING/PONG liveness checks).
				go c.deliver(md)
			}
		}
	}
}

func (c *connection) deliver(md messageData) {
	topic, ok := model.ParseTopic(md.Topic)
	if !ok {
		return
	}
	var inner innerMessage
	if err := json.Unmarshal([]byte(md.Message), &inner); err != nil {
		return
	}
	c.dispatch(topic, inner.Type, inner.Data)
}

func (c *connection) sendClose(ws *websocket.Conn) {
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// syncTopics diffs the desired topic set against what was last submitted
// on the wire, sending UNLISTEN for removed topics before LISTEN for
// added ones.
func (c *connection) syncTopics(ws *websocket.Conn) error {
	c.mu.Lock()
	desired := c.desiredLocked()
	c.mu.Unlock()

	var removed, added []string
	for k := range c.submitted {
		if _, ok := desired[k]; !ok {
			removed = append(removed, k)
		}
	}
	for k := range desired {
		if !c.submitted[k] {
			added = append(added, k)
		}
	}
	if len(removed) == 0 && len(added) == 0 {
		return nil
	}

	token := c.authToken()
	if len(removed) > 0 {
		if err := c.sendTopics(ws, "UNLISTEN", removed, token); err != nil {
			return err
		}
		for _, k := range removed {
			delete(c.submitted, k)
		}
	}
	if len(added) > 0 {
		if err := c.sendTopics(ws, "LISTEN", added, token); err != nil {
			return err
		}
		for _, k := range added {
			c.submitted[k] = true
		}
	}
	return nil
}

func (c *connection) sendTopics(ws *websocket.Conn, typ string, topics []string, token string) error {
	return ws.WriteJSON(envelope{
		Type:  typ,
		Nonce: randomNonce(16),
		Data:  mustMarshal(listenData{Topics: topics, AuthToken: token}),
	})
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return b
}
