package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"actionforge.gg/internal/protocol"
)

const (
	writeTimeout = 5 * time.Second
	readTimeout  = 60 * time.Second
)

// Client is a websocket Publisher. Requests are correlated to RESULT frames
// by request id; a shared rate limiter paces all outbound calls under the
// platform ceiling.
type Client struct {
	url     string
	logger  *log.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan protocol.ResultMsg
	closed  bool
}

func NewClient(url string, ratePerSec float64, burst int, logger *log.Logger) *Client {
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		url:     url,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		pending: map[string]chan protocol.ResultMsg{},
	}
}

func (c *Client) Publish(ctx context.Context, locationID, channelRef string, p protocol.Payload) (string, error) {
	res, err := c.roundTrip(ctx, protocol.PublishMsg{
		Type:       protocol.TypePublish,
		LocationID: locationID,
		ChannelRef: channelRef,
		Payload:    p,
	})
	if err != nil {
		return "", err
	}
	return res.MessageRef, nil
}

func (c *Client) Update(ctx context.Context, ref string, p protocol.Payload) error {
	_, err := c.roundTrip(ctx, protocol.PublishMsg{
		Type:       protocol.TypeUpdate,
		MessageRef: ref,
		Payload:    p,
	})
	return err
}

func (c *Client) Delete(ctx context.Context, ref string) error {
	_, err := c.roundTrip(ctx, protocol.PublishMsg{
		Type:       protocol.TypeDelete,
		MessageRef: ref,
	})
	if err == ErrMissingRef {
		return nil
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, msg protocol.PublishMsg) (protocol.ResultMsg, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return protocol.ResultMsg{}, err
	}

	msg.ProtocolVersion = protocol.Version
	msg.ReqID = uuid.NewString()

	ch := make(chan protocol.ResultMsg, 1)
	if err := c.send(msg, ch); err != nil {
		return protocol.ResultMsg{}, err
	}
	defer c.forget(msg.ReqID)

	select {
	case <-ctx.Done():
		return protocol.ResultMsg{}, ctx.Err()
	case res := <-ch:
		if !res.OK {
			if res.Code == protocol.ErrMissingExternalRef {
				return res, ErrMissingRef
			}
			return res, fmt.Errorf("gateway %s: %s", res.Code, res.Message)
		}
		return res, nil
	}
}

func (c *Client) send(msg protocol.PublishMsg, ch chan protocol.ResultMsg) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("publisher closed")
	}
	if c.conn == nil {
		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			return fmt.Errorf("dial gateway: %w", err)
		}
		c.conn = conn
		go c.readLoop(conn)
	}
	c.pending[msg.ReqID] = ch

	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		c.dropConnLocked()
		return err
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.dropConnLocked()
			}
			c.mu.Unlock()
			return
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil || base.Type != protocol.TypeResult {
			continue
		}
		var res protocol.ResultMsg
		if err := json.Unmarshal(raw, &res); err != nil {
			continue
		}
		c.mu.Lock()
		ch := c.pending[res.ReqID]
		delete(c.pending, res.ReqID)
		c.mu.Unlock()
		if ch != nil {
			ch <- res
		}
	}
}

// dropConnLocked abandons the connection; in-flight requests time out via
// their caller contexts and the next send redials.
func (c *Client) dropConnLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) forget(reqID string) {
	c.mu.Lock()
	delete(c.pending, reqID)
	c.mu.Unlock()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}
