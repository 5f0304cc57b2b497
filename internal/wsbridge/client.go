package wsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/frametree"
)

// Client is the peer side of a Bridge. It is a frametree.Channel: Post
// sends through the bridge and envelopes received for any address are
// delivered to local listeners.
type Client struct {
	address   string
	conn      *websocket.Conn
	local     *frametree.Bus
	writeMu   sync.Mutex
	writeWait time.Duration
	logger    *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

type ClientOptions struct {
	// Header is sent with the handshake, typically for authorization.
	Header    http.Header
	WriteWait time.Duration
	Logger    *zap.Logger
}

// Dial connects to the bridge at wsURL under address.
func Dial(ctx context.Context, wsURL, address string, opts ClientOptions) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("wsbridge: parse url: %w", err)
	}
	q := u.Query()
	q.Set("address", address)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("wsbridge: dial %s: %s: %w", address, resp.Status, err)
		}
		return nil, fmt.Errorf("wsbridge: dial %s: %w", address, err)
	}
	if opts.WriteWait == 0 {
		opts.WriteWait = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		address:   address,
		conn:      conn,
		local:     frametree.NewBus(),
		writeWait: opts.WriteWait,
		logger:    opts.Logger,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go c.readLoop(readCtx)
	return c, nil
}

func (c *Client) Address() string {
	return c.address
}

func (c *Client) Listen(addr string) (<-chan string, func()) {
	return c.local.Listen(addr)
}

func (c *Client) Post(ctx context.Context, to, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{To: to, Data: msg})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop(ctx context.Context) {
	defer close(c.done)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("invalid envelope", zap.Error(err))
			continue
		}
		trace(c.logger, "from bridge", env.To, env.Data)
		if err := c.local.Post(ctx, env.To, env.Data); err != nil {
			c.logger.Debug("undeliverable envelope", zap.String("to", env.To), zap.Error(err))
		}
	}
}

// Close disconnects and waits for the read loop to exit.
func (c *Client) Close() error {
	c.cancel()
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.writeWait))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}
