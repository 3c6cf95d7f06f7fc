// Package mqtt is the broker session used by the command channel, the
// status publisher and the log mirror.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/mklimuk/fanmon"
)

const (
	connectTimeout   = 5 * time.Second
	subscribeTimeout = 15 * time.Second
	publishTimeout   = 4 * time.Second
	keepAlive        = 20
	sessionExpiry    = 60
)

// Handler receives inbound messages on the client goroutine.
type Handler func(topic string, payload []byte)

type Options struct {
	Server   string
	Port     int
	ClientID string
	Topics   []string
	Handler  Handler
	Logger   *slog.Logger
}

// Client keeps a broker session alive and reconnects on its own.
type Client struct {
	config    autopaho.ClientConfig
	conn      *autopaho.ConnectionManager
	log       *slog.Logger
	topics    []string
	handler   Handler
	connected atomic.Bool
	mx        sync.Mutex
}

// ClientID derives a unique client id from the device name.
func ClientID(device string) string {
	return device + "-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// BrokerURL builds the broker url. A server given with a scheme is used as is.
func BrokerURL(server string, port int) (*url.URL, error) {
	if !strings.Contains(server, "://") {
		server = "mqtt://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("invalid broker address %q: %w", server, fanmon.ErrInvalidValue)
	}
	if u.Port() == "" && port > 0 {
		u.Host = u.Hostname() + ":" + strconv.Itoa(port)
	}
	return u, nil
}

func New(o Options) (*Client, error) {
	addr, err := BrokerURL(o.Server, o.Port)
	if err != nil {
		return nil, err
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ClientID == "" {
		o.ClientID = ClientID("fanmon")
	}
	c := &Client{
		log:     o.Logger.With("component", "mqtt"),
		topics:  o.Topics,
		handler: o.Handler,
	}
	c.config = autopaho.ClientConfig{
		ServerUrls:            []*url.URL{addr},
		KeepAlive:             keepAlive,
		SessionExpiryInterval: sessionExpiry,
		OnConnectionUp:        c.onConnUp,
		OnConnectError:        c.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           o.ClientID,
			OnClientError:      c.onConnError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){c.onPublishReceived},
		},
	}
	return c, nil
}

func (c *Client) onConnUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	c.log.Info("connected to broker")
	if len(c.topics) == 0 {
		return
	}
	subs := make([]paho.SubscribeOptions, 0, len(c.topics))
	for _, topic := range c.topics {
		subs = append(subs, paho.SubscribeOptions{Topic: topic, QoS: 1})
	}
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		c.log.Error("could not subscribe", "topics", c.topics, "error", err)
		return
	}
	c.log.Debug("subscribed", "topics", c.topics)
}

func (c *Client) onConnError(err error) {
	c.connected.Store(false)
	c.log.Debug("broker connection error", "error", err)
}

func (c *Client) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	c.log.Info("disconnected by broker", "reason", d.ReasonCode)
}

func (c *Client) onPublishReceived(pr paho.PublishReceived) (bool, error) {
	if c.handler != nil {
		c.handler(pr.Packet.Topic, pr.Packet.Payload)
	}
	return true, nil
}

// Connect starts the session and waits for the first connection. The
// manager keeps retrying in the background when the wait times out.
func (c *Client) Connect(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	cm, err := autopaho.NewConnection(ctx, c.config)
	if err != nil {
		return fmt.Errorf("%w: %w", fanmon.ErrConnectionFailed, err)
	}
	c.conn = cm
	wctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := cm.AwaitConnection(wctx); err != nil {
		return fmt.Errorf("%w: %w", fanmon.ErrConnectionFailed, err)
	}
	return nil
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Publish sends payload with QoS 1. It fails fast while disconnected.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mx.Lock()
	cm := c.conn
	c.mx.Unlock()
	if cm == nil || !c.connected.Load() {
		return fmt.Errorf("publish to %s: %w", topic, fanmon.ErrConnectionFailed)
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := cm.Publish(ctx, &paho.Publish{Topic: topic, QoS: 1, Payload: payload}); err != nil {
		return fmt.Errorf("publish to %s: %w: %w", topic, fanmon.ErrRequestFailed, err)
	}
	return nil
}

func (c *Client) Close(ctx context.Context) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.conn == nil {
		return nil
	}
	c.connected.Store(false)
	return c.conn.Disconnect(ctx)
}
