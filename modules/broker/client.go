// Package broker provides a reconnecting MQTT v5 client wrapped in a dskit
// service. Subscriptions are re-established after every reconnect and
// publishes are decoupled from the network through a bounded queue so callers
// never block on broker I/O.
package broker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/grafana/dskit/backoff"
	"github.com/grafana/dskit/services"
)

var (
	// ErrNotConnected is returned by Publish when there is no broker session.
	ErrNotConnected = errors.New("broker not connected")
	// ErrPublishQueueFull is returned by Publish when the outbound queue is
	// at capacity.
	ErrPublishQueueFull = errors.New("publish queue full")
)

// MessageHandler is invoked for every message received on a subscribed
// topic. userProps is nil when the message carries no user properties.
type MessageHandler func(topic string, payload []byte, userProps map[string]string)

// pahoSession is the slice of paho.Client the publish paths need.
type pahoSession interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Client maintains one MQTT session at a time, reconnecting with exponential
// backoff whenever the session drops.
type Client struct {
	services.Service

	cfg    Config
	logger log.Logger

	onMessage MessageHandler
	subs      []string

	tlsCfg *tls.Config

	pubCh      chan *paho.Publish
	connected  atomic.Bool
	subscribed atomic.Bool

	mtx  sync.Mutex
	sess pahoSession

	wg sync.WaitGroup
}

func New(cfg Config, logger log.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		logger: log.With(logger, "component", "broker"),
		pubCh:  make(chan *paho.Publish, cfg.PublishQueueSize),
	}
	c.Service = services.NewBasicService(c.starting, c.running, c.stopping)
	return c
}

// SetOnMessage registers the inbound message handler. Must be called before
// the service is started.
func (c *Client) SetOnMessage(h MessageHandler) {
	c.onMessage = h
}

// AddSubscription registers a topic filter subscribed on every (re)connect.
// Must be called before the service is started.
func (c *Client) AddSubscription(topic string) {
	c.subs = append(c.subs, topic)
}

func (c *Client) starting(context.Context) error {
	if !c.cfg.Insecure {
		tlsCfg, err := c.cfg.TLS.Build()
		if err != nil {
			return fmt.Errorf("invalid broker TLS config: %w", err)
		}
		c.tlsCfg = tlsCfg
	}
	return nil
}

func (c *Client) running(ctx context.Context) error {
	c.wg.Add(1)
	go c.publishPump(ctx)

	first := true
	bo := backoff.New(ctx, backoff.Config{
		MinBackoff: c.cfg.ReconnectMinDelay,
		MaxBackoff: c.cfg.ReconnectMaxDelay,
		MaxRetries: 0,
	})
	for bo.Ongoing() {
		if !first {
			metricReconnects.Inc()
		}
		first = false

		established, err := c.runSession(ctx)
		if ctx.Err() != nil {
			break
		}
		if established {
			bo.Reset()
		}
		level.Warn(c.logger).Log("msg", "broker session ended, reconnecting", "err", err, "wait", bo.NextDelay())
		bo.Wait()
	}

	c.wg.Wait()
	return nil
}

func (c *Client) stopping(_ error) error {
	if n := len(c.pubCh); n > 0 {
		level.Warn(c.logger).Log("msg", "publishes not flushed within drain timeout", "count", n)
	}
	level.Info(c.logger).Log("msg", "broker client stopped")
	return nil
}

// runSession dials, connects and subscribes, then blocks until the session
// drops or ctx is canceled. It reports whether a session was established so
// the caller can reset its backoff.
func (c *Client) runSession(ctx context.Context) (bool, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	errCh := make(chan error, 2)
	sess := paho.NewClient(paho.ClientConfig{
		Conn: conn,
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				c.handlePublish(pr.Packet)
				return true, nil
			},
		},
		OnClientError: func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			select {
			case errCh <- fmt.Errorf("server disconnect, reason code %d", d.ReasonCode):
			default:
			}
		},
	})

	connectCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	_, err = sess.Connect(connectCtx, &paho.Connect{
		ClientID:   c.cfg.ClientID,
		KeepAlive:  uint16(c.cfg.KeepAlive.Seconds()),
		CleanStart: true,
	})
	cancel()
	if err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("connect: %w", err)
	}

	c.mtx.Lock()
	c.sess = sess
	c.mtx.Unlock()
	c.connected.Store(true)
	metricConnected.Set(1)
	defer func() {
		c.connected.Store(false)
		c.subscribed.Store(false)
		metricConnected.Set(0)
		c.mtx.Lock()
		c.sess = nil
		c.mtx.Unlock()
	}()

	if err := c.subscribeAll(ctx, sess); err != nil {
		_ = sess.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return true, fmt.Errorf("subscribe: %w", err)
	}
	c.subscribed.Store(true)
	level.Info(c.logger).Log("msg", "connected to broker", "host", c.cfg.Host, "port", c.cfg.Port, "client_id", c.cfg.ClientID, "topics", len(c.subs))

	select {
	case <-ctx.Done():
		// flush whatever the workers enqueued during the final tick before
		// the session closes
		c.drainPending(sess)
		_ = sess.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return true, nil
	case err := <-errCh:
		return true, err
	}
}

// drainPending publishes everything still sitting in the queue when shutdown
// begins, bounded by the drain timeout. Anything left after the deadline is
// reported by stopping.
func (c *Client) drainPending(sess pahoSession) {
	deadline := time.Now().Add(c.cfg.DrainTimeout)
	for {
		select {
		case p := <-c.pubCh:
			pubCtx, cancel := context.WithDeadline(context.Background(), deadline)
			_, err := sess.Publish(pubCtx, p)
			cancel()
			if err != nil {
				metricPublishFailures.Inc()
				level.Warn(c.logger).Log("msg", "failed to flush publish during drain", "topic", p.Topic, "err", err)
				return
			}
			metricMessagesPublished.Inc()
		default:
			return
		}
		if time.Now().After(deadline) {
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}
	if c.cfg.Insecure {
		return dialer.DialContext(ctx, "tcp", addr)
	}
	tlsDialer := &tls.Dialer{NetDialer: dialer, Config: c.tlsCfg}
	return tlsDialer.DialContext(ctx, "tcp", addr)
}

func (c *Client) subscribeAll(ctx context.Context, sess *paho.Client) error {
	if len(c.subs) == 0 {
		return nil
	}
	opts := make([]paho.SubscribeOptions, 0, len(c.subs))
	for _, topic := range c.subs {
		opts = append(opts, paho.SubscribeOptions{Topic: topic, QoS: 1})
	}
	subCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	_, err := sess.Subscribe(subCtx, &paho.Subscribe{Subscriptions: opts})
	return err
}

func (c *Client) handlePublish(p *paho.Publish) {
	metricMessagesReceived.Inc()
	if c.onMessage == nil {
		return
	}
	var props map[string]string
	if p.Properties != nil && len(p.Properties.User) > 0 {
		props = make(map[string]string, len(p.Properties.User))
		for _, u := range p.Properties.User {
			props[u.Key] = u.Value
		}
	}
	c.onMessage(p.Topic, p.Payload, props)
}

// Publish enqueues one QoS 1 message. It fails fast with ErrNotConnected or
// ErrPublishQueueFull instead of blocking; failures after the message was
// accepted are logged and counted but not reported back.
func (c *Client) Publish(topic string, payload []byte, userProps map[string]string) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	p := &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	}
	if len(userProps) > 0 {
		props := &paho.PublishProperties{}
		for k, v := range userProps {
			props.User = append(props.User, paho.UserProperty{Key: k, Value: v})
		}
		p.Properties = props
	}

	select {
	case c.pubCh <- p:
		return nil
	default:
		return ErrPublishQueueFull
	}
}

func (c *Client) publishPump(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-c.pubCh:
			sess := c.currentSession()
			if sess == nil {
				metricPublishFailures.Inc()
				level.Warn(c.logger).Log("msg", "dropping queued publish, session lost", "topic", p.Topic)
				continue
			}
			// not derived from the run context: a publish picked up right as
			// shutdown starts should still complete
			pubCtx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
			_, err := sess.Publish(pubCtx, p)
			cancel()
			if err != nil {
				metricPublishFailures.Inc()
				level.Warn(c.logger).Log("msg", "publish failed", "topic", p.Topic, "err", err)
				continue
			}
			metricMessagesPublished.Inc()
		}
	}
}

func (c *Client) currentSession() pahoSession {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.sess
}

// IsConnected reports whether a broker session is currently established.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// IsSubscribed reports whether all topic filters are active on the current
// session.
func (c *Client) IsSubscribed() bool {
	return c.subscribed.Load()
}

// CheckReady returns an error when the client cannot serve traffic.
func (c *Client) CheckReady() error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	if !c.subscribed.Load() {
		return errors.New("broker subscriptions not established")
	}
	return nil
}
