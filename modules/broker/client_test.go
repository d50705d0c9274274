package broker

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := Config{}
	cfg.RegisterFlagsAndApplyDefaults("broker", flag.NewFlagSet("test", flag.PanicOnError))
	return cfg
}

func TestConfigDefaults(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 1883, cfg.Port)
	assert.Equal(t, time.Second, cfg.ReconnectMinDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Equal(t, 2*time.Second, cfg.DrainTimeout)
	assert.True(t, cfg.TLS.VerifyServer)
	assert.False(t, cfg.Insecure)
}

type fakeSession struct {
	mtx   sync.Mutex
	pubs  []*paho.Publish
	block time.Duration
}

func (f *fakeSession) Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	if f.block > 0 {
		select {
		case <-time.After(f.block):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.pubs = append(f.pubs, p)
	return nil, nil
}

func (f *fakeSession) published() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.pubs)
}

func TestDrainFlushesQueuedPublishes(t *testing.T) {
	c := New(testConfig(), log.NewNopLogger())
	c.connected.Store(true)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Publish("t", []byte(fmt.Sprintf("%d", i)), nil))
	}

	sess := &fakeSession{}
	c.drainPending(sess)

	assert.Equal(t, 3, sess.published())
	assert.Zero(t, len(c.pubCh))
}

func TestDrainGivesUpAtDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.DrainTimeout = 20 * time.Millisecond
	c := New(cfg, log.NewNopLogger())
	c.connected.Store(true)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Publish("t", []byte(fmt.Sprintf("%d", i)), nil))
	}

	sess := &fakeSession{block: time.Second}
	c.drainPending(sess)

	// the first publish hits the deadline, the rest stay queued
	assert.Zero(t, sess.published())
	assert.Equal(t, 2, len(c.pubCh))
}

func TestTLSConfigBuild(t *testing.T) {
	tlsCfg, err := (&TLSConfig{VerifyServer: true}).Build()
	require.NoError(t, err)
	assert.False(t, tlsCfg.InsecureSkipVerify)

	tlsCfg, err = (&TLSConfig{VerifyServer: false}).Build()
	require.NoError(t, err)
	assert.True(t, tlsCfg.InsecureSkipVerify)

	_, err = (&TLSConfig{CACertPath: "/does/not/exist.pem"}).Build()
	require.Error(t, err)
}

func TestPublishFailsFastWhenNotConnected(t *testing.T) {
	c := New(testConfig(), log.NewNopLogger())
	err := c.Publish("scenescape/data/scene/s1/person", []byte("{}"), nil)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPublishFailsFastWhenQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.PublishQueueSize = 1
	c := New(cfg, log.NewNopLogger())
	c.connected.Store(true)

	require.NoError(t, c.Publish("t", []byte("a"), nil))
	err := c.Publish("t", []byte("b"), nil)
	assert.ErrorIs(t, err, ErrPublishQueueFull)
}

func TestPublishCarriesUserProperties(t *testing.T) {
	c := New(testConfig(), log.NewNopLogger())
	c.connected.Store(true)

	require.NoError(t, c.Publish("t", []byte("a"), map[string]string{
		"traceparent": "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}))

	p := <-c.pubCh
	require.NotNil(t, p.Properties)
	require.Len(t, p.Properties.User, 1)
	assert.Equal(t, "traceparent", p.Properties.User[0].Key)
}

func TestHandlePublishConvertsUserProperties(t *testing.T) {
	c := New(testConfig(), log.NewNopLogger())

	var gotTopic string
	var gotProps map[string]string
	c.SetOnMessage(func(topic string, payload []byte, userProps map[string]string) {
		gotTopic = topic
		gotProps = userProps
	})

	c.handlePublish(&paho.Publish{
		Topic:   "scenescape/data/camera/cam1",
		Payload: []byte("{}"),
		Properties: &paho.PublishProperties{
			User: paho.UserProperties{{Key: "traceparent", Value: "abc"}},
		},
	})

	assert.Equal(t, "scenescape/data/camera/cam1", gotTopic)
	assert.Equal(t, map[string]string{"traceparent": "abc"}, gotProps)
}

func TestCheckReady(t *testing.T) {
	c := New(testConfig(), log.NewNopLogger())
	require.Error(t, c.CheckReady())

	c.connected.Store(true)
	require.Error(t, c.CheckReady())

	c.subscribed.Store(true)
	require.NoError(t, c.CheckReady())
}
