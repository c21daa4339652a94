package mqtt

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/mastercactapus/pendant/device"
	"github.com/mastercactapus/pendant/device/devicetest"
	"github.com/mastercactapus/pendant/device/grbl"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	Topic    string
	Retained bool
	Payload  interface{}
}

type mockClient struct {
	mu        sync.Mutex
	connected bool
	published []publishCall
	handlers  map[string]MQTT.MessageHandler
}

func (m *mockClient) IsConnected() bool      { return m.connected }
func (m *mockClient) IsConnectionOpen() bool { return m.connected }
func (m *mockClient) Connect() MQTT.Token {
	m.connected = true
	return &mockToken{}
}
func (m *mockClient) Disconnect(uint) { m.connected = false }
func (m *mockClient) Publish(topic string, _ byte, retained bool, payload interface{}) MQTT.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishCall{Topic: topic, Retained: retained, Payload: payload})
	return &mockToken{}
}
func (m *mockClient) Subscribe(topic string, _ byte, cb MQTT.MessageHandler) MQTT.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string]MQTT.MessageHandler)
	}
	m.handlers[topic] = cb
	return &mockToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, MQTT.MessageHandler) MQTT.Token {
	return &mockToken{}
}
func (m *mockClient) Unsubscribe(...string) MQTT.Token        { return &mockToken{} }
func (m *mockClient) AddRoute(string, MQTT.MessageHandler)    {}
func (m *mockClient) OptionsReader() MQTT.ClientOptionsReader { return MQTT.ClientOptionsReader{} }

func (m *mockClient) topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var res []string
	for _, p := range m.published {
		res = append(res, p.Topic)
	}
	return res
}

type mockToken struct{ err error }

func (t *mockToken) Wait() bool                     { return true }
func (t *mockToken) WaitTimeout(time.Duration) bool { return true }
func (t *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *mockToken) Error() error { return t.err }

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 0 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

func TestRelay(t *testing.T) {
	c := &mockClient{connected: true}
	r := New(c, "shop/pendant/", zerolog.Nop())

	tr := devicetest.New()
	dev := device.New(tr, grbl.New(), device.Options{})
	require.NoError(t, dev.Begin())
	r.Attach(dev)
	require.Contains(t, c.handlers, "shop/pendant/command")

	tr.Respond("<Idle|MPos:1,2,3>", "error:9")
	require.NoError(t, dev.Loop())
	require.NoError(t, dev.Loop())

	assert.Equal(t, []string{
		"shop/pendant/console",
		"shop/pendant/state",
		"shop/pendant/console",
		"shop/pendant/state",
		"shop/pendant/error",
	}, c.topics())

	state := c.published[1]
	assert.True(t, state.Retained)
	var st map[string]interface{}
	require.NoError(t, json.Unmarshal(state.Payload.([]byte), &st))
	assert.Equal(t, "Idle", st["status"])
	assert.Equal(t, "Connected", st["conn"])
	assert.Equal(t, "error:9", c.published[4].Payload)
}

func TestRelay_Command(t *testing.T) {
	c := &mockClient{connected: true}
	r := New(c, "pendant", zerolog.Nop())

	tr := devicetest.New()
	dev := device.New(tr, grbl.New(), device.Options{})
	r.Attach(dev)

	c.handlers["pendant/command"](c, &mockMessage{topic: "pendant/command", payload: []byte("G0 X1\nG0 X2\n")})
	assert.Equal(t, 1, dev.QueueLength())
	assert.Equal(t, []string{"pendant/error"}, c.topics())
	assert.Equal(t, "busy: G0 X2", c.published[0].Payload)

	require.NoError(t, dev.Loop())
	assert.Equal(t, "G0 X1\n", tr.Written())
}

func TestRelay_OnConnect(t *testing.T) {
	c := &mockClient{}
	r := New(c, "pendant", zerolog.Nop())
	r.Attach(devNop{})
	assert.Empty(t, c.handlers, "not connected yet")

	r.onConnect(c)
	assert.Equal(t, []string{"pendant/online"}, c.topics())
	assert.Contains(t, c.handlers, "pendant/command")

	r.Close()
	assert.Equal(t, "offline", c.published[1].Payload)
	assert.False(t, c.connected)
}

type devNop struct{}

func (devNop) ScheduleCommand(string) bool               { return true }
func (devNop) AddObserver(device.Observer)               {}
func (devNop) AddReceivedLineHandler(device.LineHandler) {}
