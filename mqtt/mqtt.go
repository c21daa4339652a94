// Package mqtt relays device state to an MQTT broker and accepts commands.
//
// Topics, relative to the configured base topic:
//
//	<base>/online   "online"/"offline", retained
//	<base>/state    JSON device state, retained
//	<base>/error    controller error text
//	<base>/console  every line received from the controller
//	<base>/command  G-code lines to schedule (subscribed)
package mqtt

import (
	"encoding/json"
	"strings"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/mastercactapus/pendant/device"
	"github.com/rs/zerolog"
)

// Options configure the broker connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// Device is the part of *device.Device a Relay needs.
type Device interface {
	ScheduleCommand(cmd string) bool
	AddObserver(device.Observer)
	AddReceivedLineHandler(device.LineHandler)
}

var _ Device = &device.Device{}

// Relay publishes device events and feeds commands back to the device.
type Relay struct {
	c     MQTT.Client
	topic string
	log   zerolog.Logger

	mx  sync.Mutex
	dev Device
}

var _ device.Observer = &Relay{}

// New wraps an existing client.
func New(c MQTT.Client, topic string, log zerolog.Logger) *Relay {
	return &Relay{
		c:     c,
		topic: strings.TrimSuffix(topic, "/"),
		log:   log.With().Str("component", "mqtt").Logger(),
	}
}

// Connect dials the broker and returns a connected Relay. The client
// reconnects on its own and resubscribes on every connect.
func Connect(o Options, log zerolog.Logger) (*Relay, error) {
	r := New(nil, o.Topic, log)

	opts := MQTT.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetWill(r.topic+"/online", "offline", 0, true)
	opts.OnConnect = r.onConnect
	opts.OnConnectionLost = func(_ MQTT.Client, err error) {
		r.log.Warn().Err(err).Msg("connection lost")
	}

	r.c = MQTT.NewClient(opts)
	if token := r.c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return r, nil
}

func (r *Relay) onConnect(c MQTT.Client) {
	r.log.Info().Msg("connected")
	c.Publish(r.topic+"/online", 0, true, "online")

	r.mx.Lock()
	dev := r.dev
	r.mx.Unlock()
	if dev != nil {
		r.subscribe(c)
	}
}

func (r *Relay) subscribe(c MQTT.Client) {
	token := c.Subscribe(r.topic+"/command", 0, r.handleCommand)
	if token.Wait() && token.Error() != nil {
		r.log.Error().Err(token.Error()).Msg("subscribe")
	}
}

// Attach starts relaying for dev.
func (r *Relay) Attach(dev Device) {
	r.mx.Lock()
	r.dev = dev
	r.mx.Unlock()

	dev.AddObserver(r)
	dev.AddReceivedLineHandler(r.publishLine)
	if r.c.IsConnected() {
		r.subscribe(r.c)
	}
}

func (r *Relay) handleCommand(_ MQTT.Client, msg MQTT.Message) {
	r.mx.Lock()
	dev := r.dev
	r.mx.Unlock()
	if dev == nil {
		return
	}

	for _, line := range strings.Split(string(msg.Payload()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !dev.ScheduleCommand(line) {
			r.log.Warn().Str("cmd", line).Msg("command rejected, device busy")
			r.c.Publish(r.topic+"/error", 0, false, "busy: "+line)
		}
	}
}

// Publishes are not waited on; they run on the device loop.

func (r *Relay) publishLine(line string) {
	r.c.Publish(r.topic+"/console", 0, false, line)
}

func (r *Relay) DeviceEvent(e device.Event) {
	data, err := json.Marshal(e.State)
	if err != nil {
		r.log.Error().Err(err).Msg("marshal state")
		return
	}
	r.c.Publish(r.topic+"/state", 0, true, data)
	if e.Kind == device.EventError {
		r.c.Publish(r.topic+"/error", 0, false, e.State.LastResponse)
	}
}

// Close publishes the offline status and disconnects.
func (r *Relay) Close() {
	r.c.Publish(r.topic+"/online", 0, true, "offline").Wait()
	r.c.Disconnect(250)
}
