// Package spjs talks to a Serial Port JSON Server over a websocket.
package spjs

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrClosed is returned once the client has been closed.
var ErrClosed = errors.New("spjs client closed")

const reconnectDelay = 3 * time.Second

// Client keeps a websocket connection to an SPJS server, reconnecting as
// needed. Parsed messages are delivered on Messages.
type Client struct {
	url string
	log zerolog.Logger

	outgoing chan message
	incoming chan interface{}

	done      chan struct{}
	closeOnce sync.Once
}

type message struct {
	done    chan struct{}
	payload []byte
}

type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}
type CmdStatus struct {
	Cmd        string
	QueueCount int `json:"QCnt"`
	Port       string
	Data       json.RawMessage `json:"D"`
	ID         string          `json:"Id"`
}
type Version struct {
	Version string
}
type Hostname struct {
	Hostname string
}
type ErrorMessage struct {
	Error string
}
type SerialPortList struct {
	SerialPorts []SerialPort
}
type SerialPort struct {
	Name            string
	Friendly        string
	SerialNumber    string
	DeviceClass     string
	IsOpen          bool
	IsPrimary       bool
	RelatedNames    []string
	Baud            int
	BufferAlgorithm string
	USBVID          string
	USBPID          string
}

// NewClient starts connecting to url in the background.
func NewClient(url string, log zerolog.Logger) *Client {
	c := &Client{
		url:      url,
		log:      log.With().Str("component", "spjs").Logger(),
		outgoing: make(chan message, 100),
		incoming: make(chan interface{}, 1000),
		done:     make(chan struct{}),
	}
	go c.loop()
	return c
}

// Messages returns the channel parsed server messages are delivered on.
func (c *Client) Messages() <-chan interface{} { return c.incoming }

func parseMessage(data []byte) (val interface{}, err error) {
	var msg map[string]json.RawMessage
	err = json.Unmarshal(data, &msg)
	if err != nil {
		return nil, err
	}
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("SerialPorts", &SerialPortList{}) {
		return
	}
	if check("Cmd", &CmdStatus{}) {
		return
	}
	if check("P", &DataFrame{}) {
		return
	}
	if check("Version", &Version{}) {
		return
	}
	if check("Hostname", &Hostname{}) {
		return
	}

	return nil, errors.New("unknown message: " + string(data))
}

func (c *Client) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.log.Error().Err(err).Msg("read")
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		val, err := parseMessage(data)
		if err != nil {
			c.log.Debug().Err(err).Msg("parse")
			continue
		}
		select {
		case c.incoming <- val:
		case <-c.done:
			return
		default:
			c.log.Warn().Msg("message dropped, nobody is reading")
		}
	}
}

func (c *Client) loop() {
	var nextUp message

reconnect:
	for {
		c.log.Info().Str("url", c.url).Msg("connecting")
		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.log.Error().Err(err).Msg("connect")
			select {
			case <-c.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}
		c.log.Info().Msg("connected")
		ch := make(chan struct{})
		go c.readLoop(ws, ch)

		err = ws.WriteMessage(websocket.TextMessage, []byte("list"))
		if err != nil {
			ws.Close()
			continue reconnect
		}

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					c.log.Error().Err(err).Msg("send")
					ws.Close()
					continue reconnect
				}
				close(nextUp.done)
				nextUp.done = nil
			}

			select {
			case <-c.done:
				ws.Close()
				return
			case <-ch:
				continue reconnect
			case nextUp = <-c.outgoing:
			}
		}
	}
}

// WriteString sends a raw command and waits until it has been written.
func (c *Client) WriteString(data string) error {
	ch := make(chan struct{})
	select {
	case c.outgoing <- message{done: ch, payload: []byte(data)}:
	case <-c.done:
		return ErrClosed
	}
	select {
	case <-ch:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Close disconnects from the server.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
