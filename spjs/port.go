package spjs

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/pendant/device"
	"github.com/rs/zerolog"
)

// Opener opens a serial port on the SPJS server as a device transport.
type Opener struct {
	Client *Client
	Port   string
}

// Open asks the server to open the port at baud.
func (o *Opener) Open(baud int) (device.Transport, error) {
	p := &port{
		c:      o.Client,
		name:   o.Port,
		log:    o.Client.log.With().Str("port", o.Port).Logger(),
		lines:  make(chan string, 64),
		closed: make(chan struct{}),
	}
	go p.loop()

	err := o.Client.WriteString("open " + o.Port + " " + strconv.Itoa(baud))
	if err != nil {
		p.closeOnce.Do(func() { close(p.closed) })
		return nil, err
	}
	return p, nil
}

type port struct {
	c     *Client
	name  string
	log   zerolog.Logger
	lines chan string
	split lineSplitter

	closed    chan struct{}
	closeOnce sync.Once
}

func (p *port) loop() {
	for {
		var msg interface{}
		select {
		case <-p.closed:
			return
		case <-p.c.done:
			return
		case msg = <-p.c.Messages():
		}

		switch m := msg.(type) {
		case *DataFrame:
			if m.Port != p.name {
				continue
			}
			for _, line := range p.split.Feed(m.Data) {
				select {
				case p.lines <- line:
				case <-p.closed:
					return
				}
			}
		case *ErrorMessage:
			p.log.Warn().Str("error", m.Error).Msg("server error")
		}
	}
}

func (p *port) ReadLine(timeout time.Duration) (string, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case line := <-p.lines:
		return line, nil
	case <-p.closed:
		return "", device.ErrClosed
	case <-p.c.done:
		return "", device.ErrClosed
	case <-t.C:
		return "", device.ErrTimeout
	}
}

func (p *port) Write(data []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, device.ErrClosed
	default:
	}
	err := p.c.WriteString("sendnobuf " + p.name + " " + string(data))
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

func (p *port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closed)
		err = p.c.WriteString("close " + p.name)
	})
	return err
}

// lineSplitter reassembles lines from data frames, which may carry
// partial or several lines.
type lineSplitter struct {
	buf  strings.Builder
	skip bool
}

func (s *lineSplitter) Feed(data string) []string {
	var lines []string
	for data != "" {
		chunk, rest, found := strings.Cut(data, "\n")
		data = rest
		if !s.skip {
			s.buf.WriteString(chunk)
		}
		if s.buf.Len() > device.MaxLineLength {
			s.buf.Reset()
			s.skip = true
		}
		if !found {
			break
		}
		if !s.skip {
			line := strings.TrimRight(s.buf.String(), "\r")
			if line != "" {
				lines = append(lines, line)
			}
		}
		s.buf.Reset()
		s.skip = false
	}
	return lines
}
