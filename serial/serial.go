// Package serial opens local serial ports as device transports.
package serial

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/mastercactapus/pendant/device"
	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

// DefaultReadTimeout is how often a blocked read wakes up to notice Close.
const DefaultReadTimeout = 100 * time.Millisecond

// Opener opens a serial device at a requested baud rate.
type Opener struct {
	Device      string
	ReadTimeout time.Duration
	Logger      zerolog.Logger
}

// Open opens the port and wraps it in a line transport.
func (o *Opener) Open(baud int) (device.Transport, error) {
	timeout := o.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	p, err := serial.OpenPort(&serial.Config{
		Name:        o.Device,
		Baud:        baud,
		ReadTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", o.Device, err)
	}
	o.Logger.Debug().Str("device", o.Device).Int("baud", baud).Msg("opened serial port")
	return device.NewStreamTransport(newBlockingPort(p)), nil
}

// blockingPort hides the empty reads a port with a read timeout returns
// while idle, so that only Close ends a Read.
type blockingPort struct {
	rwc    io.ReadWriteCloser
	closed atomic.Bool
}

func newBlockingPort(rwc io.ReadWriteCloser) *blockingPort {
	return &blockingPort{rwc: rwc}
}

func (p *blockingPort) Read(b []byte) (int, error) {
	for {
		if p.closed.Load() {
			return 0, device.ErrClosed
		}
		n, err := p.rwc.Read(b)
		if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
			continue
		}
		return n, err
	}
}

func (p *blockingPort) Write(b []byte) (int, error) { return p.rwc.Write(b) }

func (p *blockingPort) Close() error {
	p.closed.Store(true)
	return p.rwc.Close()
}
