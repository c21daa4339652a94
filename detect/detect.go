// Package detect finds the baud rate and dialect of an attached controller.
package detect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mastercactapus/pendant/device"
	"github.com/mastercactapus/pendant/device/grbl"
	"github.com/mastercactapus/pendant/device/marlin"
	"github.com/rs/zerolog"
)

// ErrNotDetected is returned by Attempt when no banner was recognized in time.
var ErrNotDetected = errors.New("controller not detected")

// DefaultBauds are tried in order when no rates are configured.
var DefaultBauds = []int{115200, 250000, 230400, 57600, 38400, 19200, 9600}

const (
	DefaultTimeout    = 2 * time.Second
	DefaultRetryDelay = time.Second
)

// A DialectFunc creates a fresh dialect for a new Device.
type DialectFunc func() device.Dialect

// Dialects maps dialect names to their constructors.
var Dialects = map[string]DialectFunc{
	"grbl":   grbl.New,
	"marlin": marlin.New,
}

// ByName looks up dialect constructors by name, preserving order.
func ByName(names ...string) ([]DialectFunc, error) {
	res := make([]DialectFunc, 0, len(names))
	for _, name := range names {
		fn, ok := Dialects[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown dialect '%s'", name)
		}
		res = append(res, fn)
	}
	return res, nil
}

// An Opener opens a transport to the controller at the given rate.
type Opener interface {
	Open(baud int) (device.Transport, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(baud int) (device.Transport, error)

func (fn OpenerFunc) Open(baud int) (device.Transport, error) { return fn(baud) }

// Options configure a Detector.
type Options struct {
	Bauds    []int
	Dialects []DialectFunc

	// Timeout bounds how long each attempt waits for a banner.
	Timeout time.Duration

	// RetryDelay is waited between full sweeps.
	RetryDelay time.Duration

	// Device is used for every Device created; Baud is filled in.
	Device device.Options

	Logger zerolog.Logger
}

// Detector sweeps baud rates and dialects until a controller answers.
type Detector struct {
	o    Opener
	opts Options
	log  zerolog.Logger
}

// New creates a Detector. Missing options are filled with defaults.
func New(o Opener, opts Options) *Detector {
	if len(opts.Bauds) == 0 {
		opts.Bauds = DefaultBauds
	}
	if len(opts.Dialects) == 0 {
		opts.Dialects = []DialectFunc{grbl.New, marlin.New}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Detector{
		o:    o,
		opts: opts,
		log:  opts.Logger.With().Str("component", "detect").Logger(),
	}
}

// Attempt opens the transport at baud and waits for newDialect's banner,
// sending its probe first if it has one. On success the returned Device has
// been begun. Otherwise the transport is closed and ErrNotDetected (or the
// open/read error) is returned.
func (d *Detector) Attempt(ctx context.Context, baud int, newDialect DialectFunc) (*device.Device, error) {
	t, err := d.o.Open(baud)
	if err != nil {
		return nil, fmt.Errorf("open at %d baud: %w", baud, err)
	}
	dialect := newDialect()
	log := d.log.With().Int("baud", baud).Str("dialect", dialect.Name()).Logger()

	probe := dialect.Probe()
	if len(probe) > 0 {
		_, err = t.Write(probe)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("write probe: %w", err)
		}
	}

	err = waitBanner(ctx, t, dialect, d.opts.Timeout)
	if err != nil {
		t.Close()
		log.Debug().Err(err).Msg("attempt failed")
		return nil, err
	}

	// a buffered probe is acknowledged after the banner
	if len(probe) > 0 && !dialect.IsRealtime(probe) {
		err = drainAck(ctx, t, dialect, d.opts.Timeout)
		if err != nil {
			t.Close()
			return nil, err
		}
	}

	devOpts := d.opts.Device
	devOpts.Baud = baud
	dev := device.New(t, dialect, devOpts)
	err = dev.Begin()
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("begin: %w", err)
	}
	log.Info().Msg("controller detected")
	return dev, nil
}

func waitBanner(ctx context.Context, t device.Transport, dialect device.Dialect, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrNotDetected
		}
		line, err := t.ReadLine(remaining)
		if errors.Is(err, device.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if dialect.IsBanner(line) {
			return nil
		}
	}
}

// drainAck reads until the dialect sees an acknowledgement. Running out of
// time is not an error: a controller that rebooted on open never saw the
// probe.
func drainAck(ctx context.Context, t device.Transport, dialect device.Dialect, timeout time.Duration) error {
	var st device.State
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		line, err := t.ReadLine(remaining)
		if errors.Is(err, device.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if dialect.HandleLine(&st, line)&device.Ack != 0 {
			return nil
		}
	}
}

// Detect tries every baud rate with every dialect, in order, until one
// succeeds. The sweep repeats until a controller is found or ctx is done.
func (d *Detector) Detect(ctx context.Context) (*device.Device, error) {
	for sweep := 1; ; sweep++ {
		for _, baud := range d.opts.Bauds {
			for _, fn := range d.opts.Dialects {
				dev, err := d.Attempt(ctx, baud, fn)
				if err == nil {
					return dev, nil
				}
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				if !errors.Is(err, ErrNotDetected) {
					d.log.Warn().Err(err).Int("baud", baud).Msg("attempt failed")
				}
			}
		}

		d.log.Debug().Int("sweep", sweep).Msg("no controller found, retrying")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.opts.RetryDelay):
		}
	}
}
