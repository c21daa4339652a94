// Package job streams G-code files to a device.
package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/mastercactapus/pendant/device"
	"github.com/mastercactapus/pendant/gcode"
	"github.com/rs/zerolog"
)

var (
	// ErrBusy is returned by Start while another job is active.
	ErrBusy = errors.New("a job is already active")

	// ErrNoFile is returned by Start if the file does not exist.
	ErrNoFile = errors.New("no such file")

	// ErrNotActive is returned by Pause, Resume and Cancel without a job.
	ErrNotActive = errors.New("no active job")
)

// DefaultStepInterval is how often Run advances the job.
const DefaultStepInterval = 5 * time.Millisecond

// State is the job state as reported to API clients.
type State string

const (
	Operational State = "Operational"
	Printing    State = "Printing"
	Paused      State = "Paused"
	Error       State = "Error"
)

// Device is the part of *device.Device a Runner needs.
type Device interface {
	ScheduleCommand(cmd string) bool
	IsInPanic() bool
}

var _ Device = &device.Device{}

// Status is a snapshot of the runner.
type Status struct {
	State    State         `json:"state"`
	File     string        `json:"file,omitempty"`
	Size     int64         `json:"size"`
	Pos      int64         `json:"pos"`
	Line     int           `json:"line"`
	Progress float64       `json:"progress"`
	Elapsed  time.Duration `json:"elapsed"`
	Error    string        `json:"error,omitempty"`
}

// Runner feeds one file at a time to a device, a block per free slot.
type Runner struct {
	dev Device
	dir string
	log zerolog.Logger
	now func() time.Time

	mx      sync.Mutex
	state   State
	file    string
	f       io.Closer
	p       *gcode.Parser
	size    int64
	pending string
	pos     int64
	line    int
	started time.Time
	elapsed time.Duration
	err     error
}

var _ device.Observer = &Runner{}

// NewRunner creates a Runner serving files from dir.
func NewRunner(dev Device, dir string, log zerolog.Logger) *Runner {
	return &Runner{
		dev:   dev,
		dir:   dir,
		log:   log.With().Str("component", "job").Logger(),
		now:   time.Now,
		state: Operational,
	}
}

// Resolve joins name to dir without letting it escape dir.
func Resolve(dir, name string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, filepath.FromSlash(path.Clean("/"+name)))
}

// Path resolves name inside the data directory.
func (r *Runner) Path(name string) string { return Resolve(r.dir, name) }

func (r *Runner) active() bool { return r.state == Printing || r.state == Paused }

// Start begins streaming the named file.
func (r *Runner) Start(name string) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.active() {
		return ErrBusy
	}

	f, err := os.Open(r.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNoFile
	}
	if err != nil {
		return fmt.Errorf("open job: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat job: %w", err)
	}
	if fi.IsDir() {
		f.Close()
		return ErrNoFile
	}

	r.file = name
	r.f = f
	r.p = gcode.NewParser(f)
	r.size = fi.Size()
	r.pending = ""
	r.pos = 0
	r.line = 0
	r.err = nil
	r.elapsed = 0
	r.started = r.now()
	r.state = Printing
	r.log.Info().Str("file", name).Int64("size", r.size).Msg("job started")
	return nil
}

func (r *Runner) Pause() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if !r.active() {
		return ErrNotActive
	}
	r.pause()
	return nil
}

func (r *Runner) pause() {
	if r.state != Printing {
		return
	}
	r.elapsed += r.now().Sub(r.started)
	r.state = Paused
}

func (r *Runner) Resume() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if !r.active() {
		return ErrNotActive
	}
	if r.state == Paused {
		r.started = r.now()
		r.state = Printing
	}
	return nil
}

// Cancel stops the job. Commands already sent are not recalled.
func (r *Runner) Cancel() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if !r.active() {
		return ErrNotActive
	}
	r.pause()
	r.finish(nil)
	r.log.Info().Str("file", r.file).Msg("job cancelled")
	return nil
}

// finish must be called with r.mx held.
func (r *Runner) finish(err error) {
	if r.state == Printing {
		r.elapsed += r.now().Sub(r.started)
	}
	r.pos = r.p.Offset()
	r.line = r.p.Line()
	r.f.Close()
	r.f = nil
	r.p = nil
	r.pending = ""
	r.err = err
	r.state = Operational
	if err != nil {
		r.state = Error
	}
}

// Step stages the next block if the device has room for it. It returns
// true while the job is printing.
func (r *Runner) Step() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state != Printing {
		return false
	}
	if r.dev.IsInPanic() {
		r.log.Warn().Str("file", r.file).Int("line", r.p.Line()).Msg("device in panic, job paused")
		r.pause()
		return false
	}

	if r.pending == "" {
		b, err := r.p.Read()
		if err == io.EOF {
			r.finish(nil)
			r.log.Info().Str("file", r.file).Dur("elapsed", r.elapsed).Msg("job complete")
			return false
		}
		if err != nil {
			r.log.Error().Err(err).Str("file", r.file).Msg("job failed")
			r.finish(err)
			return false
		}
		r.pending = b.Text()
	}

	if r.dev.ScheduleCommand(r.pending) {
		r.pending = ""
	}
	return true
}

// Run steps the job until ctx is done.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultStepInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		for r.Step() {
			if r.busy() {
				break
			}
		}
	}
}

// busy is true while a block is waiting for the device.
func (r *Runner) busy() bool {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.pending != ""
}

// DeviceEvent pauses the job when the controller reports an error.
func (r *Runner) DeviceEvent(e device.Event) {
	if e.Kind != device.EventError {
		return
	}
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state == Printing {
		r.log.Warn().Str("response", e.State.LastResponse).Msg("controller error, job paused")
		r.pause()
	}
}

// Status returns the current job status.
func (r *Runner) Status() Status {
	r.mx.Lock()
	defer r.mx.Unlock()

	s := Status{
		State:   r.state,
		File:    r.file,
		Size:    r.size,
		Elapsed: r.elapsed,
	}
	if r.state == Printing {
		s.Elapsed += r.now().Sub(r.started)
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	s.Pos, s.Line = r.pos, r.line
	if r.p != nil {
		s.Pos, s.Line = r.p.Offset(), r.p.Line()
	}
	if r.size > 0 {
		s.Progress = float64(s.Pos) / float64(r.size)
	}
	return s
}
