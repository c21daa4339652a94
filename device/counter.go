package device

import "errors"

var (
	// ErrCounterFull is returned by Push when the command would not fit
	// in the controller's receive buffer.
	ErrCounterFull = errors.New("sent ledger full")

	// ErrCounterEmpty is returned by Pop when no command is outstanding.
	ErrCounterEmpty = errors.New("sent ledger empty")
)

// Counter tracks commands that have been written to the controller
// but not yet acknowledged, the way Grbl's character-counting protocol
// expects a host to.
//
// Every pushed command is recorded with its length plus one for the
// line terminator. Entries are popped oldest-first as the controller
// acknowledges them.
type Counter struct {
	maxLines int
	maxBytes int

	// ring buffer of recorded lengths
	sizes []int
	head  int

	lines int
	bytes int
}

// NewCounter creates a Counter for a controller that can hold maxLines
// commands in at most maxBytes of receive buffer.
func NewCounter(maxLines, maxBytes int) *Counter {
	if maxLines < 1 {
		maxLines = 1
	}
	return &Counter{
		maxLines: maxLines,
		maxBytes: maxBytes,
		sizes:    make([]int, maxLines),
	}
}

// CanPush returns true if a command of n bytes (excluding the terminator)
// can be sent without overflowing the controller.
func (c *Counter) CanPush(n int) bool {
	return c.lines < c.maxLines && c.bytes+n+1 <= c.maxBytes
}

// Push records cmd as sent.
func (c *Counter) Push(cmd []byte) error {
	if !c.CanPush(len(cmd)) {
		return ErrCounterFull
	}
	n := len(cmd) + 1
	c.sizes[(c.head+c.lines)%c.maxLines] = n
	c.lines++
	c.bytes += n
	return nil
}

// Pop removes the oldest outstanding command and returns its recorded size.
func (c *Counter) Pop() (int, error) {
	if c.lines == 0 {
		return 0, ErrCounterEmpty
	}
	n := c.sizes[c.head]
	c.head = (c.head + 1) % c.maxLines
	c.lines--
	c.bytes -= n
	return n, nil
}

// Reset forgets every outstanding command.
func (c *Counter) Reset() {
	c.head = 0
	c.lines = 0
	c.bytes = 0
}

// Lines returns the number of outstanding commands.
func (c *Counter) Lines() int { return c.lines }

// Bytes returns the number of outstanding bytes, terminators included.
func (c *Counter) Bytes() int { return c.bytes }

func (c *Counter) FreeLines() int { return c.maxLines - c.lines }
func (c *Counter) FreeBytes() int { return c.maxBytes - c.bytes }
