package device

// Result describes how the engine should account for one inbound line.
type Result uint8

const (
	// Ack consumes the oldest ledger entry and marks the device connected
	// and out of panic.
	Ack Result = 1 << iota

	// Alarm consumes the oldest ledger entry, puts the device in panic and
	// raises an EventError.
	Alarm

	// Updated raises an EventUpdated.
	Updated

	// Restarted means the controller rebooted and dropped everything it
	// had buffered.
	Restarted

	// Fault is like Alarm but the controller will still acknowledge the
	// offending command, so no ledger entry is consumed.
	Fault

	// Pop consumes the oldest ledger entry and leaves the connection
	// state alone.
	Pop

	// Ignored lines cause no state change.
	Ignored Result = 0
)

// A Dialect supplies the controller-specific half of a Device: how
// responses are classified, which bytes are realtime, and how commands
// are spelled.
//
// Dialect methods are called with the device lock held and must not call
// back into the Device.
type Dialect interface {
	Name() string

	// Limits returns the controller's buffer capacity as (lines, bytes).
	Limits() (maxLines, maxBytes int)

	// Handshake returns the priority commands staged by Begin, in order.
	Handshake() []string

	// StatusQuery returns the command that asks for a status report.
	// It is called once per RequestStatusUpdate and may rotate between
	// several queries.
	StatusQuery() string

	// ResetCommand returns the command that resets the controller.
	ResetCommand() string

	// IsRealtime returns true if cmd is handled out of band by the
	// controller and must bypass the sent ledger.
	IsRealtime(cmd []byte) bool

	// HandleLine parses a response line into st.
	HandleLine(st *State, line string) Result

	// CanJog is passed a snapshot with the queue lengths filled in.
	CanJog(st *State) bool

	// JogCommand returns the command for a relative jog along axis.
	JogCommand(st *State, axis Axis, distance, feedRate float64) (string, bool)

	// Probe returns bytes to send when detecting this dialect, or nil
	// if the controller announces itself.
	Probe() []byte

	// IsBanner returns true if line identifies this dialect.
	IsBanner(line string) bool
}
