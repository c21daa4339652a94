package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	sse "github.com/alexandrevicenzi/go-sse"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mastercactapus/pendant/control"
	"github.com/mastercactapus/pendant/coord"
	"github.com/mastercactapus/pendant/device"
	"github.com/mastercactapus/pendant/job"
	"github.com/rs/zerolog"
)

const (
	apiVersion    = "0.1"
	serverVersion = "1.0.0"

	// scheduleTimeout bounds how long a request waits for a free slot.
	scheduleTimeout = 2 * time.Second
)

type api struct {
	http.Handler
	log      zerolog.Logger
	dataDir  string
	port     string
	bauds    []int
	sse      *sse.Server
	term     *terminals
	upgrader websocket.Upgrader

	mx       sync.RWMutex
	dev      *device.Device
	ctl      *control.Controller
	job      *job.Runner
	selected string
}

func newAPI(dataDir, port string, bauds []int, logger zerolog.Logger) *api {
	r := mux.NewRouter()

	a := &api{
		Handler: r,
		log:     logger.With().Str("component", "api").Logger(),
		dataDir: dataDir,
		port:    port,
		bauds:   bauds,
		sse: sse.NewServer(&sse.Options{
			Logger: log.New(io.Discard, "", 0),
		}),
		term: newTerminals(),
	}

	// OctoPrint subset
	r.HandleFunc("/api/version", a.version).Methods("GET")
	r.HandleFunc("/api/login", a.empty).Methods("POST")
	r.HandleFunc("/api/settings", a.empty).Methods("GET")
	r.HandleFunc("/api/connection", a.connection).Methods("GET")
	r.HandleFunc("/api/printer", a.printer).Methods("GET")
	r.HandleFunc("/api/printer/command", a.printerCommand).Methods("POST")
	r.HandleFunc("/api/job", a.getJob).Methods("GET")
	r.HandleFunc("/api/job", a.postJob).Methods("POST")
	r.HandleFunc("/api/files", a.listFiles).Methods("GET")
	r.HandleFunc("/api/files/local", a.uploadFile).Methods("POST")
	r.HandleFunc("/api/files/local/{name:.+}", a.fileCommand).Methods("POST")

	r.HandleFunc("/api2/cmd", a.cmd).Methods("GET")
	r.HandleFunc("/api2/print", a.print).Methods("POST")

	r.HandleFunc("/api/jog", a.jog).Methods("POST")
	r.HandleFunc("/api/reset", a.reset).Methods("POST")
	r.HandleFunc("/api/home", a.home).Methods("POST")
	r.HandleFunc("/api/control", a.control).Methods("POST")
	r.HandleFunc("/api/terminal", a.terminal)

	fs := http.FileServer(http.Dir(dataDir))
	r.PathPrefix("/data/").Handler(http.StripPrefix("/data", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case "GET":
			fs.ServeHTTP(w, req)
		case "PUT":
			a.putFile(w, req)
		case "DELETE":
			a.deleteFile(w, req)
		default:
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})))

	r.PathPrefix("/events/").Handler(a.sse)

	return a
}

// attach makes dev available to the API and subscribes to its events.
func (a *api) attach(dev *device.Device, ctl *control.Controller, runner *job.Runner) {
	a.mx.Lock()
	a.dev, a.ctl, a.job = dev, ctl, runner
	a.mx.Unlock()

	dev.AddObserver(a)
	dev.AddReceivedLineHandler(a.consoleLine)
}

func (a *api) current() (*device.Device, *control.Controller, *job.Runner) {
	a.mx.RLock()
	defer a.mx.RUnlock()
	return a.dev, a.ctl, a.job
}

func (a *api) close() { a.sse.Shutdown() }

// DeviceEvent publishes state snapshots on /events/state.
func (a *api) DeviceEvent(e device.Event) {
	data, err := json.Marshal(struct {
		Kind  string       `json:"kind"`
		State device.State `json:"state"`
	}{e.Kind.String(), e.State})
	if err != nil {
		a.log.Error().Err(err).Msg("marshal state")
		return
	}
	a.sse.SendMessage("/events/state", sse.SimpleMessage(string(data)))
}

func (a *api) consoleLine(line string) {
	a.sse.SendMessage("/events/console", sse.SimpleMessage(line))
	a.term.send(line)
}

func (a *api) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		a.log.Error().Err(err).Msg("encode response")
	}
}

func notOperational(w http.ResponseWriter) {
	http.Error(w, "printer is not operational", http.StatusConflict)
}

func stateText(dev *device.Device, js job.Status) string {
	switch {
	case dev == nil:
		return "Discovering"
	case dev.IsInPanic():
		return "Error"
	case !dev.IsConnected():
		return "Offline"
	}
	switch js.State {
	case job.Paused, job.Printing, job.Error:
		return string(js.State)
	}
	return "Operational"
}

func jobStatus(runner *job.Runner) job.Status {
	if runner == nil {
		return job.Status{State: job.Operational}
	}
	return runner.Status()
}

func (a *api) version(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, map[string]string{"api": apiVersion, "server": serverVersion})
}

func (a *api) empty(w http.ResponseWriter, req *http.Request) {
	a.writeJSON(w, struct{}{})
}

func (a *api) connection(w http.ResponseWriter, req *http.Request) {
	dev, _, runner := a.current()
	var baud int
	if dev != nil {
		baud = dev.Baud()
	}

	type current struct {
		State          string `json:"state"`
		Port           string `json:"port"`
		Baudrate       int    `json:"baudrate"`
		PrinterProfile string `json:"printerProfile"`
	}
	type options struct {
		Ports                    []string            `json:"ports"`
		Baudrates                []int               `json:"baudrates"`
		PrinterProfiles          []map[string]string `json:"printerProfiles"`
		PortPreference           string              `json:"portPreference"`
		BaudratePreference       int                 `json:"baudratePreference"`
		PrinterProfilePreference string              `json:"printerProfilePreference"`
		Autoconnect              bool                `json:"autoconnect"`
	}
	a.writeJSON(w, struct {
		Current current `json:"current"`
		Options options `json:"options"`
	}{
		Current: current{
			State:          stateText(dev, jobStatus(runner)),
			Port:           a.port,
			Baudrate:       baud,
			PrinterProfile: "_default",
		},
		Options: options{
			Ports:                    []string{a.port},
			Baudrates:                a.bauds,
			PrinterProfiles:          []map[string]string{{"id": "_default", "name": "Default"}},
			PortPreference:           a.port,
			BaudratePreference:       115200,
			PrinterProfilePreference: "_default",
			Autoconnect:              true,
		},
	})
}

type temperature struct {
	Actual float64 `json:"actual"`
	Target float64 `json:"target"`
	Offset float64 `json:"offset"`
}

type stateFlags struct {
	Operational   bool `json:"operational"`
	Paused        bool `json:"paused"`
	Printing      bool `json:"printing"`
	Pausing       bool `json:"pausing"`
	Cancelling    bool `json:"cancelling"`
	SDReady       bool `json:"sdReady"`
	Error         bool `json:"error"`
	Ready         bool `json:"ready"`
	ClosedOrError bool `json:"closedOrError"`
}

func (a *api) printer(w http.ResponseWriter, req *http.Request) {
	dev, _, runner := a.current()
	if dev == nil {
		notOperational(w)
		return
	}
	st := dev.State()
	js := jobStatus(runner)

	var f stateFlags
	f.Error = st.IsInPanic()
	f.Operational = st.IsConnected() && !f.Error
	f.Printing = js.State == job.Printing
	f.Paused = js.State == job.Paused
	f.Ready = f.Operational && !f.Printing && !f.Paused
	f.ClosedOrError = !st.IsConnected() || f.Error

	temps := make(map[string]temperature, len(st.Tools)+1)
	for i, t := range st.Tools {
		temps["tool"+strconv.Itoa(i)] = temperature{Actual: t.Actual, Target: t.Target}
	}
	if st.Bed != nil {
		temps["bed"] = temperature{Actual: st.Bed.Actual, Target: st.Bed.Target}
	}

	type pins struct {
		X     bool `json:"x"`
		Y     bool `json:"y"`
		Z     bool `json:"z"`
		Probe bool `json:"probe"`
		Door  bool `json:"door"`
	}
	type printerState struct {
		Text  string     `json:"text"`
		Flags stateFlags `json:"flags"`
	}
	a.writeJSON(w, struct {
		State       printerState           `json:"state"`
		Temperature map[string]temperature `json:"temperature"`
		SD          map[string]bool        `json:"sd"`
		Device      device.State           `json:"device"`
		WPos        coord.Point            `json:"wpos"`
		Pins        pins                   `json:"pins"`
	}{
		State:       printerState{Text: stateText(dev, js), Flags: f},
		Temperature: temps,
		SD:          map[string]bool{"ready": false},
		Device:      st,
		WPos:        st.WPos(),
		Pins: pins{
			X:     st.HasPin('X'),
			Y:     st.HasPin('Y'),
			Z:     st.HasPin('Z'),
			Probe: st.HasPin('P'),
			Door:  st.HasPin('D'),
		},
	})
}

// scheduleWait keeps offering cmd to the normal slot until it is taken or
// the request gives up.
func scheduleWait(ctx context.Context, dev *device.Device, cmd string) bool {
	if dev.ScheduleCommand(cmd) {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, scheduleTimeout)
	defer cancel()
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-t.C:
		}
		if dev.ScheduleCommand(cmd) {
			return true
		}
	}
}

func (a *api) printerCommand(w http.ResponseWriter, req *http.Request) {
	dev, _, _ := a.current()
	if dev == nil {
		notOperational(w)
		return
	}
	var body struct {
		Command  string   `json:"command"`
		Commands []string `json:"commands"`
	}
	err := json.NewDecoder(req.Body).Decode(&body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmds := body.Commands
	if body.Command != "" {
		cmds = append([]string{body.Command}, cmds...)
	}
	for _, cmd := range cmds {
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			continue
		}
		if !scheduleWait(req.Context(), dev, cmd) {
			a.log.Warn().Str("cmd", cmd).Msg("command not scheduled")
			http.Error(w, "failed to schedule "+cmd, http.StatusConflict)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) getJob(w http.ResponseWriter, req *http.Request) {
	dev, _, runner := a.current()
	js := jobStatus(runner)

	var estimated, left interface{}
	printTime := js.Elapsed.Seconds()
	if js.Progress > 0 && js.State != job.Operational {
		total := printTime / js.Progress
		estimated = total
		left = total - printTime
	}

	type file struct {
		Name   string `json:"name"`
		Origin string `json:"origin"`
		Size   int64  `json:"size"`
	}
	type jobInfo struct {
		File               file        `json:"file"`
		EstimatedPrintTime interface{} `json:"estimatedPrintTime"`
	}
	type progress struct {
		Completion          float64     `json:"completion"`
		Filepos             int64       `json:"filepos"`
		PrintTime           float64     `json:"printTime"`
		PrintTimeLeft       interface{} `json:"printTimeLeft"`
		PrintTimeLeftOrigin string      `json:"printTimeLeftOrigin"`
	}
	a.writeJSON(w, struct {
		Job      jobInfo  `json:"job"`
		Progress progress `json:"progress"`
		State    string   `json:"state"`
		Error    string   `json:"error,omitempty"`
	}{
		Job: jobInfo{
			File:               file{Name: js.File, Origin: "local", Size: js.Size},
			EstimatedPrintTime: estimated,
		},
		Progress: progress{
			Completion:          js.Progress * 100,
			Filepos:             js.Pos,
			PrintTime:           printTime,
			PrintTimeLeft:       left,
			PrintTimeLeftOrigin: "linear",
		},
		State: stateText(dev, js),
		Error: js.Error,
	})
}

func (a *api) jobError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, job.ErrBusy), errors.Is(err, job.ErrNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, job.ErrNoFile):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		a.log.Error().Err(err).Msg("job command")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (a *api) postJob(w http.ResponseWriter, req *http.Request) {
	dev, _, runner := a.current()
	if dev == nil {
		notOperational(w)
		return
	}
	var body struct {
		Command string `json:"command"`
		Action  string `json:"action"`
	}
	err := json.NewDecoder(req.Body).Decode(&body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch body.Command {
	case "start":
		a.mx.RLock()
		name := a.selected
		a.mx.RUnlock()
		if name == "" {
			http.Error(w, "no file selected", http.StatusConflict)
			return
		}
		if dev.IsInPanic() {
			notOperational(w)
			return
		}
		a.jobError(w, runner.Start(name))
	case "cancel":
		a.jobError(w, runner.Cancel())
	case "pause":
		switch body.Action {
		case "pause":
			err = runner.Pause()
		case "resume":
			err = runner.Resume()
		case "", "toggle":
			if runner.Status().State == job.Paused {
				err = runner.Resume()
			} else {
				err = runner.Pause()
			}
		default:
			http.Error(w, "unknown action "+body.Action, http.StatusBadRequest)
			return
		}
		a.jobError(w, err)
	case "restart":
		http.Error(w, "restart is not supported", http.StatusConflict)
	default:
		http.Error(w, "unknown command "+body.Command, http.StatusBadRequest)
	}
}

func (a *api) cmd(w http.ResponseWriter, req *http.Request) {
	gcode := strings.TrimSpace(req.FormValue("gcode"))
	if gcode == "" {
		http.Error(w, "missing gcode", http.StatusBadRequest)
		return
	}
	dev, _, _ := a.current()
	if dev == nil {
		notOperational(w)
		return
	}
	if !dev.ScheduleCommand(gcode) {
		http.Error(w, "failed to schedule", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "ok")
}

func (a *api) print(w http.ResponseWriter, req *http.Request) {
	dev, _, runner := a.current()
	if dev == nil || dev.IsInPanic() {
		notOperational(w)
		return
	}
	name := req.FormValue("file")
	if name == "" {
		http.Error(w, "missing file", http.StatusBadRequest)
		return
	}
	err := runner.Start(name)
	switch {
	case errors.Is(err, job.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, job.ErrNoFile):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		a.log.Error().Err(err).Str("file", name).Msg("start job")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	a.mx.Lock()
	a.selected = name
	a.mx.Unlock()
	io.WriteString(w, "ok")
}

func (a *api) jog(w http.ResponseWriter, req *http.Request) {
	dev, _, _ := a.current()
	if dev == nil {
		notOperational(w)
		return
	}
	axis, ok := device.ParseAxis(req.FormValue("axis"))
	if !ok {
		http.Error(w, "invalid axis", http.StatusBadRequest)
		return
	}
	dist, err := strconv.ParseFloat(req.FormValue("distance"), 64)
	if err != nil {
		http.Error(w, "invalid distance", http.StatusBadRequest)
		return
	}
	feed, err := strconv.ParseFloat(req.FormValue("feed"), 64)
	if err != nil || feed <= 0 {
		http.Error(w, "invalid feed", http.StatusBadRequest)
		return
	}
	if !dev.Jog(axis, dist, feed) {
		http.Error(w, "cannot jog now", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) reset(w http.ResponseWriter, req *http.Request) {
	dev, _, _ := a.current()
	if dev == nil {
		notOperational(w)
		return
	}
	dev.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) controlError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, control.ErrBusy), errors.Is(err, control.ErrPanicked):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, control.ErrUnsupported):
		http.Error(w, err.Error(), http.StatusNotImplemented)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (a *api) home(w http.ResponseWriter, req *http.Request) {
	_, ctl, _ := a.current()
	if ctl == nil {
		notOperational(w)
		return
	}
	a.controlError(w, ctl.Home())
}

func parseAxes(s string) ([]device.Axis, bool) {
	var axes []device.Axis
	for _, c := range s {
		a, ok := device.ParseAxis(string(c))
		if !ok {
			return nil, false
		}
		axes = append(axes, a)
	}
	return axes, true
}

// control runs an operator command selected by the "action" form value.
func (a *api) control(w http.ResponseWriter, req *http.Request) {
	_, ctl, _ := a.current()
	if ctl == nil {
		notOperational(w)
		return
	}

	var err error
	parse := func(param string) (val float64) {
		if err != nil {
			return 0
		}
		val, err = strconv.ParseFloat(req.FormValue(param), 64)
		return val
	}

	switch req.FormValue("action") {
	case "hold":
		err = ctl.FeedHold()
	case "start":
		err = ctl.CycleStart()
	case "zero":
		axes, ok := parseAxes(req.FormValue("axes"))
		if !ok {
			http.Error(w, "invalid axes", http.StatusBadRequest)
			return
		}
		err = ctl.ZeroWork(axes...)
	case "set":
		axis, ok := device.ParseAxis(req.FormValue("axis"))
		if !ok {
			http.Error(w, "invalid axis", http.StatusBadRequest)
			return
		}
		val := parse("value")
		if err == nil {
			err = ctl.SetWork(axis, val)
		}
	case "clear":
		err = ctl.ClearOffsets()
	case "workspace":
		var n int
		n, err = strconv.Atoi(req.FormValue("n"))
		if err == nil {
			err = ctl.SelectWorkspace(n)
		}
	case "spindle":
		rpm := parse("rpm")
		if err == nil {
			err = ctl.SpindleOn(rpm)
		}
	case "spindle_reverse":
		rpm := parse("rpm")
		if err == nil {
			err = ctl.SpindleReverse(rpm)
		}
	case "spindle_off":
		err = ctl.SpindleOff()
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}
	a.controlError(w, err)
}

// terminal relays controller output to a websocket and schedules each
// inbound line as a priority command.
func (a *api) terminal(w http.ResponseWriter, req *http.Request) {
	dev, _, _ := a.current()
	if dev == nil {
		notOperational(w)
		return
	}
	ws, err := a.upgrader.Upgrade(w, req, nil)
	if err != nil {
		a.log.Debug().Err(err).Msg("terminal upgrade")
		return
	}
	defer ws.Close()

	out := a.term.add()
	defer a.term.remove(out)
	go func() {
		for line := range out {
			ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := ws.WriteMessage(websocket.TextMessage, []byte(line))
			if err != nil {
				return
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if !dev.SchedulePriorityCommand(line) {
				select {
				case out <- "busy: " + line:
				default:
				}
			}
		}
	}
}
