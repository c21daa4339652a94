package main

import "sync"

// terminals fans controller output out to connected websocket terminals.
type terminals struct {
	mx   sync.Mutex
	subs map[chan string]struct{}
}

func newTerminals() *terminals {
	return &terminals{subs: make(map[chan string]struct{})}
}

func (t *terminals) add() chan string {
	ch := make(chan string, 64)
	t.mx.Lock()
	t.subs[ch] = struct{}{}
	t.mx.Unlock()
	return ch
}

func (t *terminals) remove(ch chan string) {
	t.mx.Lock()
	delete(t.subs, ch)
	close(ch)
	t.mx.Unlock()
}

// send drops the line for terminals that are not keeping up.
func (t *terminals) send(line string) {
	t.mx.Lock()
	defer t.mx.Unlock()
	for ch := range t.subs {
		select {
		case ch <- line:
		default:
		}
	}
}
