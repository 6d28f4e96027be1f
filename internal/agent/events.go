// Package agent turns a conversation history into a typed event stream by
// driving a tool-calling chat model in a loop: stream the model, run any
// requested tools, feed the results back, repeat until the model stops.
package agent

import (
	"io"
	"sync"
)

type EventType string

const (
	// EventModelStart fires each time a model request begins, including the
	// follow-up requests after tool rounds.
	EventModelStart EventType = "model_start"
	// EventToken carries one text delta.
	EventToken EventType = "token"
	// EventToolStart fires when a tool invocation begins.
	EventToolStart EventType = "tool_start"
	// EventToolEnd fires when a tool invocation returns.
	EventToolEnd EventType = "tool_end"
	// EventTurnEnd is the final event of a successful turn and carries the
	// full assistant text.
	EventTurnEnd EventType = "turn_end"
)

type Event struct {
	Type  EventType
	Token string // EventToken
	Tool  string // EventToolStart / EventToolEnd
	Text  string // EventTurnEnd: accumulated assistant output
}

type streamItem struct {
	event *Event
	err   error
}

// EventStream delivers a turn's events in order. Recv blocks for the next
// event and returns io.EOF after the turn completes. Closing the stream
// abandons the turn; the producer notices and stops.
type EventStream struct {
	ch        chan streamItem
	done      chan struct{}
	closeOnce sync.Once
}

func newEventStream() *EventStream {
	return &EventStream{
		ch:   make(chan streamItem),
		done: make(chan struct{}),
	}
}

func (s *EventStream) Recv() (*Event, error) {
	item, ok := <-s.ch
	if !ok {
		return nil, io.EOF
	}
	if item.err != nil {
		return nil, item.err
	}
	return item.event, nil
}

// Close releases the producer. Safe to call multiple times and after the
// stream has drained.
func (s *EventStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// send delivers one event. Reports false when the consumer has gone away.
func (s *EventStream) send(ev *Event) bool {
	select {
	case s.ch <- streamItem{event: ev}:
		return true
	case <-s.done:
		return false
	}
}

// fail delivers a terminal error and ends the stream.
func (s *EventStream) fail(err error) {
	select {
	case s.ch <- streamItem{err: err}:
	case <-s.done:
	}
	close(s.ch)
}

// finish ends the stream normally; Recv returns io.EOF from here on.
func (s *EventStream) finish() {
	close(s.ch)
}
