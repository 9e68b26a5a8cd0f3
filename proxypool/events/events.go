// Package events defines the messages a pipeline run streams to its consumer.
//
// Every run (harvest or verification) exposes a receive-only channel of Event.
// The channel carries zero or more log/candidates/result/progress events,
// then exactly one done event, and is then closed. Consumers must drain it.
package events

import (
	"fmt"
	"time"

	"proxyharvest/proxypool/model"

	"github.com/rs/zerolog"
)

type Type string

const (
	TypeLog        Type = "log"
	TypeCandidates Type = "candidates"
	TypeResult     Type = "result"
	TypeProgress   Type = "progress"
	TypeDone       Type = "done"
)

type Event struct {
	Type       Type              `json:"type"`
	RunID      string            `json:"run_id"`
	Time       time.Time         `json:"time"`
	Message    string            `json:"message,omitempty"`
	Progress   int               `json:"progress"`
	Result     *model.Result     `json:"result,omitempty"`
	Candidates []model.Candidate `json:"candidates,omitempty"`
	Summary    *Summary          `json:"summary,omitempty"`
}

// Summary is attached to the done event.
type Summary struct {
	Total      int  `json:"total"`
	Completed  int  `json:"completed"`
	Functional int  `json:"functional"`
	Stopped    bool `json:"stopped"`
}

// Emitter stamps events with a run id and mirrors log events to zerolog.
type Emitter struct {
	RunID string
	Out   chan<- Event
	Log   zerolog.Logger
}

func (e *Emitter) send(ev Event) {
	ev.RunID = e.RunID
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.Out <- ev
}

func (e *Emitter) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.Log.Info().Str("run_id", e.RunID).Msg(msg)
	e.send(Event{Type: TypeLog, Message: msg})
}

func (e *Emitter) Candidates(c []model.Candidate) {
	e.send(Event{Type: TypeCandidates, Candidates: c})
}

func (e *Emitter) Result(r model.Result) {
	e.send(Event{Type: TypeResult, Result: &r})
}

func (e *Emitter) Progress(p int) {
	e.send(Event{Type: TypeProgress, Progress: p})
}

// Done sends the terminal event and closes the channel.
func (e *Emitter) Done(s Summary) {
	e.send(Event{Type: TypeDone, Summary: &s})
	close(e.Out)
}
