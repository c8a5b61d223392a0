// Package history keeps the append-only audit trail of everything the
// agents saw and did, and writes the final game-history artifact.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Kind distinguishes discrete events from full state snapshots.
type Kind string

const (
	KindEvent Kind = "EVENT"
	KindState Kind = "STATE"
)

// Entry is one immutable record. Entries are written once and never
// mutated afterwards.
type Entry struct {
	Timestamp time.Time   `json:"timestamp"`
	Kind      Kind        `json:"kind"`
	Agent     string      `json:"agent"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Summary is the structured artifact written once the game is over.
type Summary struct {
	SessionID    string    `json:"sessionId"`
	SessionStart time.Time `json:"sessionStart"`
	RoundsPlayed int       `json:"roundsPlayed"`
	RoundWinners []string  `json:"roundWinners"`
	GameWinner   string    `json:"gameWinner,omitempty"`
	EventCount   int       `json:"eventCount"`
	StateCount   int       `json:"stateCount"`
}

// Sink receives records. Append must tolerate being called from any
// goroutine; FlushFinal is called at most once.
type Sink interface {
	Append(e Entry, index int) error
	FlushFinal(s Summary, entries []Entry) error
	Close() error
}

// Recorder fans entries out to the configured sinks. Each sink gets
// one writer goroutine draining a buffered queue, so recording never
// stalls an agent and every sink sees entries in index order.
type Recorder struct {
	mu        sync.Mutex
	start     time.Time
	sessionID string
	entries   []Entry
	index     int
	finalized bool
	workers   []*sinkWorker
	log       *logrus.Entry
}

type queuedEntry struct {
	entry Entry
	index int
}

type sinkWorker struct {
	sink    Sink
	queue   chan queuedEntry
	drained chan struct{}
}

// NewRecorder creates a recorder for one game session and starts one
// writer goroutine per sink.
func NewRecorder(log *logrus.Entry, sinks ...Sink) *Recorder {
	r := &Recorder{
		start:     time.Now(),
		sessionID: uuid.NewString(),
		log:       log,
	}
	for _, s := range sinks {
		w := &sinkWorker{
			sink:    s,
			queue:   make(chan queuedEntry, 1024),
			drained: make(chan struct{}),
		}
		r.workers = append(r.workers, w)
		go func(w *sinkWorker) {
			defer close(w.drained)
			for q := range w.queue {
				if err := w.sink.Append(q.entry, q.index); err != nil {
					r.log.WithError(err).Warn("history sink append failed")
				}
			}
		}(w)
	}
	return r
}

// SessionStart reports when this recorder's session began. The final
// artifact is keyed by this timestamp.
func (r *Recorder) SessionStart() time.Time { return r.start }

// RecordEvent appends a discrete event record.
func (r *Recorder) RecordEvent(agent, eventType string, payload interface{}) {
	r.append(Entry{Timestamp: time.Now(), Kind: KindEvent, Agent: agent, Type: eventType, Payload: payload})
}

// RecordState appends a full-state snapshot record.
func (r *Recorder) RecordState(agent string, payload interface{}) {
	r.append(Entry{Timestamp: time.Now(), Kind: KindState, Agent: agent, Type: "GAME_STATE", Payload: payload})
}

// append records the entry and enqueues it for every sink. The queues
// are closed by Finalize under the same mutex, so a send can never hit
// a closed channel. A full queue drops the record rather than block.
func (r *Recorder) append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.entries = append(r.entries, e)
	r.index++

	q := queuedEntry{entry: e, index: r.index}
	for _, w := range r.workers {
		select {
		case w.queue <- q:
		default:
			r.log.Warn("history sink queue full, dropping record")
		}
	}
}

// Finalize builds the summary, flushes the artifact to every sink and
// closes them. Safe to call more than once; only the first call wins.
func (r *Recorder) Finalize(roundWinners []string, gameWinner string, roundsPlayed int) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return
	}
	r.finalized = true

	sum := Summary{
		SessionID:    r.sessionID,
		SessionStart: r.start,
		RoundsPlayed: roundsPlayed,
		RoundWinners: roundWinners,
		GameWinner:   gameWinner,
	}
	for _, e := range r.entries {
		switch e.Kind {
		case KindEvent:
			sum.EventCount++
		case KindState:
			sum.StateCount++
		}
	}
	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	workers := r.workers
	for _, w := range workers {
		close(w.queue)
	}
	r.mu.Unlock()

	for _, w := range workers {
		<-w.drained
		if err := w.sink.FlushFinal(sum, entries); err != nil {
			r.log.WithError(err).Warn("history sink flush failed")
		}
		if err := w.sink.Close(); err != nil {
			r.log.WithError(err).Warn("history sink close failed")
		}
	}
	r.log.WithFields(logrus.Fields{
		"events": sum.EventCount,
		"states": sum.StateCount,
		"rounds": sum.RoundsPlayed,
	}).Info("game history finalized")
}
