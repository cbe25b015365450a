package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/energychat/internal/stream"
	"github.com/user/energychat/internal/types"
)

var (
	// ErrBusy is returned by Send while a turn is in flight.
	ErrBusy = errors.New("a response is already streaming")
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNothingToRetry is returned by Retry when no user message exists.
	ErrNothingToRetry = errors.New("no user message to retry")
)

// TurnError is the error the server reported for a turn.
type TurnError struct {
	Message string
}

func (e *TurnError) Error() string { return e.Message }

// Snapshot is a consistent copy of the session for rendering.
type Snapshot struct {
	Messages []types.Message
	Status   types.ChatStatus
	Err      error
}

// Options configures a Session.
type Options struct {
	// FlushInterval is how long updates are coalesced before OnUpdate runs.
	FlushInterval time.Duration
	// OnUpdate receives snapshots as the session changes. Terminal states
	// are delivered without delay. It must not call Send, Stop or Retry.
	OnUpdate func(Snapshot)
}

// Session holds one conversation and runs at most one turn at a time.
type Session struct {
	opener Opener
	sched  *Scheduler[Snapshot]

	// pubMu orders snapshot publication with respect to state changes.
	pubMu sync.Mutex

	mu       sync.Mutex
	messages []types.Message
	status   types.ChatStatus
	err      error
	// gen identifies the current turn. Stop and Retry advance it so a
	// superseded read loop can no longer mutate the session.
	gen    uint64
	open   int
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSession creates an idle session that opens turns with opener.
func NewSession(opener Opener, opts Options) *Session {
	s := &Session{
		opener: opener,
		status: types.StatusReady,
		open:   -1,
	}
	if opts.OnUpdate != nil {
		s.sched = NewScheduler(opts.FlushInterval, opts.OnUpdate)
	}
	return s
}

// Send appends a user message and starts a turn. It is rejected with
// ErrBusy while a turn is in flight.
func (s *Session) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.status.Busy() {
		s.mu.Unlock()
		return ErrBusy
	}
	s.startLocked(text)
	s.mu.Unlock()

	s.publish(true)
	return nil
}

// Stop aborts the in-flight turn. The partial assistant message is kept and
// the session returns to ready without recording an error.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.status.Busy() {
		s.mu.Unlock()
		return
	}
	s.abortLocked()
	s.status = types.StatusReady
	s.err = nil
	s.mu.Unlock()

	slog.Debug("turn stopped")
	s.publish(true)
}

// Retry discards the most recent user message and everything after it, then
// sends that message again. An in-flight turn is stopped first.
func (s *Session) Retry() error {
	s.mu.Lock()
	last := -1
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == types.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		s.mu.Unlock()
		return ErrNothingToRetry
	}
	if s.status.Busy() {
		s.abortLocked()
	}
	text := s.messages[last].Text()
	s.messages = s.messages[:last]
	s.startLocked(text)
	s.mu.Unlock()

	s.publish(true)
	return nil
}

// Regenerate is Retry under the name chat UIs use for it.
func (s *Session) Regenerate() error {
	return s.Retry()
}

// Wait blocks until the current turn's read loop has exited or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops any turn and any pending update delivery.
func (s *Session) Close() {
	s.Stop()
	if s.sched != nil {
		s.sched.Stop()
	}
}

// Messages returns a copy of the conversation.
func (s *Session) Messages() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messagesLocked()
}

// Status returns the lifecycle state.
func (s *Session) Status() types.ChatStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Err returns the error of the last failed turn, if the session is in the
// error state.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) messagesLocked() []types.Message {
	out := make([]types.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{Messages: s.messagesLocked(), Status: s.status, Err: s.err}
}

// startLocked appends the user message and launches a read loop for a new
// turn generation.
func (s *Session) startLocked(text string) {
	s.messages = append(s.messages, types.NewUserMessage(text))
	s.status = types.StatusSubmitted
	s.err = nil
	s.gen++
	s.open = -1

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	history := s.messagesLocked()
	go s.run(ctx, cancel, s.gen, history, s.done)
}

// abortLocked cancels the current turn and closes its running tool parts.
func (s *Session) abortLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.open >= 0 && s.open < len(s.messages) {
		msg := s.messages[s.open].Clone()
		closeRunning(&msg, stoppedToolText)
		s.messages[s.open] = msg
	}
	s.open = -1
}

func (s *Session) publish(terminal bool) {
	if s.sched == nil {
		return
	}
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	snap := s.Snapshot()
	if terminal {
		s.sched.Flush(snap)
	} else {
		s.sched.Update(snap)
	}
}

// run reads one turn. Every mutation happens under s.mu after checking
// that gen is still current, so nothing changes once the turn is stopped.
func (s *Session) run(ctx context.Context, cancel context.CancelFunc, gen uint64, history []types.Message, done chan struct{}) {
	defer close(done)
	defer cancel()
	defer func() {
		s.mu.Lock()
		if s.gen == gen {
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	es, err := s.opener.Open(ctx, history)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("chat request failed", "error", err)
		}
		s.end(gen, nil, err)
		return
	}
	defer es.Close()

	asm := NewAssembly()
	asm.Message.CreatedAt = time.Now()
	for {
		ev, err := es.Next()
		if errors.Is(err, io.EOF) {
			s.end(gen, &asm, nil)
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("chat stream broken", "error", err)
			asm = Fail(asm, fmt.Sprintf("connection lost: %v", err))
			s.end(gen, &asm, err)
			return
		}

		next := Fold(asm, ev)
		if !s.apply(gen, asm, &next, ev) {
			return
		}
		asm = next
		if asm.Done {
			s.end(gen, &asm, nil)
			return
		}
	}
}

// apply commits one folded event. It reports false once the turn has been
// superseded.
func (s *Session) apply(gen uint64, prev Assembly, next *Assembly, ev stream.Event) bool {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return false
	}
	if next.Started {
		if s.open < 0 {
			if next.Message.ID == "" {
				next.Message.ID = types.NewMessageID()
			}
			s.messages = append(s.messages, next.Message)
			s.open = len(s.messages) - 1
		} else {
			s.messages[s.open] = next.Message
		}
	}
	if !prev.Started && next.Started && s.status == types.StatusSubmitted {
		s.status = types.StatusStreaming
	}
	changed := next.Started && ev.Type != stream.EventMessageStart
	s.mu.Unlock()

	if changed && !next.Done {
		s.publish(false)
	}
	return true
}

// end closes the turn. asm is nil when no response was received; err is
// the transport failure if any.
func (s *Session) end(gen uint64, asm *Assembly, err error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	if asm != nil {
		final := Freeze(*asm)
		if final.Started && s.open >= 0 {
			s.messages[s.open] = final.Message
		} else if final.Started {
			s.messages = append(s.messages, final.Message)
		}
		if final.Failed && err == nil {
			err = &TurnError{Message: final.Message.Error}
		}
	}
	s.open = -1
	if err != nil {
		s.status = types.StatusError
		s.err = err
	} else {
		s.status = types.StatusReady
		s.err = nil
	}
	s.mu.Unlock()

	s.publish(true)
}
