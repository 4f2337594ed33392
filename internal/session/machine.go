package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/pro-headshot/internal/gemini"
	"github.com/fpang/pro-headshot/internal/media"
	"github.com/fpang/pro-headshot/internal/styles"
)

// Messages recorded when the generator panics.
const (
	MsgUnexpectedGenerate = "An unexpected error occurred"
	MsgUnexpectedEdit     = "An unexpected error occurred during editing"
)

// Generator produces headshots. *gemini.Adapter satisfies it.
type Generator interface {
	Generate(ctx context.Context, source media.EncodedImage, stylePrompt string) gemini.Result
	Edit(ctx context.Context, source media.EncodedImage, editInstruction string) gemini.Result
}

// Machine drives one session through
// UPLOAD -> STYLE_SELECT -> PROCESSING -> RESULT.
//
// State mutation is serialized, but the lock is never held while the
// generator runs. Every dispatch records the session epoch and a sequence
// number; a completion is applied only if both are still current, so a
// reset, a new upload, or a newer request discards older results.
type Machine struct {
	gen Generator
	now func() time.Time

	mu   sync.Mutex
	snap Snapshot
	seq  uint64
}

// Option customizes a Machine.
type Option func(*Machine)

// WithClock overrides time.Now for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine creates a machine in the UPLOAD state.
func NewMachine(id string, gen Generator, opts ...Option) *Machine {
	m := &Machine{gen: gen, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	m.snap = Snapshot{ID: id, State: StateUpload, UpdatedAt: m.now()}
	return m
}

// Snapshot returns the current session record.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// commit replaces the snapshot. Callers hold m.mu.
func (m *Machine) commit(next Snapshot) Snapshot {
	next.UpdatedAt = m.now()
	m.snap = next
	return next
}

// AcceptImage stores a preprocessed upload and moves to STYLE_SELECT.
// Anything still in flight is superseded.
func (m *Machine) AcceptImage(img media.EncodedImage) (Snapshot, error) {
	if img.IsZero() {
		return m.Snapshot(), ErrEmptyImage
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.State != StateUpload {
		return m.snap, &TransitionError{From: m.snap.State, Op: "upload"}
	}

	next := m.snap
	original := img.Clone()
	next.Original = &original
	next.State = StateStyleSelection
	next.Error = ""
	next.Busy = false
	next.Epoch++
	return m.commit(next), nil
}

// Back returns from STYLE_SELECT to UPLOAD. The original image is kept.
func (m *Machine) Back() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.State != StateStyleSelection {
		return m.snap, &TransitionError{From: m.snap.State, Op: "go back"}
	}
	next := m.snap
	next.State = StateUpload
	return m.commit(next), nil
}

// Reset returns to UPLOAD from any state, clearing every image and error.
func (m *Machine) Reset() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commit(Snapshot{
		ID:    m.snap.ID,
		State: StateUpload,
		Epoch: m.snap.Epoch + 1,
	})
}

// DismissError clears the error message.
func (m *Machine) DismissError() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Error == "" {
		return m.snap
	}
	next := m.snap
	next.Error = ""
	return m.commit(next)
}

// SelectStyle generates a headshot of the original image in the given
// style. It blocks until the generator returns and yields the resulting
// snapshot: RESULT on success, STYLE_SELECT with Error set on failure.
func (m *Machine) SelectStyle(ctx context.Context, preset styles.Preset) (Snapshot, error) {
	m.mu.Lock()
	if m.snap.State != StateStyleSelection {
		defer m.mu.Unlock()
		return m.snap, &TransitionError{From: m.snap.State, Op: "select a style"}
	}
	if m.snap.Original == nil {
		defer m.mu.Unlock()
		return m.snap, ErrEmptyImage
	}

	next := m.snap
	next.State = StateProcessing
	next.Busy = true
	next.Error = ""
	next.StyleID = preset.ID
	m.commit(next)
	source := *next.Original
	d := m.dispatchLocked()
	m.mu.Unlock()

	log.Info().Str("session", next.ID).Str("style", preset.ID).Uint64("epoch", d.epoch).Msg("Generating headshot")
	res := m.invoke(MsgUnexpectedGenerate, func() gemini.Result {
		return m.gen.Generate(ctx, source, preset.PromptModifier)
	})

	return m.complete(d, "generate", func(cur Snapshot) Snapshot {
		cur.Busy = false
		switch r := res.(type) {
		case gemini.Success:
			cur.State = StateResult
			cur = withGenerated(cur, r.Image)
		case gemini.Failure:
			cur.State = StateStyleSelection
			cur.Error = r.Reason
		}
		return cur
	})
}

// Edit applies a free-text instruction to the current headshot (or the
// original when none exists yet). The session stays in RESULT; on failure
// the previous headshot is kept and Error is set.
func (m *Machine) Edit(ctx context.Context, instruction string) (Snapshot, error) {
	if strings.TrimSpace(instruction) == "" {
		return m.Snapshot(), ErrEmptyInstruction
	}

	m.mu.Lock()
	if m.snap.State != StateResult {
		defer m.mu.Unlock()
		return m.snap, &TransitionError{From: m.snap.State, Op: "edit"}
	}
	var source media.EncodedImage
	switch {
	case m.snap.Generated != nil:
		source = *m.snap.Generated
	case m.snap.Original != nil:
		source = *m.snap.Original
	default:
		defer m.mu.Unlock()
		return m.snap, ErrEmptyImage
	}

	next := m.snap
	next.Busy = true
	next.Error = ""
	m.commit(next)
	d := m.dispatchLocked()
	m.mu.Unlock()

	log.Info().Str("session", next.ID).Int("instruction_len", len(instruction)).Uint64("epoch", d.epoch).Msg("Editing headshot")
	res := m.invoke(MsgUnexpectedEdit, func() gemini.Result {
		return m.gen.Edit(ctx, source, instruction)
	})

	return m.complete(d, "edit", func(cur Snapshot) Snapshot {
		cur.Busy = false
		switch r := res.(type) {
		case gemini.Success:
			cur = withGenerated(cur, r.Image)
		case gemini.Failure:
			cur.Error = r.Reason
		}
		return cur
	})
}

// Download returns the file name and bytes of the current headshot.
func (m *Machine) Download(now time.Time) (string, media.EncodedImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snap.Generated == nil {
		return "", media.EncodedImage{}, ErrNoGeneratedImage
	}
	return DownloadFilename(now), m.snap.Generated.Clone(), nil
}

// DownloadFilename names a downloaded headshot after the download time.
func DownloadFilename(now time.Time) string {
	return fmt.Sprintf("pro-headshot-%d.png", now.UnixMilli())
}

type dispatch struct {
	epoch uint64
	seq   uint64
}

// dispatchLocked starts a new generator call. Callers hold m.mu.
func (m *Machine) dispatchLocked() dispatch {
	m.seq++
	return dispatch{epoch: m.snap.Epoch, seq: m.seq}
}

// complete applies a finished call if it is still the latest dispatch of
// the current epoch.
func (m *Machine) complete(d dispatch, op string, apply func(Snapshot) Snapshot) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.epoch != m.snap.Epoch || d.seq != m.seq {
		log.Info().
			Str("session", m.snap.ID).
			Str("op", op).
			Uint64("dispatch_epoch", d.epoch).
			Uint64("current_epoch", m.snap.Epoch).
			Uint64("dispatch_seq", d.seq).
			Uint64("current_seq", m.seq).
			Msg("Discarding stale completion")
		return m.snap, ErrSuperseded
	}
	return m.commit(apply(m.snap)), nil
}

// invoke runs the generator, converting a panic into a Failure.
func (m *Machine) invoke(panicMsg string, call func() gemini.Result) (res gemini.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Generator panicked")
			res = gemini.Failure{Reason: panicMsg}
		}
	}()
	res = call()
	if res == nil {
		res = gemini.Failure{Reason: panicMsg}
	}
	return res
}

func withGenerated(s Snapshot, img media.EncodedImage) Snapshot {
	generated := img.Clone()
	s.Generated = &generated
	history := make([]media.EncodedImage, len(s.History), len(s.History)+1)
	copy(history, s.History)
	s.History = append(history, generated)
	return s
}
