package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/fpang/pro-headshot/internal/gemini"
	"github.com/fpang/pro-headshot/internal/media"
	"github.com/fpang/pro-headshot/internal/styles"
)

var (
	selfie    = media.New(media.MIMEJPEG, []byte("selfie"))
	headshot1 = media.New(media.MIMEPNG, []byte("headshot-1"))
	headshot2 = media.New(media.MIMEPNG, []byte("headshot-2"))
	corporate = styles.Preset{ID: "corporate", Name: "Corporate Executive", PromptModifier: "neutral grey studio background"}
)

type call struct {
	op     string
	source media.EncodedImage
	text   string
}

// scriptedGenerator returns queued results in order and records calls.
type scriptedGenerator struct {
	mu      sync.Mutex
	results []gemini.Result
	calls   []call
}

func (g *scriptedGenerator) next(op string, source media.EncodedImage, text string) gemini.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{op: op, source: source, text: text})
	if len(g.results) == 0 {
		return gemini.Failure{Reason: "no scripted result"}
	}
	r := g.results[0]
	g.results = g.results[1:]
	return r
}

func (g *scriptedGenerator) Generate(_ context.Context, source media.EncodedImage, prompt string) gemini.Result {
	return g.next("generate", source, prompt)
}

func (g *scriptedGenerator) Edit(_ context.Context, source media.EncodedImage, instruction string) gemini.Result {
	return g.next("edit", source, instruction)
}

func newMachine(results ...gemini.Result) (*Machine, *scriptedGenerator) {
	gen := &scriptedGenerator{results: results}
	return NewMachine("s1", gen), gen
}

func mustAccept(t *testing.T, m *Machine) {
	t.Helper()
	if _, err := m.AcceptImage(selfie); err != nil {
		t.Fatalf("AcceptImage: %v", err)
	}
}

func TestHappyPath(t *testing.T) {
	m, gen := newMachine(gemini.Success{Image: headshot1})

	snap := m.Snapshot()
	if snap.State != StateUpload {
		t.Fatalf("initial state = %v, want UPLOAD", snap.State)
	}

	snap, err := m.AcceptImage(selfie)
	if err != nil {
		t.Fatalf("AcceptImage: %v", err)
	}
	if snap.State != StateStyleSelection || snap.Original == nil {
		t.Fatalf("after upload: state=%v original=%v", snap.State, snap.Original)
	}

	snap, err = m.SelectStyle(context.Background(), corporate)
	if err != nil {
		t.Fatalf("SelectStyle: %v", err)
	}
	if snap.State != StateResult {
		t.Errorf("state = %v, want RESULT", snap.State)
	}
	if snap.Busy || snap.Error != "" {
		t.Errorf("busy=%v error=%q, want idle without error", snap.Busy, snap.Error)
	}
	if diff := cmp.Diff(&headshot1, snap.Generated); diff != "" {
		t.Errorf("generated mismatch (-want +got):\n%s", diff)
	}
	if snap.StyleID != "corporate" {
		t.Errorf("StyleID = %q", snap.StyleID)
	}

	want := []call{{op: "generate", source: selfie, text: "neutral grey studio background"}}
	if diff := cmp.Diff(want, gen.calls, cmp.AllowUnexported(call{})); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateFailureReturnsToStyleSelection(t *testing.T) {
	refusal := "Model returned text instead of image: I can't help with that request."
	m, _ := newMachine(gemini.Failure{Reason: refusal, Cause: gemini.CauseTextInsteadOfImage})
	mustAccept(t, m)

	snap, err := m.SelectStyle(context.Background(), corporate)
	if err != nil {
		t.Fatalf("SelectStyle: %v", err)
	}
	if snap.State != StateStyleSelection {
		t.Errorf("state = %v, want STYLE_SELECT", snap.State)
	}
	if snap.Error != refusal {
		t.Errorf("Error = %q, want %q", snap.Error, refusal)
	}
	if snap.Generated != nil {
		t.Error("generated should stay empty after a failed generation")
	}
	if snap.Busy {
		t.Error("busy should be cleared")
	}

	snap = m.DismissError()
	if snap.Error != "" || snap.State != StateStyleSelection {
		t.Errorf("after dismiss: state=%v error=%q", snap.State, snap.Error)
	}
}

func TestEditTargetsGeneratedImage(t *testing.T) {
	m, gen := newMachine(
		gemini.Success{Image: headshot1},
		gemini.Success{Image: headshot2},
	)
	mustAccept(t, m)
	if _, err := m.SelectStyle(context.Background(), corporate); err != nil {
		t.Fatal(err)
	}

	snap, err := m.Edit(context.Background(), "  Remove glasses  ")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if snap.State != StateResult {
		t.Errorf("state = %v, want RESULT", snap.State)
	}
	if diff := cmp.Diff(&headshot2, snap.Generated); diff != "" {
		t.Errorf("generated mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]media.EncodedImage{headshot1, headshot2}, snap.History); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	edit := gen.calls[1]
	if edit.op != "edit" || edit.text != "  Remove glasses  " {
		t.Errorf("instruction should reach the generator as typed, got %+v", edit)
	}
	if diff := cmp.Diff(headshot1, edit.source); diff != "" {
		t.Errorf("edit should target the generated image (-want +got):\n%s", diff)
	}
}

func TestEditFailureKeepsGeneratedImage(t *testing.T) {
	m, _ := newMachine(
		gemini.Success{Image: headshot1},
		gemini.Failure{Reason: "Resource has been exhausted", Cause: gemini.CauseTransport},
	)
	mustAccept(t, m)
	if _, err := m.SelectStyle(context.Background(), corporate); err != nil {
		t.Fatal(err)
	}

	snap, err := m.Edit(context.Background(), "Add a retro filter")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if snap.State != StateResult || snap.Error != "Resource has been exhausted" {
		t.Errorf("state=%v error=%q", snap.State, snap.Error)
	}
	if diff := cmp.Diff(&headshot1, snap.Generated); diff != "" {
		t.Errorf("generated should be unchanged (-want +got):\n%s", diff)
	}
	if len(snap.History) != 1 {
		t.Errorf("history length = %d, want 1", len(snap.History))
	}
}

func TestEditRejectsBlankInstruction(t *testing.T) {
	m, gen := newMachine(gemini.Success{Image: headshot1})
	mustAccept(t, m)
	if _, err := m.SelectStyle(context.Background(), corporate); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Edit(context.Background(), "   "); !errors.Is(err, ErrEmptyInstruction) {
		t.Errorf("expected ErrEmptyInstruction, got %v", err)
	}
	if len(gen.calls) != 1 {
		t.Errorf("generator called %d times, want 1", len(gen.calls))
	}
}

func TestResetFromEveryState(t *testing.T) {
	setups := map[string]func(*testing.T, *Machine){
		"upload": func(*testing.T, *Machine) {},
		"style selection": func(t *testing.T, m *Machine) {
			mustAccept(t, m)
		},
		"result": func(t *testing.T, m *Machine) {
			mustAccept(t, m)
			if _, err := m.SelectStyle(context.Background(), corporate); err != nil {
				t.Fatal(err)
			}
		},
		"style selection with error": func(t *testing.T, m *Machine) {
			mustAccept(t, m)
			m.gen.(*scriptedGenerator).results = []gemini.Result{gemini.Failure{Reason: "boom"}}
			if _, err := m.SelectStyle(context.Background(), corporate); err != nil {
				t.Fatal(err)
			}
		},
	}

	for name, setup := range setups {
		t.Run(name, func(t *testing.T) {
			m, _ := newMachine(gemini.Success{Image: headshot1})
			setup(t, m)
			before := m.Snapshot().Epoch

			snap := m.Reset()
			if snap.State != StateUpload || snap.Original != nil || snap.Generated != nil || snap.Error != "" {
				t.Errorf("Reset() = {%v %v %v %q}, want {UPLOAD nil nil \"\"}",
					snap.State, snap.Original, snap.Generated, snap.Error)
			}
			if len(snap.History) != 0 || snap.Busy {
				t.Errorf("history=%d busy=%v, want cleared", len(snap.History), snap.Busy)
			}
			if snap.Epoch != before+1 {
				t.Errorf("Epoch = %d, want %d", snap.Epoch, before+1)
			}
			if snap.ID != "s1" {
				t.Errorf("ID = %q, want s1", snap.ID)
			}
		})
	}
}

func TestIllegalTransitions(t *testing.T) {
	m, gen := newMachine()

	if _, err := m.SelectStyle(context.Background(), corporate); !IsTransitionError(err) {
		t.Errorf("SelectStyle in UPLOAD: expected TransitionError, got %v", err)
	}
	if _, err := m.Edit(context.Background(), "x"); !IsTransitionError(err) {
		t.Errorf("Edit in UPLOAD: expected TransitionError, got %v", err)
	}
	if _, err := m.Back(); !IsTransitionError(err) {
		t.Errorf("Back in UPLOAD: expected TransitionError, got %v", err)
	}
	if _, _, err := m.Download(time.Now()); !errors.Is(err, ErrNoGeneratedImage) {
		t.Errorf("Download without image: expected ErrNoGeneratedImage, got %v", err)
	}
	if _, err := m.AcceptImage(media.EncodedImage{}); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("AcceptImage(empty): expected ErrEmptyImage, got %v", err)
	}

	mustAccept(t, m)
	_, err := m.AcceptImage(selfie)
	var te *TransitionError
	if !errors.As(err, &te) || te.From != StateStyleSelection {
		t.Errorf("second upload: expected TransitionError from STYLE_SELECT, got %v", err)
	}
	if len(gen.calls) != 0 {
		t.Errorf("generator should not be called, got %d calls", len(gen.calls))
	}
}

func TestBackKeepsOriginal(t *testing.T) {
	m, _ := newMachine()
	mustAccept(t, m)

	snap, err := m.Back()
	if err != nil {
		t.Fatalf("Back: %v", err)
	}
	if snap.State != StateUpload || snap.Original == nil {
		t.Errorf("state=%v original=%v, want UPLOAD with original kept", snap.State, snap.Original)
	}
}

func TestDownload(t *testing.T) {
	m, _ := newMachine(gemini.Success{Image: headshot1})
	mustAccept(t, m)
	if _, err := m.SelectStyle(context.Background(), corporate); err != nil {
		t.Fatal(err)
	}

	now := time.UnixMilli(1700000000123)
	name, img, err := m.Download(now)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if name != "pro-headshot-1700000000123.png" {
		t.Errorf("filename = %q", name)
	}
	if diff := cmp.Diff(headshot1, img); diff != "" {
		t.Errorf("image mismatch (-want +got):\n%s", diff)
	}
}

type panickingGenerator struct{}

func (panickingGenerator) Generate(context.Context, media.EncodedImage, string) gemini.Result {
	panic("nil map")
}

func (panickingGenerator) Edit(context.Context, media.EncodedImage, string) gemini.Result {
	panic("nil map")
}

func TestGeneratorPanicIsRecovered(t *testing.T) {
	m := NewMachine("s1", panickingGenerator{})
	mustAccept(t, m)

	snap, err := m.SelectStyle(context.Background(), corporate)
	if err != nil {
		t.Fatalf("SelectStyle: %v", err)
	}
	if snap.State != StateStyleSelection || snap.Error != MsgUnexpectedGenerate {
		t.Errorf("state=%v error=%q", snap.State, snap.Error)
	}
}

func TestEditPanicIsRecovered(t *testing.T) {
	m, _ := newMachine(gemini.Success{Image: headshot1})
	mustAccept(t, m)
	if _, err := m.SelectStyle(context.Background(), corporate); err != nil {
		t.Fatal(err)
	}
	m.gen = panickingGenerator{}

	snap, err := m.Edit(context.Background(), "Remove glasses")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if snap.Error != MsgUnexpectedEdit {
		t.Errorf("Error = %q, want %q", snap.Error, MsgUnexpectedEdit)
	}
	if diff := cmp.Diff(&headshot1, snap.Generated); diff != "" {
		t.Errorf("generated should be unchanged (-want +got):\n%s", diff)
	}
}

// blockingGenerator parks each call until its result is released.
type blockingGenerator struct {
	started chan struct{}
	release chan gemini.Result
}

func newBlockingGenerator() *blockingGenerator {
	return &blockingGenerator{started: make(chan struct{}, 4), release: make(chan gemini.Result)}
}

func (g *blockingGenerator) Generate(context.Context, media.EncodedImage, string) gemini.Result {
	g.started <- struct{}{}
	return <-g.release
}

func (g *blockingGenerator) Edit(context.Context, media.EncodedImage, string) gemini.Result {
	g.started <- struct{}{}
	return <-g.release
}

func TestStaleCompletionAfterResetIsDiscarded(t *testing.T) {
	gen := newBlockingGenerator()
	m := NewMachine("s1", gen)
	mustAccept(t, m)

	type outcome struct {
		snap Snapshot
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		snap, err := m.SelectStyle(context.Background(), corporate)
		done <- outcome{snap, err}
	}()

	<-gen.started
	if got := m.Snapshot(); got.State != StateProcessing || !got.Busy {
		t.Fatalf("in flight: state=%v busy=%v, want PROCESSING busy", got.State, got.Busy)
	}

	m.Reset()
	gen.release <- gemini.Success{Image: headshot1}

	out := <-done
	if !errors.Is(out.err, ErrSuperseded) {
		t.Errorf("expected ErrSuperseded, got %v", out.err)
	}
	snap := m.Snapshot()
	if snap.State != StateUpload || snap.Generated != nil || snap.Original != nil {
		t.Errorf("stale result leaked: state=%v generated=%v", snap.State, snap.Generated)
	}
}

func TestNewerEditWins(t *testing.T) {
	gen := newBlockingGenerator()
	m := NewMachine("s1", gen)
	mustAccept(t, m)

	go m.SelectStyle(context.Background(), corporate)
	<-gen.started
	gen.release <- gemini.Success{Image: headshot1}
	waitFor(t, func() bool { return m.Snapshot().State == StateResult })

	first := make(chan error, 1)
	go func() {
		_, err := m.Edit(context.Background(), "first")
		first <- err
	}()
	<-gen.started

	second := make(chan error, 1)
	go func() {
		_, err := m.Edit(context.Background(), "second")
		second <- err
	}()
	<-gen.started

	// Both calls are parked; whichever reads first gets headshot2.
	gen.release <- gemini.Success{Image: headshot2}
	gen.release <- gemini.Success{Image: headshot2}

	errs := []error{<-first, <-second}
	if !errors.Is(errs[0], ErrSuperseded) {
		t.Errorf("older edit: expected ErrSuperseded, got %v", errs[0])
	}
	if errs[1] != nil {
		t.Errorf("newer edit: unexpected error %v", errs[1])
	}

	snap := m.Snapshot()
	if snap.Busy {
		t.Error("busy should be cleared once the newest edit completes")
	}
	if len(snap.History) != 2 {
		t.Errorf("history length = %d, want 2", len(snap.History))
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestStateString(t *testing.T) {
	text, err := StateStyleSelection.MarshalText()
	if err != nil || string(text) != "STYLE_SELECT" {
		t.Errorf("MarshalText() = %q, %v", text, err)
	}
	if State(99).String() != "State(99)" {
		t.Errorf("unknown state String() = %q", State(99).String())
	}
}

func TestStateUnmarshalText(t *testing.T) {
	var s State
	if err := s.UnmarshalText([]byte("RESULT")); err != nil || s != StateResult {
		t.Errorf("UnmarshalText(RESULT) = %s, %v", s, err)
	}
	if err := s.UnmarshalText([]byte("DONE")); err == nil {
		t.Error("expected error for unknown state name")
	}
}
