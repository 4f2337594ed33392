// Package session implements the headshot workflow state machine and the
// in-memory registry of live sessions.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/fpang/pro-headshot/internal/media"
)

// State is a step of the headshot workflow.
type State int

const (
	StateUpload State = iota
	StateStyleSelection
	StateProcessing
	StateResult
	// StateError is part of the vocabulary but never entered: failures are
	// reported through Snapshot.Error while the workflow returns to the
	// previous interactive state.
	StateError
)

var stateNames = map[State]string{
	StateUpload:         "UPLOAD",
	StateStyleSelection: "STYLE_SELECT",
	StateProcessing:     "PROCESSING",
	StateResult:         "RESULT",
	StateError:          "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st, name := range stateNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// Snapshot is an immutable view of one session. Every transition replaces
// the machine's snapshot wholesale; values handed out must be treated as
// read-only.
type Snapshot struct {
	ID        string
	State     State
	Original  *media.EncodedImage
	Generated *media.EncodedImage
	// History holds every generated version, oldest first.
	History   []media.EncodedImage
	Error     string
	Busy      bool
	StyleID   string
	Epoch     uint64
	UpdatedAt time.Time
}

// TransitionError reports an operation that is not legal in the current state.
type TransitionError struct {
	From State
	Op   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s while in state %s", e.Op, e.From)
}

var (
	// ErrEmptyInstruction rejects a blank edit instruction.
	ErrEmptyInstruction = errors.New("edit instruction must not be empty")
	// ErrEmptyImage rejects an upload without image data.
	ErrEmptyImage = errors.New("image must not be empty")
	// ErrNoGeneratedImage is returned by Download before any headshot exists.
	ErrNoGeneratedImage = errors.New("no generated headshot to download")
	// ErrSuperseded is returned when a completion arrives after a reset, a
	// new upload, or a newer request, and is discarded.
	ErrSuperseded = errors.New("request superseded by a newer action")
)

// IsTransitionError reports whether err is a *TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
