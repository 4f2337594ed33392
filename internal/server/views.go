package server

import (
	"time"

	"github.com/fpang/pro-headshot/internal/session"
)

// sessionView is the JSON form of a session snapshot. Images are data URLs
// so a browser can render them directly.
type sessionView struct {
	ID             string        `json:"id"`
	State          session.State `json:"state"`
	OriginalImage  string        `json:"originalImage,omitempty"`
	GeneratedImage string        `json:"generatedImage,omitempty"`
	Versions       int           `json:"versions"`
	StyleID        string        `json:"styleId,omitempty"`
	Error          string        `json:"error,omitempty"`
	Busy           bool          `json:"busy"`
	Epoch          uint64        `json:"epoch"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

func newSessionView(snap session.Snapshot) sessionView {
	v := sessionView{
		ID:        snap.ID,
		State:     snap.State,
		Versions:  len(snap.History),
		StyleID:   snap.StyleID,
		Error:     snap.Error,
		Busy:      snap.Busy,
		Epoch:     snap.Epoch,
		UpdatedAt: snap.UpdatedAt,
	}
	if snap.Original != nil {
		v.OriginalImage = snap.Original.String()
	}
	if snap.Generated != nil {
		v.GeneratedImage = snap.Generated.String()
	}
	return v
}
