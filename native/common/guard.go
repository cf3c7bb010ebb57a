package common

import "errors"

// ErrProtocolPaused is returned when a guarded module has been halted by the
// pause authority.
var ErrProtocolPaused = errors.New("protocol paused")

// PauseView reports whether a module's state-mutating flows are halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused. A nil view means pausing
// is not wired and the call proceeds.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrProtocolPaused
	}
	return nil
}
