package session

import "errors"

// ErrNoSpeech is reported by a recognizer when the engine gave up waiting for
// speech. The capture session restarts the channel instead of surfacing it.
var ErrNoSpeech = errors.New("no speech detected")

// ErrNotListening is returned when audio is written to an idle capture.
var ErrNotListening = errors.New("capture is not listening")
