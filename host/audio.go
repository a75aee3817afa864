package host

import (
	"log/slog"

	"github.com/avolk/volknob/proto"
)

// AudioController is the system audio collaborator: volume, play/pause and
// track skipping. Platform bindings (CoreAudio, WASAPI, PulseAudio) live
// outside this module; the controller only consumes the interface.
type AudioController interface {
	Volume() (float64, error)
	SetVolume(level float64) error
	// TogglePlayback flips play/pause and reports the resulting state.
	TogglePlayback() (bool, error)
	Skip(forward bool) error
}

// AudioLevels supplies VU and spectrum frames captured from system audio
// output. Implementations return ok=false when no fresh frame is ready.
type AudioLevels interface {
	Levels() (left, right float64, ok bool)
	Spectrum() (left, right [proto.SpectrumBins]float64, ok bool)
}

// LoggingAudio is an AudioController that just remembers state and logs.
// Used for bring-up and on platforms without a real binding yet.
type LoggingAudio struct {
	level   float64
	playing bool
}

func NewLoggingAudio(initial float64) *LoggingAudio {
	return &LoggingAudio{level: initial}
}

func (a *LoggingAudio) Volume() (float64, error) {
	return a.level, nil
}

func (a *LoggingAudio) SetVolume(level float64) error {
	a.level = level
	slog.Info("Set volume", "level", level)
	return nil
}

func (a *LoggingAudio) TogglePlayback() (bool, error) {
	a.playing = !a.playing
	slog.Info("Toggled playback", "playing", a.playing)
	return a.playing, nil
}

func (a *LoggingAudio) Skip(forward bool) error {
	slog.Info("Skip track", "forward", forward)
	return nil
}
