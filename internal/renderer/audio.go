package renderer

import (
	"io"
	"strings"

	"alertd/internal/alert"
)

// AudioFactory produces a fresh stream of the built-in tone plus its MIME
// type. A factory is invoked once per rendering attempt so streams are
// never reused.
type AudioFactory func() (io.ReadCloser, string)

// ToneSet holds the two built-in sounds for one alert type: the full tone
// used in the foreground and the short tone looped in the background.
type ToneSet struct {
	Default AudioFactory
	Short   AudioFactory
}

// Tones maps alert types to their built-in sounds. Type behavior lives in
// this table rather than in subtypes; swapping a device's sound set is a
// data change.
type Tones map[alert.Type]ToneSet

// DefaultTones returns a placeholder tone table. Device integrations
// replace these factories with real embedded audio.
func DefaultTones() Tones {
	return Tones{
		alert.TypeAlarm:    {Default: beep("alarm"), Short: beep("alarm-short")},
		alert.TypeTimer:    {Default: beep("timer"), Short: beep("timer-short")},
		alert.TypeReminder: {Default: beep("reminder"), Short: beep("reminder-short")},
	}
}

// For returns the tone set for a type, falling back to the alarm sounds
// for anything unrecognized.
func (t Tones) For(typ alert.Type) ToneSet {
	if ts, ok := t[typ]; ok {
		return ts
	}
	return t[alert.TypeAlarm]
}

func beep(name string) AudioFactory {
	return func() (io.ReadCloser, string) {
		return io.NopCloser(strings.NewReader(name)), "audio/mpeg"
	}
}
