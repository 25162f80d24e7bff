package renderer

import (
	"io"
	"testing"

	"alertd/internal/alert"
)

func TestTonesForFallsBackToAlarm(t *testing.T) {
	t.Parallel()
	tones := DefaultTones()
	for _, typ := range []alert.Type{alert.TypeAlarm, alert.TypeTimer, alert.TypeReminder} {
		ts := tones.For(typ)
		if ts.Default == nil || ts.Short == nil {
			t.Fatalf("type %v is missing a tone", typ)
		}
	}
	unknown := tones.For(alert.Type(99))
	if unknown.Default == nil {
		t.Fatal("unknown type did not fall back to the alarm tone")
	}
}

func TestToneFactoryReturnsFreshStream(t *testing.T) {
	t.Parallel()
	ts := DefaultTones().For(alert.TypeTimer)
	rc, mime := ts.Default()
	defer rc.Close()
	if mime == "" {
		t.Fatal("tone has no MIME type")
	}
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read tone: %v", err)
	}
	if len(b) == 0 {
		t.Fatal("tone stream is empty")
	}
}
