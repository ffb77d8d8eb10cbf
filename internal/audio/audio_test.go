package audio

import (
	"math"
	"testing"
)

func TestFromPCM_Duration(t *testing.T) {
	// 3 seconds of 16kHz mono 16-bit PCM
	frames := make([]byte, 16000*2*3)
	a, err := FromPCM(frames, 16000, 1)
	if err != nil {
		t.Fatalf("FromPCM: %v", err)
	}

	if a.Format != FormatWAV {
		t.Errorf("Format = %q, want %q", a.Format, FormatWAV)
	}
	if math.Abs(a.Duration-3.0) > 1e-9 {
		t.Errorf("Duration = %v, want 3.0", a.Duration)
	}
	if a.SampleRate != 16000 || a.Channels != 1 {
		t.Errorf("rate/channels = %d/%d, want 16000/1", a.SampleRate, a.Channels)
	}
}

func TestFromPCM_Empty(t *testing.T) {
	if _, err := FromPCM(nil, 16000, 1); err == nil {
		t.Error("expected error for empty frames, got nil")
	}
}

func TestFromWAV_RoundTrip(t *testing.T) {
	frames := make([]byte, 8000*2) // 0.5s at 16kHz mono
	data := EncodeWAV(frames, 16000, 1)

	a, err := FromWAV(data)
	if err != nil {
		t.Fatalf("FromWAV: %v", err)
	}
	if a.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", a.SampleRate)
	}
	if a.Channels != 1 {
		t.Errorf("Channels = %d, want 1", a.Channels)
	}
	if math.Abs(a.Duration-0.5) > 1e-9 {
		t.Errorf("Duration = %v, want 0.5", a.Duration)
	}
}

func TestFromWAV_ZeroData(t *testing.T) {
	data := EncodeWAV(nil, 16000, 1)
	a, err := FromWAV(data)
	if err != nil {
		t.Fatalf("FromWAV: %v", err)
	}
	if a.Duration != 0 {
		t.Errorf("Duration = %v, want 0", a.Duration)
	}
}

func TestFromWAV_Invalid(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"too short": []byte("RIFF"),
		"not riff":  make([]byte, 64),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromWAV(data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
