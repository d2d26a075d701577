package whisper_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/micscribe/pkg/audio"
	"github.com/MrWong99/micscribe/pkg/provider/stt"
	"github.com/MrWong99/micscribe/pkg/provider/stt/whisper"
)

// testModelPath returns the path to a whisper model for integration tests.
// It reads from the WHISPER_MODEL_PATH environment variable. If unset the
// test is skipped.
func testModelPath(t *testing.T) string {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	return p
}

func TestNewNative_EmptyPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("")
	if err == nil {
		t.Fatal("expected error for empty model path, got nil")
	}
}

func TestNewNative_InvalidPath_ReturnsError(t *testing.T) {
	_, err := whisper.NewNative("/nonexistent/path/to/model.bin")
	if err == nil {
		t.Fatal("expected error for invalid model path, got nil")
	}
}

func TestNative_Transcribe_Tone(t *testing.T) {
	modelPath := testModelPath(t)
	n, err := whisper.NewNative(modelPath, whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer n.Close()

	// One second of a 440 Hz tone: no speech, but decoding must succeed.
	pcm := make([]int16, 16000)
	for i := range pcm {
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	clip := filepath.Join(t.TempDir(), "tone.wav")
	if err := audio.WriteWAV(clip, pcm, 16000); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}

	res, err := n.Transcribe(context.Background(), clip, stt.DefaultConfig())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.LanguageProbability < 0 || res.LanguageProbability > 1 {
		t.Errorf("LanguageProbability = %v, want within [0, 1]", res.LanguageProbability)
	}
}

func TestNative_Transcribe_CancelledContext(t *testing.T) {
	modelPath := testModelPath(t)
	n, err := whisper.NewNative(modelPath)
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := n.Transcribe(ctx, "unused.wav", stt.DefaultConfig()); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
