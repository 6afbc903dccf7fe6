package console_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/c35s/pirq/console"
)

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.log")

	for i := 0; i < 2; i++ {
		w, err := console.Open("file:" + path)
		if err != nil {
			t.Fatal(err)
		}

		log := console.NewLogger(w, slog.LevelInfo)
		log.Info("irq: spurious wake", "n", i)
		log.Debug("hidden")

		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// the sink appends
	if n := strings.Count(string(b), "spurious wake"); n != 2 {
		t.Errorf("got %d lines:\n%s", n, b)
	}

	if strings.Contains(string(b), "hidden") {
		t.Error("debug line written at info level")
	}
}

func TestOpenStd(t *testing.T) {
	for _, spec := range []string{"", "stdout", "stderr"} {
		w, err := console.Open(spec)
		if err != nil {
			t.Fatalf("%q: %v", spec, err)
		}

		// closing a standard stream must not close it
		if err := w.Close(); err != nil {
			t.Errorf("%q: close: %v", spec, err)
		}
	}

	if _, err := os.Stdout.Stat(); err != nil {
		t.Errorf("stdout closed: %v", err)
	}
}

func TestOpenBadSpec(t *testing.T) {
	for _, spec := range []string{
		"file:",
		"vsock:2",
		"vsock:x:1024",
		"vsock:2:99999999999",
		"tcp:localhost:80",
	} {
		if _, err := console.Open(spec); !errors.Is(err, console.ErrSpec) {
			t.Errorf("%q: got %v, want ErrSpec", spec, err)
		}
	}
}
