// Package console opens the sink that receives diagnostic output from
// interrupt context.
package console

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

var ErrSpec = errors.New("console: bad sink spec")

// Open opens a sink described by spec:
//
//	stdout
//	stderr
//	file:PATH        append to PATH, creating it if needed
//	vsock:CID:PORT   connect to a vsock listener, e.g. vsock:2:1024 for the host
func Open(spec string) (io.WriteCloser, error) {
	kind, arg, _ := strings.Cut(spec, ":")
	switch kind {
	case "", "stdout":
		return nopCloser{os.Stdout}, nil

	case "stderr":
		return nopCloser{os.Stderr}, nil

	case "file":
		if arg == "" {
			return nil, fmt.Errorf("%w: %q: missing path", ErrSpec, spec)
		}

		f, err := os.OpenFile(arg, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}

		return f, nil

	case "vsock":
		cid, port, err := parseVsock(arg)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrSpec, spec, err)
		}

		conn, err := vsock.Dial(cid, port, nil)
		if err != nil {
			return nil, err
		}

		return conn, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrSpec, spec)
	}
}

// NewLogger returns a text logger writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseVsock(arg string) (cid, port uint32, err error) {
	c, p, ok := strings.Cut(arg, ":")
	if !ok {
		return 0, 0, errors.New("want CID:PORT")
	}

	cid64, err := strconv.ParseUint(c, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("cid: %w", err)
	}

	port64, err := strconv.ParseUint(p, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("port: %w", err)
	}

	return uint32(cid64), uint32(port64), nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
