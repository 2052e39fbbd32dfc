package cameras

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const maxFrameBytes = 8 << 20

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// Source yields encoded JPEG frames from one feed.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Opener connects to a feed.
type Opener interface {
	Open(ctx context.Context, url string) (Source, error)
}

// FFmpegOpener decodes feeds with an ffmpeg subprocess that writes MJPEG to
// stdout.
type FFmpegOpener struct {
	Path string
	FPS  int
}

// Open starts ffmpeg for url. The process dies with ctx.
func (o FFmpegOpener) Open(ctx context.Context, url string) (Source, error) {
	path := o.Path
	if path == "" {
		path = "ffmpeg"
	}
	fps := o.FPS
	if fps <= 0 {
		fps = 30
	}
	args := []string{"-hide_banner", "-loglevel", "error"}
	if strings.HasPrefix(url, "rtsp://") || strings.HasPrefix(url, "rtsps://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", url, "-an", "-r", strconv.Itoa(fps), "-f", "mjpeg", "-q:v", "3", "pipe:1")

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &limitedWriter{max: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 256<<10), maxFrameBytes)
	sc.Split(splitJPEG)
	return &ffmpegSource{cmd: cmd, cancel: cancel, scanner: sc, stderr: stderr}, nil
}

type ffmpegSource struct {
	cmd     *exec.Cmd
	cancel  context.CancelFunc
	scanner *bufio.Scanner
	stderr  *limitedWriter
}

func (s *ffmpegSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.scanner.Scan() {
		frame := make([]byte, len(s.scanner.Bytes()))
		copy(frame, s.scanner.Bytes())
		return frame, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	if msg := strings.TrimSpace(s.stderr.String()); msg != "" {
		return nil, fmt.Errorf("ffmpeg: %s", msg)
	}
	return nil, io.EOF
}

func (s *ffmpegSource) Close() error {
	s.cancel()
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// killed by cancel
		return nil
	}
	return err
}

// splitJPEG is a bufio.SplitFunc returning one SOI..EOI image per token.
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing 0xFF that may begin the next marker
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		if start > 0 {
			return start, nil, nil
		}
		return 0, nil, nil
	}
	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// limitedWriter keeps the first max bytes of ffmpeg's stderr.
type limitedWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (w *limitedWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if room := w.max - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
