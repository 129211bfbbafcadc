package downloader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flowqueue/internal/common"
)

// DefaultFormat prefers an mp4 video+audio pair, falling back to the best single file
const DefaultFormat = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]/best"

// VideoInfo is the subset of extractor metadata the service uses
type VideoInfo struct {
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"`
	Channel   string  `json:"channel"`
}

// Runner executes the external extractor
type Runner interface {
	// Info fetches metadata without downloading
	Info(ctx context.Context, url string) (*VideoInfo, error)
	// Fetch downloads url to output, reporting percentages as they are printed
	Fetch(ctx context.Context, url, output string, progress func(percent int)) error
}

// ExecRunner drives a yt-dlp compatible binary
type ExecRunner struct {
	binary string
	format string
	logger arbor.ILogger
}

// NewExecRunner creates a runner from the [downloader] config section
func NewExecRunner(config *common.DownloaderConfig, logger arbor.ILogger) *ExecRunner {
	binary := config.Binary
	if binary == "" {
		binary = "yt-dlp"
	}
	format := config.Format
	if format == "" {
		format = DefaultFormat
	}
	return &ExecRunner{binary: binary, format: format, logger: logger}
}

// Info runs the extractor with --dump-single-json
func (r *ExecRunner) Info(ctx context.Context, url string) (*VideoInfo, error) {
	cmd := exec.CommandContext(ctx, r.binary,
		"--dump-single-json",
		"--no-check-certificates",
		"--no-warnings",
		"--prefer-free-formats",
		url,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, commandError("metadata lookup", err, stderr.String())
	}

	var info VideoInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("failed to parse extractor metadata: %w", err)
	}
	return &info, nil
}

// Fetch downloads url, scanning both output streams for progress percentages
func (r *ExecRunner) Fetch(ctx context.Context, url, output string, progress func(percent int)) error {
	cmd := exec.CommandContext(ctx, r.binary,
		url,
		"--output", output,
		"--format", r.format,
		"--merge-output-format", "mp4",
		"--no-check-certificates",
		"--no-warnings",
		"--newline",
	)

	lines := &lineWriter{onLine: func(line string) {
		if percent, ok := ParseProgress(line); ok && progress != nil {
			progress(percent)
		}
	}}
	cmd.Stdout = lines
	cmd.Stderr = lines

	r.logger.Debug().Str("binary", r.binary).Str("output", output).Msg("Starting extractor")

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return commandError("download", err, lines.Tail())
	}
	return nil
}

func commandError(op string, err error, output string) error {
	output = strings.TrimSpace(output)
	if output == "" {
		return fmt.Errorf("extractor %s failed: %w", op, err)
	}
	return fmt.Errorf("extractor %s failed: %w: %s", op, err, output)
}

const tailLines = 5

// lineWriter splits written bytes on \r and \n, keeping the last few lines
type lineWriter struct {
	buf    []byte
	tail   []string
	onLine func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' || b == '\r' {
			w.flush()
			continue
		}
		w.buf = append(w.buf, b)
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if len(w.buf) == 0 {
		return
	}
	line := string(w.buf)
	w.buf = w.buf[:0]
	w.tail = append(w.tail, line)
	if len(w.tail) > tailLines {
		w.tail = w.tail[1:]
	}
	w.onLine(line)
}

// Tail returns the last lines written, including any unterminated line
func (w *lineWriter) Tail() string {
	w.flush()
	return strings.Join(w.tail, "\n")
}
