package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Transcoder interface {
	// Transcode re-encodes a video to H.264/AAC MP4 with the moov atom up front.
	Transcode(ctx context.Context, data []byte) ([]byte, error)
	// Probe returns the container duration.
	Probe(ctx context.Context, data []byte) (time.Duration, error)
}

type ffmpegTranscoder struct {
	ffmpeg  string
	ffprobe string
}

func NewTranscoder(ffmpegPath, ffprobePath string) Transcoder {
	return &ffmpegTranscoder{ffmpeg: ffmpegPath, ffprobe: ffprobePath}
}

func (t *ffmpegTranscoder) Transcode(ctx context.Context, data []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "transcode-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input")
	out := filepath.Join(dir, "output.mp4")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, t.ffmpeg,
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-c:v", "libx264", "-preset", "medium", "-crf", "23", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		out,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return os.ReadFile(out)
}

func (t *ffmpegTranscoder) Probe(ctx context.Context, data []byte) (time.Duration, error) {
	f, err := os.CreateTemp("", "probe-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return 0, err
	}
	f.Close()

	cmd := exec.CommandContext(ctx, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		f.Name(),
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseProbeDuration(stdout.String())
}

func parseProbeDuration(out string) (time.Duration, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration %q: %w", strings.TrimSpace(out), err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
