package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/greenvoice-service/internal/apperror"
	"github.com/skypro1111/greenvoice-service/internal/audio"
	"github.com/skypro1111/greenvoice-service/internal/tempres"
)

const defaultFFmpegTimeout = 30 * time.Second

// FFmpegStrategy transcodes the blob to a 16 kHz mono PCM WAV with the ffmpeg
// binary and decodes the intermediate file.
type FFmpegStrategy struct {
	binary  string
	timeout time.Duration
	temp    *tempres.Manager
	logger  *slog.Logger
}

// NewFFmpegStrategy creates the transcode strategy
func NewFFmpegStrategy(binary string, timeout time.Duration, temp *tempres.Manager, logger *slog.Logger) *FFmpegStrategy {
	if binary == "" {
		binary = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = defaultFFmpegTimeout
	}
	return &FFmpegStrategy{
		binary:  binary,
		timeout: timeout,
		temp:    temp,
		logger:  logger,
	}
}

// Name implements Strategy
func (s *FFmpegStrategy) Name() string { return "ffmpeg" }

// Available reports whether the ffmpeg binary can be found
func (s *FFmpegStrategy) Available() bool {
	_, err := exec.LookPath(s.binary)
	return err == nil
}

// Decode implements Strategy
func (s *FFmpegStrategy) Decode(ctx context.Context, src Source) (audio.Decoded, error) {
	if len(src.Blob.Data) == 0 {
		return audio.Decoded{}, fmt.Errorf("empty input")
	}

	input := src.Path
	if input == "" {
		in, err := s.temp.AcquireWith("ffmpeg-in", src.Blob.Format.Extension(), src.Blob.Data)
		if err != nil {
			return audio.Decoded{}, err
		}
		defer in.Release()
		input = in.Path()
	}

	out, err := s.temp.Acquire("ffmpeg-out", ".wav")
	if err != nil {
		return audio.Decoded{}, err
	}
	defer out.Release()

	if err := s.transcode(ctx, input, out.Path()); err != nil {
		return audio.Decoded{}, err
	}

	data, err := os.ReadFile(out.Path())
	if err != nil {
		return audio.Decoded{}, fmt.Errorf("failed to read transcoded audio: %w", err)
	}

	return decodeWAV(data)
}

// waitDelay bounds how long Run waits for output pipes after the process is killed
const waitDelay = 2 * time.Second

// transcode runs: ffmpeg -y -i input -vn -ac 1 -ar 16000 -c:a pcm_s16le -f wav output
func (s *FFmpegStrategy) transcode(ctx context.Context, input, output string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.binary,
		"-y",
		"-loglevel", "error",
		"-i", input,
		"-vn",
		"-ac", strconv.Itoa(audio.CanonicalChannels),
		"-ar", strconv.Itoa(audio.CanonicalSampleRate),
		"-c:a", "pcm_s16le",
		"-f", "wav",
		output,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		s.logger.Debug("ffmpeg transcode finished",
			slog.String("input", input),
			slog.Duration("duration", time.Since(start)),
		)
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperror.Timeout("ingest.ffmpeg", fmt.Errorf("ffmpeg exceeded %s", s.timeout))
	}

	if msg := lastLine(stderr.String()); msg != "" {
		return fmt.Errorf("ffmpeg: %w: %s", err, msg)
	}
	return fmt.Errorf("ffmpeg: %w", err)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
