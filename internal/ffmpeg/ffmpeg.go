// Package ffmpeg wraps the external media tool invocations the recovery
// driver needs: an error-tolerant remux, an error-tolerant re-encode,
// thumbnail extraction, and concat joining.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/cachephoenix/cachephoenix/internal/logger"
)

// Progress is a point-in-time reading parsed from ffmpeg's -progress pipe.
type Progress struct {
	Frame   int64
	FPS     float64
	Size    int64
	Time    time.Duration
	Bitrate float64
	Speed   float64
}

// Tool invokes an ffmpeg binary at a fixed path.
type Tool struct {
	FFmpegPath string
}

// NewTool creates a Tool. An empty path defaults to "ffmpeg" on $PATH.
func NewTool(ffmpegPath string) *Tool {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Tool{FFmpegPath: ffmpegPath}
}

// errorTolerantInputArgs are the decode-side flags Remux, Reencode and
// ConcatToMP4 use, so that a corrupted or truncated source never aborts the
// run outright. Thumbnail does not pass them.
var errorTolerantInputArgs = []string{
	"-fflags", "+genpts+discardcorrupt+igndts",
	"-analyzeduration", "200000000",
	"-probesize", "200000000",
	"-err_detect", "ignore_err",
}

// Remux stream-copies src to dst, applying +faststart and a generous
// muxing queue. Used for mp4_chunked: re-encoding would silently truncate at
// the first zero-filled gap, while stream copy preserves every sample.
func (t *Tool) Remux(ctx context.Context, src, dst string, progressCh chan<- Progress) error {
	args := append([]string{"-y"}, errorTolerantInputArgs...)
	args = append(args, "-i", src,
		"-c", "copy",
		"-movflags", "+faststart",
		"-max_muxing_queue_size", "9999",
		"-progress", "pipe:1",
		"-nostats",
		dst,
	)
	return t.run(ctx, args, progressCh)
}

// Reencode transcodes src to dst as H.264/AAC: fast preset, CRF 18, yuv420p,
// even-dimension scaling, 192kbps audio.
func (t *Tool) Reencode(ctx context.Context, src, dst string, progressCh chan<- Progress) error {
	args := append([]string{"-y"}, errorTolerantInputArgs...)
	args = append(args, "-i", src,
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		"-max_muxing_queue_size", "9999",
		"-progress", "pipe:1",
		"-nostats",
		dst,
	)
	return t.run(ctx, args, progressCh)
}

// ConcatVerbatim concatenates srcs byte-for-byte into dst with no
// reframing, for webm_mkv's pre-encode scratch assembly.
func ConcatVerbatim(srcs []string, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	defer out.Close()

	for _, src := range srcs {
		if err := appendFile(out, src); err != nil {
			return fmt.Errorf("append %s: %w", src, err)
		}
	}
	return out.Close()
}

func appendFile(dst *os.File, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = dst.ReadFrom(f)
	return err
}

func (t *Tool) run(ctx context.Context, args []string, progressCh chan<- Progress) error {
	cmd := exec.CommandContext(ctx, t.FFmpegPath, args...)
	logger.For("ffmpeg").Debug("command", "args", strings.Join(args, " "))

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	if progressCh != nil {
		pipe, err := cmd.StdoutPipe()
		if err != nil {
			return fmt.Errorf("stdout pipe: %w", err)
		}
		cmd.Stderr = &stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("start ffmpeg: %w", err)
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			scanProgress(pipe, progressCh)
		}()
		err = cmd.Wait()
		<-done
		if err != nil {
			return wrapFailure(err, stderr.String())
		}
		return nil
	}

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return wrapFailure(err, stderr.String())
	}
	return nil
}

func wrapFailure(err error, stderrOutput string) error {
	if stderrOutput == "" {
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	lines := strings.Split(strings.TrimSpace(stderrOutput), "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	logger.For("ffmpeg").Error("failed", "error", err, "stderr", strings.Join(lines, " | "))
	return fmt.Errorf("ffmpeg failed: %w", err)
}

func scanProgress(r io.ReadCloser, progressCh chan<- Progress) {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	var cur Progress
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key, value := line[:idx], line[idx+1:]
		switch key {
		case "frame":
			cur.Frame, _ = strconv.ParseInt(value, 10, 64)
		case "fps":
			cur.FPS, _ = strconv.ParseFloat(value, 64)
		case "total_size":
			cur.Size, _ = strconv.ParseInt(value, 10, 64)
		case "out_time_us":
			if value != "N/A" {
				us, _ := strconv.ParseInt(value, 10, 64)
				cur.Time = time.Duration(us) * time.Microsecond
			}
		case "bitrate":
			if value != "N/A" {
				cur.Bitrate, _ = strconv.ParseFloat(strings.TrimSuffix(value, "kbits/s"), 64)
			}
		case "speed":
			if value != "N/A" {
				cur.Speed, _ = strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64)
			}
		case "progress":
			select {
			case progressCh <- cur:
			default:
			}
		}
	}
}

// ConcatToMP4 re-encodes a sequence of already-recovered videos into one
// joined MP4 via the concat demuxer, for the recovery driver's
// concatenate_videos option. Re-encodes rather than stream-copies since the
// inputs may come from different source codecs.
func (t *Tool) ConcatToMP4(ctx context.Context, inputs []string, dst string) error {
	listPath := dst + ".concat.txt"
	var b strings.Builder
	for _, p := range inputs {
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(p, "'", "'\\''"))
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	defer os.Remove(listPath)

	args := append([]string{"-y"}, errorTolerantInputArgs...)
	args = append(args,
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-c:v", "libx264", "-preset", "fast", "-crf", "18", "-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "192k",
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		dst,
	)
	return t.run(ctx, args, nil)
}

// Thumbnail extracts a single JPEG frame near the 10% mark (or at the
// 1-second mark if duration is unknown) to dst.
func (t *Tool) Thumbnail(ctx context.Context, src, dst string, duration time.Duration) error {
	seek := "00:00:01"
	if duration > 0 {
		at := duration / 10
		seek = formatSeek(at)
	}
	args := []string{"-y", "-ss", seek, "-i", src, "-frames:v", "1", "-q:v", "4", dst}
	return t.run(ctx, args, nil)
}

func formatSeek(d time.Duration) string {
	total := int64(d.Seconds())
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
