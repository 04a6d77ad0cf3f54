package ffmpeg

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewToolDefaultsToPathLookup(t *testing.T) {
	if tool := NewTool(""); tool.FFmpegPath != "ffmpeg" {
		t.Errorf("FFmpegPath = %q, want ffmpeg", tool.FFmpegPath)
	}
	if tool := NewTool("/opt/ffmpeg/bin/ffmpeg"); tool.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("FFmpegPath = %q, want the explicit path", tool.FFmpegPath)
	}
}

func TestConcatVerbatim(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.webm")
	b := filepath.Join(dir, "b.webm")
	if err := os.WriteFile(a, []byte{0x1A, 0x45, 0xDF, 0xA3}, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte{0x1F, 0x43, 0xB6, 0x75}, 0644); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "out.webm")
	if err := ConcatVerbatim([]string{a, b}, dst); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x1A, 0x45, 0xDF, 0xA3, 0x1F, 0x43, 0xB6, 0x75}
	if string(got) != string(want) {
		t.Errorf("concatenated bytes = %x, want %x", got, want)
	}
}

func TestConcatVerbatimMissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "out.webm")
	err := ConcatVerbatim([]string{filepath.Join(dir, "missing.webm")}, dst)
	if err == nil {
		t.Fatal("expected error for missing source file")
	}
}

func TestRunReportsMissingBinary(t *testing.T) {
	tool := NewTool("cachephoenix-test-nonexistent-ffmpeg-binary")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dir := t.TempDir()
	src := filepath.Join(dir, "in.mp4")
	if err := os.WriteFile(src, []byte("bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := tool.Remux(ctx, src, filepath.Join(dir, "out.mp4"), nil); err == nil {
		t.Error("expected Remux to fail with a missing binary")
	}
	if err := tool.Reencode(ctx, src, filepath.Join(dir, "out2.mp4"), nil); err == nil {
		t.Error("expected Reencode to fail with a missing binary")
	}
}

func TestScanProgressParsesPipeOutput(t *testing.T) {
	lines := strings.Join([]string{
		"frame=120",
		"fps=29.97",
		"total_size=1048576",
		"out_time_us=4000000",
		"bitrate=2048.5kbits/s",
		"speed=1.5x",
		"progress=continue",
	}, "\n") + "\n"

	ch := make(chan Progress, 1)
	scanProgress(nopReadCloser{strings.NewReader(lines)}, ch)

	select {
	case p := <-ch:
		if p.Frame != 120 {
			t.Errorf("Frame = %d, want 120", p.Frame)
		}
		if p.Size != 1048576 {
			t.Errorf("Size = %d, want 1048576", p.Size)
		}
		if p.Time != 4*time.Second {
			t.Errorf("Time = %v, want 4s", p.Time)
		}
		if p.Speed != 1.5 {
			t.Errorf("Speed = %v, want 1.5", p.Speed)
		}
	default:
		t.Fatal("no progress emitted")
	}
}

func TestFormatSeek(t *testing.T) {
	cases := map[time.Duration]string{
		0:                         "00:00:00",
		time.Second:               "00:00:01",
		90 * time.Second:          "00:01:30",
		time.Hour + 2*time.Minute: "01:02:00",
	}
	for d, want := range cases {
		if got := formatSeek(d); got != want {
			t.Errorf("formatSeek(%v) = %q, want %q", d, got, want)
		}
	}
}

type nopReadCloser struct{ *strings.Reader }

func (nopReadCloser) Close() error { return nil }
