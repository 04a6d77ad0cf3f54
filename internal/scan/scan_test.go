package scan

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/cachephoenix/cachephoenix/internal/model"
)

func writeFile(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
		t.Fatal(err)
	}
}

func box(boxType string, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(8+len(payload)))
	copy(buf[4:8], boxType)
	copy(buf[8:], payload)
	return buf
}

func findResourceByFile(t *testing.T, resources []model.Resource, fileName string) model.Resource {
	t.Helper()
	for _, r := range resources {
		for _, f := range r.Files {
			if f.Name == fileName {
				return r
			}
		}
	}
	t.Fatalf("no resource contains file %q (resources: %+v)", fileName, resources)
	return model.Resource{}
}

// Pure Blockfile, single complete JPEG.
func TestScanSingleJPEG(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f_000001", []byte{0xFF, 0xD8, 0xFF, 0x01, 0x02, 0x03})

	resources, err := NewScanner().Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1: %+v", len(resources), resources)
	}
	if resources[0].Kind != model.KindJPEG {
		t.Errorf("kind = %v, want jpeg", resources[0].Kind)
	}
	if len(resources[0].Files) != 1 || resources[0].Files[0].Name != "f_000001" {
		t.Errorf("files = %+v", resources[0].Files)
	}
}

// Chunked MP4 with a displaced moov in the last chunk, plus an
// unrelated JPEG that must not be swept into the group.
func TestScanChunkedMP4WithDisplacedMoov(t *testing.T) {
	dir := t.TempDir()

	ftyp := box("ftyp", []byte("mp42isomiso2mp41"))
	mdatHeader := make([]byte, 8)
	binary.BigEndian.PutUint32(mdatHeader[0:4], 5*1024*1024)
	copy(mdatHeader[4:8], "mdat")
	header := append(append([]byte{}, ftyp...), mdatHeader...)
	writeFile(t, dir, "f_0000a0", header)

	writeFile(t, dir, "f_0000a1", make([]byte, 1024))
	writeFile(t, dir, "f_0000a2", make([]byte, 1024))
	writeFile(t, dir, "f_0000a3", make([]byte, 1024))

	mvhd := box("mvhd", make([]byte, 20))
	trak := box("trak", make([]byte, 8))
	moov := box("moov", append(append([]byte{}, mvhd...), trak...))
	tail := append(make([]byte, 16), moov...)
	writeFile(t, dir, "f_0000a4", tail)

	writeFile(t, dir, "f_0000b0", []byte{0xFF, 0xD8, 0xFF, 0x00})

	resources, err := NewScanner().Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}

	mp4Res := findResourceByFile(t, resources, "f_0000a0")
	if mp4Res.Kind != model.KindMP4Chunked {
		t.Errorf("kind = %v, want mp4_chunked", mp4Res.Kind)
	}
	wantFiles := []string{"f_0000a0", "f_0000a1", "f_0000a2", "f_0000a3", "f_0000a4"}
	if len(mp4Res.Files) != len(wantFiles) {
		t.Fatalf("got %d files, want %d: %+v", len(mp4Res.Files), len(wantFiles), mp4Res.Files)
	}
	for i, name := range wantFiles {
		if mp4Res.Files[i].Name != name {
			t.Errorf("Files[%d] = %q, want %q", i, mp4Res.Files[i].Name, name)
		}
	}

	jpegRes := findResourceByFile(t, resources, "f_0000b0")
	if jpegRes.Kind != model.KindJPEG || len(jpegRes.Files) != 1 {
		t.Errorf("jpeg resource = %+v", jpegRes)
	}
}

// WebM/MKV three-file group (header + cluster continuation +
// unidentified trailing chunk within budget).
func TestScanWebMGroup(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "f_000010", []byte{0x1A, 0x45, 0xDF, 0xA3, 0, 0, 0, 0})
	writeFile(t, dir, "f_000011", []byte{0x1F, 0x43, 0xB6, 0x75, 0, 0, 0, 0})
	writeFile(t, dir, "f_000012", []byte{0x00, 0x01, 0x02, 0x03})

	resources, err := NewScanner().Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	res := findResourceByFile(t, resources, "f_000010")
	if res.Kind != model.KindWebMMKV {
		t.Errorf("kind = %v, want webm_mkv", res.Kind)
	}
	want := []string{"f_000010", "f_000011", "f_000012"}
	if len(res.Files) != len(want) {
		t.Fatalf("got %d files, want %d: %+v", len(res.Files), len(want), res.Files)
	}
	for i, name := range want {
		if res.Files[i].Name != name {
			t.Errorf("Files[%d] = %q, want %q", i, res.Files[i].Name, name)
		}
	}
}

// MPEG-TS second-sync rejection drops the file into the
// unidentified tail resource rather than classifying it as mpeg_ts.
func TestScanTSSecondSyncRejection(t *testing.T) {
	dir := t.TempDir()
	buf := make([]byte, 300)
	buf[0] = 0x47
	buf[188] = 0x00 // not 0x47: fails the second-sync check
	writeFile(t, dir, "f_000020", buf)

	resources, err := NewScanner().Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1: %+v", len(resources), resources)
	}
	if resources[0].Kind != model.KindUnknownData {
		t.Errorf("kind = %v, want unknown_data", resources[0].Kind)
	}
}

func TestScanEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	resources, err := NewScanner().Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 0 {
		t.Errorf("got %d resources, want 0", len(resources))
	}
}

func TestScanRejectsConcurrentRun(t *testing.T) {
	s := NewScanner()
	if !s.tryStart() {
		t.Fatal("expected tryStart to succeed")
	}
	defer s.finish()

	_, err := s.Scan(context.Background(), t.TempDir(), nil)
	if err != ErrScanInProgress {
		t.Errorf("got %v, want ErrScanInProgress", err)
	}
}

func TestScanMissingDirectory(t *testing.T) {
	_, err := NewScanner().Scan(context.Background(), filepath.Join(t.TempDir(), "nope"), nil)
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}

// simplePreamble builds the fixed Simple Cache stream preamble the reader
// expects: magic(u64 LE) | version(u32 LE) | key_length(u32 LE), then the
// key bytes.
func simplePreamble(key string) []byte {
	const magic uint64 = 0xc0a7ec0de1234567
	const version uint32 = 1
	buf := make([]byte, 16+len(key))
	binary.LittleEndian.PutUint64(buf[0:8], magic)
	binary.LittleEndian.PutUint32(buf[8:12], version)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(key)))
	copy(buf[16:], key)
	return buf
}

// Simple Cache sparse video, detected directly from the raw
// bytes (no sparse record framing, so the reader's malformed-preamble
// fallback kicks in and treats the whole file as the reassembled stream).
func TestScanSimpleCacheSparseMP4(t *testing.T) {
	dir := t.TempDir()

	ftyp := box("ftyp", []byte("mp42isomiso2mp41"))
	mvhd := box("mvhd", make([]byte, 20))
	trak := box("trak", make([]byte, 8))
	moov := box("moov", append(append([]byte{}, mvhd...), trak...))
	mdat := box("mdat", make([]byte, 64))
	body := append(append(append([]byte{}, ftyp...), moov...), mdat...)
	writeFile(t, dir, "1234567890abcdef_s", body)

	resources, err := NewScanner().Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1: %+v", len(resources), resources)
	}
	res := resources[0]
	if res.Kind != model.KindMP4Complete {
		t.Errorf("kind = %v, want mp4_complete", res.Kind)
	}
	if len(res.Files) != 1 || res.Files[0].Name != "1234567890abcdef_s" {
		t.Fatalf("files = %+v", res.Files)
	}
	if res.TotalSize != int64(len(body)) {
		t.Errorf("total_size = %d, want %d", res.TotalSize, len(body))
	}
	if res.VideoInfo == nil {
		t.Error("expected VideoInfo to be populated from the moov atom")
	}
}

// Content-Type fallback: the _s stream fails signature detection, but the
// paired _0 stream's HTTP headers identify the body via MIME.
func TestScanContentTypeFallback(t *testing.T) {
	dir := t.TempDir()

	stream0 := append(simplePreamble("k"), []byte("HTTP/1.1 200 OK\r\nContent-Type: audio/mpeg; charset=binary\r\n\r\n")...)
	writeFile(t, dir, "fedcba0987654321_0", stream0)
	writeFile(t, dir, "fedcba0987654321_s", []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07})

	resources, err := NewScanner().Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1: %+v", len(resources), resources)
	}
	if resources[0].Kind != model.KindMP3 {
		t.Errorf("kind = %v, want mp3", resources[0].Kind)
	}
}

func TestScanIgnoresUnrelatedFilenames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "index.sqlite", []byte("not a cache file"))
	writeFile(t, dir, "f_000030", []byte{0x89, 0x50, 0x4E, 0x47})

	resources, err := NewScanner().Scan(context.Background(), dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(resources) != 1 {
		t.Fatalf("got %d resources, want 1 (unrelated file should be ignored): %+v", len(resources), resources)
	}
}
