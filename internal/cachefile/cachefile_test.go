package cachefile

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// buildPreamble returns the fixed preamble + key bytes for a synthetic
// Simple Cache stream file.
func buildPreamble(key string) []byte {
	buf := make([]byte, preambleSize+len(key))
	binary.LittleEndian.PutUint64(buf[0:8], preambleMagic)
	binary.LittleEndian.PutUint32(buf[8:12], preambleVersion)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(key)))
	copy(buf[preambleSize:], key)
	return buf
}

func writeStream0(t *testing.T, dir, hash, headers string, body []byte) string {
	t.Helper()
	data := buildPreamble("k")
	data = append(data, []byte(headers)...)
	data = append(data, body...)
	path := filepath.Join(dir, hash+"_0")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIsSimpleCacheName(t *testing.T) {
	cases := map[string]bool{
		"1234567890abcdef_0": true,
		"1234567890abcdef_1": true,
		"1234567890abcdef_s": true,
		"1234567890abcdef_2": false,
		"f_0000a0":           false,
		"short_0":            false,
	}
	for name, want := range cases {
		if got := IsSimpleCacheName(name); got != want {
			t.Errorf("IsSimpleCacheName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestSplitSimpleCacheName(t *testing.T) {
	hash, stream, ok := SplitSimpleCacheName("1234567890abcdef_s")
	if !ok || hash != "1234567890abcdef" || stream != StreamS {
		t.Fatalf("got (%q, %v, %v)", hash, stream, ok)
	}
	if _, _, ok := SplitSimpleCacheName("f_000001"); ok {
		t.Error("expected ok=false for blockfile name")
	}
}

func TestParseBlockfileHex(t *testing.T) {
	hex, ok := ParseBlockfileHex("f_0000a0")
	if !ok || hex != 0x0000a0 {
		t.Fatalf("got (%d, %v), want (0xa0, true)", hex, ok)
	}
	if _, ok := ParseBlockfileHex("1234567890abcdef_0"); ok {
		t.Error("expected ok=false for simple cache name")
	}
	if !IsBlockfileName("f_ffffff") || IsBlockfileName("f_xyz") {
		t.Error("IsBlockfileName mismatch")
	}
}

func TestReadHeaderRawBlockfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f_000001")
	want := []byte{0xFF, 0xD8, 0xFF, 0x01, 0x02}
	if err := os.WriteFile(path, want, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ReadHeader(path, 3)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want[:3]) {
		t.Errorf("ReadHeader = %x, want %x", got, want[:3])
	}

	all, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(all) != string(want) {
		t.Errorf("ReadAll = %x, want %x", all, want)
	}
}

func TestReadHeaderZeroLength(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f_000002")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadHeader(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("ReadHeader(path, 0) = %v, want empty", got)
	}
}

func TestReadHeaderBeyondFileSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f_000003")
	want := []byte{1, 2, 3}
	if err := os.WriteFile(path, want, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadHeader(path, 100)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Errorf("ReadHeader(path, 100) = %v, want %v", got, want)
	}
}

func TestSimpleCacheStream0ContentTypeAndBody(t *testing.T) {
	dir := t.TempDir()
	body := []byte("\x00\x00\x00\x20ftypmp42")
	path := writeStream0(t, dir, "1234567890abcdef", "Content-Type: video/mp4; charset=binary\r\n\r\n", body)

	ct, ok := ReadContentType(path)
	if !ok || ct != "video/mp4" {
		t.Fatalf("ReadContentType = (%q, %v), want (video/mp4, true)", ct, ok)
	}

	got, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(body) {
		t.Errorf("ReadAll body = %x, want %x", got, body)
	}
}

func TestReadContentTypeAbsent(t *testing.T) {
	dir := t.TempDir()
	path := writeStream0(t, dir, "abcdef1234567890", "\r\n", []byte("data"))
	if _, ok := ReadContentType(path); ok {
		t.Error("expected ok=false when Content-Type header absent")
	}
}

func TestMalformedPreambleFallsBackToRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1234567890abcdef_0")
	raw := []byte("not a valid preamble at all, just bytes")
	if err := os.WriteFile(path, raw, 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(raw) {
		t.Errorf("fallback ReadAll = %q, want %q", got, raw)
	}
}

// writeSparse builds a synthetic _s stream from (offset, data) records.
func writeSparse(t *testing.T, dir, hash string, records [][2]interface{}) string {
	t.Helper()
	data := buildPreamble("k")
	for _, rec := range records {
		offset := rec[0].(int64)
		body := rec[1].([]byte)
		hdr := make([]byte, sparseRecordHeaderSize)
		binary.LittleEndian.PutUint64(hdr[0:8], uint64(offset))
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(body)))
		data = append(data, hdr...)
		data = append(data, body...)
	}
	path := filepath.Join(dir, hash+"_s")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSparseSingleRecordRoundTrips(t *testing.T) {
	dir := t.TempDir()
	body := []byte("hello sparse world")
	path := writeSparse(t, dir, "fedcba0987654321", [][2]interface{}{
		{int64(0), body},
	})

	got, err := ReadSparseAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(body) {
		t.Errorf("ReadSparseAll = %q, want %q", got, body)
	}

	size, err := SparseTotalSize(path)
	if err != nil {
		t.Fatal(err)
	}
	if size != uint64(len(body)) {
		t.Errorf("SparseTotalSize = %d, want %d", size, len(body))
	}
}

func TestSparseGapsZeroFilled(t *testing.T) {
	dir := t.TempDir()
	first := []byte("AAAA")
	second := []byte("BBBB")
	path := writeSparse(t, dir, "0011223344556677", [][2]interface{}{
		{int64(10), second},
		{int64(0), first},
	})

	got, err := ReadSparseAll(path)
	if err != nil {
		t.Fatal(err)
	}
	want := append(append(append([]byte{}, first...), make([]byte, 6)...), second...)
	if string(got) != string(want) {
		t.Errorf("ReadSparseAll = %x, want %x", got, want)
	}
}

func TestReadSparseHeaderTruncates(t *testing.T) {
	dir := t.TempDir()
	body := []byte("0123456789")
	path := writeSparse(t, dir, "1111222233334444", [][2]interface{}{
		{int64(0), body},
	})

	got, err := ReadSparseHeader(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "0123" {
		t.Errorf("ReadSparseHeader(4) = %q, want %q", got, "0123")
	}
}
