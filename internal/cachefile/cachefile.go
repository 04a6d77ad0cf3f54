// Package cachefile reads Chromium disk-cache records. It exposes header,
// full-body, and Content-Type reads over both raw Blockfile (f_XXXXXX)
// bodies and Simple Cache stream files ({16-hex-hash}_0/_1/_s), including
// sparse (_s) range-record reassembly.
package cachefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cachephoenix/cachephoenix/internal/logger"
)

var simpleCacheNameRe = regexp.MustCompile(`^[0-9a-f]{16}_[01s]$`)
var blockfileNameRe = regexp.MustCompile(`^f_([0-9a-f]{6})$`)

// IsBlockfileName reports whether name matches the Blockfile f_XXXXXX
// pattern (6 hex digits after the prefix).
func IsBlockfileName(name string) bool {
	return blockfileNameRe.MatchString(name)
}

// ParseBlockfileHex parses a Blockfile filename's hex suffix into a uint32,
// used by the chunk grouper to sort entries and compute hex-locality
// budgets. ok is false for names that don't match f_XXXXXX.
func ParseBlockfileHex(name string) (hex uint32, ok bool) {
	m := blockfileNameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseUint(m[1], 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// StreamKind identifies which Simple Cache stream a filename names.
type StreamKind byte

const (
	Stream0 StreamKind = '0'
	Stream1 StreamKind = '1'
	StreamS StreamKind = 's'
)

// IsSimpleCacheName reports whether name matches {16-hex-hash}_[01s].
func IsSimpleCacheName(name string) bool {
	return simpleCacheNameRe.MatchString(name)
}

// SplitSimpleCacheName splits a Simple Cache filename into its hash and
// stream suffix. ok is false if name does not match the pattern.
func SplitSimpleCacheName(name string) (hash string, stream StreamKind, ok bool) {
	if !IsSimpleCacheName(name) {
		return "", 0, false
	}
	return name[:16], StreamKind(name[17]), true
}

// preambleMagic/preambleVersion fix the Simple Cache stream preamble layout
// this reader expects: magic(u64 LE) | version(u32 LE) | key_length(u32 LE),
// followed by key_length bytes of key. Chromium's actual on-disk preamble is
// version-dependent; any mismatch is treated as a malformed preamble and
// triggers the raw-file fallback.
const (
	preambleMagic   uint64 = 0xc0a7ec0de1234567
	preambleVersion uint32 = 1
	preambleSize           = 16
)

var errMalformedPreamble = errors.New("cachefile: malformed simple cache preamble")

// skipPreamble reads and validates the fixed preamble from r, returning the
// key bytes that followed it.
func skipPreamble(r io.Reader) (key []byte, err error) {
	buf := make([]byte, preambleSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errMalformedPreamble
	}
	magic := binary.LittleEndian.Uint64(buf[0:8])
	version := binary.LittleEndian.Uint32(buf[8:12])
	if magic != preambleMagic || version != preambleVersion {
		return nil, errMalformedPreamble
	}
	keyLen := binary.LittleEndian.Uint32(buf[12:16])
	key = make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, errMalformedPreamble
	}
	return key, nil
}

// headerTerminator marks the end of the HTTP-header block a _0 stream
// stores ahead of its body, per this reader's stream layout.
var headerTerminator = []byte("\r\n\r\n")

// splitHeaderBlock returns the header text and the remaining body bytes if
// rest contains a CRLFCRLF terminator; otherwise the whole of rest is body
// (the case for a _1 auxiliary stream, which carries no header block).
func splitHeaderBlock(rest []byte) (headers string, body []byte) {
	if idx := bytes.Index(rest, headerTerminator); idx >= 0 {
		return string(rest[:idx]), rest[idx+len(headerTerminator):]
	}
	return "", rest
}

// ReadHeader returns the first n bytes of path's HTTP body (Simple Cache
// streams have their preamble and, for _0, header block skipped first).
// n > available returns what's available without error.
func ReadHeader(path string, n int) ([]byte, error) {
	data, err := bodyBytes(path, n)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(data) > n {
		data = data[:n]
	}
	return data, nil
}

// ReadAll returns the entirety of path's HTTP body.
func ReadAll(path string) ([]byte, error) {
	return bodyBytes(path, -1)
}

// ReadContentType parses the HTTP headers stored in a Simple Cache _0
// stream and returns the Content-Type value before any ';' parameter.
// Returns ok=false if path isn't a _0 stream or no Content-Type is present.
func ReadContentType(path string) (string, bool) {
	name := filepath.Base(path)
	hash, stream, ok := SplitSimpleCacheName(name)
	_ = hash
	if !ok || stream != Stream0 {
		return "", false
	}

	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	if _, err := skipPreamble(f); err != nil {
		return "", false
	}
	rest, err := io.ReadAll(f)
	if err != nil {
		return "", false
	}
	headers, _ := splitHeaderBlock(rest)
	for _, line := range strings.Split(headers, "\r\n") {
		name, value, found := strings.Cut(line, ":")
		if !found || !strings.EqualFold(strings.TrimSpace(name), "content-type") {
			continue
		}
		value = strings.TrimSpace(value)
		if idx := strings.IndexByte(value, ';'); idx >= 0 {
			value = value[:idx]
		}
		return strings.TrimSpace(value), true
	}
	return "", false
}

// bodyBytes dispatches by filename: raw files return their content from
// offset 0; Simple Cache _0/_1 streams skip the preamble and header block;
// _s streams are reassembled via the sparse reader.
func bodyBytes(path string, limit int) ([]byte, error) {
	name := filepath.Base(path)
	hash, stream, ok := SplitSimpleCacheName(name)
	_ = hash
	if !ok {
		return readRaw(path, limit)
	}
	if stream == StreamS {
		if limit < 0 {
			return ReadSparseAll(path)
		}
		return ReadSparseHeader(path, limit)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := skipPreamble(f); err != nil {
		logger.Debug("cachefile: malformed preamble, falling back to raw read", "path", path)
		return readRaw(path, limit)
	}
	rest, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	_, body := splitHeaderBlock(rest)
	return body, nil
}

func readRaw(path string, limit int) ([]byte, error) {
	if limit < 0 {
		return os.ReadFile(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, limit)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

// sparseRecordHeaderSize is the byte length of a sparse range record's
// header: offset (int64 LE) + length (uint32 LE).
const sparseRecordHeaderSize = 12

// interval is a half-open [start, end) byte range, used to track which
// portions of a reassembled sparse stream are covered so far.
type interval struct{ start, end int64 }

// coverage tracks merged, sorted byte intervals covered by sparse records.
type coverage struct{ ranges []interval }

func (c *coverage) add(start, end int64) {
	if start >= end {
		return
	}
	c.ranges = append(c.ranges, interval{start, end})
	sort.Slice(c.ranges, func(i, j int) bool { return c.ranges[i].start < c.ranges[j].start })
	merged := c.ranges[:0]
	for _, r := range c.ranges {
		if len(merged) > 0 && r.start <= merged[len(merged)-1].end {
			if r.end > merged[len(merged)-1].end {
				merged[len(merged)-1].end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}
	c.ranges = merged
}

// coversFromZero reports whether [0, n) is fully covered by merged ranges.
func (c *coverage) coversFromZero(n int64) bool {
	if len(c.ranges) == 0 {
		return n <= 0
	}
	return c.ranges[0].start <= 0 && c.ranges[0].end >= n
}

// readSparseRecords walks path's sparse records, growing buf to cover each
// record's range and writing its data, stopping early once [0, limit) is
// fully covered (limit < 0 means read every record).
func readSparseRecords(path string, limit int64) (buf []byte, maxEnd int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	if _, err := skipPreamble(f); err != nil {
		logger.Debug("cachefile: malformed sparse preamble, falling back to raw read", "path", path)
		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, 0, rerr
		}
		return raw, int64(len(raw)), nil
	}

	var cov coverage
	hdr := make([]byte, sparseRecordHeaderSize)
	for {
		if _, err := io.ReadFull(f, hdr); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, err
		}
		offset := int64(binary.LittleEndian.Uint64(hdr[0:8]))
		length := binary.LittleEndian.Uint32(hdr[8:12])
		end := offset + int64(length)
		if end > maxEnd {
			maxEnd = end
		}
		if int64(len(buf)) < end {
			grown := make([]byte, end)
			copy(grown, buf)
			buf = grown
		}
		if length > 0 {
			if _, err := io.ReadFull(f, buf[offset:end]); err != nil {
				return nil, 0, err
			}
		}
		cov.add(offset, end)
		if limit >= 0 && cov.coversFromZero(limit) {
			break
		}
	}
	return buf, maxEnd, nil
}

// ReadSparseHeader walks records until n bytes of the reassembled stream are
// available, then returns them (gaps zero-filled).
func ReadSparseHeader(path string, n int) ([]byte, error) {
	buf, _, err := readSparseRecords(path, int64(n))
	if err != nil {
		return nil, err
	}
	if n >= 0 && int64(len(buf)) > int64(n) {
		buf = buf[:n]
	}
	return buf, nil
}

// ReadSparseAll reassembles every record into a contiguous buffer sized
// max(offset+length) over all records, gaps zero-filled.
func ReadSparseAll(path string) ([]byte, error) {
	buf, _, err := readSparseRecords(path, -1)
	return buf, err
}

// scanSparseMaxEnd walks path's sparse record headers, seeking over each
// record's data rather than reading it, and returns max(offset+length).
func scanSparseMaxEnd(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := skipPreamble(f); err != nil {
		fi, statErr := f.Stat()
		if statErr != nil {
			return 0, statErr
		}
		return fi.Size(), nil
	}

	var maxEnd int64
	hdr := make([]byte, sparseRecordHeaderSize)
	for {
		if _, err := io.ReadFull(f, hdr); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		offset := int64(binary.LittleEndian.Uint64(hdr[0:8]))
		length := binary.LittleEndian.Uint32(hdr[8:12])
		if end := offset + int64(length); end > maxEnd {
			maxEnd = end
		}
		if length > 0 {
			if _, err := f.Seek(int64(length), io.SeekCurrent); err != nil {
				return 0, err
			}
		}
	}
	return maxEnd, nil
}

// SparseTotalSize returns max(offset+length) over all records without
// materializing the reassembled bytes, falling back to ReadSparseAll when
// the computed size looks implausibly small next to the on-disk size
// (guards against a malformed preamble producing a bogus small total).
func SparseTotalSize(path string) (uint64, error) {
	maxEnd, err := scanSparseMaxEnd(path)
	if err != nil {
		return 0, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if maxEnd < fi.Size() {
		buf, err := ReadSparseAll(path)
		if err != nil {
			return 0, err
		}
		return uint64(len(buf)), nil
	}
	return uint64(maxEnd), nil
}
