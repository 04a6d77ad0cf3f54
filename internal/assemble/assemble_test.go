package assemble

import (
	"encoding/binary"
	"testing"

	"github.com/cachephoenix/cachephoenix/internal/model"
)

// box builds a minimal ISO BMFF box: 4-byte big-endian size + 4-char type + payload.
func box(boxType string, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(8+len(payload)))
	copy(buf[4:8], boxType)
	copy(buf[8:], payload)
	return buf
}

func entry(name string, size int64) model.CacheFileEntry {
	return model.CacheFileEntry{Name: name, Path: "/cache/" + name, Size: size}
}

func TestAssembleNoMdatReturnsNone(t *testing.T) {
	buf := box("ftyp", []byte("mp42isomiso2mp41"))
	res := Assemble(entry("f_0000a0", int64(len(buf))), buf, nil)
	if res.Outcome != OutcomeNone {
		t.Fatalf("got %v, want OutcomeNone", res.Outcome)
	}
}

func TestAssembleHeaderOnlyWithoutCandidates(t *testing.T) {
	ftyp := box("ftyp", []byte("mp42isomiso2mp41"))
	// mdat claims a huge size that reaches past the buffer end.
	mdatHeader := make([]byte, 8)
	binary.BigEndian.PutUint32(mdatHeader[0:4], 5*1024*1024)
	copy(mdatHeader[4:8], "mdat")
	buf := append(append([]byte{}, ftyp...), mdatHeader...)

	res := Assemble(entry("f_0000a0", int64(len(buf))), buf, nil)
	if res.Outcome != OutcomeHeaderOnly {
		t.Fatalf("got %v, want OutcomeHeaderOnly", res.Outcome)
	}
	if len(res.Files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(res.Files))
	}
}

func TestAssembleChunkedSelectsInRangeAscending(t *testing.T) {
	ftyp := box("ftyp", []byte("mp42isomiso2mp41"))
	mdatHeader := make([]byte, 8)
	binary.BigEndian.PutUint32(mdatHeader[0:4], 5*1024*1024)
	copy(mdatHeader[4:8], "mdat")
	buf := append(append([]byte{}, ftyp...), mdatHeader...)

	candidates := []model.CacheFileEntry{
		entry("f_0000a4", 1024), // within range, out of order
		entry("f_0000a1", 1024),
		entry("f_0000a3", 1024),
		entry("f_0000a2", 1024),
		entry("f_000b00", 1024), // far outside hex_range
		entry("f_00009f", 1024), // smaller hex than header, must be excluded
	}

	res := Assemble(entry("f_0000a0", int64(len(buf))), buf, candidates)
	if res.Outcome != OutcomeChunked {
		t.Fatalf("got %v, want OutcomeChunked", res.Outcome)
	}
	want := []string{"f_0000a0", "f_0000a1", "f_0000a2", "f_0000a3", "f_0000a4"}
	if len(res.Files) != len(want) {
		t.Fatalf("got %d files, want %d: %+v", len(res.Files), len(want), res.Files)
	}
	for i, name := range want {
		if res.Files[i].Name != name {
			t.Errorf("Files[%d] = %q, want %q", i, res.Files[i].Name, name)
		}
	}
}

func TestAssembleBytesZeroFillsHexGap(t *testing.T) {
	ftyp := box("ftyp", []byte("mp42isomiso2mp41"))
	mdatHeader := make([]byte, 8)
	binary.BigEndian.PutUint32(mdatHeader[0:4], 10)
	copy(mdatHeader[4:8], "mdat")
	mdatHeader = append(mdatHeader, []byte{1, 2}...) // the 2 payload bytes: 8-byte header + 2 = the declared 10
	headerBuf := append(append([]byte{}, ftyp...), mdatHeader...)

	chunk1 := ChunkSource{Entry: entry("f_0000a1", 4), Data: []byte{3, 4, 5, 6}}
	// gap: next chunk is hex a3, one hex number (a2) skipped -> chunkSize zero bytes inserted
	chunk2 := ChunkSource{Entry: entry("f_0000a3", 2), Data: []byte{7, 8}}

	out, err := AssembleBytes(entry("f_0000a0", int64(len(headerBuf))), headerBuf, []ChunkSource{chunk1, chunk2})
	if err != nil {
		t.Fatal(err)
	}
	cutPoint := len(ftyp) + 8 + 2 // ftyp + mdat box header + the 2 bytes physically present
	if len(out) != cutPoint+4+chunkSize+2 {
		t.Fatalf("got length %d, want %d", len(out), cutPoint+4+chunkSize+2)
	}
	if out[cutPoint] != 3 || out[cutPoint+3] != 6 {
		t.Errorf("chunk1 bytes not placed correctly")
	}
	gapStart := cutPoint + 4
	for i := 0; i < chunkSize; i++ {
		if out[gapStart+i] != 0 {
			t.Fatalf("expected zero fill at offset %d", gapStart+i)
		}
	}
	if last := out[len(out)-1]; last != 8 {
		t.Errorf("last byte = %d, want 8", last)
	}
}

func TestValidateMoovCountsTopLevelMoov(t *testing.T) {
	mvhd := box("mvhd", make([]byte, 20))
	trak := box("trak", make([]byte, 8))
	moovPayload := append(append([]byte{}, mvhd...), trak...)
	moov := box("moov", moovPayload)

	buf := append([]byte{0, 0, 0, 0}, moov...) // 4 leading junk bytes
	count, displaced := ValidateMoov(buf[4:])  // skip the junk: moov is the first top-level box
	if count != 1 {
		t.Fatalf("expected top-level moov to be found, got count=%d displaced=%v", count, displaced)
	}
}
