// Package assemble reassembles chunked MP4 cache entries: given a header
// file's parsed box tree and a pool of candidate continuation chunks, it
// selects the chunks that belong to the same logical media object and later
// concatenates them (with zero-filled gaps) into one contiguous byte stream.
package assemble

import (
	"math"

	"github.com/cachephoenix/cachephoenix/internal/bmff"
	"github.com/cachephoenix/cachephoenix/internal/cachefile"
	"github.com/cachephoenix/cachephoenix/internal/model"
)

const chunkSize = 1 << 20 // Chromium's approximate per-chunk write size

// Outcome classifies what Assemble decided for a header file.
type Outcome int

const (
	// OutcomeNone means the header buffer has no mdat box at all; there is
	// nothing this assembler can extend.
	OutcomeNone Outcome = iota
	// OutcomeHeaderOnly means an mdat was found but no candidate chunk in
	// range was available to extend it.
	OutcomeHeaderOnly
	// OutcomeChunked means one or more continuation chunks were selected.
	OutcomeChunked
)

// Result is what Assemble decided, plus the files a Chunked/HeaderOnly
// resource should be built from (always header-first).
type Result struct {
	Outcome Outcome
	Files   []model.CacheFileEntry
}

// Assemble decides which candidate chunks extend header: it requires an
// mdat box, computes a max-chunk-count and hex-locality window from whether
// the header's declared mdat size already fits inside headerBuf, then
// greedily selects ascending-hex candidates within that window.
func Assemble(header model.CacheFileEntry, headerBuf []byte, candidates []model.CacheFileEntry) Result {
	boxes := bmff.ParseBoxes(headerBuf, 0, int64(len(headerBuf)))
	mdats := bmff.FindAll(boxes, "mdat")
	if len(mdats) == 0 {
		return Result{Outcome: OutcomeNone}
	}
	mdat := mdats[0]

	headerHex, ok := cachefile.ParseBlockfileHex(header.Name)
	if !ok {
		return Result{Outcome: OutcomeHeaderOnly, Files: []model.CacheFileEntry{header}}
	}

	bufLen := int64(len(headerBuf))
	mdatReachedEnd := mdat.Offset+mdat.Size >= bufLen

	var maxChunks, hexRange int64
	if mdatReachedEnd {
		remaining := mdat.Size - (bufLen - mdat.Offset)
		maxChunks = ceilDiv(remaining, chunkSize) + 5
		hexRange = maxChunks + 10
	} else {
		maxChunks = ceilDiv(mdat.Size+bufLen, chunkSize) + 5
		hexRange = maxChunks * 2
	}

	collected := selectCandidates(headerHex, hexRange, maxChunks, candidates)
	if len(collected) == 0 {
		return Result{Outcome: OutcomeHeaderOnly, Files: []model.CacheFileEntry{header}}
	}

	files := make([]model.CacheFileEntry, 0, len(collected)+1)
	files = append(files, header)
	files = append(files, collected...)
	return Result{Outcome: OutcomeChunked, Files: files}
}

func ceilDiv(n, d int64) int64 {
	if n <= 0 {
		return 0
	}
	return int64(math.Ceil(float64(n) / float64(d)))
}

// candidateHex pairs an entry with its parsed Blockfile hex, for sorting.
type candidateHex struct {
	entry model.CacheFileEntry
	hex   uint32
}

// selectCandidates picks entries whose hex parses, is strictly greater than
// headerHex, and within headerHex+hexRange, sorted ascending, capped at
// maxChunks.
func selectCandidates(headerHex uint32, hexRange, maxChunks int64, candidates []model.CacheFileEntry) []model.CacheFileEntry {
	var in []candidateHex
	for _, c := range candidates {
		hex, ok := cachefile.ParseBlockfileHex(c.Name)
		if !ok || hex <= headerHex {
			continue
		}
		if int64(hex)-int64(headerHex) > hexRange {
			continue
		}
		in = append(in, candidateHex{c, hex})
	}
	sortCandidates(in)

	if maxChunks >= 0 && int64(len(in)) > maxChunks {
		in = in[:maxChunks]
	}
	out := make([]model.CacheFileEntry, len(in))
	for i, c := range in {
		out[i] = c.entry
	}
	return out
}

func sortCandidates(in []candidateHex) {
	// insertion sort: candidate pools are small (bounded by hex_range)
	for i := 1; i < len(in); i++ {
		for j := i; j > 0 && in[j].hex < in[j-1].hex; j-- {
			in[j], in[j-1] = in[j-1], in[j]
		}
	}
}

// ChunkSource supplies the raw bytes for one continuation chunk file during
// byte assembly.
type ChunkSource struct {
	Entry model.CacheFileEntry
	Data  []byte
}

// AssembleBytes concatenates headerBuf's content up through the mdat box
// (verbatim through min(mdat.size, remaining-header-bytes)), then appends
// each chunk in ascending-hex order at its expected offset, zero-filling any
// hex-number gap between consecutive chunks at chunkSize granularity.
func AssembleBytes(header model.CacheFileEntry, headerBuf []byte, chunks []ChunkSource) ([]byte, error) {
	boxes := bmff.ParseBoxes(headerBuf, 0, int64(len(headerBuf)))
	mdats := bmff.FindAll(boxes, "mdat")

	cutPoint := int64(len(headerBuf))
	if len(mdats) > 0 {
		mdat := mdats[0]
		remaining := int64(len(headerBuf)) - mdat.Offset
		take := mdat.Size
		if take > remaining {
			take = remaining
		}
		if take < 0 {
			take = 0
		}
		cutPoint = mdat.Offset + take
	}
	if cutPoint > int64(len(headerBuf)) {
		cutPoint = int64(len(headerBuf))
	}

	out := make([]byte, 0, cutPoint+int64(len(chunks))*chunkSize)
	out = append(out, headerBuf[:cutPoint]...)

	headerHex, _ := cachefile.ParseBlockfileHex(header.Name)
	prevHex := headerHex
	for _, c := range chunks {
		hex, ok := cachefile.ParseBlockfileHex(c.Entry.Name)
		if !ok {
			hex = prevHex + 1
		}
		if gap := int64(hex) - int64(prevHex); gap > 1 {
			out = append(out, make([]byte, (gap-1)*chunkSize)...)
		}
		out = append(out, c.Data...)
		prevHex = hex
	}
	return out, nil
}

// ValidateMoov reports how many moov boxes are present in buf's top-level
// box chain, plus a salvage scan for a displaced moov if none were found
// there directly. Used by the recovery driver's post-remux moov-count
// defense and to decide whether relocation guidance is needed.
func ValidateMoov(buf []byte) (topLevelCount int, displaced []bmff.MoovCandidate) {
	boxes := bmff.ParseBoxes(buf, 0, int64(len(buf)))
	topLevelCount = len(bmff.FindAll(boxes, "moov"))
	if topLevelCount == 0 {
		displaced = bmff.ScanForMoov(buf)
	}
	return topLevelCount, displaced
}
