// Package scan turns a cache directory into a catalogue of Resources: it
// partitions files into Simple Cache stream groups and Blockfile entries,
// types each by signature (and box structure for MP4 headers), and emits
// one Resource per logical media object by walking hex-sorted Blockfile
// entries and pairing header files with their continuation chunks.
package scan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cachephoenix/cachephoenix/internal/assemble"
	"github.com/cachephoenix/cachephoenix/internal/bmff"
	"github.com/cachephoenix/cachephoenix/internal/cachefile"
	"github.com/cachephoenix/cachephoenix/internal/detect"
	"github.com/cachephoenix/cachephoenix/internal/logger"
	"github.com/cachephoenix/cachephoenix/internal/model"
)

// headerPrefixSize is how many bytes are read before signature detection;
// 256 covers every signature including the MPEG-TS second-sync probe.
const headerPrefixSize = 256

// hexContinuationBudget is the hex-locality budget for non-MP4 chunk groups.
const hexContinuationBudget = 500

// Phase names a ScanProgress callback observes, in the order they occur.
type Phase string

const (
	PhaseListing    Phase = "listing"
	PhaseDetecting  Phase = "detecting"
	PhaseGrouping   Phase = "grouping"
	PhaseThumbnails Phase = "thumbnails"
	PhaseDone       Phase = "done"
)

// Progress is reported as the scan advances. The first PhaseDetecting report
// carries Total (the number of listed files); later PhaseDetecting reports
// tick Current once per Simple Cache hash group and leave Total at zero.
// Blockfile entries are typed during PhaseGrouping without per-file reports.
type Progress struct {
	Phase       Phase  `json:"phase"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	CurrentFile string `json:"current_file,omitempty"`
}

// ProgressFunc receives Progress updates. Implementations must not block for
// long: the core treats this as a potential suspension point but assumes
// updates are observed in issue order.
type ProgressFunc func(Progress)

// Scanner runs at most one scan at a time.
type Scanner struct {
	mu   sync.Mutex
	busy bool
}

// NewScanner returns a ready-to-use Scanner.
func NewScanner() *Scanner {
	return &Scanner{}
}

func (s *Scanner) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Scanner) finish() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Scan walks dir and returns the catalogue of Resources it discovers.
// onProgress may be nil. Cancellation is polled between phases.
func (s *Scanner) Scan(ctx context.Context, dir string, onProgress ProgressFunc) ([]model.Resource, error) {
	if !s.tryStart() {
		return nil, ErrScanInProgress
	}
	defer s.finish()

	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	report(Progress{Phase: PhaseListing})
	entries, err := listDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDirNotFound, dir, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report(Progress{Phase: PhaseDetecting, Total: len(entries)})
	scc, blockfiles := partition(entries)

	simpleResources := detectSimpleCacheGroups(scc, report)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report(Progress{Phase: PhaseGrouping})
	blockfileResources := groupBlockfiles(blockfiles)

	resources := make([]model.Resource, 0, len(simpleResources)+len(blockfileResources))
	resources = append(resources, simpleResources...)
	resources = append(resources, blockfileResources...)
	for i := range resources {
		resources[i].ID = uuid.NewString()
		resources[i].Recompute()
	}

	report(Progress{Phase: PhaseDone, Total: len(resources), Current: len(resources)})
	return resources, nil
}

// listDir enumerates dir non-recursively into CacheFileEntry records.
func listDir(dir string) ([]model.CacheFileEntry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]model.CacheFileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			logger.Warn("scan: could not stat entry", "name", de.Name(), "error", err)
			continue
		}
		entries = append(entries, model.CacheFileEntry{
			Name:       de.Name(),
			Path:       filepath.Join(dir, de.Name()),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}
	return entries, nil
}

// simpleCacheGroup collects the up-to-three stream files sharing a hash.
type simpleCacheGroup struct {
	file0, file1, fileS *model.CacheFileEntry
}

// partition splits entries into Simple Cache hash groups and Blockfile
// entries. Filenames matching neither pattern are ignored.
func partition(entries []model.CacheFileEntry) (map[string]*simpleCacheGroup, []model.CacheFileEntry) {
	groups := make(map[string]*simpleCacheGroup)
	var blockfiles []model.CacheFileEntry

	for i := range entries {
		e := entries[i]
		if hash, stream, ok := cachefile.SplitSimpleCacheName(e.Name); ok {
			g, exists := groups[hash]
			if !exists {
				g = &simpleCacheGroup{}
				groups[hash] = g
			}
			switch stream {
			case cachefile.Stream0:
				g.file0 = &e
			case cachefile.Stream1:
				g.file1 = &e
			case cachefile.StreamS:
				g.fileS = &e
			}
			continue
		}
		if cachefile.IsBlockfileName(e.Name) {
			blockfiles = append(blockfiles, e)
		}
	}
	return groups, blockfiles
}

// detectSimpleCacheGroups types each hash group: sparse-first, then _0 body,
// then Content-Type fallback at each tier.
func detectSimpleCacheGroups(groups map[string]*simpleCacheGroup, report func(Progress)) []model.Resource {
	var out []model.Resource
	i := 0
	for hash, g := range groups {
		i++
		report(Progress{Phase: PhaseDetecting, Current: i, CurrentFile: hash})
		if res, ok := detectSimpleCacheGroup(hash, g); ok {
			out = append(out, res)
		}
	}
	return out
}

func detectSimpleCacheGroup(hash string, g *simpleCacheGroup) (model.Resource, bool) {
	if g.fileS != nil && g.fileS.Size > 0 {
		if res, ok := detectSparse(hash, g); ok {
			return res, true
		}
	}
	if g.file0 != nil {
		if res, ok := detectStream0(hash, g); ok {
			return res, true
		}
	}
	return model.Resource{}, false
}

func detectSparse(hash string, g *simpleCacheGroup) (model.Resource, bool) {
	header, err := cachefile.ReadSparseHeader(g.fileS.Path, headerPrefixSize)
	if err != nil {
		logger.Debug("scan: sparse header read failed", "path", g.fileS.Path, "error", err)
		return model.Resource{}, false
	}

	if kind, ok := detect.Detect(header); ok {
		return classifyFromSignature(hash, *g.fileS, kind, readSparseFull(g.fileS.Path), sparseSize(g.fileS.Path, g.fileS.Size))
	}

	if g.file0 != nil {
		if mime, ok := cachefile.ReadContentType(g.file0.Path); ok {
			if kind, ok := detect.KindFromMIME(mime); ok {
				return classifyFromSignature(hash, *g.fileS, kind, readSparseFull(g.fileS.Path), sparseSize(g.fileS.Path, g.fileS.Size))
			}
		}
	}
	return model.Resource{}, false
}

func detectStream0(hash string, g *simpleCacheGroup) (model.Resource, bool) {
	header, err := cachefile.ReadHeader(g.file0.Path, headerPrefixSize)
	if err != nil {
		logger.Debug("scan: stream0 header read failed", "path", g.file0.Path, "error", err)
		return model.Resource{}, false
	}

	readFull := func() []byte {
		buf, err := cachefile.ReadAll(g.file0.Path)
		if err != nil {
			return nil
		}
		return buf
	}

	if kind, ok := detect.Detect(header); ok {
		return classifyFromSignature(hash, *g.file0, kind, readFull, g.file0.Size)
	}
	if mime, ok := cachefile.ReadContentType(g.file0.Path); ok {
		if kind, ok := detect.KindFromMIME(mime); ok {
			return classifyFromSignature(hash, *g.file0, kind, readFull, g.file0.Size)
		}
	}
	return model.Resource{}, false
}

func readSparseFull(path string) func() []byte {
	return func() []byte {
		buf, err := cachefile.ReadSparseAll(path)
		if err != nil {
			return nil
		}
		return buf
	}
}

func sparseSize(path string, fallback int64) int64 {
	size, err := cachefile.SparseTotalSize(path)
	if err != nil {
		return fallback
	}
	return int64(size)
}

// classifyFromSignature finishes one hash group once a kind has
// been determined: for mp4_complete it re-reads the full stream to decide
// complete-vs-header-only via the box walker; otherwise it emits directly
// using reportedSize as the file's logical size.
func classifyFromSignature(hash string, file model.CacheFileEntry, kind model.MediaKind, readFull func() []byte, reportedSize int64) (model.Resource, bool) {
	if kind == model.KindMP4Complete {
		buf := readFull()
		if buf == nil {
			return model.Resource{}, false
		}
		boxes := bmff.ParseBoxes(buf, 0, int64(len(buf)))
		moovs := bmff.FindAll(boxes, "moov")
		hasMdat := len(bmff.FindAll(boxes, "mdat")) > 0
		finalKind := model.KindMP4HeaderOnly
		if len(moovs) > 0 && hasMdat {
			finalKind = model.KindMP4Complete
		}
		file.Size = int64(len(buf))
		res := buildResource(finalKind, []model.CacheFileEntry{file}, hash)
		res.VideoInfo = videoInfoFromMoov(buf, moovs)
		return res, true
	}

	file.Size = reportedSize
	return buildResource(kind, []model.CacheFileEntry{file}, hash), true
}

func buildResource(kind model.MediaKind, files []model.CacheFileEntry, displayBase string) model.Resource {
	res := model.Resource{
		Kind:        kind,
		Category:    kind.Category(),
		Files:       files,
		DisplayName: displayBase,
	}
	if len(files) > 0 {
		res.HeaderFileName = files[0].Name
	}
	return res
}

// blockfileRecord carries a Blockfile entry plus its detected kind and, for
// mp4_header_only entries, the full buffer the assembler needs.
type blockfileRecord struct {
	entry model.CacheFileEntry
	hex   uint32
	kind  model.MediaKind // "" means undetected (phase-5 continuation candidate)
	buf   []byte          // populated only for mp4_header_only
	info  *model.VideoInfo
}

// groupBlockfiles implements Phases 2b-5 of the chunk grouper.
func groupBlockfiles(files []model.CacheFileEntry) []model.Resource {
	var headerFiles, dataChunks, standalone []blockfileRecord

	for _, e := range files {
		hex, _ := cachefile.ParseBlockfileHex(e.Name)
		header, err := cachefile.ReadHeader(e.Path, headerPrefixSize)
		if err != nil {
			logger.Warn("scan: could not read blockfile header", "path", e.Path, "error", err)
			continue
		}
		kind, ok := detect.Detect(header)
		if !ok {
			dataChunks = append(dataChunks, blockfileRecord{entry: e, hex: hex})
			continue
		}
		if kind == model.KindMP4Complete {
			buf, err := cachefile.ReadAll(e.Path)
			if err != nil {
				logger.Warn("scan: could not read mp4 candidate", "path", e.Path, "error", err)
				continue
			}
			boxes := bmff.ParseBoxes(buf, 0, int64(len(buf)))
			moovs := bmff.FindAll(boxes, "moov")
			hasMdat := len(bmff.FindAll(boxes, "mdat")) > 0
			if len(moovs) > 0 && hasMdat {
				standalone = append(standalone, blockfileRecord{entry: e, hex: hex, kind: model.KindMP4Complete, info: videoInfoFromMoov(buf, moovs)})
			} else {
				headerFiles = append(headerFiles, blockfileRecord{entry: e, hex: hex, kind: model.KindMP4HeaderOnly, buf: buf})
			}
			continue
		}
		standalone = append(standalone, blockfileRecord{entry: e, hex: hex, kind: kind})
	}

	// Split standalone detections into the pool the unified walk
	// must absorb (continuation markers, and non-MP4 media headers that may
	// still gain continuation chunks) versus true one-and-done singles
	// (images and any other kind that can neither lead nor extend a group).
	var singles []model.Resource
	var pool []blockfileRecord
	for _, r := range standalone {
		isContinuationMarker := (r.kind == model.KindMP4Fragment || r.kind == model.KindWebMContinue) && cachefile.IsBlockfileName(r.entry.Name)
		if isContinuationMarker || model.IsMediaHeader(r.kind) {
			pool = append(pool, r)
			continue
		}
		single := buildResource(r.kind, []model.CacheFileEntry{r.entry}, baseDisplayName(r.entry.Name))
		single.VideoInfo = r.info
		singles = append(singles, single)
	}

	// Unified walk over header files, data chunks, and the pool.
	all := make([]blockfileRecord, 0, len(headerFiles)+len(dataChunks)+len(pool))
	all = append(all, headerFiles...)
	all = append(all, dataChunks...)
	all = append(all, pool...)
	sort.Slice(all, func(i, j int) bool { return all[i].hex < all[j].hex })

	claimed := make(map[string]bool, len(all))
	var grouped []model.Resource

	for i, e := range all {
		if claimed[e.entry.Name] || !model.IsMediaHeader(e.kind) {
			continue
		}
		if e.kind == model.KindMP4HeaderOnly {
			res, claimedNames := assembleChunked(e, all, claimed)
			for _, n := range claimedNames {
				claimed[n] = true
			}
			grouped = append(grouped, res)
			continue
		}

		group := []model.CacheFileEntry{e.entry}
		claimed[e.entry.Name] = true
		for j := i + 1; j < len(all); j++ {
			c := all[j]
			if model.IsMediaHeader(c.kind) {
				break
			}
			if !model.IsContinuation(c.kind) {
				break
			}
			if c.hex-e.hex > hexContinuationBudget {
				break
			}
			group = append(group, c.entry)
			claimed[c.entry.Name] = true
		}
		grouped = append(grouped, buildResource(e.kind, group, baseDisplayName(e.entry.Name)))
	}

	// Unidentified tail.
	var tailFiles []model.CacheFileEntry
	for _, e := range all {
		if !claimed[e.entry.Name] {
			tailFiles = append(tailFiles, e.entry)
		}
	}

	blockfileResources := append(singles, grouped...)
	sort.Slice(blockfileResources, func(i, j int) bool {
		return firstHex(blockfileResources[i]) < firstHex(blockfileResources[j])
	})

	if len(tailFiles) > 0 {
		sort.Slice(tailFiles, func(i, j int) bool {
			hi, _ := cachefile.ParseBlockfileHex(tailFiles[i].Name)
			hj, _ := cachefile.ParseBlockfileHex(tailFiles[j].Name)
			return hi < hj
		})
		blockfileResources = append(blockfileResources, buildResource(model.KindUnknownData, tailFiles, "unknown_data"))
	}

	return blockfileResources
}

// assembleChunked delegates one mp4_header_only entry to the assembler,
// returning the emitted Resource plus the filenames to mark claimed.
func assembleChunked(header blockfileRecord, all []blockfileRecord, claimed map[string]bool) (model.Resource, []string) {
	var candidates []model.CacheFileEntry
	for _, c := range all {
		if claimed[c.entry.Name] || c.entry.Name == header.entry.Name {
			continue
		}
		if model.IsContinuation(c.kind) {
			candidates = append(candidates, c.entry)
		}
	}

	result := assemble.Assemble(header.entry, header.buf, candidates)
	if result.Outcome != assemble.OutcomeChunked {
		return buildResource(model.KindMP4HeaderOnly, []model.CacheFileEntry{header.entry}, baseDisplayName(header.entry.Name)),
			[]string{header.entry.Name}
	}

	names := make([]string, len(result.Files))
	for i, f := range result.Files {
		names[i] = f.Name
	}
	return buildResource(model.KindMP4Chunked, result.Files, baseDisplayName(header.entry.Name)), names
}

// videoInfoFromMoov extracts VideoInfo from the first parsed moov box, or
// nil when none was found (no moov means no metadata to report).
func videoInfoFromMoov(buf []byte, moovs []bmff.Box) *model.VideoInfo {
	if len(moovs) == 0 {
		return nil
	}
	info := bmff.ExtractVideoInfo(buf, moovs[0].Offset, moovs[0].Size)
	return &info
}

func firstHex(r model.Resource) uint32 {
	if len(r.Files) == 0 {
		return ^uint32(0)
	}
	hex, _ := cachefile.ParseBlockfileHex(r.Files[0].Name)
	return hex
}

// baseDisplayName strips a Simple Cache stream suffix, leaving the raw name
// (Blockfile names need no stripping).
func baseDisplayName(name string) string {
	if hash, _, ok := cachefile.SplitSimpleCacheName(name); ok {
		return hash
	}
	return strings.TrimSuffix(name, filepath.Ext(name))
}
