// Package recovery drives resource reconstruction: for each selected
// Resource it materializes the media bytes (copy, sparse reassembly, or
// chunked assembly), hands them to ffmpeg for a remux or re-encode, and
// writes the result into the output directory.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cachephoenix/cachephoenix/internal/assemble"
	"github.com/cachephoenix/cachephoenix/internal/bmff"
	"github.com/cachephoenix/cachephoenix/internal/cachefile"
	"github.com/cachephoenix/cachephoenix/internal/config"
	"github.com/cachephoenix/cachephoenix/internal/ffmpeg"
	"github.com/cachephoenix/cachephoenix/internal/logger"
	"github.com/cachephoenix/cachephoenix/internal/model"
	"github.com/cachephoenix/cachephoenix/internal/thumbcache"
	"github.com/cachephoenix/cachephoenix/internal/util"
)

// Phase names a recovery progress phase.
type Phase string

const (
	PhaseCopying        Phase = "copying"
	PhaseReconstructing Phase = "reconstructing"
	PhaseEncoding       Phase = "encoding"
	PhaseValidating     Phase = "validating"
	PhaseComplete       Phase = "complete"
)

// Progress is one RecoveryProgress emission.
type Progress struct {
	Phase       Phase    `json:"phase"`
	Current     int      `json:"current"`
	Total       int      `json:"total"`
	CurrentFile string   `json:"current_file,omitempty"`
	Log         []string `json:"log"`
	Errors      []string `json:"errors"`
}

const markerName = ".cachephoenix_marker"

// logThrottle is the minimum interval between non-terminal progress
// broadcasts; the complete phase always flushes.
const logThrottle = 150 * time.Millisecond

// Driver runs at most one recovery batch at a time.
type Driver struct {
	cfg    *config.Config
	tool   *ffmpeg.Tool
	thumbs *thumbcache.Store

	mu   sync.Mutex
	busy bool

	subsMu      sync.RWMutex
	subscribers map[chan Progress]struct{}

	lastEmit time.Time
}

// NewDriver creates a Driver bound to cfg and the ffmpeg binary it names.
func NewDriver(cfg *config.Config) *Driver {
	return &Driver{
		cfg:         cfg,
		tool:        ffmpeg.NewTool(cfg.FFmpegPath),
		subscribers: make(map[chan Progress]struct{}),
	}
}

// WithThumbnailCache attaches the thumbnail result cache, keyed by
// (files[0].path, max modified_at, total_size), so thumbnail generation can
// be skipped when a fresh thumbnail already exists. Optional: a Driver with
// no attached cache always regenerates.
func (d *Driver) WithThumbnailCache(store *thumbcache.Store) *Driver {
	d.thumbs = store
	return d
}

func (d *Driver) tryStart() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy {
		return false
	}
	d.busy = true
	return true
}

func (d *Driver) finish() {
	d.mu.Lock()
	d.busy = false
	d.mu.Unlock()
}

// Subscribe registers a channel for Progress broadcasts.
func (d *Driver) Subscribe() chan Progress {
	ch := make(chan Progress, 100)
	d.subsMu.Lock()
	d.subscribers[ch] = struct{}{}
	d.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a previously subscribed channel.
func (d *Driver) Unsubscribe(ch chan Progress) {
	d.subsMu.Lock()
	delete(d.subscribers, ch)
	d.subsMu.Unlock()
	close(ch)
}

func (d *Driver) broadcast(p Progress, terminal bool) {
	if !terminal && time.Since(d.lastEmit) < logThrottle {
		return
	}
	d.lastEmit = time.Now()

	d.subsMu.RLock()
	defer d.subsMu.RUnlock()
	for ch := range d.subscribers {
		select {
		case ch <- p:
		default:
		}
	}
}

type recoveredVideo struct {
	path    string
	modTime time.Time
}

// Recover runs the recovery pipeline over resources, honoring ctx
// cancellation between resources. It returns the final (complete-phase)
// Progress; errors for individual resources are recorded in Progress.Errors
// rather than aborting the batch.
func (d *Driver) Recover(ctx context.Context, resources []model.Resource) (Progress, error) {
	if !d.tryStart() {
		return Progress{}, ErrRecoveryInProgress
	}
	defer d.finish()

	if err := os.MkdirAll(d.cfg.OutDir, 0755); err != nil {
		return Progress{}, fmt.Errorf("create output directory: %w", err)
	}
	markerPath := filepath.Join(d.cfg.OutDir, markerName)
	if _, err := os.Stat(markerPath); os.IsNotExist(err) {
		_ = os.WriteFile(markerPath, nil, 0644)
	}

	total := len(resources)
	var log []string
	var errs []string
	var videos []recoveredVideo

	for i, res := range resources {
		if ctx.Err() != nil {
			log = append(log, "recovery cancelled")
			break
		}

		d.broadcast(Progress{
			Phase: PhaseCopying, Current: i, Total: total,
			CurrentFile: res.DisplayName, Log: log, Errors: errs,
		}, false)

		outPath, err := d.recoverOne(ctx, res, &log)
		if err != nil {
			msg := classifyError(res.DisplayName, err)
			errs = append(errs, msg)
			logger.ForResource(res.ID, string(res.Kind)).Warn("recovery failed", "resource", res.DisplayName, "error", err)
			continue
		}
		log = append(log, fmt.Sprintf("recovered %s -> %s", res.DisplayName, outPath))

		if res.Category == model.CategoryVideo {
			info, statErr := os.Stat(outPath)
			modTime := res.ModifiedAt
			if statErr == nil {
				modTime = info.ModTime()
			}
			videos = append(videos, recoveredVideo{path: outPath, modTime: modTime})
		}
	}

	if d.cfg.ConcatenateVideos && len(videos) >= 2 {
		sort.Slice(videos, func(i, j int) bool { return videos[i].modTime.Before(videos[j].modTime) })
		if err := d.concatenateAll(ctx, videos); err != nil {
			errs = append(errs, fmt.Sprintf("concatenate_videos: %v", err))
		} else {
			log = append(log, "wrote Concatenated_Video.mp4")
		}
	}

	final := Progress{Phase: PhaseComplete, Current: total, Total: total, Log: log, Errors: errs}
	d.broadcast(final, true)
	return final, nil
}

func (d *Driver) concatenateAll(ctx context.Context, videos []recoveredVideo) error {
	dir := d.cfg.OutDir
	if d.cfg.OrganizeByType {
		dir = filepath.Join(d.cfg.OutDir, "videos")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	paths := make([]string, len(videos))
	for i, v := range videos {
		paths[i] = v.path
	}
	dst := filepath.Join(dir, "Concatenated_Video.mp4")
	return d.tool.ConcatToMP4(ctx, paths, dst)
}

// recoverOne runs the per-kind pipeline for a single resource and returns
// its primary output path.
func (d *Driver) recoverOne(ctx context.Context, res model.Resource, log *[]string) (string, error) {
	category := string(res.Category)
	ext := res.Kind.DefaultExt()
	if res.Kind == model.KindWebMMKV && d.cfg.ConvertWebmToMp4 {
		ext = ".mp4"
	}

	outDir := d.cfg.OutputSubdir(category)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", err
	}
	base := util.SanitizeFilename(res.DisplayName)
	outPath := filepath.Join(outDir, base+ext)

	var err error
	switch res.Kind {
	case model.KindMP4Chunked:
		err = d.assembleAndRemux(ctx, res, outPath)
	case model.KindWebMMKV:
		err = d.concatAndEncode(ctx, res, outPath)
	default:
		err = d.copyAndMaybeReencode(ctx, res, outPath, log)
	}
	if err != nil {
		return "", err
	}

	if d.cfg.ConvertGifToMp4 && res.Kind == model.KindGIF {
		sibling := stripExt(outPath) + "_converted.mp4"
		if cerr := d.tool.Reencode(ctx, outPath, sibling, nil); cerr != nil {
			*log = append(*log, fmt.Sprintf("gif->mp4 conversion failed for %s: %v", res.DisplayName, cerr))
		}
	}
	if d.cfg.GenerateThumbnails && res.Category == model.CategoryVideo {
		var duration time.Duration
		if res.VideoInfo != nil {
			duration = time.Duration(res.VideoInfo.DurationSeconds * float64(time.Second))
		}
		wantPath := stripExt(outPath) + "_thumb.jpg"
		generate := func() (string, error) {
			if terr := d.tool.Thumbnail(ctx, outPath, wantPath, duration); terr != nil {
				return "", terr
			}
			return wantPath, nil
		}

		var thumbErr error
		if d.thumbs != nil {
			key := res.Files[0].Path
			_, thumbErr = d.thumbs.GetOrGenerate(key, res.ModifiedAt.Unix(), res.TotalSize, generate)
		} else {
			_, thumbErr = generate()
		}
		if thumbErr != nil {
			*log = append(*log, fmt.Sprintf("thumbnail generation failed for %s: %v", res.DisplayName, thumbErr))
		}
	}

	return outPath, nil
}

func stripExt(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

// copyAndMaybeReencode handles images, single-file audio, and single-file
// video that is neither mp4_chunked nor webm_mkv.
func (d *Driver) copyAndMaybeReencode(ctx context.Context, res model.Resource, outPath string, log *[]string) error {
	src := res.Files[0]

	var body []byte
	var err error
	if strings.HasSuffix(src.Name, "_s") {
		body, err = cachefile.ReadSparseAll(src.Path)
	} else {
		body, err = os.ReadFile(src.Path)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, body, 0644); err != nil {
		return err
	}

	if res.Category != model.CategoryVideo {
		return nil
	}

	scratch := outPath + ".reencode.tmp.mp4"
	if err := d.tool.Reencode(ctx, outPath, scratch, nil); err != nil {
		// A failed re-encode is recorded, the scratch output is deleted,
		// and the raw copy is kept as a best-effort recovery rather than
		// aborting the resource.
		os.Remove(scratch)
		*log = append(*log, fmt.Sprintf("re-encode failed for %s, kept raw copy: %v", res.DisplayName, err))
		return nil
	}
	if err := os.Remove(outPath); err != nil {
		os.Remove(scratch)
		return err
	}
	if err := os.Rename(scratch, outPath); err != nil {
		return err
	}
	return keepFirstMoovOnly(outPath)
}

// assembleAndRemux handles mp4_chunked: byte assembly followed by a
// mandatory stream-copy remux (re-encoding would truncate at the first
// zero-filled gap).
func (d *Driver) assembleAndRemux(ctx context.Context, res model.Resource, outPath string) error {
	header := res.Files[0]
	headerBuf, err := os.ReadFile(header.Path)
	if err != nil {
		return err
	}

	chunks := make([]assemble.ChunkSource, 0, len(res.Files)-1)
	for _, f := range res.Files[1:] {
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return err
		}
		chunks = append(chunks, assemble.ChunkSource{Entry: f, Data: data})
	}

	raw, err := assemble.AssembleBytes(header, headerBuf, chunks)
	if err != nil {
		return err
	}

	scratch := outPath + ".raw.tmp.mp4"
	if err := os.WriteFile(scratch, raw, 0644); err != nil {
		return err
	}

	if err := d.tool.Remux(ctx, scratch, outPath, nil); err != nil {
		// Keep the raw assembly rather than deleting it on remux failure.
		keepPath := outPath + ".raw"
		os.Rename(scratch, keepPath)
		return fmt.Errorf("remux failed, raw assembly kept at %s: %w", keepPath, err)
	}
	os.Remove(scratch)
	return keepFirstMoovOnly(outPath)
}

// concatAndEncode handles webm_mkv: verbatim concatenation of all chunk
// files into a scratch .webm, then an optional re-encode to MP4.
func (d *Driver) concatAndEncode(ctx context.Context, res model.Resource, outPath string) error {
	scratch := filepath.Join(os.TempDir(), fmt.Sprintf("cachephoenix_%d_%d.scratch.webm", os.Getpid(), time.Now().UnixNano()))
	paths := make([]string, len(res.Files))
	for i, f := range res.Files {
		paths[i] = f.Path
	}
	defer os.Remove(scratch)

	if err := ffmpeg.ConcatVerbatim(paths, scratch); err != nil {
		return err
	}

	if d.cfg.ConvertWebmToMp4 {
		if err := d.tool.Reencode(ctx, scratch, outPath, nil); err != nil {
			return err
		}
		return keepFirstMoovOnly(outPath)
	}

	data, err := os.ReadFile(scratch)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0644)
}

// keepFirstMoovOnly truncates path at the start of a second top-level moov
// box, structural defense against an interrupted +faststart write that left
// a duplicate moov appended after the first.
func keepFirstMoovOnly(path string) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	boxes := bmff.ParseBoxes(buf, 0, int64(len(buf)))
	moovs := bmff.FindAll(boxes, "moov")
	if len(moovs) <= 1 {
		return nil
	}
	second := moovs[1]
	return os.Truncate(path, second.Offset)
}

// classifyError distinguishes permission failures (EPERM from macOS TCC,
// EACCES from POSIX) from ordinary I/O failures.
func classifyError(displayName string, err error) string {
	switch {
	case errors.Is(err, syscall.EPERM):
		return fmt.Sprintf("%s: permission denied (macOS Full Disk Access required): %v", displayName, err)
	case errors.Is(err, syscall.EACCES):
		return fmt.Sprintf("%s: permission denied (file system permissions): %v", displayName, err)
	default:
		return fmt.Sprintf("%s: %v", displayName, err)
	}
}
