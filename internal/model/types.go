// Package model defines the data types shared across the cache recovery
// pipeline: the on-disk file descriptor, the media kind lattice, and the
// Resource records the scanner emits for the recovery driver to consume.
package model

import "time"

// MediaCategory buckets a MediaKind into one of four coarse groups used for
// output-directory organization and UI grouping.
type MediaCategory string

const (
	CategoryImage MediaCategory = "image"
	CategoryVideo MediaCategory = "video"
	CategoryAudio MediaCategory = "audio"
	CategoryOther MediaCategory = "other"
)

// MediaKind is the closed enumeration of media types the signature detector
// and MP4 box walker can identify.
type MediaKind string

const (
	KindPNG  MediaKind = "png"
	KindJPEG MediaKind = "jpeg"
	KindGIF  MediaKind = "gif"
	KindWebP MediaKind = "webp"
	KindBMP  MediaKind = "bmp"
	KindTIFF MediaKind = "tiff"
	KindICO  MediaKind = "ico"
	KindAVIF MediaKind = "avif"
	KindHEIC MediaKind = "heic"

	KindMP4Complete   MediaKind = "mp4_complete"
	KindMP4Chunked    MediaKind = "mp4_chunked"
	KindMP4HeaderOnly MediaKind = "mp4_header_only"
	KindMP4Fragment   MediaKind = "mp4_fragment"
	KindWebMMKV       MediaKind = "webm_mkv"
	KindWebMContinue  MediaKind = "webm_continuation"
	KindAVI           MediaKind = "avi"
	KindFLV           MediaKind = "flv"
	KindMPEGTS        MediaKind = "mpeg_ts"
	KindWMV           MediaKind = "wmv"
	KindMOV           MediaKind = "mov"

	KindMP3  MediaKind = "mp3"
	KindAAC  MediaKind = "aac"
	KindOgg  MediaKind = "ogg"
	KindFLAC MediaKind = "flac"
	KindWAV  MediaKind = "wav"
	KindOpus MediaKind = "opus"
	KindWMA  MediaKind = "wma"
	KindM4A  MediaKind = "m4a"

	KindUnknownData   MediaKind = "unknown_data"
	KindRIFFUnknown   MediaKind = "riff_unknown"
	KindMediaDataChnk MediaKind = "media_data_chunk"
)

// kindInfo carries the fixed (category, extension) pair for each MediaKind.
type kindInfo struct {
	category MediaCategory
	ext      string
}

var kindTable = map[MediaKind]kindInfo{
	KindPNG:  {CategoryImage, ".png"},
	KindJPEG: {CategoryImage, ".jpg"},
	KindGIF:  {CategoryImage, ".gif"},
	KindWebP: {CategoryImage, ".webp"},
	KindBMP:  {CategoryImage, ".bmp"},
	KindTIFF: {CategoryImage, ".tiff"},
	KindICO:  {CategoryImage, ".ico"},
	KindAVIF: {CategoryImage, ".avif"},
	KindHEIC: {CategoryImage, ".heic"},

	KindMP4Complete:   {CategoryVideo, ".mp4"},
	KindMP4Chunked:    {CategoryVideo, ".mp4"},
	KindMP4HeaderOnly: {CategoryVideo, ".mp4"},
	KindMP4Fragment:   {CategoryVideo, ".mp4"},
	KindWebMMKV:       {CategoryVideo, ".webm"},
	KindWebMContinue:  {CategoryVideo, ".webm"},
	KindAVI:           {CategoryVideo, ".avi"},
	KindFLV:           {CategoryVideo, ".flv"},
	KindMPEGTS:        {CategoryVideo, ".ts"},
	KindWMV:           {CategoryVideo, ".wmv"},
	KindMOV:           {CategoryVideo, ".mov"},

	KindMP3:  {CategoryAudio, ".mp3"},
	KindAAC:  {CategoryAudio, ".aac"},
	KindOgg:  {CategoryAudio, ".ogg"},
	KindFLAC: {CategoryAudio, ".flac"},
	KindWAV:  {CategoryAudio, ".wav"},
	KindOpus: {CategoryAudio, ".opus"},
	KindWMA:  {CategoryAudio, ".wma"},
	KindM4A:  {CategoryAudio, ".m4a"},

	KindUnknownData:   {CategoryOther, ".bin"},
	KindRIFFUnknown:   {CategoryOther, ".bin"},
	KindMediaDataChnk: {CategoryOther, ".bin"},
}

// Category returns the MediaCategory for k, defaulting to CategoryOther for
// an unrecognized kind.
func (k MediaKind) Category() MediaCategory {
	if info, ok := kindTable[k]; ok {
		return info.category
	}
	return CategoryOther
}

// DefaultExt returns the default output extension for k, defaulting to
// ".bin" for an unrecognized kind.
func (k MediaKind) DefaultExt() string {
	if info, ok := kindTable[k]; ok {
		return info.ext
	}
	return ".bin"
}

// AudioHeaderKinds are the MediaKinds that identify a Blockfile entry as the
// first file of an audio resource (cf. chunk grouper phase 4).
var AudioHeaderKinds = map[MediaKind]bool{
	KindMP3: true, KindOgg: true, KindAAC: true, KindFLAC: true,
	KindWAV: true, KindOpus: true, KindWMA: true, KindM4A: true,
}

// VideoHeaderKinds are the MediaKinds that identify a Blockfile entry as the
// first file of a non-MP4 video resource.
var VideoHeaderKinds = map[MediaKind]bool{
	KindWebMMKV: true, KindAVI: true, KindFLV: true, KindMPEGTS: true, KindMOV: true,
}

// IsMediaHeader reports whether kind can start a Blockfile chunk group.
func IsMediaHeader(kind MediaKind) bool {
	return kind == KindMP4HeaderOnly || AudioHeaderKinds[kind] || VideoHeaderKinds[kind]
}

// IsContinuation reports whether kind is a bare continuation chunk: either
// undetected (empty kind) or one of the known continuation markers.
func IsContinuation(kind MediaKind) bool {
	return kind == "" || kind == KindMP4Fragment || kind == KindWebMContinue || kind == KindMediaDataChnk
}

// CacheFileEntry is an immutable filesystem listing record.
type CacheFileEntry struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
}

// VideoInfo is metadata extracted from an MP4 moov atom.
type VideoInfo struct {
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	VideoCodec      string  `json:"video_codec,omitempty"`
	AudioCodec      string  `json:"audio_codec,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	HasVideo        bool    `json:"has_video"`
	HasAudio        bool    `json:"has_audio"`
}

// Resource is a reconstructable media object discovered by the scanner.
type Resource struct {
	ID             string           `json:"id"`
	Kind           MediaKind        `json:"kind"`
	Category       MediaCategory    `json:"category"`
	Files          []CacheFileEntry `json:"files"`
	HeaderFileName string           `json:"header_file_name,omitempty"`
	TotalSize      int64            `json:"total_size"`
	DisplayName    string           `json:"display_name"`
	VideoInfo      *VideoInfo       `json:"video_info,omitempty"`
	ModifiedAt     time.Time        `json:"modified_at,omitempty"`
	Selected       bool             `json:"selected"`
}

// Recompute fills TotalSize and ModifiedAt from Files. Call after building or
// mutating Files so the derived fields stay consistent with the invariant
// TotalSize == sum(sizes) and ModifiedAt == max(modified_at).
func (r *Resource) Recompute() {
	var total int64
	var latest time.Time
	for _, f := range r.Files {
		total += f.Size
		if f.ModifiedAt.After(latest) {
			latest = f.ModifiedAt
		}
	}
	r.TotalSize = total
	r.ModifiedAt = latest
}

// CachePathInfo describes a candidate source directory for a scan.
type CachePathInfo struct {
	Path       string `json:"path"`
	Exists     bool   `json:"exists"`
	FileCount  int    `json:"file_count"`
	TotalSize  int64  `json:"total_size"`
	ClientName string `json:"client_name"`
}

// Known client names for CachePathInfo.
const (
	ClientDiscord       = "discord"
	ClientDiscordPTB    = "discord_ptb"
	ClientDiscordCanary = "discord_canary"
	ClientChrome        = "chrome"
	ClientBrave         = "brave"
	ClientEdge          = "edge"
	ClientOpera         = "opera"
	ClientCustom        = "custom"
)
