// Package detect identifies media types by magic bytes. Detect maps a
// prefix buffer to a MediaKind, evaluating a fixed precedence order where
// the first match wins.
package detect

import (
	"encoding/binary"
	"strings"

	"github.com/cachephoenix/cachephoenix/internal/model"
)

func hasPrefixAt(buf []byte, offset int, prefix []byte) bool {
	if offset < 0 || len(buf) < offset+len(prefix) {
		return false
	}
	for i, b := range prefix {
		if buf[offset+i] != b {
			return false
		}
	}
	return true
}

func hasPrefix(buf []byte, prefix []byte) bool {
	return hasPrefixAt(buf, 0, prefix)
}

// asfGUID is the ASF header object GUID, identifying Windows Media Audio.
var asfGUID = []byte{0x30, 0x26, 0xB2, 0x75, 0x8E, 0x66, 0xCF, 0x11, 0xA6, 0xD9, 0x00, 0xAA, 0x00, 0x62, 0xCE, 0x6C}

// fragmentBoxTypes are the box types that mark a buffer as a mid-stream
// MP4 fragment rather than a file start.
var fragmentBoxTypes = map[string]bool{"styp": true, "moof": true, "sidx": true, "mdat": true}

// Detect maps buf to a MediaKind using the fixed precedence order from the
// signature table. Returns ok=false when nothing matches.
func Detect(buf []byte) (model.MediaKind, bool) {
	switch {
	case hasPrefix(buf, []byte{0x89, 0x50, 0x4E, 0x47}):
		return model.KindPNG, true
	case hasPrefix(buf, []byte{0xFF, 0xD8, 0xFF}):
		return model.KindJPEG, true
	case hasPrefix(buf, []byte("GIF87a")), hasPrefix(buf, []byte("GIF89a")):
		return model.KindGIF, true
	case hasPrefix(buf, []byte("BM")):
		return model.KindBMP, true
	case hasPrefix(buf, []byte{0x49, 0x49, 0x2A, 0x00}), hasPrefix(buf, []byte{0x4D, 0x4D, 0x00, 0x2A}):
		return model.KindTIFF, true
	case hasPrefix(buf, []byte{0x00, 0x00, 0x01, 0x00}):
		return model.KindICO, true
	case hasPrefix(buf, []byte("RIFF")):
		return detectRIFF(buf), true
	case hasPrefix(buf, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return model.KindWebMMKV, true
	case hasPrefix(buf, []byte("FLV\x01")):
		return model.KindFLV, true
	}

	if len(buf) > 0 && buf[0] == 0x47 && isMPEGTSSecondSync(buf) {
		return model.KindMPEGTS, true
	}

	switch {
	case hasPrefix(buf, []byte("ID3")):
		return model.KindMP3, true
	case len(buf) >= 2 && buf[0] == 0xFF && isMP3SyncByte(buf[1]):
		return model.KindMP3, true
	case hasPrefix(buf, []byte("OggS")):
		return model.KindOgg, true
	case hasPrefix(buf, []byte("fLaC")):
		return model.KindFLAC, true
	case hasPrefix(buf, asfGUID):
		return model.KindWMA, true
	}

	// ADTS AAC fallback: evaluated after the table (so the four explicit
	// MP3 sync bytes above have already claimed their buffers) and before
	// ISO BMFF.
	if isADTSSync(buf) {
		return model.KindAAC, true
	}

	if kind, ok := detectISOBMFF(buf); ok {
		return kind, true
	}

	if kind, ok := detectFragmentMarker(buf); ok {
		return kind, true
	}

	if hasPrefix(buf, []byte{0x1F, 0x43, 0xB6, 0x75}) {
		return model.KindWebMContinue, true
	}

	return "", false
}

func isMP3SyncByte(b byte) bool {
	switch b {
	case 0xFB, 0xF3, 0xF2, 0xFE:
		return true
	}
	return false
}

// isADTSSync reports whether buf starts with an ADTS AAC syncword whose
// layer bits (byte1 & 0x06) are nonzero. Buffers matching one of the four
// reserved MP3 sync bytes are claimed earlier in Detect and never reach
// here.
func isADTSSync(buf []byte) bool {
	if len(buf) < 2 || buf[0] != 0xFF {
		return false
	}
	return buf[1]&0xF0 == 0xF0 && buf[1]&0x06 != 0
}

func isMPEGTSSecondSync(buf []byte) bool {
	return len(buf) >= 189 && buf[188] == 0x47
}

func detectRIFF(buf []byte) model.MediaKind {
	if len(buf) < 12 {
		return model.KindRIFFUnknown
	}
	switch string(buf[8:12]) {
	case "WAVE":
		return model.KindWAV
	case "AVI ":
		return model.KindAVI
	case "WEBP":
		return model.KindWebP
	default:
		return model.KindRIFFUnknown
	}
}

func detectISOBMFF(buf []byte) (model.MediaKind, bool) {
	if len(buf) < 12 || string(buf[4:8]) != "ftyp" {
		return "", false
	}
	boxSize := binary.BigEndian.Uint32(buf[0:4])
	if boxSize < 8 || boxSize > 512 {
		return "", false
	}
	brand := strings.Trim(string(buf[8:12]), "\x00 ")
	switch brand {
	case "avif", "avis":
		return model.KindAVIF, true
	case "heic", "hevc", "mif1", "msf1":
		return model.KindHEIC, true
	case "M4A", "m4a", "M4B", "M4P":
		return model.KindM4A, true
	case "qt":
		return model.KindMOV, true
	default:
		return model.KindMP4Complete, true
	}
}

func detectFragmentMarker(buf []byte) (model.MediaKind, bool) {
	if len(buf) < 8 {
		return "", false
	}
	boxSize := binary.BigEndian.Uint32(buf[0:4])
	if boxSize < 8 || boxSize > 50_000_000 {
		return "", false
	}
	if fragmentBoxTypes[string(buf[4:8])] {
		return model.KindMP4Fragment, true
	}
	return "", false
}

// mimeToKind maps Content-Type values to kinds, for entries whose magic
// bytes fail to identify.
var mimeToKind = map[string]model.MediaKind{
	"video/mp4":                model.KindMP4Complete,
	"video/webm":               model.KindWebMMKV,
	"video/x-matroska":         model.KindWebMMKV,
	"video/x-flv":              model.KindFLV,
	"video/x-msvideo":          model.KindAVI,
	"video/quicktime":          model.KindMOV,
	"video/mp2t":               model.KindMPEGTS,
	"audio/mpeg":               model.KindMP3,
	"audio/mp3":                model.KindMP3,
	"audio/aac":                model.KindAAC,
	"audio/ogg":                model.KindOgg,
	"audio/flac":               model.KindFLAC,
	"audio/wav":                model.KindWAV,
	"audio/x-wav":              model.KindWAV,
	"audio/mp4":                model.KindM4A,
	"audio/x-m4a":              model.KindM4A,
	"audio/x-ms-wma":           model.KindWMA,
	"image/png":                model.KindPNG,
	"image/jpeg":               model.KindJPEG,
	"image/gif":                model.KindGIF,
	"image/webp":               model.KindWebP,
	"image/bmp":                model.KindBMP,
	"image/tiff":               model.KindTIFF,
	"image/x-icon":             model.KindICO,
	"image/vnd.microsoft.icon": model.KindICO,
	"image/avif":               model.KindAVIF,
	"image/heic":               model.KindHEIC,
	"image/heif":               model.KindHEIC,
}

// KindFromMIME looks up mime (case-insensitive, no ';' parameters expected)
// in the Content-Type fallback table.
func KindFromMIME(mime string) (model.MediaKind, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	kind, ok := mimeToKind[mime]
	return kind, ok
}
