// Package bmff walks ISO Base Media File Format (MP4) boxes: parsing the
// box tree, finding boxes by type, salvage-scanning for a displaced moov
// atom, and extracting VideoInfo from a moov subtree.
package bmff

import (
	"bytes"
	"encoding/binary"

	"github.com/cachephoenix/cachephoenix/internal/model"
)

// Box is a parsed ISO BMFF box record. Children is populated only when
// Type is in the container set.
type Box struct {
	Offset   int64
	Size     int64
	Type     string
	Children []Box
}

// containerSet holds the box types parse_boxes recurses into.
var containerSet = map[string]bool{
	"moov": true, "trak": true, "mdia": true, "minf": true, "stbl": true,
	"edts": true, "mvex": true, "dinf": true, "udta": true, "moof": true,
	"traf": true, "sinf": true, "schi": true,
}

func isFourPrintableASCII(b []byte) bool {
	if len(b) != 4 {
		return false
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return false
		}
	}
	return true
}

// ParseBoxes walks the box chain in buf[start:end], recursing into
// container boxes. Parsing stops (soft failure) at a box whose header
// doesn't fit, whose size is below 8, or whose type isn't four printable
// ASCII characters; whatever was collected before that point is returned.
func ParseBoxes(buf []byte, start, end int64) []Box {
	if start < 0 {
		start = 0
	}
	if end > int64(len(buf)) {
		end = int64(len(buf))
	}

	var boxes []Box
	pos := start
	for end-pos >= 8 {
		size32 := binary.BigEndian.Uint32(buf[pos : pos+4])
		typeBytes := buf[pos+4 : pos+8]
		if !isFourPrintableASCII(typeBytes) {
			break
		}
		boxType := string(typeBytes)

		headerLen := int64(8)
		var size int64
		switch size32 {
		case 1:
			if end-pos < 16 {
				return boxes
			}
			size = int64(binary.BigEndian.Uint64(buf[pos+8 : pos+16]))
			headerLen = 16
		case 0:
			size = end - pos
		default:
			size = int64(size32)
		}
		if size < 8 {
			break
		}

		box := Box{Offset: pos, Size: size, Type: boxType}
		childStart, childEnd := pos+headerLen, pos+size
		if childEnd > end {
			childEnd = end
		}
		if containerSet[boxType] && childStart < childEnd {
			box.Children = ParseBoxes(buf, childStart, childEnd)
		}
		boxes = append(boxes, box)

		pos += size
		if pos > end {
			break
		}
	}
	return boxes
}

// FindAll depth-first collects every box of the given type.
func FindAll(boxes []Box, boxType string) []Box {
	var found []Box
	for _, b := range boxes {
		if b.Type == boxType {
			found = append(found, b)
		}
		found = append(found, FindAll(b.Children, boxType)...)
	}
	return found
}

// MoovCandidate is a salvaged moov location from ScanForMoov.
type MoovCandidate struct {
	Offset int64
	Size   int64
}

const (
	moovScanMinSize = 500
	moovScanMaxSize = 2_000_000
)

// ScanForMoov linearly scans buf for the ASCII "moov" marker and accepts a
// hit as a candidate box when the 4 bytes before it parse as a plausible
// big-endian size (500..2,000,000 bytes) whose range contains both "mvhd"
// and "trak". Used when a moov must be located despite a broken or absent
// outer box chain (Chromium may write moov into a displaced tail chunk).
func ScanForMoov(buf []byte) []MoovCandidate {
	var out []MoovCandidate
	needle := []byte("moov")
	searchFrom := 0
	for {
		idx := bytes.Index(buf[searchFrom:], needle)
		if idx < 0 {
			break
		}
		i := searchFrom + idx
		searchFrom = i + 1
		if i < 4 {
			continue
		}
		size := int64(binary.BigEndian.Uint32(buf[i-4 : i]))
		if size < moovScanMinSize || size > moovScanMaxSize {
			continue
		}
		rangeStart := int64(i) - 4
		rangeEnd := rangeStart + size
		if rangeEnd > int64(len(buf)) {
			continue
		}
		region := buf[rangeStart:rangeEnd]
		if bytes.Contains(region, []byte("mvhd")) && bytes.Contains(region, []byte("trak")) {
			out = append(out, MoovCandidate{Offset: rangeStart, Size: size})
		}
	}
	return out
}

func readU16(buf []byte, offset int64) (uint16, bool) {
	if offset < 0 || offset+2 > int64(len(buf)) {
		return 0, false
	}
	return binary.BigEndian.Uint16(buf[offset : offset+2]), true
}

func readU32(buf []byte, offset int64) (uint32, bool) {
	if offset < 0 || offset+4 > int64(len(buf)) {
		return 0, false
	}
	return binary.BigEndian.Uint32(buf[offset : offset+4]), true
}

func readU64(buf []byte, offset int64) (uint64, bool) {
	if offset < 0 || offset+8 > int64(len(buf)) {
		return 0, false
	}
	return binary.BigEndian.Uint64(buf[offset : offset+8]), true
}

func readFourCC(buf []byte, offset int64) (string, bool) {
	if offset < 0 || offset+4 > int64(len(buf)) {
		return "", false
	}
	return string(buf[offset : offset+4]), true
}

func readByte(buf []byte, offset int64) (byte, bool) {
	if offset < 0 || offset >= int64(len(buf)) {
		return 0, false
	}
	return buf[offset], true
}

func parseMvhd(buf []byte, mvhd Box, info *model.VideoInfo) {
	version, ok := readByte(buf, mvhd.Offset+8)
	if !ok {
		return
	}
	var timescale uint32
	var duration uint64
	if version == 1 {
		if ts, ok := readU32(buf, mvhd.Offset+28); ok {
			timescale = ts
		}
		if d, ok := readU64(buf, mvhd.Offset+32); ok {
			duration = d
		}
	} else {
		if ts, ok := readU32(buf, mvhd.Offset+20); ok {
			timescale = ts
		}
		if d, ok := readU32(buf, mvhd.Offset+24); ok {
			duration = uint64(d)
		}
	}
	if timescale > 0 {
		info.DurationSeconds = float64(duration) / float64(timescale)
	}
}

func readSampleEntryType(buf []byte, stsd Box) string {
	t, _ := readFourCC(buf, stsd.Offset+16+4)
	return t
}

func readVideoSampleEntry(buf []byte, stsd Box, info *model.VideoInfo) {
	info.VideoCodec = readSampleEntryType(buf, stsd)
	if w, ok := readU16(buf, stsd.Offset+16+24); ok {
		info.Width = int(w)
	}
	if h, ok := readU16(buf, stsd.Offset+16+26); ok {
		info.Height = int(h)
	}
}

// ExtractVideoInfo parses the moov subtree at buf[moovOffset:moovOffset+moovSize]
// and extracts duration, dimensions, and codec fields. Out-of-range reads
// leave the corresponding field at its zero value rather than erroring.
func ExtractVideoInfo(buf []byte, moovOffset, moovSize int64) model.VideoInfo {
	var info model.VideoInfo

	top := ParseBoxes(buf, moovOffset, moovOffset+moovSize)
	if len(top) == 0 || top[0].Type != "moov" {
		return info
	}
	moov := top[0]

	if mvhds := FindAll(moov.Children, "mvhd"); len(mvhds) > 0 {
		parseMvhd(buf, mvhds[0], &info)
	}

	for _, trak := range moov.Children {
		if trak.Type != "trak" {
			continue
		}
		hdlrs := FindAll(trak.Children, "hdlr")
		if len(hdlrs) == 0 {
			continue
		}
		handlerType, _ := readFourCC(buf, hdlrs[0].Offset+16)
		stsds := FindAll(trak.Children, "stsd")

		switch handlerType {
		case "vide":
			info.HasVideo = true
			if len(stsds) > 0 {
				readVideoSampleEntry(buf, stsds[0], &info)
			}
		case "soun":
			info.HasAudio = true
			if len(stsds) > 0 {
				info.AudioCodec = readSampleEntryType(buf, stsds[0])
			}
		}
	}

	return info
}
