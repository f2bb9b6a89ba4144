package services

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/jpeg"
	"strings"

	"golang.org/x/image/draw"
)

type OptimizationMode string

const (
	OptimizeOff      OptimizationMode = "off"
	OptimizeLossless OptimizationMode = "lossless"
	OptimizeBalanced OptimizationMode = "balanced"
)

func (m OptimizationMode) Valid() bool {
	return m == OptimizeOff || m == OptimizeLossless || m == OptimizeBalanced
}

// JPEG markers the strip pass cares about.
const (
	markerSOI   = 0xD8
	markerEOI   = 0xD9
	markerSOS   = 0xDA
	markerAPP1  = 0xE1
	markerAPP13 = 0xED
	markerCOM   = 0xFE
)

var xmpSignatures = [][]byte{
	[]byte("http://ns.adobe.com/xap/1.0/\x00"),
	[]byte("http://ns.adobe.com/xmp/extension/\x00"),
}

// JPEGOptimizer is the upload preprocessing stage. Every path falls back
// to the input bytes; it never returns a broken image.
type JPEGOptimizer struct {
	MaxEdge int
	Quality int
}

func NewJPEGOptimizer(maxEdge, quality int) *JPEGOptimizer {
	if maxEdge <= 0 {
		maxEdge = 2560
	}
	if quality <= 0 || quality > 100 {
		quality = 82
	}
	return &JPEGOptimizer{MaxEdge: maxEdge, Quality: quality}
}

// Process applies mode to data when it is a JPEG and reports whether the
// returned bytes differ from the input.
func (o *JPEGOptimizer) Process(data []byte, contentType string, mode OptimizationMode) ([]byte, bool) {
	if !IsJPEG(data, contentType) {
		return data, false
	}
	switch mode {
	case OptimizeLossless:
		out := StripJPEGMetadata(data)
		return out, len(out) != len(data)
	case OptimizeBalanced:
		return o.rescale(data, false)
	default:
		return data, false
	}
}

// Recompress re-encodes data with the balanced settings and reports a
// change only when the result is smaller.
func (o *JPEGOptimizer) Recompress(data []byte) ([]byte, bool) {
	return o.rescale(data, true)
}

func (o *JPEGOptimizer) rescale(data []byte, requireSmaller bool) ([]byte, bool) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return data, false
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return data, false
	}

	var img image.Image = src
	resized := false
	if longest := max(w, h); longest > o.MaxEdge {
		nw := max(1, w*o.MaxEdge/longest)
		nh := max(1, h*o.MaxEdge/longest)
		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		img = dst
		resized = true
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.Quality}); err != nil {
		return data, false
	}
	if buf.Len() >= len(data) && (requireSmaller || !resized) {
		return data, false
	}
	return buf.Bytes(), true
}

// IsJPEG trusts the magic bytes over the declared content type.
func IsJPEG(data []byte, contentType string) bool {
	if len(data) >= 3 {
		return data[0] == 0xFF && data[1] == markerSOI && data[2] == 0xFF
	}
	ct := strings.ToLower(contentType)
	return len(data) > 0 && (ct == "image/jpeg" || ct == "image/jpg")
}

// StripJPEGMetadata drops comment, Photoshop (APP13) and XMP segments and
// keeps everything else, EXIF included. Bytes from the first SOS marker on
// are copied verbatim. Any structure it does not expect yields the input
// unchanged.
func StripJPEGMetadata(data []byte) []byte {
	if len(data) < 4 || data[0] != 0xFF || data[1] != markerSOI {
		return data
	}

	out := make([]byte, 0, len(data))
	out = append(out, data[:2]...)
	i := 2

	for {
		if i+1 >= len(data) || data[i] != 0xFF {
			return data
		}
		marker := data[i+1]

		switch {
		case marker == 0xFF:
			// Fill byte before a marker.
			i++
			continue
		case marker == markerSOS:
			// A scan with no EOI after it is truncated.
			if bytes.LastIndex(data[i:], []byte{0xFF, markerEOI}) < 0 {
				return data
			}
			return append(out, data[i:]...)
		case marker == markerEOI || marker == markerSOI || marker == 0x00:
			return data
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD7):
			out = append(out, data[i:i+2]...)
			i += 2
			continue
		}

		if i+4 > len(data) {
			return data
		}
		length := int(binary.BigEndian.Uint16(data[i+2 : i+4]))
		end := i + 2 + length
		if length < 2 || end > len(data) {
			return data
		}

		if !dropSegment(marker, data[i+4:end]) {
			out = append(out, data[i:end]...)
		}
		i = end
	}
}

func dropSegment(marker byte, payload []byte) bool {
	switch marker {
	case markerCOM, markerAPP13:
		return true
	case markerAPP1:
		for _, sig := range xmpSignatures {
			if bytes.HasPrefix(payload, sig) {
				return true
			}
		}
	}
	return false
}
