// Package pixfmt describes the pixel format and row-addressing helpers shared
// by every layer of pxcache. The cache never interprets pixels semantically;
// it only needs enough of the format to reconstruct byte offsets and to
// persist/restore a format bit-for-bit across sessions.
//
// Field names and layout follow the RFB PixelFormat structure used across the
// protocol family (bits-per-pixel, depth, endianness, true-colour flag, and
// per-channel max/shift pairs).
//
// © 2025 pxcache authors. MIT License.
package pixfmt

import "fmt"

// PixelFormat mirrors the RFB wire pixel format. All fields must round-trip
// bit-for-bit through persistence: omitting or truncating the shift fields
// produces visually mis-coloured cache hits in a later session.
type PixelFormat struct {
	BitsPerPixel uint8
	Depth        uint8
	BigEndian    bool
	TrueColour   bool

	RedMax   uint16
	GreenMax uint16
	BlueMax  uint16

	RedShift   uint8
	GreenShift uint8
	BlueShift  uint8
}

// BytesPerPixel returns BitsPerPixel/8, the unit used by all stride
// arithmetic in this module.
func (pf PixelFormat) BytesPerPixel() int {
	return int(pf.BitsPerPixel) / 8
}

func (pf PixelFormat) String() string {
	return fmt.Sprintf("PF(bpp=%d depth=%d be=%v tc=%v rmax=%#x gmax=%#x bmax=%#x rsh=%d gsh=%d bsh=%d)",
		pf.BitsPerPixel, pf.Depth, pf.BigEndian, pf.TrueColour,
		pf.RedMax, pf.GreenMax, pf.BlueMax, pf.RedShift, pf.GreenShift, pf.BlueShift)
}

// RowOffset computes the byte offset of row y within a buffer whose stride is
// expressed in pixels, not bytes. Mixing up a pixel stride and a byte stride
// is an easy and silent mistake, so this is the single place row arithmetic
// may happen anywhere in pxcache: every other package goes through this
// helper instead of multiplying strides and widths ad hoc.
func RowOffset(y, strideInPixels, bytesPerPixel int) int {
	return y * strideInPixels * bytesPerPixel
}

// RowLength returns the number of bytes to read for one row of width w.
func RowLength(w, bytesPerPixel int) int {
	return w * bytesPerPixel
}
