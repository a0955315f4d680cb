// Package contenthash produces the 64-bit content identifiers the rest of
// pxcache keys its cache entries by. It is a pure function over canonical
// pixel bytes: same bytes in, same id out, on every platform, every process,
// every build.
//
// We deliberately reach for a fast non-cryptographic stable hash rather than
// a cryptographic one truncated to 8 bytes: both the server encoder and the
// client decoder import the exact same github.com/cespare/xxhash/v2
// implementation with the exact same fixed seed, so bit-exactness is
// guaranteed by construction rather than by a shared protocol document.
// hash/maphash, suitable for a purely local in-process index, is unsuitable
// here: its seed is randomised per process and would make a contentId
// computed on the server disagree with the id re-derived on the client for
// identical pixels.
//
// © 2025 pxcache authors. MIT License.
package contenthash

import (
	"github.com/cespare/xxhash/v2"

	"github.com/arcvnc/pxcache/pkg/pixfmt"
)

// Seed is the fixed seed folded into every content hash. It is a constant,
// not a configuration knob: changing it would silently break interop between
// a client and server built from different versions.
const Seed uint64 = 0x9ae16a3b2f90404f

// Sum computes the canonical contentId for a w×h rectangle of pixels.
//
// pixels must contain at least RowOffset(h-1, strideInPixels, bpp) +
// RowLength(w, bpp) bytes. Rows are fed to the hash state back to back with
// no inter-row padding; dimensions are never hashed (callers combine the
// result with (w, h) to form a ContentKey — see pkg/unifiedcache).
func Sum(pixels []byte, pf pixfmt.PixelFormat, w, h, strideInPixels int) uint64 {
	bpp := pf.BytesPerPixel()
	rowLen := pixfmt.RowLength(w, bpp)

	d := xxhash.NewWithSeed(Seed)
	for y := 0; y < h; y++ {
		off := pixfmt.RowOffset(y, strideInPixels, bpp)
		row := pixels[off : off+rowLen]
		_, _ = d.Write(row) // xxhash.Digest.Write never errors
	}
	return d.Sum64()
}

// SumTight is a convenience for already-canonical (tightly packed, stride ==
// w) pixel buffers, e.g. freshly decoded client-side rectangles.
func SumTight(pixels []byte, pf pixfmt.PixelFormat, w, h int) uint64 {
	return Sum(pixels, pf, w, h, w)
}
