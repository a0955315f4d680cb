// Package diskstore implements the sharded, append-only on-disk persistence
// layer for UnifiedCache. It keeps a single index.dat describing every known
// entry and a set of append-only shard_NNNN.dat payload files capped at a
// configurable size.
//
// The format is hand-rolled rather than routed through an embedded KV store
// because an exact versioned, checksummed record layout with atomic index
// rewrite and ".bak" corruption fallback needs shard-file-granularity control
// an opaque KV engine does not expose. See DESIGN.md for the full rationale.
//
// © 2025 pxcache authors. MIT License.
package diskstore

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/arcvnc/pxcache/pkg/pixfmt"
)

const (
	indexMagic   uint32 = 0x50584349 // "PXCI"
	indexVersion uint32 = 1

	// indexHeaderSize is the fixed size of the header preceding the record
	// array: magic(4) version(4) entryCount(8) totalBytes(8) createdAt(8)
	// lastAccess(8) reserved(24).
	indexHeaderSize = 4 + 4 + 8 + 8 + 8 + 8 + 24

	// pixelFormatRecordSize is the fixed encoded size of a PixelFormat: bpp(1)
	// depth(1) bigEndian(1) trueColour(1) redMax(2) greenMax(2) blueMax(2)
	// redShift(1) greenShift(1) blueShift(1) reserved(3) = 16 bytes.
	pixelFormatRecordSize = 16

	// indexRecordSize is contentId(8) w(2) h(2) stride(2) pf(16) shardId(2)
	// offset(4) size(4) flags(4) = 44 bytes.
	indexRecordSize = 8 + 2 + 2 + 2 + pixelFormatRecordSize + 2 + 4 + 4 + 4

	// checksumSize is the trailing CRC32 over every preceding byte.
	checksumSize = 4
)

// Flags bits on an IndexRecord.
const (
	FlagNone     uint32 = 0
	FlagLossy    uint32 = 1 << 0 // entry was stored under an actual (non-canonical) id
	FlagColdOnly uint32 = 1 << 1 // reserved: entry has never been hydrated this run
)

// IndexHeader is the fixed-size preamble of index.dat.
type IndexHeader struct {
	EntryCount uint64
	TotalBytes uint64
	CreatedAt  uint64
	LastAccess uint64
}

func (h IndexHeader) marshal() []byte {
	buf := make([]byte, indexHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], indexMagic)
	binary.BigEndian.PutUint32(buf[4:8], indexVersion)
	binary.BigEndian.PutUint64(buf[8:16], h.EntryCount)
	binary.BigEndian.PutUint64(buf[16:24], h.TotalBytes)
	binary.BigEndian.PutUint64(buf[24:32], h.CreatedAt)
	binary.BigEndian.PutUint64(buf[32:40], h.LastAccess)
	// remaining 24 bytes reserved, left zero.
	return buf
}

func unmarshalHeader(buf []byte) (IndexHeader, bool) {
	var h IndexHeader
	if len(buf) < indexHeaderSize {
		return h, false
	}
	if binary.BigEndian.Uint32(buf[0:4]) != indexMagic {
		return h, false
	}
	if binary.BigEndian.Uint32(buf[4:8]) != indexVersion {
		return h, false
	}
	h.EntryCount = binary.BigEndian.Uint64(buf[8:16])
	h.TotalBytes = binary.BigEndian.Uint64(buf[16:24])
	h.CreatedAt = binary.BigEndian.Uint64(buf[24:32])
	h.LastAccess = binary.BigEndian.Uint64(buf[32:40])
	return h, true
}

// IndexRecord is one entry's on-disk metadata: enough to locate its payload
// bytes and reconstruct pixel interpretation bit-identically.
type IndexRecord struct {
	ContentID      uint64
	W              uint16
	H              uint16
	StrideInPixels uint16
	PF             pixfmt.PixelFormat
	ShardID        uint16
	Offset         uint32
	Size           uint32
	Flags          uint32
}

func marshalPF(pf pixfmt.PixelFormat) []byte {
	buf := make([]byte, pixelFormatRecordSize)
	buf[0] = pf.BitsPerPixel
	buf[1] = pf.Depth
	if pf.BigEndian {
		buf[2] = 1
	}
	if pf.TrueColour {
		buf[3] = 1
	}
	binary.BigEndian.PutUint16(buf[4:6], pf.RedMax)
	binary.BigEndian.PutUint16(buf[6:8], pf.GreenMax)
	binary.BigEndian.PutUint16(buf[8:10], pf.BlueMax)
	buf[10] = pf.RedShift
	buf[11] = pf.GreenShift
	buf[12] = pf.BlueShift
	// buf[13:16] reserved.
	return buf
}

func unmarshalPF(buf []byte) pixfmt.PixelFormat {
	return pixfmt.PixelFormat{
		BitsPerPixel: buf[0],
		Depth:        buf[1],
		BigEndian:    buf[2] != 0,
		TrueColour:   buf[3] != 0,
		RedMax:       binary.BigEndian.Uint16(buf[4:6]),
		GreenMax:     binary.BigEndian.Uint16(buf[6:8]),
		BlueMax:      binary.BigEndian.Uint16(buf[8:10]),
		RedShift:     buf[10],
		GreenShift:   buf[11],
		BlueShift:    buf[12],
	}
}

func marshalRecord(r IndexRecord) []byte {
	buf := make([]byte, indexRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], r.ContentID)
	binary.BigEndian.PutUint16(buf[8:10], r.W)
	binary.BigEndian.PutUint16(buf[10:12], r.H)
	binary.BigEndian.PutUint16(buf[12:14], r.StrideInPixels)
	copy(buf[14:14+pixelFormatRecordSize], marshalPF(r.PF))
	off := 14 + pixelFormatRecordSize
	binary.BigEndian.PutUint16(buf[off:off+2], r.ShardID)
	binary.BigEndian.PutUint32(buf[off+2:off+6], r.Offset)
	binary.BigEndian.PutUint32(buf[off+6:off+10], r.Size)
	binary.BigEndian.PutUint32(buf[off+10:off+14], r.Flags)
	return buf
}

func unmarshalRecord(buf []byte) IndexRecord {
	var r IndexRecord
	r.ContentID = binary.BigEndian.Uint64(buf[0:8])
	r.W = binary.BigEndian.Uint16(buf[8:10])
	r.H = binary.BigEndian.Uint16(buf[10:12])
	r.StrideInPixels = binary.BigEndian.Uint16(buf[12:14])
	r.PF = unmarshalPF(buf[14 : 14+pixelFormatRecordSize])
	off := 14 + pixelFormatRecordSize
	r.ShardID = binary.BigEndian.Uint16(buf[off : off+2])
	r.Offset = binary.BigEndian.Uint32(buf[off+2 : off+6])
	r.Size = binary.BigEndian.Uint32(buf[off+6 : off+10])
	r.Flags = binary.BigEndian.Uint32(buf[off+10 : off+14])
	return r
}

func checksum(buf []byte) uint32 {
	return crc32.ChecksumIEEE(buf)
}
