// Package wire implements the bit-exact serialisation of the cache protocol:
// one pseudo-encoding capability tag, two rectangle encodings (CACHE_REF,
// CACHE_INIT), and four client-to-server message types.
//
// All integers are big-endian, matching the rest of the RFB family. Every
// ReadXxx/WriteXxx function returns an explicit error rather than panicking,
// so a malformed or truncated message can be turned into a clean connection
// close by the caller instead of a crash.
//
// © 2025 pxcache authors. MIT License.
package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// PseudoCacheSupport is the pseudo-encoding a client advertises in its
// SetEncodings list to opt into the cache protocol. It is a single
// capability tag; disk-persistence policy stays a client-local decision and
// is never negotiated on the wire.
const PseudoCacheSupport int32 = -312

// Rectangle encodings (positive tags).
const (
	EncodingCacheRef  int32 = 0x4C5A4301 // "LZC\x01"
	EncodingCacheInit int32 = 0x4C5A4302 // "LZC\x02"
)

// Client -> server message types.
const (
	MsgRequestCachedData uint8 = 0xC0
	MsgEvictionNotice    uint8 = 0xC1
	MsgHashReport        uint8 = 0xC2
	MsgHashList          uint8 = 0xC3
)

// MaxEvictionIDsPerMessage bounds a single EVICTION_NOTICE message; larger
// batches are split across multiple messages of the same type.
const MaxEvictionIDsPerMessage = 1000

// ErrProtocolViolation wraps any malformed-message condition: out-of-range
// field, count exceeding the maximum, or a truncated read. These are fatal —
// the caller must close the connection, not attempt recovery.
var ErrProtocolViolation = errors.New("wire: protocol violation")

// RectHeader is the conventional RFB rectangle header preceding every
// rectangle-level encoding.
type RectHeader struct {
	X, Y, W, H uint16
	Encoding   int32
}

func WriteRectHeader(w io.Writer, h RectHeader) error {
	return writeAll(w, h.X, h.Y, h.W, h.H, h.Encoding)
}

func ReadRectHeader(r io.Reader) (RectHeader, error) {
	var h RectHeader
	if err := readAll(r, &h.X, &h.Y, &h.W, &h.H, &h.Encoding); err != nil {
		return RectHeader{}, err
	}
	return h, nil
}

/* -------------------------------------------------------------------------
   CACHE_REF
   ------------------------------------------------------------------------- */

// CacheRef is the payload following a rect header whose Encoding ==
// EncodingCacheRef: an id-only reference to previously transmitted pixels.
type CacheRef struct {
	ContentID uint64
	Flags     uint16 // reserved, must be 0 on send, ignored on receive
}

func WriteCacheRef(w io.Writer, rect RectHeader, ref CacheRef) error {
	rect.Encoding = EncodingCacheRef
	if err := WriteRectHeader(w, rect); err != nil {
		return err
	}
	return writeAll(w, ref.ContentID, uint16(0))
}

func ReadCacheRef(r io.Reader) (CacheRef, error) {
	var ref CacheRef
	if err := readAll(r, &ref.ContentID, &ref.Flags); err != nil {
		return CacheRef{}, err
	}
	return ref, nil
}

/* -------------------------------------------------------------------------
   CACHE_INIT
   ------------------------------------------------------------------------- */

// CacheInit is the payload following a rect header whose Encoding ==
// EncodingCacheInit: pixels for a fresh id, encoded with InnerEncoding.
// Payload semantics belong to the external inner encoder; this package only
// frames it.
type CacheInit struct {
	ContentID     uint64
	InnerEncoding int32
	Payload       []byte
}

// MaxCacheInitPayload bounds PayloadLen to guard against a corrupt or
// malicious length field forcing an enormous allocation.
const MaxCacheInitPayload = 256 << 20 // 256MiB; far above any single rect's realistic payload

func WriteCacheInit(w io.Writer, rect RectHeader, init CacheInit) error {
	rect.Encoding = EncodingCacheInit
	if err := WriteRectHeader(w, rect); err != nil {
		return err
	}
	if err := writeAll(w, init.ContentID, init.InnerEncoding, uint32(len(init.Payload))); err != nil {
		return err
	}
	if len(init.Payload) == 0 {
		return nil
	}
	_, err := w.Write(init.Payload)
	return err
}

func ReadCacheInit(r io.Reader) (CacheInit, error) {
	var init CacheInit
	var payloadLen uint32
	if err := readAll(r, &init.ContentID, &init.InnerEncoding, &payloadLen); err != nil {
		return CacheInit{}, err
	}
	if payloadLen > MaxCacheInitPayload {
		return CacheInit{}, errors.Wrapf(ErrProtocolViolation, "cache init payload length %d exceeds max", payloadLen)
	}
	init.Payload = make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, init.Payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return CacheInit{}, errors.Wrapf(ErrProtocolViolation, "wire: truncated cache init payload: %v", err)
			}
			return CacheInit{}, errors.Wrap(err, "wire: read cache init payload")
		}
	}
	return init, nil
}

/* -------------------------------------------------------------------------
   low-level helpers
   ------------------------------------------------------------------------- */

func writeAll(w io.Writer, fields ...any) error {
	for _, f := range fields {
		if err := binary.Write(w, binary.BigEndian, f); err != nil {
			return errors.Wrap(err, "wire: write field")
		}
	}
	return nil
}

func readAll(r io.Reader, fields ...any) error {
	for _, f := range fields {
		if err := binary.Read(r, binary.BigEndian, f); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return errors.Wrapf(ErrProtocolViolation, "wire: truncated field: %v", err)
			}
			return errors.Wrap(err, "wire: read field")
		}
	}
	return nil
}
