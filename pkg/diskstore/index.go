package diskstore

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// ErrCorrupt is returned by LoadIndex when the on-disk index fails magic,
// version, or checksum validation. Callers must treat the cache as empty
// rather than attempt partial recovery.
var ErrCorrupt = errors.New("diskstore: index corrupt")

const indexFileName = "index.dat"
const backupSuffix = ".bak"

// LoadIndex reads index.dat from dir. A missing index.dat is a fresh cache
// directory, not corruption: it returns an empty header, nil records and a
// nil error. On any structural problem (bad magic/version, checksum
// mismatch, truncated record array) it returns ErrCorrupt and the caller
// should start from an empty cache; LoadIndex itself never mutates the
// directory.
func LoadIndex(dir string) (IndexHeader, []IndexRecord, error) {
	path := filepath.Join(dir, indexFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return IndexHeader{}, nil, nil // fresh cacheDir, not corruption
		}
		return IndexHeader{}, nil, errors.Wrap(err, "diskstore: read index")
	}

	if len(data) < indexHeaderSize+checksumSize {
		return IndexHeader{}, nil, ErrCorrupt
	}

	body := data[:len(data)-checksumSize]
	wantSum := bigEndianUint32(data[len(data)-checksumSize:])
	if checksum(body) != wantSum {
		return IndexHeader{}, nil, ErrCorrupt
	}

	header, ok := unmarshalHeader(body[:indexHeaderSize])
	if !ok {
		return IndexHeader{}, nil, ErrCorrupt
	}

	recordsBuf := body[indexHeaderSize:]
	if uint64(len(recordsBuf)) != header.EntryCount*uint64(indexRecordSize) {
		return IndexHeader{}, nil, ErrCorrupt
	}

	records := make([]IndexRecord, 0, header.EntryCount)
	for i := uint64(0); i < header.EntryCount; i++ {
		off := i * uint64(indexRecordSize)
		records = append(records, unmarshalRecord(recordsBuf[off:off+uint64(indexRecordSize)]))
	}
	return header, records, nil
}

// QuarantineCorruptIndex moves an unreadable index.dat aside as index.dat.bak
// (best-effort) so the next load starts clean without losing the evidence.
func QuarantineCorruptIndex(dir string) error {
	path := filepath.Join(dir, indexFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "diskstore: stat index for quarantine")
	}
	bak := path + backupSuffix
	_ = os.Remove(bak) // best-effort: drop any previous backup
	if err := os.Rename(path, bak); err != nil {
		return errors.Wrap(err, "diskstore: quarantine index")
	}
	return nil
}

// SaveIndex atomically rewrites index.dat: it writes to a temp file in the
// same directory and renames over the target, so a crash mid-write never
// leaves a half-written index.dat behind.
func SaveIndex(dir string, header IndexHeader, records []IndexRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "diskstore: mkdir cacheDir")
	}

	header.EntryCount = uint64(len(records))
	var buf bytes.Buffer
	buf.Write(header.marshal())
	for _, r := range records {
		buf.Write(marshalRecord(r))
	}
	sum := checksum(buf.Bytes())

	tmp, err := os.CreateTemp(dir, indexFileName+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "diskstore: create temp index")
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath) // no-op once renamed
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return errors.Wrap(err, "diskstore: write temp index")
	}
	var sumBuf [checksumSize]byte
	putBigEndianUint32(sumBuf[:], sum)
	if _, err := tmp.Write(sumBuf[:]); err != nil {
		tmp.Close()
		return errors.Wrap(err, "diskstore: write index checksum")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "diskstore: fsync temp index")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "diskstore: close temp index")
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, indexFileName)); err != nil {
		return errors.Wrap(err, "diskstore: rename temp index")
	}
	return nil
}

func bigEndianUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func putBigEndianUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
