package diskstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTile(t *testing.T, dir string, shardID uint16, payloads [][]byte) []IndexRecord {
	t.Helper()
	w, err := OpenShardWriter(dir, shardID, 1<<20)
	require.NoError(t, err)
	defer w.Close()

	var records []IndexRecord
	for i, p := range payloads {
		sid, off, size, err := w.Append(p)
		require.NoError(t, err)
		records = append(records, IndexRecord{ContentID: uint64(i + 1), ShardID: sid, Offset: off, Size: size})
	}
	require.NoError(t, w.Flush())
	return records
}

func TestGCCompactsSparseShardAndPreservesPayloads(t *testing.T) {
	dir := t.TempDir()
	// Three records, but only keep the first as "live" (simulate deletion of
	// the other two) so the shard's live-byte ratio falls below threshold.
	all := writeTile(t, dir, 0, [][]byte{
		[]byte("alive-keep-me"),
		[]byte("dead-1-xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"),
		[]byte("dead-2-xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"),
	})
	live := []IndexRecord{all[0]}

	updated, compacted, err := GC(dir, live, 1<<20, 0.9)
	require.NoError(t, err)
	require.Contains(t, compacted, uint16(0))
	require.Len(t, updated, 1)

	got, err := ReadPayload(dir, updated[0].ShardID, updated[0].Offset, updated[0].Size)
	require.NoError(t, err)
	require.Equal(t, []byte("alive-keep-me"), got)

	_, err = os.Stat(filepath.Join(dir, shardFileName(0)))
	require.True(t, os.IsNotExist(err), "old sparse shard should have been removed")
}

func TestGCSkipsDenseShards(t *testing.T) {
	dir := t.TempDir()
	all := writeTile(t, dir, 0, [][]byte{[]byte("only-record")})

	updated, compacted, err := GC(dir, all, 1<<20, 0.5)
	require.NoError(t, err)
	require.Empty(t, compacted)
	require.Equal(t, all, updated)

	_, err = os.Stat(filepath.Join(dir, shardFileName(0)))
	require.NoError(t, err, "dense shard must be left in place")
}

func TestGCHandlesMissingShardFileGracefully(t *testing.T) {
	dir := t.TempDir()
	records := []IndexRecord{{ContentID: 1, ShardID: 5, Offset: 4, Size: 10}}
	updated, compacted, err := GC(dir, records, 1<<20, 0.9)
	require.NoError(t, err)
	require.Empty(t, compacted)
	require.Equal(t, records, updated)
}
