package diskstore

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// GC compacts shards whose live-byte ratio (sum of sizes referenced by
// records still present in the index, divided by the shard file's total
// size) falls below ratio. Each compacted shard's live entries are rewritten
// into a fresh shard file and their index records' locators are updated; the
// old shard file is removed only after the rewrite has succeeded. GC returns
// the updated records (same slice, mutated in place) and the set of shard
// ids it replaced.
func GC(dir string, records []IndexRecord, maxShardBytes int64, ratio float64) ([]IndexRecord, []uint16, error) {
	bySharD := make(map[uint16][]int) // shardID -> indices into records
	for i, r := range records {
		bySharD[r.ShardID] = append(bySharD[r.ShardID], i)
	}

	var nextShardID uint16
	for id := range bySharD {
		if id >= nextShardID {
			nextShardID = id + 1
		}
	}

	var compacted []uint16
	// Deterministic order so tests/logs are stable.
	ids := make([]uint16, 0, len(bySharD))
	for id := range bySharD {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		idxs := bySharD[id]
		liveBytes := int64(0)
		for _, i := range idxs {
			liveBytes += int64(records[i].Size)
		}

		path := filepath.Join(dir, shardFileName(id))
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return records, compacted, errors.Wrap(err, "diskstore: stat shard for gc")
		}
		total := info.Size()
		if total == 0 {
			continue
		}
		if float64(liveBytes)/float64(total) >= ratio {
			continue // shard is dense enough; leave it alone
		}

		newID := nextShardID
		nextShardID++
		writer, err := OpenShardWriter(dir, newID, maxShardBytes)
		if err != nil {
			return records, compacted, err
		}

		for _, i := range idxs {
			payload, err := ReadPayload(dir, id, records[i].Offset, records[i].Size)
			if err != nil {
				writer.Close()
				return records, compacted, errors.Wrap(err, "diskstore: gc read live payload")
			}
			shardID, offset, size, err := writer.Append(payload)
			if err != nil {
				writer.Close()
				return records, compacted, errors.Wrap(err, "diskstore: gc rewrite payload")
			}
			records[i].ShardID = shardID
			records[i].Offset = offset
			records[i].Size = size
		}
		if err := writer.Flush(); err != nil {
			writer.Close()
			return records, compacted, err
		}
		if writer.ActiveShardID()+1 > nextShardID {
			nextShardID = writer.ActiveShardID() + 1
		}
		if err := writer.Close(); err != nil {
			return records, compacted, err
		}

		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return records, compacted, errors.Wrap(err, "diskstore: remove compacted shard")
		}
		compacted = append(compacted, id)
	}
	return records, compacted, nil
}
