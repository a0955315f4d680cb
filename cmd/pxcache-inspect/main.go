// Command pxcache-inspect reports cache statistics either by reading a
// local cache directory's index.dat directly, or by polling a running
// process's /debug/pxcache/snapshot HTTP endpoint.
//
// © 2025 pxcache authors. MIT License.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arcvnc/pxcache/pkg/diskstore"
)

var version = "dev"

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if opts.version {
		fmt.Println(version)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if opts.dir != "" {
		if err := dumpLocalDir(opts); err != nil {
			fatal(err)
		}
		return
	}

	if opts.target == "" {
		fatal(fmt.Errorf("one of -dir or -target is required"))
	}

	if opts.watch {
		ticker := time.NewTicker(opts.interval)
		defer ticker.Stop()
		for {
			if err := dumpRemote(ctx, opts); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			select {
			case <-ticker.C:
				continue
			case <-ctx.Done():
				return
			}
		}
	}

	if err := dumpRemote(ctx, opts); err != nil {
		fatal(err)
	}
}

func dumpLocalDir(opts *options) error {
	header, records, err := diskstore.LoadIndex(opts.dir)
	if err != nil {
		return err
	}
	var liveBytes uint64
	byShard := map[uint16]int{}
	for _, r := range records {
		liveBytes += uint64(r.Size)
		byShard[r.ShardID]++
	}

	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"entry_count": header.EntryCount,
			"total_bytes": header.TotalBytes,
			"live_bytes":  liveBytes,
			"shard_count": len(byShard),
		})
	}
	fmt.Printf("Entries:    %d\n", header.EntryCount)
	fmt.Printf("Index bytes:%d\n", header.TotalBytes)
	fmt.Printf("Live bytes: %d\n", liveBytes)
	fmt.Printf("Shards:     %d\n", len(byShard))
	return nil
}

func dumpRemote(ctx context.Context, opts *options) error {
	snap, err := fetchSnapshot(ctx, opts.target)
	if err != nil {
		return err
	}
	if opts.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Printf("Hits:       %v\n", snap["hits_total"])
	fmt.Printf("Misses:     %v\n", snap["misses_total"])
	fmt.Printf("Evictions:  %v\n", snap["evictions_total"])
	fmt.Printf("KnownIDs:   %v\n", snap["known_id_count"])
	return nil
}

func fetchSnapshot(ctx context.Context, base string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/debug/pxcache/snapshot", nil)
	if err != nil {
		return nil, err
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", res.Status)
	}
	var data map[string]any
	if err := json.NewDecoder(res.Body).Decode(&data); err != nil {
		return nil, err
	}
	return data, nil
}
