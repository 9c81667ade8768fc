package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"transity.ai/internal/persistence/indexdb"
	persistlog "transity.ai/internal/persistence/log"
	"transity.ai/internal/sim/world"
)

func main() {
	var (
		dataDir   = flag.String("data", "./data", "runtime data directory")
		eventsDir = flag.String("events", "", "events dir containing events-*.jsonl.zst (defaults to <data>/events)")
		worldID   = flag.String("world", "", "only check this world id (optional)")
		reindex   = flag.String("reindex", "", "rebuild a SQLite index at this path from the log (optional)")
	)
	flag.Parse()

	dir := *eventsDir
	if dir == "" {
		dir = filepath.Join(*dataDir, "events")
	}
	files, err := listEventFiles(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no events files found in", dir)
		os.Exit(1)
	}

	v := newVerifier(strings.TrimSpace(*worldID))
	for _, path := range files {
		if err := persistlog.ReadJSONL(path, v.line); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
	}
	for _, r := range v.reports() {
		fmt.Printf("world=%s generations=%d capitals=%d towns=%d suburbs=%d failures=%d\n",
			r.WorldID, r.Generations, r.Capitals, r.Towns, r.Suburbs, r.Failures)
	}

	if *reindex != "" {
		n, err := rebuildIndex(*reindex, v.entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, "reindex:", err)
			os.Exit(1)
		}
		fmt.Printf("reindexed %d events into %s\n", n, *reindex)
	}

	if len(v.problems) > 0 {
		for _, p := range v.problems {
			fmt.Fprintln(os.Stderr, "FAIL", p)
		}
		os.Exit(1)
	}
	fmt.Printf("replay ok: events=%d files=%d\n", len(v.entries), len(files))
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// rebuildIndex feeds every entry through the SQLite writer, waiting for the
// queue to drain instead of dropping.
func rebuildIndex(path string, entries []world.EventEntry) (int, error) {
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		for {
			st := idx.Stats()
			if st.QueueDepth < st.QueueCapacity {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if err := idx.WriteEvent(e); err != nil {
			_ = idx.Close()
			return 0, err
		}
	}
	if err := idx.Close(); err != nil {
		return 0, err
	}
	st := idx.Stats()
	if dropped := st.DropWorldRunTotal + st.DropSettlementTotal + st.DropFailureTotal; dropped > 0 {
		return 0, fmt.Errorf("%d events dropped", dropped)
	}
	return len(entries), nil
}
