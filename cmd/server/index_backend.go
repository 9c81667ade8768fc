package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transity.ai/internal/persistence/indexdb"
	"transity.ai/internal/sim/tuning"
	"transity.ai/internal/sim/world"
)

type runtimeIndex interface {
	world.EventLogger
	io.Closer
}

// openRuntimeIndex picks the read-model backend from TRANSITY_INDEX_BACKEND
// (sqlite by default, d1 for the HTTP ingest worker, none to disable).
func openRuntimeIndex(dataDir string, disableDB bool, tune tuning.Tuning, logger *log.Logger) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("TRANSITY_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "world.sqlite"))
		if err != nil {
			return nil, err
		}
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
		return idx, nil
	case "d1":
		endpoint := strings.TrimSpace(os.Getenv("TRANSITY_INDEX_D1_INGEST_URL"))
		token := strings.TrimSpace(os.Getenv("TRANSITY_INDEX_D1_TOKEN"))
		if endpoint == "" {
			return nil, fmt.Errorf("TRANSITY_INDEX_BACKEND=d1 but TRANSITY_INDEX_D1_INGEST_URL is empty")
		}
		idx, err := indexdb.OpenD1(indexdb.D1Config{
			Endpoint:      endpoint,
			Token:         token,
			BatchSize:     envInt("TRANSITY_INDEX_D1_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("TRANSITY_INDEX_D1_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported TRANSITY_INDEX_BACKEND: %s", backend)
	}
}
