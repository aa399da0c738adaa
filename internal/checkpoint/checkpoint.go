// Package checkpoint persists the scheduler's pending requests so a crawl
// can resume after a restart. It is consumed by the MemoryScheduler's
// Open/Close, not a Scheduler implementation itself.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/IshaanNene/webstalk/internal/types"
)

// snapshot is the serializable on-disk format.
type snapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	Pending   []reqSummary `json:"pending"`
}

type reqSummary struct {
	URL        string `json:"url"`
	Method     string `json:"method"`
	Depth      int    `json:"depth"`
	Priority   int    `json:"priority"`
	Tag        string `json:"tag,omitempty"`
	ParentURL  string `json:"parent_url,omitempty"`
	RetryCount int    `json:"retry_count,omitempty"`
}

const fileName = "checkpoint.json"

// SavePending atomically writes the given requests to path/checkpoint.json.
// An empty path is a no-op (callers check this themselves; kept here too
// so direct callers are also safe).
func SavePending(dir string, reqs []*types.Request) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	snap := snapshot{Timestamp: time.Now(), Pending: make([]reqSummary, len(reqs))}
	for i, r := range reqs {
		snap.Pending[i] = reqSummary{
			URL:        r.URLString(),
			Method:     r.Method,
			Depth:      r.Depth,
			Priority:   r.Priority,
			Tag:        r.Tag,
			ParentURL:  r.ParentURL,
			RetryCount: r.RetryCount,
		}
	}

	tmp := filepath.Join(dir, fileName+".tmp")
	final := filepath.Join(dir, fileName)

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, final)
}

// LoadPending reads path/checkpoint.json and rebuilds its requests. A
// missing file or empty dir is not an error — it simply yields no
// requests, the way a fresh crawl has nothing to resume.
func LoadPending(dir string) ([]*types.Request, error) {
	if dir == "" {
		return nil, nil
	}
	f, err := os.Open(filepath.Join(dir, fileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	reqs := make([]*types.Request, 0, len(snap.Pending))
	for _, rs := range snap.Pending {
		req, err := types.NewRequest(rs.URL)
		if err != nil {
			continue
		}
		req.Method = rs.Method
		req.Depth = rs.Depth
		req.Priority = rs.Priority
		req.Tag = rs.Tag
		req.ParentURL = rs.ParentURL
		req.RetryCount = rs.RetryCount
		reqs = append(reqs, req)
	}
	return reqs, nil
}
