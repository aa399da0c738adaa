package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/IshaanNene/webstalk/internal/types"
)

// DedupMiddleware is a RequestMiddleware dropping requests whose
// canonicalized URL has already been seen. Requests with DontFilter set
// bypass it.
type DedupMiddleware struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewDedupMiddleware creates a DedupMiddleware with the given estimated
// capacity.
func NewDedupMiddleware(estimatedCapacity int) *DedupMiddleware {
	return &DedupMiddleware{seen: make(map[string]struct{}, estimatedCapacity)}
}

// ProcessRequest implements RequestMiddleware.
func (d *DedupMiddleware) ProcessRequest(ctx context.Context, req *types.Request) (*types.Response, *types.Request, error) {
	if req.DontFilter {
		return nil, nil, nil
	}
	canonical := CanonicalizeURL(req.URLString())
	hash := hashURL(canonical)

	d.mu.Lock()
	_, seen := d.seen[hash]
	if !seen {
		d.seen[hash] = struct{}{}
	}
	d.mu.Unlock()

	if seen {
		return nil, nil, &types.FetchError{URL: req.URLString(), Err: types.ErrDuplicate, Retryable: false}
	}
	return nil, nil, nil
}

// IsSeen returns true if the URL (after canonicalization) has been seen.
func (d *DedupMiddleware) IsSeen(rawURL string) bool {
	hash := hashURL(CanonicalizeURL(rawURL))
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[hash]
	return ok
}

// Count returns the number of unique URLs seen.
func (d *DedupMiddleware) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.seen)
}

// Export returns all seen URL hashes, for checkpoint serialization.
func (d *DedupMiddleware) Export() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	hashes := make([]string, 0, len(d.seen))
	for h := range d.seen {
		hashes = append(hashes, h)
	}
	return hashes
}

// Import loads URL hashes, for checkpoint restore.
func (d *DedupMiddleware) Import(hashes []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range hashes {
		d.seen[h] = struct{}{}
	}
}

// CanonicalizeURL normalizes a URL for deduplication: lowercases scheme
// and host, drops the fragment and default port, sorts query parameters,
// and trims a trailing slash (except on the root path).
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	host := u.Hostname()
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		u.Host = host
	}

	if u.RawQuery != "" {
		params := u.Query()
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sorted []string
		for _, k := range keys {
			vals := params[k]
			sort.Strings(vals)
			for _, v := range vals {
				sorted = append(sorted, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
		u.RawQuery = strings.Join(sorted, "&")
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String()
}

func hashURL(canonicalURL string) string {
	h := sha256.Sum256([]byte(canonicalURL))
	return hex.EncodeToString(h[:16])
}
