package downloader

import (
	"net"
	"sync"

	"github.com/IshaanNene/webstalk/internal/types"
)

// DownloadSlotMeta is the Request.Meta key a middleware sets to force a
// specific slot, overriding host-derived keying.
const DownloadSlotMeta = "download_slot"

// slotKeyer derives the per-host slot key for a request, matching
// aioscpy's commented-out _get_slot_key: request.meta override first,
// then (if CONCURRENT_REQUESTS_PER_IP is set) the resolved IP, else the
// URL hostname.
type slotKeyer struct {
	perIP bool

	mu       sync.Mutex
	ipCache  map[string]string
}

func newSlotKeyer(perIP bool) *slotKeyer {
	return &slotKeyer{perIP: perIP, ipCache: make(map[string]string)}
}

func (k *slotKeyer) key(req *types.Request) string {
	if v, ok := req.Meta[DownloadSlotMeta]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}

	host := req.Domain()
	if host == "" {
		return ""
	}

	if k.perIP {
		if ip := k.resolveIP(host); ip != "" {
			return ip
		}
	}

	return host
}

func (k *slotKeyer) resolveIP(host string) string {
	k.mu.Lock()
	if ip, ok := k.ipCache[host]; ok {
		k.mu.Unlock()
		return ip
	}
	k.mu.Unlock()

	addrs, err := net.LookupHost(host)
	if err != nil || len(addrs) == 0 {
		return ""
	}

	k.mu.Lock()
	k.ipCache[host] = addrs[0]
	k.mu.Unlock()
	return addrs[0]
}
