package topology

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/cuemby/replicator/pkg/types"
)

// StorageElement describes one SE of the grid
type StorageElement struct {
	Name        string
	Sites       []string
	ReadStatus  types.SEStatus
	WriteStatus types.SEStatus
	// Endpoint is the base URL files are written under.
	Endpoint string
	// Protocol is the URL scheme transfers into this SE use.
	Protocol string
}

// Topology answers site, status and endpoint questions from a static SE table
type Topology struct {
	mu  sync.RWMutex
	ses map[string]StorageElement
}

// New creates a topology from a list of storage elements
func New(ses []StorageElement) *Topology {
	t := &Topology{ses: make(map[string]StorageElement, len(ses))}
	for _, se := range ses {
		if se.ReadStatus == "" {
			se.ReadStatus = types.SEStatusActive
		}
		if se.WriteStatus == "" {
			se.WriteStatus = types.SEStatusActive
		}
		t.ses[se.Name] = se
	}
	return t
}

func (t *Topology) lookup(name string) (StorageElement, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	se, ok := t.ses[name]
	if !ok {
		return StorageElement{}, fmt.Errorf("storage element not found: %s: %w", name, cerrdefs.ErrNotFound)
	}
	return se, nil
}

// GetSitesForSE returns the full site names hosting an SE
func (t *Topology) GetSitesForSE(ctx context.Context, se string) ([]string, error) {
	s, err := t.lookup(se)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), s.Sites...), nil
}

// GetStorageElementStatus returns the SE status for an access mode
func (t *Topology) GetStorageElementStatus(ctx context.Context, se string, mode types.AccessMode) (types.SEStatus, error) {
	s, err := t.lookup(se)
	if err != nil {
		return "", err
	}
	switch mode {
	case types.AccessRead:
		return s.ReadStatus, nil
	case types.AccessWrite:
		return s.WriteStatus, nil
	default:
		return "", fmt.Errorf("unknown access mode %q: %w", mode, cerrdefs.ErrInvalidArgument)
	}
}

// SetStorageElementStatus changes the status of an SE for an access mode
func (t *Topology) SetStorageElementStatus(se string, mode types.AccessMode, status types.SEStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.ses[se]
	if !ok {
		return fmt.Errorf("storage element not found: %s: %w", se, cerrdefs.ErrNotFound)
	}
	switch mode {
	case types.AccessRead:
		s.ReadStatus = status
	case types.AccessWrite:
		s.WriteStatus = status
	default:
		return fmt.Errorf("unknown access mode %q: %w", mode, cerrdefs.ErrInvalidArgument)
	}
	t.ses[se] = s
	return nil
}

// GetSEsAtSite lists, sorted, the SEs hosted at a channel site
// ("CERN" matches an SE at "LCG.CERN.ch")
func (t *Topology) GetSEsAtSite(ctx context.Context, site string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var names []string
	for name, se := range t.ses {
		for _, s := range se.Sites {
			if types.ChannelSite(s) == site {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetCurrentURL builds the URL of lfn under the SE's endpoint
func (t *Topology) GetCurrentURL(ctx context.Context, se, lfn string) (string, error) {
	s, err := t.lookup(se)
	if err != nil {
		return "", err
	}
	if s.Endpoint == "" {
		return "", fmt.Errorf("storage element %s has no endpoint: %w", se, cerrdefs.ErrFailedPrecondition)
	}
	return strings.TrimSuffix(s.Endpoint, "/") + "/" + strings.TrimPrefix(lfn, "/"), nil
}

// GetPfnForProtocol rewrites replica URLs to the scheme the target SE
// transfers with. SEs without a protocol accept replicas unchanged.
func (t *Topology) GetPfnForProtocol(ctx context.Context, pfns []string, targetSE string) (*types.URLResult, error) {
	s, err := t.lookup(targetSE)
	if err != nil {
		return nil, err
	}
	res := &types.URLResult{
		Successful: make(map[string]string, len(pfns)),
		Failed:     make(map[string]string),
	}
	for _, pfn := range pfns {
		u, err := url.Parse(pfn)
		if err != nil || u.Scheme == "" {
			res.Failed[pfn] = "not a URL"
			continue
		}
		if s.Protocol != "" {
			u.Scheme = s.Protocol
		}
		res.Successful[pfn] = u.String()
	}
	return res, nil
}
