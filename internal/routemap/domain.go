package routemap

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalid marks route mapping validation failures. These are
// configuration errors: they surface at admin time or startup, never during
// a decision.
var ErrInvalid = errors.New("routemap: invalid")

// ErrNotFound indicates that the requested mapping does not exist.
var ErrNotFound = errors.New("routemap: not found")

// ErrDuplicate indicates a (path, method) pair that is already mapped.
var ErrDuplicate = errors.New("routemap: mapping already exists")

// RouteFeature binds an HTTP (path, method) pair to the feature guarding it.
// A nil Method applies the mapping to every method on the path.
type RouteFeature struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Method    *string   `json:"method"`
	FeatureID int64     `json:"feature_id"`
	CreatedAt time.Time `json:"created_at"`
}

var knownMethods = map[string]struct{}{
	"GET": {}, "HEAD": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {},
}

// Validate rejects malformed mappings.
func (rf RouteFeature) Validate() error {
	if strings.TrimSpace(rf.Path) == "" {
		return fmt.Errorf("%w: empty path", ErrInvalid)
	}
	if !strings.HasPrefix(rf.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalid, rf.Path)
	}
	if rf.FeatureID <= 0 {
		return fmt.Errorf("%w: feature required for path %q", ErrInvalid, rf.Path)
	}
	if rf.Method != nil {
		if _, ok := knownMethods[*rf.Method]; !ok {
			return fmt.Errorf("%w: unknown method %q for path %q", ErrInvalid, *rf.Method, rf.Path)
		}
	}
	return nil
}

// pick selects the mapping for a method. Candidates arrive longest path
// first; within the most specific path that can serve the method, an exact
// method match wins over the wildcard (nil method) mapping.
func pick(candidates []RouteFeature, method string) *RouteFeature {
	var wildcard *RouteFeature
	var wildcardPath string
	for i := range candidates {
		if wildcard != nil && candidates[i].Path != wildcardPath {
			break
		}
		switch {
		case candidates[i].Method != nil && *candidates[i].Method == method:
			return &candidates[i]
		case candidates[i].Method == nil && wildcard == nil:
			wildcard = &candidates[i]
			wildcardPath = candidates[i].Path
		}
	}
	return wildcard
}
