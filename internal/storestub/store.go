// Package storestub is an in-memory entity store speaking the same HTTP
// contract as the production store. It backs tests and local dry runs.
package storestub

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/starford/arkeimport/internal/apperr"
	"github.com/starford/arkeimport/internal/checksum"
	"github.com/starford/arkeimport/internal/entitystore"
)

// AnchorPI is the id of the root entity every store starts with.
const AnchorPI = "00000000000000000000000000"

// Stats summarises the store contents.
type Stats struct {
	Entities int
	Versions int
	Blobs    int
}

// Store holds blobs and entity version chains.
type Store struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	chains  map[string][]*entitystore.EntityVersion
	order   []string
	seq     uint64
	creates int
	fault   func(n int, req entitystore.CreateRequest) bool
	now     func() time.Time
}

// New returns a store holding only the anchor entity.
func New() *Store {
	s := &Store{
		blobs:  make(map[string][]byte),
		chains: make(map[string][]*entitystore.EntityVersion),
		now:    time.Now,
	}
	s.appendLocked(AnchorPI, nil, "", nil, "Arke root")
	return s
}

// FailCreates installs a predicate consulted before every entity creation;
// n counts creation attempts from 1. Returning true makes the request fail
// with 500 and nothing is created.
func (s *Store) FailCreates(fn func(n int, req entitystore.CreateRequest) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fault = fn
}

// Stats reports entity, version and blob counts. The anchor is excluded.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Entities: len(s.chains) - 1, Blobs: len(s.blobs)}
	for pi, chain := range s.chains {
		if pi != AnchorPI {
			st.Versions += len(chain)
		}
	}
	return st
}

// CountNotes returns how many entities were created with a first-version
// note starting with prefix.
func (s *Store) CountNotes(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for pi, chain := range s.chains {
		if pi != AnchorPI && strings.HasPrefix(chain[0].Note, prefix) {
			n++
		}
	}
	return n
}

// Blob returns the bytes stored under cid.
func (s *Store) Blob(cid string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[cid]
	return b, ok
}

// Latest returns a copy of the entity's tip version.
func (s *Store) Latest(pi string) (entitystore.EntityVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain, ok := s.chains[pi]
	if !ok {
		return entitystore.EntityVersion{}, apperr.ErrNotFound
	}
	return clone(chain[len(chain)-1]), nil
}

// Put stores a blob and returns its content address.
func (s *Store) Put(data []byte) (string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(data), int64(len(data))
}

func (s *Store) putLocked(data []byte) string {
	cid := "sha256-" + checksum.Sum(data)
	if _, ok := s.blobs[cid]; !ok {
		s.blobs[cid] = slices.Clone(data)
	}
	return cid
}

// nextPI mints a 26-character id in the ULID alphabet.
func (s *Store) nextPI() string {
	s.seq++
	return fmt.Sprintf("01%024X", s.seq)
}

// Create adds a new entity. A parent gains a version listing the child.
func (s *Store) Create(req entitystore.CreateRequest) (*entitystore.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creates++
	if s.fault != nil && s.fault(s.creates, req) {
		return nil, fmt.Errorf("injected create failure %d", s.creates)
	}
	if err := s.checkComponentsLocked(req.Components); err != nil {
		return nil, err
	}
	if req.ParentPI != "" {
		if _, ok := s.chains[req.ParentPI]; !ok {
			return nil, fmt.Errorf("parent %s: %w", req.ParentPI, apperr.ErrNotFound)
		}
	}
	pi := req.PI
	if pi == "" {
		pi = s.nextPI()
	} else if _, ok := s.chains[pi]; ok {
		return nil, fmt.Errorf("entity %s already exists: %w", pi, apperr.ErrConflict)
	}

	v := s.appendLocked(pi, req.Components, req.ParentPI, req.ChildrenPI, req.Note)
	if req.ParentPI != "" {
		parent := s.chains[req.ParentPI]
		tip := parent[len(parent)-1]
		children := append(slices.Clone(tip.ChildrenPI), pi)
		s.appendLocked(req.ParentPI, tip.Components, tip.ParentPI, children, "Added child "+pi)
	}
	return result(v), nil
}

// Append adds a version to pi if expectTip matches the current tip.
func (s *Store) Append(pi string, req entitystore.AppendRequest) (*entitystore.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, ok := s.chains[pi]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", pi, apperr.ErrNotFound)
	}
	tip := chain[len(chain)-1]
	if req.ExpectTip == "" {
		return nil, fmt.Errorf("expect_tip is required: %w", apperr.ErrValidation)
	}
	if req.ExpectTip != tip.ManifestCID {
		return nil, fmt.Errorf("tip is %s: %w", tip.ManifestCID, apperr.ErrConflict)
	}
	if err := s.checkComponentsLocked(req.Components); err != nil {
		return nil, err
	}

	components := make(map[string]string, len(tip.Components)+len(req.Components))
	for k, v := range tip.Components {
		components[k] = v
	}
	for k, v := range req.Components {
		components[k] = v
	}
	children := slices.DeleteFunc(slices.Clone(tip.ChildrenPI), func(c string) bool {
		return slices.Contains(req.ChildrenPIRemove, c)
	})
	for _, c := range req.ChildrenPIAdd {
		if !slices.Contains(children, c) {
			children = append(children, c)
		}
	}
	v := s.appendLocked(pi, components, tip.ParentPI, children, req.Note)
	return result(v), nil
}

// List returns entities in creation order.
func (s *Store) List(offset, limit int) entitystore.ListResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	res := entitystore.ListResult{Total: len(s.order), Offset: offset, Limit: limit, Entities: []entitystore.ListedEntity{}}
	for i := offset; i < len(s.order) && i < offset+limit; i++ {
		chain := s.chains[s.order[i]]
		res.Entities = append(res.Entities, entitystore.ListedEntity{PI: s.order[i], Tip: chain[len(chain)-1].ManifestCID})
	}
	res.HasMore = offset+len(res.Entities) < len(s.order)
	return res
}

func (s *Store) checkComponentsLocked(components map[string]string) error {
	for name, cid := range components {
		if _, ok := s.blobs[cid]; !ok {
			return fmt.Errorf("component %s references unknown blob %s: %w", name, cid, apperr.ErrValidation)
		}
	}
	return nil
}

func (s *Store) appendLocked(pi string, components map[string]string, parent string, children []string, note string) *entitystore.EntityVersion {
	chain := s.chains[pi]
	v := &entitystore.EntityVersion{
		PI:         pi,
		Ver:        len(chain) + 1,
		TS:         s.now().UTC().Format(time.RFC3339Nano),
		Components: components,
		ParentPI:   parent,
		ChildrenPI: children,
		Note:       note,
	}
	if v.Components == nil {
		v.Components = map[string]string{}
	}
	if v.ChildrenPI == nil {
		v.ChildrenPI = []string{}
	}
	if len(chain) > 0 {
		v.PrevCID = chain[len(chain)-1].ManifestCID
	} else {
		s.order = append(s.order, pi)
	}
	manifest, _ := json.Marshal(v)
	v.ManifestCID = s.putLocked(manifest)
	s.chains[pi] = append(chain, v)
	return v
}

func result(v *entitystore.EntityVersion) *entitystore.CreateResult {
	return &entitystore.CreateResult{PI: v.PI, Ver: v.Ver, ManifestCID: v.ManifestCID, Tip: v.ManifestCID}
}

func clone(v *entitystore.EntityVersion) entitystore.EntityVersion {
	out := *v
	out.Components = make(map[string]string, len(v.Components))
	for k, c := range v.Components {
		out.Components[k] = c
	}
	out.ChildrenPI = slices.Clone(v.ChildrenPI)
	return out
}
