// ABOUTME: Group directory: creation, membership lookups and member additions
// ABOUTME: Group ids are minted from a persisted counter as group_<n>

package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/2389/parlor-gateway/internal/chat"
	"github.com/2389/parlor-gateway/internal/store"
)

// MinProposedMembers is how many distinct members a creator must propose.
const MinProposedMembers = 2

var (
	ErrEmptyName      = errors.New("group name must not be empty")
	ErrTooFewMembers  = errors.New("a group needs at least two proposed members")
	ErrNotFound       = errors.New("group not found")
	ErrNotMember      = errors.New("not a member of this group")
	ErrNoNewMembers   = errors.New("no new members to add")
	ErrInvalidMembers = errors.New("member names must not contain control characters")
)

// snapshot is the persisted shape of the directory.
type snapshot struct {
	Groups map[string]chat.Group `json:"groups"`
	NextID int                   `json:"next_id"`
}

// Directory owns every group.
type Directory struct {
	groups map[string]chat.Group
	nextID int
	mu     sync.RWMutex
	writer *store.Writer
	logger *slog.Logger
}

// NewDirectory creates an empty Directory. writer may be nil.
func NewDirectory(writer *store.Writer, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Directory{
		groups: make(map[string]chat.Group),
		nextID: 1,
		writer: writer,
		logger: logger.With("component", "groups"),
	}
	writer.BindJSON(d.mu.RLocker(), func() any { return snapshot{Groups: d.groups, NextID: d.nextID} })
	return d
}

// Load replaces the directory with the persisted groups document.
func (d *Directory) Load(ctx context.Context, backend store.Backend) error {
	snap := snapshot{Groups: make(map[string]chat.Group), NextID: 1}
	if _, err := store.Load(ctx, backend, store.DocGroups, &snap); err != nil {
		return fmt.Errorf("loading groups: %w", err)
	}
	if snap.Groups == nil {
		snap.Groups = make(map[string]chat.Group)
	}
	if snap.NextID < 1 {
		snap.NextID = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups = snap.Groups
	d.nextID = snap.NextID

	d.logger.Info("groups loaded", "groups", len(d.groups), "next_id", d.nextID)
	return nil
}

// Create registers a new group. Membership is the proposed members plus the
// creator, deduplicated and sorted.
func (d *Directory) Create(name, creator string, proposed []string) (chat.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return chat.Group{}, ErrEmptyName
	}

	distinct := normalize(proposed)
	if len(distinct) < MinProposedMembers {
		return chat.Group{}, ErrTooFewMembers
	}
	for _, m := range distinct {
		if !chat.ValidIdentity(m) {
			return chat.Group{}, ErrInvalidMembers
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	group := chat.Group{
		ID:      fmt.Sprintf("group_%d", d.nextID),
		Name:    name,
		Creator: creator,
		Members: normalize(append(distinct, creator)),
	}
	d.nextID++
	d.groups[group.ID] = group
	d.persistLocked()

	d.logger.Info("group created",
		"group_id", group.ID,
		"name", group.Name,
		"creator", creator,
		"members", len(group.Members),
	)
	return group.Clone(), nil
}

// AddMembers adds members to an existing group on behalf of requester, who
// must already belong to it. It returns the updated group and the identities
// that were actually added.
func (d *Directory) AddMembers(groupID, requester string, members []string) (chat.Group, []string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	group, ok := d.groups[groupID]
	if !ok {
		return chat.Group{}, nil, ErrNotFound
	}
	if !group.HasMember(requester) {
		return chat.Group{}, nil, ErrNotMember
	}

	var added []string
	for _, m := range normalize(members) {
		if !chat.ValidIdentity(m) {
			return chat.Group{}, nil, ErrInvalidMembers
		}
		if !group.HasMember(m) {
			added = append(added, m)
		}
	}
	if len(added) == 0 {
		return chat.Group{}, nil, ErrNoNewMembers
	}

	group = group.Clone()
	group.Members = normalize(append(group.Members, added...))
	d.groups[groupID] = group
	d.persistLocked()

	d.logger.Info("group members added", "group_id", groupID, "by", requester, "added", added)
	return group.Clone(), added, nil
}

// Get returns a copy of the group.
func (d *Directory) Get(groupID string) (chat.Group, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	g, ok := d.groups[groupID]
	if !ok {
		return chat.Group{}, false
	}
	return g.Clone(), true
}

// Members returns a copy of the group's member list.
func (d *Directory) Members(groupID string) ([]string, bool) {
	g, ok := d.Get(groupID)
	return g.Members, ok
}

// IsMember reports whether identity belongs to the group.
func (d *Directory) IsMember(groupID, identity string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	g, ok := d.groups[groupID]
	return ok && g.HasMember(identity)
}

// ListFor returns every group identity belongs to, ordered by id.
func (d *Directory) ListFor(identity string) []chat.Group {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []chat.Group
	for _, g := range d.groups {
		if g.HasMember(identity) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessGroupID(out[i].ID, out[j].ID) })
	return out
}

func (d *Directory) persistLocked() {
	d.writer.Notify()
}

// normalize trims, drops blanks, deduplicates and sorts.
func normalize(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// groupNumber parses the counter out of a group_<n> id.
func groupNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, "group_")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// lessGroupID orders minted ids numerically; ids that do not parse sort
// after them, by string.
func lessGroupID(a, b string) bool {
	na, okA := groupNumber(a)
	nb, okB := groupNumber(b)
	switch {
	case okA && okB:
		return na < nb
	case okA != okB:
		return okA
	default:
		return a < b
	}
}
