package store

import (
	"sort"

	"actionforge.gg/internal/rules"
)

// Tx is the view handed to Update/View closures. Reads hand out clones;
// mutations are explicit Put*/Delete* calls, tracked and then written to disk
// before the commit installs them in memory. A nil entry in a tracking map
// marks a deletion.
type Tx struct {
	st *state
	ro bool

	principals map[string]*rules.Principal
	defs       map[string]*rules.ActionDefinition
	anchors    map[string]*rules.AnchorRecord

	locations      map[string]string
	locationsDirty bool
}

func (tx *Tx) dirty() bool {
	return len(tx.principals) > 0 || len(tx.defs) > 0 || len(tx.anchors) > 0 || tx.locationsDirty
}

func (tx *Tx) install() {
	for id, p := range tx.principals {
		if p == nil {
			delete(tx.st.principals, id)
		} else {
			tx.st.principals[id] = p
		}
	}
	for id, d := range tx.defs {
		if d == nil {
			delete(tx.st.defs, id)
		} else {
			tx.st.defs[id] = d
		}
	}
	for id, a := range tx.anchors {
		if a == nil {
			delete(tx.st.anchors, id)
		} else {
			tx.st.anchors[id] = a
		}
	}
	if tx.locationsDirty {
		tx.st.locations = tx.locations
	}
}

func (tx *Tx) mustWrite() {
	if tx.ro {
		panic("store: mutation inside View")
	}
}

// Principal returns a clone of the principal document, or (nil, false) for a
// never-seen id. Mutations take effect only through PutPrincipal.
func (tx *Tx) Principal(id string) (*rules.Principal, bool) {
	if p, ok := tx.principals[id]; ok {
		return p.Clone(), p != nil
	}
	p, ok := tx.st.principals[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// EnsurePrincipal returns the principal, or an empty document for a
// never-seen id. The caller still owns persisting it via PutPrincipal.
func (tx *Tx) EnsurePrincipal(id string) *rules.Principal {
	if p, ok := tx.Principal(id); ok {
		return p
	}
	return &rules.Principal{ID: id, Inventory: map[string]int64{}}
}

func (tx *Tx) PutPrincipal(p *rules.Principal) {
	tx.mustWrite()
	if tx.principals == nil {
		tx.principals = map[string]*rules.Principal{}
	}
	tx.principals[p.ID] = p
}

func (tx *Tx) Definition(id string) (*rules.ActionDefinition, bool) {
	if d, ok := tx.defs[id]; ok {
		return d.Clone(), d != nil
	}
	d, ok := tx.st.defs[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

func (tx *Tx) PutDefinition(d *rules.ActionDefinition) {
	tx.mustWrite()
	if tx.defs == nil {
		tx.defs = map[string]*rules.ActionDefinition{}
	}
	tx.defs[d.ID] = d
}

func (tx *Tx) DeleteDefinition(id string) bool {
	tx.mustWrite()
	if _, ok := tx.Definition(id); !ok {
		return false
	}
	if tx.defs == nil {
		tx.defs = map[string]*rules.ActionDefinition{}
	}
	tx.defs[id] = nil
	return true
}

// Definitions lists all live definitions ordered by id.
func (tx *Tx) Definitions() []*rules.ActionDefinition {
	seen := map[string]bool{}
	var out []*rules.ActionDefinition
	for id, d := range tx.defs {
		seen[id] = true
		if d != nil {
			out = append(out, d.Clone())
		}
	}
	for id, d := range tx.st.defs {
		if !seen[id] {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefinitionsAt lists live definitions exposed at a location, ordered by
// name then id. This ordering is exactly what anchors render.
func (tx *Tx) DefinitionsAt(locationID string) []*rules.ActionDefinition {
	var out []*rules.ActionDefinition
	for _, d := range tx.Definitions() {
		for _, loc := range d.Locations {
			if loc == locationID {
				out = append(out, d)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (tx *Tx) Anchor(locationID string) (*rules.AnchorRecord, bool) {
	if a, ok := tx.anchors[locationID]; ok {
		return a.Clone(), a != nil
	}
	a, ok := tx.st.anchors[locationID]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (tx *Tx) PutAnchor(a *rules.AnchorRecord) {
	tx.mustWrite()
	if tx.anchors == nil {
		tx.anchors = map[string]*rules.AnchorRecord{}
	}
	tx.anchors[a.LocationID] = a
}

func (tx *Tx) DeleteAnchor(locationID string) {
	tx.mustWrite()
	if _, ok := tx.Anchor(locationID); !ok {
		return
	}
	if tx.anchors == nil {
		tx.anchors = map[string]*rules.AnchorRecord{}
	}
	tx.anchors[locationID] = nil
}

// AnchorLocations lists every location with a live anchor record, sorted.
func (tx *Tx) AnchorLocations() []string {
	seen := map[string]bool{}
	for id := range tx.st.anchors {
		seen[id] = true
	}
	for id, a := range tx.anchors {
		seen[id] = a != nil
	}
	var out []string
	for id, live := range seen {
		if live {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// PrincipalCount reports how many principal documents are live.
func (tx *Tx) PrincipalCount() int {
	n := len(tx.st.principals)
	for id, p := range tx.principals {
		_, existed := tx.st.principals[id]
		if p == nil && existed {
			n--
		} else if p != nil && !existed {
			n++
		}
	}
	return n
}

func (tx *Tx) locs() map[string]string {
	if tx.locations != nil {
		return tx.locations
	}
	return tx.st.locations
}

// ChannelRef resolves a location id to its external channel reference.
func (tx *Tx) ChannelRef(locationID string) (string, bool) {
	ref, ok := tx.locs()[locationID]
	return ref, ok
}

// KnownLocation reports whether the location id is registered.
func (tx *Tx) KnownLocation(locationID string) bool {
	_, ok := tx.locs()[locationID]
	return ok
}

// Locations lists registered location ids, sorted.
func (tx *Tx) Locations() []string {
	m := tx.locs()
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PutLocation registers (or re-points) a location's external channel.
func (tx *Tx) PutLocation(locationID, channelRef string) {
	tx.mustWrite()
	if tx.locations == nil {
		tx.locations = make(map[string]string, len(tx.st.locations)+1)
		for k, v := range tx.st.locations {
			tx.locations[k] = v
		}
	}
	tx.locations[locationID] = channelRef
	tx.locationsDirty = true
}
