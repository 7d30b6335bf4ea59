package hydrate

import (
	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
)

// remapTable maps a source surrogate id to the target id of the same
// logical row.
type remapTable map[int64]int64

func (m remapTable) equal(o remapTable) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		if ov, ok := o[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// remapSet holds one table per non-portable entity.
type remapSet map[bundle.Entity]remapTable

var remappedEntities = []bundle.Entity{
	bundle.EntitySections,
	bundle.EntityIllustrations,
	bundle.EntityCoachAudios,
}

func newRemapSet() remapSet {
	s := remapSet{}
	for _, e := range remappedEntities {
		s[e] = remapTable{}
	}
	return s
}

func (s remapSet) put(e bundle.Entity, source, target int64) {
	s[e][source] = target
}

func (s remapSet) lookup(e bundle.Entity, source int64) (int64, bool) {
	t, ok := s[e][source]
	return t, ok
}

// diff describes the first entity whose table differs from o.
func (s remapSet) diff(o remapSet) error {
	for _, e := range remappedEntities {
		if !s[e].equal(o[e]) {
			return transfer.Errorf(transfer.CodeIntegrity, "hydrate.verify_rerun",
				"%s remap changed on rerun: %d entries vs %d", e, len(s[e]), len(o[e]))
		}
	}
	return nil
}

func (s remapSet) sizes() map[bundle.Entity]int {
	out := map[bundle.Entity]int{}
	for e, t := range s {
		out[e] = len(t)
	}
	return out
}

// blobCache holds sidecar bytes that passed verification, keyed by
// relative path, so a rerun pass does not re-read the tree.
type blobCache struct {
	sidecar  *bundle.Sidecar
	manifest map[string]bundle.ManifestEntry
	unusable map[string]error
	blobs    map[string][]byte
}

func newBlobCache(sidecar *bundle.Sidecar, manifest []bundle.ManifestEntry) *blobCache {
	c := &blobCache{
		sidecar:  sidecar,
		manifest: map[string]bundle.ManifestEntry{},
		unusable: map[string]error{},
		blobs:    map[string][]byte{},
	}
	for _, e := range manifest {
		c.manifest[e.RelativePath] = e
	}
	return c
}

func (c *blobCache) markUnusable(rel string, err error) {
	c.unusable[rel] = err
}

// load returns the verified bytes for ref. The ref must match a manifest
// entry exactly; the manifest, not the row, is authoritative.
func (c *blobCache) load(ref *bundle.BinaryRef) ([]byte, error) {
	if data, ok := c.blobs[ref.Ref]; ok {
		return data, nil
	}
	if err, bad := c.unusable[ref.Ref]; bad {
		return nil, err
	}
	entry, ok := c.manifest[ref.Ref]
	if !ok {
		return nil, transfer.Errorf(transfer.CodeIntegrity, "hydrate.blob", "reference %s is not in the sidecar manifest", ref.Ref)
	}
	if entry.SHA256 != ref.SHA256 || entry.Size != ref.Size {
		return nil, transfer.Errorf(transfer.CodeIntegrity, "hydrate.blob", "reference %s disagrees with its manifest entry", ref.Ref)
	}
	data, err := c.sidecar.Load(entry)
	if err != nil {
		return nil, err
	}
	c.blobs[ref.Ref] = data
	return data, nil
}

// passStats counts what one merge pass did.
type passStats struct {
	Created    map[bundle.Entity]int `json:"created" yaml:"created"`
	Updated    map[bundle.Entity]int `json:"updated" yaml:"updated"`
	Skipped    map[bundle.Entity]int `json:"skipped" yaml:"skipped"`
	Unresolved int                   `json:"unresolved_refs" yaml:"unresolved_refs"`
}

func newPassStats() *passStats {
	return &passStats{
		Created: map[bundle.Entity]int{},
		Updated: map[bundle.Entity]int{},
		Skipped: map[bundle.Entity]int{},
	}
}

func (p *passStats) created() int {
	n := 0
	for _, v := range p.Created {
		n += v
	}
	return n
}
