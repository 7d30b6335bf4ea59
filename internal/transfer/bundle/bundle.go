// Package bundle defines the portable success-bundle artifact: the JSON
// payload, the self-installing SQL file that carries it, and the sidecar
// tree that holds extracted binaries.
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

const (
	SchemaVersion = "success_bundle/v1"
	StagingTable  = "import_success_bundle"

	// IllustrationObjectColumn carries the sidecar reference for an
	// illustration's object-storage bytes. It is not a database column.
	IllustrationObjectColumn = "object_ref"
)

type Entity string

const (
	EntityJobs                 Entity = "jobs"
	EntityLessons              Entity = "lessons"
	EntitySections             Entity = "sections"
	EntitySectionErrors        Entity = "section_errors"
	EntitySubjectiveWidgets    Entity = "subjective_widgets"
	EntityIllustrations        Entity = "illustrations"
	EntitySectionIllustrations Entity = "section_illustrations"
	EntityFensterWidgets       Entity = "fenster_widgets"
	EntityCoachAudios          Entity = "coach_audios"
)

// MergeOrder is the dependency order used by hydrate: parents first.
var MergeOrder = []Entity{
	EntityLessons,
	EntitySections,
	EntitySectionErrors,
	EntitySubjectiveWidgets,
	EntityIllustrations,
	EntitySectionIllustrations,
	EntityFensterWidgets,
	EntityCoachAudios,
	EntityJobs,
}

// Row is one exported database row keyed by column name.
type Row = map[string]interface{}

type Bundle struct {
	SchemaVersion   string           `json:"schema_version"`
	GeneratedAt     time.Time        `json:"generated_at"`
	Counts          map[Entity]int   `json:"counts"`
	Data            map[Entity][]Row `json:"data"`
	SidecarManifest []ManifestEntry  `json:"sidecar_manifest"`
}

func New(generatedAt time.Time) *Bundle {
	return &Bundle{
		SchemaVersion:   SchemaVersion,
		GeneratedAt:     generatedAt.UTC(),
		Counts:          map[Entity]int{},
		Data:            map[Entity][]Row{},
		SidecarManifest: []ManifestEntry{},
	}
}

func (b *Bundle) Add(entity Entity, rows ...Row) {
	b.Data[entity] = append(b.Data[entity], rows...)
	b.Counts[entity] = len(b.Data[entity])
}

func (b *Bundle) Rows(entity Entity) []Row {
	if b == nil {
		return nil
	}
	return b.Data[entity]
}

// Entities returns every entity that has rows, sorted by name.
func (b *Bundle) Entities() []Entity {
	out := make([]Entity, 0, len(b.Data))
	for e := range b.Data {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ManifestFor indexes the manifest by relative path.
func (b *Bundle) ManifestFor() map[string]ManifestEntry {
	out := make(map[string]ManifestEntry, len(b.SidecarManifest))
	for _, e := range b.SidecarManifest {
		out[e.RelativePath] = e
	}
	return out
}

// BinaryRef replaces an extracted binary column inside a row.
type BinaryRef struct {
	Ref    string `json:"ref"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

func (r BinaryRef) AsRow() Row {
	return Row{"ref": r.Ref, "sha256": r.SHA256, "size": r.Size}
}

// ParseBinaryRef reads a {ref, sha256, size} triple. A nil value is a valid
// "no binary" marker and returns ok=false with a nil error.
func ParseBinaryRef(v interface{}) (*BinaryRef, bool, error) {
	if v == nil {
		return nil, false, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, false, fmt.Errorf("binary column is %T, expected reference object", v)
	}
	ref, _ := m["ref"].(string)
	sum, _ := m["sha256"].(string)
	size, err := Int64(m["size"])
	if err != nil || strings.TrimSpace(ref) == "" || strings.TrimSpace(sum) == "" {
		return nil, false, fmt.Errorf("malformed binary reference %v", m)
	}
	return &BinaryRef{Ref: ref, SHA256: strings.ToLower(sum), Size: size}, true, nil
}

// Int64 converts a decoded JSON number into an int64 without going through
// float64, so large surrogate ids stay exact.
func Int64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		if n != float64(int64(n)) {
			return 0, fmt.Errorf("non-integer id %v", n)
		}
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func Marshal(b *Bundle) ([]byte, error) {
	return json.Marshal(b)
}

// Decode parses a bundle payload. The schema version is checked before the
// data section is decoded, so a foreign payload never reaches the merge.
func Decode(raw []byte) (*Bundle, error) {
	var head struct {
		SchemaVersion string `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, transfer.Wrap(transfer.CodeIntegrity, "bundle.decode", err)
	}
	if head.SchemaVersion != SchemaVersion {
		return nil, transfer.Errorf(transfer.CodeVersionMismatch, "bundle.decode",
			"unsupported schema_version %q (want %q)", head.SchemaVersion, SchemaVersion)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, transfer.Wrap(transfer.CodeIntegrity, "bundle.decode", err)
	}
	if b.Data == nil {
		b.Data = map[Entity][]Row{}
	}
	if b.Counts == nil {
		b.Counts = map[Entity]int{}
	}
	for e, rows := range b.Data {
		if n, ok := b.Counts[e]; ok && n != len(rows) {
			return nil, transfer.Errorf(transfer.CodeIntegrity, "bundle.decode",
				"count mismatch for %s: declared %d, found %d", e, n, len(rows))
		}
	}
	return &b, nil
}
