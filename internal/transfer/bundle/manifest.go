package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

func SortManifest(entries []ManifestEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].RelativePath < entries[j].RelativePath
	})
}

// WriteManifest writes the manifest as a standalone JSON array into the
// sidecar root so the tree can be verified without the SQL file.
func (s *Sidecar) WriteManifest(entries []ManifestEntry) (string, error) {
	if entries == nil {
		entries = []ManifestEntry{}
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	p := filepath.Join(s.root, ManifestFileName)
	if err := os.WriteFile(p, append(raw, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return p, nil
}

func (s *Sidecar) ReadManifest() ([]ManifestEntry, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, ManifestFileName))
	if err != nil {
		return nil, transfer.Wrap(transfer.CodeIntegrity, "sidecar.manifest", err)
	}
	var entries []ManifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, transfer.Wrap(transfer.CodeIntegrity, "sidecar.manifest", err)
	}
	return entries, nil
}

// VerifyReport is the outcome of checking a whole manifest.
type VerifyReport struct {
	Checked int
	Bytes   int64
	Failed  map[string]error
}

func (r VerifyReport) OK() bool { return len(r.Failed) == 0 }

// VerifyAll checks every entry. Under a strict policy it stops at the first
// failure; a lenient policy records failures and keeps going. A path that
// escapes the root always stops the check.
func (s *Sidecar) VerifyAll(entries []ManifestEntry, policy *transfer.IntegrityPolicy) (VerifyReport, error) {
	rep := VerifyReport{Failed: map[string]error{}}
	for _, e := range entries {
		rep.Checked++
		if _, err := s.Resolve(e.RelativePath); err != nil {
			rep.Failed[e.RelativePath] = err
			return rep, err
		}
		if err := s.Verify(e); err != nil {
			rep.Failed[e.RelativePath] = err
			if perr := policy.Violation("sidecar.verify", err, "entity", e.Entity, "source_id", e.SourceID, "path", e.RelativePath); perr != nil {
				return rep, perr
			}
			continue
		}
		rep.Bytes += e.Size
	}
	return rep, nil
}
