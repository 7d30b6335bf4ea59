package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/generation"
	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
)

var knownExtensions = map[string]string{
	"image/png":        "png",
	"image/jpeg":       "jpg",
	"image/webp":       "webp",
	"image/gif":        "gif",
	"image/svg+xml":    "svg",
	"audio/mpeg":       "mp3",
	"audio/mp4":        "m4a",
	"audio/wav":        "wav",
	"audio/x-wav":      "wav",
	"audio/ogg":        "ogg",
	"audio/webm":       "webm",
	"text/html":        "html",
	"application/json": "json",
}

// extFor picks a file extension from a mime type, falling back to the
// object name and then to "bin".
func extFor(mimeType, objectName string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if ext, ok := knownExtensions[mt]; ok {
		return ext
	}
	if ext := strings.TrimPrefix(path.Ext(objectName), "."); ext != "" {
		return strings.ToLower(ext)
	}
	if mt != "" {
		if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
			return strings.TrimPrefix(exts[0], ".")
		}
	}
	return "bin"
}

func toRow(v interface{}) (bundle.Row, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row bundle.Row
	if err := dec.Decode(&row); err != nil {
		return nil, err
	}
	return row, nil
}

// extractBinary encodes model as a row and moves data into the sidecar,
// leaving a {ref, sha256, size} triple in col.
func (c *Collector) extractBinary(st *collectState, entity bundle.Entity, sourceID, mimeType, col string, model interface{}, data []byte) (bundle.Row, error) {
	row, err := toRow(model)
	if err != nil {
		return nil, fmt.Errorf("encode %s row: %w", entity, err)
	}
	if data == nil {
		row[col] = nil
		return row, nil
	}
	entry, err := c.sidecar.Put(entity, sourceID, extFor(mimeType, ""), data)
	if err != nil {
		if perr := st.policy.Violation("export.sidecar", err, "entity", entity, "source_id", sourceID); perr != nil {
			return nil, perr
		}
		row[col] = nil
		st.nulled++
		return row, nil
	}
	st.manifest = append(st.manifest, entry)
	row[col] = entry.Ref().AsRow()
	return row, nil
}

// copyObject streams an illustration's object into the sidecar. A nil ref
// with a nil error means the object was skipped under a lenient policy.
func (c *Collector) copyObject(ctx context.Context, st *collectState, ill *generation.Illustration) (*bundle.BinaryRef, error) {
	sourceID := fmt.Sprint(ill.ID)
	skip := func(err error) (*bundle.BinaryRef, error) {
		if perr := st.policy.Violation("export.illustration_object", err,
			"illustration_id", ill.ID, "bucket", ill.Bucket, "object_name", ill.ObjectName); perr != nil {
			return nil, perr
		}
		st.nulled++
		return nil, nil
	}
	rc, err := c.objects.Open(ctx, ill.Bucket, ill.ObjectName)
	if err != nil {
		return skip(fmt.Errorf("open illustration object %s/%s: %w", ill.Bucket, ill.ObjectName, err))
	}
	defer rc.Close()
	entry, err := c.sidecar.PutStream(bundle.EntityIllustrations, sourceID, extFor(ill.MimeType, ill.ObjectName), rc)
	if err != nil {
		return skip(err)
	}
	st.manifest = append(st.manifest, entry)
	ref := entry.Ref()
	return &ref, nil
}
