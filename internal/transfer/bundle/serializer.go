package bundle

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

// Dialect selects how the payload literal is embedded in the SQL file.
type Dialect string

const (
	// DialectPostgres decodes the base64 literal server-side so payload_json
	// holds plain JSON text.
	DialectPostgres Dialect = "postgres"
	// DialectPortable stores the base64 literal as-is; DecodeStagedPayload
	// undoes it on read. Used for SQLite targets.
	DialectPortable Dialect = "portable"
)

const stagedTimeLayout = "2006-01-02T15:04:05.000000Z"

type SQLOptions struct {
	Dialect   Dialect
	BundleID  string
	CreatedAt time.Time
}

func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "postgres", "postgresql":
		return DialectPostgres, nil
	case "portable", "sqlite":
		return DialectPortable, nil
	default:
		return "", transfer.Errorf(transfer.CodeConfiguration, "bundle.dialect", "unknown sql dialect %q", s)
	}
}

// WriteSQL renders b as a self-installing SQL file: it creates the staging
// table when absent and upserts the payload under a fresh bundle id.
// Replaying the file is idempotent.
func WriteSQL(w io.Writer, b *Bundle, opts SQLOptions) (string, error) {
	if b == nil {
		return "", fmt.Errorf("nil bundle")
	}
	if opts.Dialect == "" {
		opts.Dialect = DialectPostgres
	}
	if opts.BundleID == "" {
		opts.BundleID = uuid.NewString()
	}
	if opts.CreatedAt.IsZero() {
		opts.CreatedAt = time.Now()
	}
	payload, err := Marshal(b)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(payload)

	var literal string
	switch opts.Dialect {
	case DialectPostgres:
		literal = fmt.Sprintf("convert_from(decode('%s', 'base64'), 'UTF8')", encoded)
	case DialectPortable:
		literal = "'" + encoded + "'"
	default:
		return "", transfer.Errorf(transfer.CodeConfiguration, "bundle.sql", "unknown sql dialect %q", opts.Dialect)
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "-- success bundle\n")
	fmt.Fprintf(bw, "-- bundle_id: %s\n", opts.BundleID)
	fmt.Fprintf(bw, "-- schema_version: %s\n", b.SchemaVersion)
	fmt.Fprintf(bw, "-- generated_at: %s\n", b.GeneratedAt.UTC().Format(time.RFC3339Nano))
	for _, e := range b.Entities() {
		fmt.Fprintf(bw, "-- count %s: %d\n", e, b.Counts[e])
	}
	fmt.Fprintf(bw, "-- sidecar files: %d\n\n", len(b.SidecarManifest))
	fmt.Fprintf(bw, "CREATE TABLE IF NOT EXISTS %s (\n", StagingTable)
	fmt.Fprintf(bw, "    bundle_id TEXT PRIMARY KEY,\n")
	fmt.Fprintf(bw, "    created_at TIMESTAMPTZ NOT NULL,\n")
	fmt.Fprintf(bw, "    payload_json TEXT NOT NULL\n")
	fmt.Fprintf(bw, ");\n\n")
	fmt.Fprintf(bw, "INSERT INTO %s (bundle_id, created_at, payload_json)\n", StagingTable)
	fmt.Fprintf(bw, "VALUES ('%s', '%s', %s)\n", opts.BundleID, opts.CreatedAt.UTC().Format(stagedTimeLayout), literal)
	fmt.Fprintf(bw, "ON CONFLICT (bundle_id) DO UPDATE SET created_at = EXCLUDED.created_at, payload_json = EXCLUDED.payload_json;\n")
	if err := bw.Flush(); err != nil {
		return "", fmt.Errorf("write bundle sql: %w", err)
	}
	return opts.BundleID, nil
}

var bundleIDHeader = regexp.MustCompile(`(?m)^--\s*bundle_id:\s*([0-9a-fA-F-]{36})\s*$`)

// ParseBundleID reads the bundle id from the SQL header, or "" when absent.
func ParseBundleID(sql string) string {
	m := bundleIDHeader.FindStringSubmatch(sql)
	if len(m) != 2 {
		return ""
	}
	if _, err := uuid.Parse(m[1]); err != nil {
		return ""
	}
	return strings.ToLower(m[1])
}

var stagedInsert = regexp.MustCompile(`(?is)^insert\s+into\s+` + StagingTable +
	`\s*\(\s*bundle_id\s*,[^)]*\)\s*values\s*\(\s*'([0-9a-fA-F-]{36})'`)

// StagedBundleID returns the id the file's INSERT actually stages. The
// file must stage exactly one bundle, and a bundle_id header, when
// present, must name the same one.
func StagedBundleID(sql string) (string, error) {
	const op = "bundle.staged_id"
	var ids []string
	for _, stmt := range SplitStatements(sql) {
		norm := strings.ToLower(strings.Join(strings.Fields(stmt), " "))
		if !strings.HasPrefix(norm, "insert into "+StagingTable) {
			continue
		}
		m := stagedInsert.FindStringSubmatch(stmt)
		if len(m) != 2 {
			return "", transfer.Errorf(transfer.CodeIntegrity, op, "cannot read bundle id from insert: %.60q", stmt)
		}
		if _, err := uuid.Parse(m[1]); err != nil {
			return "", transfer.Errorf(transfer.CodeIntegrity, op, "staged bundle id %q is not a uuid", m[1])
		}
		ids = append(ids, strings.ToLower(m[1]))
	}
	switch len(ids) {
	case 0:
		return "", transfer.Errorf(transfer.CodeIntegrity, op, "bundle sql stages no bundle")
	case 1:
	default:
		return "", transfer.Errorf(transfer.CodeIntegrity, op, "bundle sql stages %d bundles, want 1", len(ids))
	}
	if header := ParseBundleID(sql); header != "" && header != ids[0] {
		return "", transfer.Errorf(transfer.CodeIntegrity, op, "bundle_id header %s does not match staged id %s", header, ids[0])
	}
	return ids[0], nil
}

// DecodeStagedPayload turns a staged payload_json value back into bundle
// JSON, accepting either dialect.
func DecodeStagedPayload(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "{") {
		return []byte(s), nil
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, transfer.Wrap(transfer.CodeIntegrity, "bundle.payload", err)
	}
	return out, nil
}
