package bundle

import (
	"regexp"
	"strings"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

var forbiddenSQL = regexp.MustCompile(`(?i)\b(drop\s+table|truncate|delete\s+from|alter\s+table)\b`)

// CheckSQL rejects bundle SQL that contains destructive statements or does
// anything other than create and fill the staging table.
func CheckSQL(sql string) error {
	const op = "bundle.sql_safety"
	if m := forbiddenSQL.FindString(sql); m != "" {
		return transfer.Errorf(transfer.CodeUnsafeSQL, op, "forbidden token %q in bundle sql", strings.ToLower(m))
	}
	stmts := SplitStatements(sql)
	if len(stmts) == 0 {
		return transfer.Errorf(transfer.CodeUnsafeSQL, op, "bundle sql has no statements")
	}
	for _, stmt := range stmts {
		norm := strings.ToLower(strings.Join(strings.Fields(stmt), " "))
		if !strings.HasPrefix(norm, "create table if not exists "+StagingTable) &&
			!strings.HasPrefix(norm, "insert into "+StagingTable) {
			return transfer.Errorf(transfer.CodeUnsafeSQL, op, "statement does not target %s: %.60q", StagingTable, stmt)
		}
	}
	return nil
}

// SplitStatements splits on semicolons outside string literals and drops
// line comments. Empty statements are skipped.
func SplitStatements(sql string) []string {
	var (
		out     []string
		cur     strings.Builder
		inQuote bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case inQuote:
			cur.WriteByte(c)
			if c == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					cur.WriteByte(sql[i+1])
					i++
				} else {
					inQuote = false
				}
			}
		case c == '\'':
			inQuote = true
			cur.WriteByte(c)
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			cur.WriteByte('\n')
		case c == ';':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}
