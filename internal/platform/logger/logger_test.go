package logger

import "testing"

func TestSanitizeValue(t *testing.T) {
	if got := sanitizeValue("operator_secret", "hunter2"); got != "[REDACTED]" {
		t.Fatalf("secret: got %v", got)
	}
	got := sanitizeValue("db_url", "postgres://app:pw@db.internal:5432/neuro?sslmode=disable")
	if got != "postgres://redacted@db.internal:5432/neuro" {
		t.Fatalf("db_url: got %v", got)
	}
	if got := sanitizeValue("run_id", "abc"); got != "abc" {
		t.Fatalf("run_id: got %v", got)
	}
	nested := sanitizeValue("meta", map[string]interface{}{"password": "x", "count": 3}).(map[string]interface{})
	if nested["password"] != "[REDACTED]" || nested["count"] != 3 {
		t.Fatalf("nested: got %v", nested)
	}
}
