package hydrate

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
)

func testRewriter() *rewriter {
	remaps := newRemapSet()
	remaps.put(bundle.EntitySections, 10, 1)
	remaps.put(bundle.EntitySections, 11, 2)
	remaps.put(bundle.EntityIllustrations, 40, 7)
	remaps.put(bundle.EntityCoachAudios, 3, 9)
	return &rewriter{remaps: remaps}
}

func TestRewriter_RewritesKnownKeysAtAnyDepth(t *testing.T) {
	rw := testRewriter()
	in := map[string]interface{}{
		"section_id":      json.Number("10"),
		"illustration_id": "40",
		"audio_ids":       []interface{}{json.Number("3")},
		"title":           "keep",
		"outline": []interface{}{
			map[string]interface{}{"section_id": json.Number("11"), "depth": json.Number("2")},
		},
	}
	got := rw.rewriteValue(in).(map[string]interface{})
	want := map[string]interface{}{
		"section_id":      json.Number("1"),
		"illustration_id": "7",
		"audio_ids":       []interface{}{json.Number("9")},
		"title":           "keep",
		"outline": []interface{}{
			map[string]interface{}{"section_id": json.Number("2"), "depth": json.Number("2")},
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rewrite:\n got %#v\nwant %#v", got, want)
	}
	if rw.unresolved != 0 {
		t.Fatalf("unresolved=%d", rw.unresolved)
	}
	if in["section_id"] != json.Number("10") {
		t.Fatalf("input mutated")
	}
}

func TestRewriter_UnresolvedValuesLeftInPlace(t *testing.T) {
	rw := testRewriter()
	in := map[string]interface{}{
		"section_id": json.Number("99"),
		"audio_ids":  []interface{}{json.Number("3"), "not-a-number"},
	}
	got := rw.rewriteValue(in).(map[string]interface{})
	if got["section_id"] != json.Number("99") {
		t.Fatalf("section_id=%v", got["section_id"])
	}
	ids := got["audio_ids"].([]interface{})
	if ids[0] != json.Number("9") || ids[1] != "not-a-number" {
		t.Fatalf("audio_ids=%v", ids)
	}
	if rw.unresolved != 2 {
		t.Fatalf("unresolved=%d want 2", rw.unresolved)
	}
}

func TestRewriter_ShapeMismatchAndNulls(t *testing.T) {
	rw := testRewriter()
	in := map[string]interface{}{
		"section_id": map[string]interface{}{"section_id": json.Number("10")},
		"audio_ids":  json.Number("3"),
		"extra":      nil,
	}
	got := rw.rewriteValue(in).(map[string]interface{})
	nested := got["section_id"].(map[string]interface{})
	if nested["section_id"] != json.Number("1") {
		t.Fatalf("nested=%v", nested)
	}
	if got["audio_ids"] != json.Number("3") {
		t.Fatalf("scalar audio_ids should pass through: %v", got["audio_ids"])
	}
	if got["extra"] != nil {
		t.Fatalf("extra=%v", got["extra"])
	}
	if rw.rewriteValue(nil) != nil {
		t.Fatalf("nil column should stay nil")
	}
}

func TestRemapSet_Diff(t *testing.T) {
	a, b := newRemapSet(), newRemapSet()
	a.put(bundle.EntitySections, 1, 5)
	b.put(bundle.EntitySections, 1, 5)
	if err := a.diff(b); err != nil {
		t.Fatalf("equal sets: %v", err)
	}
	b.put(bundle.EntitySections, 1, 6)
	if err := a.diff(b); err == nil {
		t.Fatalf("expected diff")
	}
	if n := a.sizes()[bundle.EntitySections]; n != 1 {
		t.Fatalf("sizes=%v", a.sizes())
	}
}
