package export

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/generation"
)

// jobRefs are the ids reachable from a set of jobs.
type jobRefs struct {
	jobIDs     []string
	lessonIDs  []string
	fensterIDs []string
}

// scanJobRefs unions each job's explicit lesson_id with every nested
// lesson_id in its result payload, and collects parseable fenster ids.
func scanJobRefs(jobs []generation.Job) jobRefs {
	lessons := map[string]bool{}
	fensters := map[string]bool{}
	out := jobRefs{}
	for _, j := range jobs {
		out.jobIDs = append(out.jobIDs, j.ID)
		if j.LessonID != nil && strings.TrimSpace(*j.LessonID) != "" {
			lessons[*j.LessonID] = true
		}
		if len(j.ResultJSON) == 0 {
			continue
		}
		var doc interface{}
		if err := json.Unmarshal(j.ResultJSON, &doc); err != nil {
			continue
		}
		walkKeys(doc, func(key string, v interface{}) {
			switch key {
			case "lesson_id":
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					lessons[s] = true
				}
			case "fenster_id":
				addUUID(fensters, v)
			case "fenster_ids":
				if list, ok := v.([]interface{}); ok {
					for _, item := range list {
						addUUID(fensters, item)
					}
				}
			}
		})
	}
	out.lessonIDs = sortedKeys(lessons)
	out.fensterIDs = sortedKeys(fensters)
	return out
}

func addUUID(set map[string]bool, v interface{}) {
	s, ok := v.(string)
	if !ok {
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return
	}
	set[id.String()] = true
}

// walkKeys calls fn for every object key at any depth.
func walkKeys(v interface{}, fn func(key string, v interface{})) {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, child := range t {
			fn(k, child)
			walkKeys(child, fn)
		}
	case []interface{}:
		for _, child := range t {
			walkKeys(child, fn)
		}
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
