package hydrate

import (
	"encoding/json"
	"strconv"

	"github.com/yungbote/neurobridge-successbundle/internal/transfer/bundle"
)

// node is a parsed JSON value. Only the three variants below implement it.
type node interface {
	value() interface{}
}

type objectNode map[string]node

type arrayNode []node

type scalarNode struct{ v interface{} }

func (o objectNode) value() interface{} {
	out := make(map[string]interface{}, len(o))
	for k, child := range o {
		out[k] = child.value()
	}
	return out
}

func (a arrayNode) value() interface{} {
	out := make([]interface{}, len(a))
	for i, child := range a {
		out[i] = child.value()
	}
	return out
}

func (s scalarNode) value() interface{} { return s.v }

func parseNode(v interface{}) node {
	switch t := v.(type) {
	case map[string]interface{}:
		o := make(objectNode, len(t))
		for k, child := range t {
			o[k] = parseNode(child)
		}
		return o
	case []interface{}:
		a := make(arrayNode, len(t))
		for i, child := range t {
			a[i] = parseNode(child)
		}
		return a
	default:
		return scalarNode{v: v}
	}
}

// rewriteRule says which remap table resolves the values under key.
type rewriteRule struct {
	entity bundle.Entity
	list   bool
}

var rewriteRules = map[string]rewriteRule{
	"section_id":      {entity: bundle.EntitySections},
	"illustration_id": {entity: bundle.EntityIllustrations},
	"audio_ids":       {entity: bundle.EntityCoachAudios, list: true},
}

// rewriter replaces embedded surrogate ids with their target ids. Values
// it cannot resolve are left as they are and counted.
type rewriter struct {
	remaps     remapSet
	unresolved int
}

// rewriteValue returns a rewritten copy of a decoded JSON column value.
// The input is never modified.
func (r *rewriter) rewriteValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	return r.rewrite(parseNode(v)).value()
}

func (r *rewriter) rewrite(n node) node {
	switch t := n.(type) {
	case objectNode:
		out := make(objectNode, len(t))
		for k, child := range t {
			rule, ok := rewriteRules[k]
			if !ok {
				out[k] = r.rewrite(child)
				continue
			}
			out[k] = r.applyRule(rule, child)
		}
		return out
	case arrayNode:
		out := make(arrayNode, len(t))
		for i, child := range t {
			out[i] = r.rewrite(child)
		}
		return out
	default:
		return n
	}
}

func (r *rewriter) applyRule(rule rewriteRule, n node) node {
	if s, ok := n.(scalarNode); ok && !rule.list {
		return r.mapScalar(rule.entity, s)
	}
	if a, ok := n.(arrayNode); ok && rule.list {
		out := make(arrayNode, len(a))
		for i, item := range a {
			if s, ok := item.(scalarNode); ok {
				out[i] = r.mapScalar(rule.entity, s)
			} else {
				out[i] = r.rewrite(item)
			}
		}
		return out
	}
	// Shape does not match the rule; treat it as ordinary JSON.
	return r.rewrite(n)
}

func (r *rewriter) mapScalar(entity bundle.Entity, s scalarNode) node {
	if s.v == nil {
		return s
	}
	source, err := bundle.Int64(s.v)
	if err != nil {
		r.unresolved++
		return s
	}
	target, ok := r.remaps.lookup(entity, source)
	if !ok {
		r.unresolved++
		return s
	}
	if _, isString := s.v.(string); isString {
		return scalarNode{v: strconv.FormatInt(target, 10)}
	}
	return scalarNode{v: json.Number(strconv.FormatInt(target, 10))}
}
