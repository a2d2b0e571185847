// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
)

// Spec is a declarative record description: a target type in the downstream
// store plus an attribute tree. Attributes are kept as raw JSON so the
// document order survives a round trip; references appear in the tree as
// their token strings.
type Spec struct {
	TargetType string          `json:"target_type"`
	Attributes json.RawMessage `json:"attributes"`
}

// NewSpec encodes an attribute map into a Spec. Reference values of any
// kind marshal to their token strings.
func NewSpec(targetType string, attrs map[string]any) (Spec, error) {
	raw, err := EncodeAttrs(attrs)
	if err != nil {
		return Spec{}, err
	}
	return Spec{TargetType: targetType, Attributes: raw}, nil
}

// EncodeAttrs serializes an attribute map to JSON, turning references into
// their token strings.
func EncodeAttrs(attrs map[string]any) (json.RawMessage, error) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode spec attributes: %w", err)
	}
	return raw, nil
}

// DecodeAttrs deserializes the attribute tree back into a plain map,
// re-parsing reference tokens into reference values. Strings without a
// reference prefix pass through unchanged.
func (s Spec) DecodeAttrs() (map[string]any, error) {
	if len(s.Attributes) == 0 {
		return map[string]any{}, nil
	}

	var attrs map[string]any
	if err := json.Unmarshal(s.Attributes, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode spec attributes: %w", err)
	}

	decoded, err := reviveRefs(attrs)
	if err != nil {
		return nil, err
	}
	return decoded.(map[string]any), nil
}

func reviveRefs(value any) (any, error) {
	switch v := value.(type) {
	case string:
		ref, ok, err := ClassifyToken(v)
		if err != nil {
			return nil, err
		}
		if ok {
			return ref, nil
		}
		return v, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			revived, err := reviveRefs(item)
			if err != nil {
				return nil, err
			}
			out[k] = revived
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			revived, err := reviveRefs(item)
			if err != nil {
				return nil, err
			}
			out[i] = revived
		}
		return out, nil
	default:
		return v, nil
	}
}

// FindRefs returns the unique dependency-creating references (plain and
// blob; model references never create dependencies) found anywhere in the
// attribute tree, in document order of first appearance.
func (s Spec) FindRefs() ([]Reference, error) {
	var refs []Reference
	seen := make(map[string]bool)
	var walkErr error

	var walk func(v gjson.Result) bool
	walk = func(v gjson.Result) bool {
		switch {
		case v.IsObject(), v.IsArray():
			v.ForEach(func(_, item gjson.Result) bool {
				return walk(item)
			})
		case v.Type == gjson.String:
			ref, ok, err := ClassifyToken(v.String())
			if err != nil {
				walkErr = err
				return false
			}
			if !ok || ref.Kind() == RefKindModel {
				return true
			}
			if token := ref.String(); !seen[token] {
				seen[token] = true
				refs = append(refs, ref)
			}
		}
		return true
	}

	walk(gjson.ParseBytes(s.Attributes))
	if walkErr != nil {
		return nil, walkErr
	}
	return refs, nil
}

// DependencyKeys returns the unique Keys of the dependency-creating
// references, in first-seen order.
func (s Spec) DependencyKeys() ([]Key, error) {
	refs, err := s.FindRefs()
	if err != nil {
		return nil, err
	}

	var keys []Key
	seen := make(map[Key]bool)
	for _, ref := range refs {
		var key Key
		switch r := ref.(type) {
		case Ref:
			key = r.Key()
		case BlobRef:
			key = r.Key()
		default:
			continue
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// HasRefTokens reports whether any string in the subtree carries a
// reference prefix of any kind. Malformed tokens still count: the caller
// surfaces the parse error when it processes the subtree.
func HasRefTokens(v gjson.Result) bool {
	switch {
	case v.IsObject(), v.IsArray():
		found := false
		v.ForEach(func(_, item gjson.Result) bool {
			if HasRefTokens(item) {
				found = true
				return false
			}
			return true
		})
		return found
	case v.Type == gjson.String:
		_, ok, err := ClassifyToken(v.String())
		return ok || err != nil
	}
	return false
}
