// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package model

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
)

// Reference token grammar: a kind-specific prefix, the payload, and an
// optional "::"-joined attribute path. Prefixes are distinct so a generic
// string can be classified unambiguously; a string with no known prefix is
// a plain literal, not a reference.
const (
	RefPrefix      = `portage-ref:\`
	BlobRefPrefix  = `portage-blob-ref:\`
	ModelRefPrefix = `portage-model-ref:\`

	attrPathMarker = "::"
	attrPathSep    = "."
)

// RefKind distinguishes the reference token kinds.
type RefKind int

const (
	RefKindPlain RefKind = iota
	RefKindBlob
	RefKindModel
)

func (k RefKind) String() string {
	switch k {
	case RefKindPlain:
		return "ref"
	case RefKindBlob:
		return "blob-ref"
	case RefKindModel:
		return "model-ref"
	}
	return "unknown"
}

// Reference is implemented by every reference token kind.
type Reference interface {
	fmt.Stringer
	Kind() RefKind
}

// MalformedRefError reports a token that carries a reference prefix but
// does not parse as that reference kind.
type MalformedRefError struct {
	Token  string
	Reason string
}

func (e *MalformedRefError) Error() string {
	return fmt.Sprintf("malformed reference %q: %s", e.Token, e.Reason)
}

// Ref is a plain identifier reference to a pending resource, optionally
// narrowed to a nested attribute of the resolved record. Refs are immutable
// value objects; Attr returns a new Ref rather than mutating in place.
type Ref struct {
	key      Key
	attrPath []string
}

func NewRef(key Key) Ref {
	return Ref{key: key}
}

func (r Ref) Kind() RefKind { return RefKindPlain }

func (r Ref) Key() Key { return r.key }

// AttrPath returns the attribute path applied after resolution.
func (r Ref) AttrPath() []string {
	return slices.Clone(r.attrPath)
}

// Attr returns a new Ref whose attribute path is extended by one step.
func (r Ref) Attr(name string) Ref {
	path := make([]string, 0, len(r.attrPath)+1)
	path = append(path, r.attrPath...)
	path = append(path, name)
	return Ref{key: r.key, attrPath: path}
}

func (r Ref) Equal(other Ref) bool {
	return r.key == other.key && slices.Equal(r.attrPath, other.attrPath)
}

func (r Ref) String() string {
	return RefPrefix + r.key.String() + formatAttrPath(r.attrPath)
}

func (r Ref) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ParseRef parses a plain reference token.
func ParseRef(s string) (Ref, error) {
	rest, ok := strings.CutPrefix(s, RefPrefix)
	if !ok {
		return Ref{}, &MalformedRefError{Token: s, Reason: fmt.Sprintf("expected prefix %q", RefPrefix)}
	}

	rest, path := splitAttrPath(rest)
	key, err := ParseKey(rest)
	if err != nil {
		return Ref{}, &MalformedRefError{Token: s, Reason: err.Error()}
	}

	return Ref{key: key, attrPath: path}, nil
}

// BlobRef references the raw binary payload of a resource. It is resolved
// at record creation time, never backfilled.
type BlobRef struct {
	key Key
}

func NewBlobRef(key Key) BlobRef {
	return BlobRef{key: key}
}

func (r BlobRef) Kind() RefKind { return RefKindBlob }

func (r BlobRef) Key() Key { return r.key }

func (r BlobRef) Equal(other BlobRef) bool {
	return r.key == other.key
}

func (r BlobRef) String() string {
	return BlobRefPrefix + r.key.String()
}

func (r BlobRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ParseBlobRef parses a blob reference token.
func ParseBlobRef(s string) (BlobRef, error) {
	rest, ok := strings.CutPrefix(s, BlobRefPrefix)
	if !ok {
		return BlobRef{}, &MalformedRefError{Token: s, Reason: fmt.Sprintf("expected prefix %q", BlobRefPrefix)}
	}

	key, err := ParseKey(rest)
	if err != nil {
		return BlobRef{}, &MalformedRefError{Token: s, Reason: err.Error()}
	}

	return BlobRef{key: key}, nil
}

// ModelRef addresses a record that already exists in the downstream store,
// located by a lookup query instead of a Key. It never creates a dependency
// edge.
type ModelRef struct {
	targetType string
	lookup     map[string]string
	attrPath   []string
}

func NewModelRef(targetType string, lookup map[string]string) ModelRef {
	l := make(map[string]string, len(lookup))
	for k, v := range lookup {
		l[k] = v
	}
	return ModelRef{targetType: targetType, lookup: l}
}

func (r ModelRef) Kind() RefKind { return RefKindModel }

func (r ModelRef) TargetType() string { return r.targetType }

// Lookup returns a copy of the lookup parameters.
func (r ModelRef) Lookup() map[string]string {
	l := make(map[string]string, len(r.lookup))
	for k, v := range r.lookup {
		l[k] = v
	}
	return l
}

func (r ModelRef) AttrPath() []string {
	return slices.Clone(r.attrPath)
}

// Attr returns a new ModelRef whose attribute path is extended by one step.
func (r ModelRef) Attr(name string) ModelRef {
	path := make([]string, 0, len(r.attrPath)+1)
	path = append(path, r.attrPath...)
	path = append(path, name)
	return ModelRef{targetType: r.targetType, lookup: r.lookup, attrPath: path}
}

func (r ModelRef) Equal(other ModelRef) bool {
	if r.targetType != other.targetType || !slices.Equal(r.attrPath, other.attrPath) {
		return false
	}
	if len(r.lookup) != len(other.lookup) {
		return false
	}
	for k, v := range r.lookup {
		if ov, ok := other.lookup[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

func (r ModelRef) String() string {
	query := url.Values{}
	for k, v := range r.lookup {
		query.Set(k, v)
	}

	// url.Values.Encode sorts by key, which keeps tokens deterministic.
	return ModelRefPrefix + r.targetType + "?" + query.Encode() + formatAttrPath(r.attrPath)
}

func (r ModelRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ParseModelRef parses a model reference token.
func ParseModelRef(s string) (ModelRef, error) {
	rest, ok := strings.CutPrefix(s, ModelRefPrefix)
	if !ok {
		return ModelRef{}, &MalformedRefError{Token: s, Reason: fmt.Sprintf("expected prefix %q", ModelRefPrefix)}
	}

	rest, path := splitAttrPath(rest)
	targetType, rawQuery, found := strings.Cut(rest, "?")
	if !found {
		return ModelRef{}, &MalformedRefError{Token: s, Reason: "missing '?' lookup separator"}
	}
	if targetType == "" {
		return ModelRef{}, &MalformedRefError{Token: s, Reason: "empty target type"}
	}

	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ModelRef{}, &MalformedRefError{Token: s, Reason: err.Error()}
	}

	lookup := make(map[string]string, len(query))
	for k := range query {
		lookup[k] = query.Get(k)
	}

	return ModelRef{targetType: targetType, lookup: lookup, attrPath: path}, nil
}

// ClassifyToken classifies an arbitrary string. It returns the parsed
// reference and true when the string carries a known reference prefix.
// Strings without a reference prefix are literals, not an error; a string
// that carries a prefix but fails to parse returns the parse error.
func ClassifyToken(s string) (Reference, bool, error) {
	switch {
	case strings.HasPrefix(s, RefPrefix):
		ref, err := ParseRef(s)
		if err != nil {
			return nil, false, err
		}
		return ref, true, nil
	case strings.HasPrefix(s, BlobRefPrefix):
		ref, err := ParseBlobRef(s)
		if err != nil {
			return nil, false, err
		}
		return ref, true, nil
	case strings.HasPrefix(s, ModelRefPrefix):
		ref, err := ParseModelRef(s)
		if err != nil {
			return nil, false, err
		}
		return ref, true, nil
	}
	return nil, false, nil
}

func formatAttrPath(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return attrPathMarker + strings.Join(path, attrPathSep)
}

func splitAttrPath(s string) (string, []string) {
	rest, pathPart, found := strings.Cut(s, attrPathMarker)
	if !found || pathPart == "" {
		return rest, nil
	}
	return rest, strings.Split(pathPart, attrPathSep)
}
