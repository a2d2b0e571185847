// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package loader materializes one phase of pending resources at a time:
// it creates every record of the phase, planting placeholders for
// same-phase forward references, then backfills real values once every
// member exists. A phase is atomic — any error rolls back all of its
// writes.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/platform-engineering-labs/portage/internal/store"
	"github.com/platform-engineering-labs/portage/pkg/model"
)

// Resolver turns references into concrete values: an identifier (or an
// attribute of the resolved record) for plain and model references, a byte
// stream proxy for blob references. Supplied by the caller and backed by
// whatever has already been materialized or pre-exists in the store.
type Resolver interface {
	ResolveRef(ctx context.Context, ref model.Ref) (any, error)
	ResolveModelRef(ctx context.Context, ref model.ModelRef) (any, error)
	OpenBlob(ctx context.Context, ref model.BlobRef) (model.BlobHandle, error)
}

// UnresolvableRefError reports a resolution the build order guaranteed
// would succeed but didn't. It indicates a bug in the caller's dependency
// declarations or in the resolver, not a recoverable condition.
type UnresolvableRefError struct {
	Ref model.Reference
	Err error
}

func (e *UnresolvableRefError) Error() string {
	return fmt.Sprintf("unable to resolve reference %s: %v", e.Ref, e.Err)
}

func (e *UnresolvableRefError) Unwrap() error {
	return e.Err
}

// Item is one phase member: a pending resource's Key and its Spec.
type Item struct {
	Key  model.Key
	Spec model.Spec
}

// Created reports a record the phase materialized.
type Created struct {
	Key        model.Key
	TargetType string
	ID         store.RecordID
}

type Loader struct {
	adapter store.Adapter
	log     *slog.Logger
}

func New(adapter store.Adapter, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{adapter: adapter, log: log}
}

// deferred work queued during the create pass
type pendingScalar struct {
	owner      model.Key
	targetType string
	field      string
	ref        model.Ref
}

type pendingCollection struct {
	owner      model.Key
	targetType string
	field      string
	value      gjson.Result
}

// LoadPhase materializes every member of one phase inside a single store
// transaction and returns the assigned identifiers. On error nothing in
// the phase is persisted.
func (l *Loader) LoadPhase(ctx context.Context, items []Item, resolver Resolver) ([]Created, error) {
	if len(items) == 0 {
		return nil, nil
	}

	phaseKeys := make(map[model.Key]bool, len(items))
	for _, item := range items {
		phaseKeys[item.Key] = true
	}

	var created []Created
	err := l.adapter.WithinPhase(ctx, func(w store.PhaseWriter) error {
		ids := make(map[model.Key]store.RecordID, len(items))
		ph := newPlaceholders()
		var scalars []pendingScalar
		var collections []pendingCollection

		// Create pass: every member comes into existence now, with
		// placeholders standing in for same-phase forward references.
		for _, item := range items {
			attrs, err := l.createAttrs(ctx, item, phaseKeys, ph, resolver, &scalars, &collections)
			if err != nil {
				return err
			}

			id, err := w.CreateRecord(ctx, item.Spec.TargetType, attrs)
			if err != nil {
				return fmt.Errorf("failed to create record for %s: %w", item.Key, err)
			}
			ids[item.Key] = id
			created = append(created, Created{Key: item.Key, TargetType: item.Spec.TargetType, ID: id})

			l.log.Debug("created record", "key", item.Key.String(), "type", item.Spec.TargetType, "id", string(id))
		}

		// Scalar backfill: replace placeholders with real values.
		for _, p := range scalars {
			value, err := l.resolveScalar(ctx, p.ref, ids, resolver)
			if err != nil {
				return err
			}
			if err := w.UpdateRecord(ctx, p.targetType, ids[p.owner], map[string]any{p.field: value}); err != nil {
				return fmt.Errorf("failed to backfill %s.%s for %s: %w", p.targetType, p.field, p.owner, err)
			}
		}

		// Structured backfill: rewrite reference tokens inside structured
		// fields now that every member exists.
		for _, item := range items {
			if err := l.backfillStructured(ctx, w, item, ids, resolver); err != nil {
				return err
			}
		}

		// Collection backfill: set whole collections at once.
		for _, c := range collections {
			values, err := l.resolveCollection(ctx, c.value, ids, resolver)
			if err != nil {
				return err
			}
			if err := w.SetCollection(ctx, c.targetType, ids[c.owner], c.field, values); err != nil {
				return fmt.Errorf("failed to set collection %s.%s for %s: %w", c.targetType, c.field, c.owner, err)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// createAttrs builds the concrete attribute set for one record's creation.
func (l *Loader) createAttrs(
	ctx context.Context,
	item Item,
	phaseKeys map[model.Key]bool,
	ph *placeholders,
	resolver Resolver,
	scalars *[]pendingScalar,
	collections *[]pendingCollection,
) (map[string]any, error) {
	attrs := make(map[string]any)
	targetType := item.Spec.TargetType

	var fieldErr error
	gjson.ParseBytes(item.Spec.Attributes).ForEach(func(fieldResult, value gjson.Result) bool {
		field := fieldResult.String()

		info, err := l.adapter.FieldInfo(targetType, field)
		if err != nil {
			fieldErr = err
			return false
		}

		if value.Type == gjson.String {
			ref, ok, err := model.ClassifyToken(value.String())
			if err != nil {
				fieldErr = err
				return false
			}
			if !ok {
				attrs[field] = value.String()
				return true
			}

			switch r := ref.(type) {
			case model.BlobRef:
				// Blob payload is embedded at creation time, never patched in later.
				handle, err := resolver.OpenBlob(ctx, r)
				if err != nil {
					fieldErr = &UnresolvableRefError{Ref: r, Err: err}
					return false
				}
				attrs[field] = handle

			case model.Ref:
				if phaseKeys[r.Key()] {
					placeholder, set, err := placeholderFor(info, r.Key(), ph)
					if err != nil {
						fieldErr = &ConfigError{TargetType: targetType, Field: field, Kind: info.Kind}
						return false
					}
					if set {
						attrs[field] = placeholder
					}
					*scalars = append(*scalars, pendingScalar{owner: item.Key, targetType: targetType, field: field, ref: r})
				} else {
					resolved, err := resolver.ResolveRef(ctx, r)
					if err != nil {
						fieldErr = &UnresolvableRefError{Ref: r, Err: err}
						return false
					}
					attrs[field] = resolved
				}

			case model.ModelRef:
				if info.Kind == store.KindStructured {
					// Handled by the structured backfill once the record exists.
					return true
				}
				resolved, err := resolver.ResolveModelRef(ctx, r)
				if err != nil {
					fieldErr = &UnresolvableRefError{Ref: r, Err: err}
					return false
				}
				attrs[field] = resolved
			}
			return true
		}

		switch {
		case info.Kind == store.KindCollection && value.IsArray() && model.HasRefTokens(value):
			*collections = append(*collections, pendingCollection{owner: item.Key, targetType: targetType, field: field, value: value})
		case info.Kind == store.KindStructured && model.HasRefTokens(value):
			// The structure must exist as a record before its substructure
			// can safely be finalized.
		default:
			attrs[field] = value.Value()
		}
		return true
	})
	if fieldErr != nil {
		return nil, fieldErr
	}

	return attrs, nil
}

// resolveScalar produces the real value for a deferred same-phase
// reference: the identifier map first, the resolver for anything the map
// cannot answer (attribute-path references in particular).
func (l *Loader) resolveScalar(ctx context.Context, ref model.Ref, ids map[model.Key]store.RecordID, resolver Resolver) (any, error) {
	if len(ref.AttrPath()) == 0 {
		if id, ok := ids[ref.Key()]; ok {
			return id, nil
		}
	}

	resolved, err := resolver.ResolveRef(ctx, ref)
	if err != nil {
		return nil, &UnresolvableRefError{Ref: ref, Err: err}
	}
	return resolved, nil
}

// backfillStructured rewrites every reference token inside structured
// fields and persists the result, but only when resolution actually
// changed something.
func (l *Loader) backfillStructured(ctx context.Context, w store.PhaseWriter, item Item, ids map[model.Key]store.RecordID, resolver Resolver) error {
	targetType := item.Spec.TargetType

	var fieldErr error
	gjson.ParseBytes(item.Spec.Attributes).ForEach(func(fieldResult, value gjson.Result) bool {
		field := fieldResult.String()

		info, err := l.adapter.FieldInfo(targetType, field)
		if err != nil {
			fieldErr = err
			return false
		}
		if info.Kind != store.KindStructured || !model.HasRefTokens(value) {
			return true
		}

		var resolved any
		var changed bool
		if value.Type == gjson.String {
			// The whole field is a single token.
			resolved, changed, err = l.resolveToken(ctx, value.String(), ids, resolver)
		} else {
			var doc []byte
			var replaced int
			doc, replaced, err = l.rewriteTokens(ctx, []byte(value.Raw), value, "", ids, resolver)
			resolved, changed = gjson.ParseBytes(doc).Value(), replaced > 0
		}
		if err != nil {
			fieldErr = err
			return false
		}
		if !changed {
			return true
		}

		if err := w.UpdateRecord(ctx, targetType, ids[item.Key], map[string]any{field: resolved}); err != nil {
			fieldErr = fmt.Errorf("failed to backfill structured field %s.%s for %s: %w", targetType, field, item.Key, err)
			return false
		}
		return true
	})
	return fieldErr
}

// rewriteTokens patches every resolvable reference token inside a
// structured document in place and reports how many were replaced. Blob
// tokens stay as they are — binary payloads have no JSON representation
// to substitute.
func (l *Loader) rewriteTokens(ctx context.Context, doc []byte, v gjson.Result, prefix string, ids map[model.Key]store.RecordID, resolver Resolver) ([]byte, int, error) {
	var walkErr error
	replaced := 0
	index := 0

	v.ForEach(func(key, item gjson.Result) bool {
		var segment string
		if v.IsArray() {
			segment = strconv.Itoa(index)
			index++
		} else {
			segment = escapePathSegment(key.String())
		}
		path := segment
		if prefix != "" {
			path = prefix + "." + segment
		}

		switch {
		case item.IsObject() || item.IsArray():
			var n int
			doc, n, walkErr = l.rewriteTokens(ctx, doc, item, path, ids, resolver)
			replaced += n

		case item.Type == gjson.String:
			resolved, ok, err := l.resolveToken(ctx, item.String(), ids, resolver)
			if err != nil {
				walkErr = err
				break
			}
			if !ok {
				break
			}
			doc, err = sjson.SetBytes(doc, path, resolved)
			if err != nil {
				walkErr = fmt.Errorf("failed to rewrite token at %s: %w", path, err)
				break
			}
			replaced++
		}
		return walkErr == nil
	})

	return doc, replaced, walkErr
}

// resolveToken resolves a single candidate token string. The second return
// is false when the string is not a rewritable reference.
func (l *Loader) resolveToken(ctx context.Context, s string, ids map[model.Key]store.RecordID, resolver Resolver) (any, bool, error) {
	ref, ok, err := model.ClassifyToken(s)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	switch r := ref.(type) {
	case model.Ref:
		if len(r.AttrPath()) == 0 {
			if id, ok := ids[r.Key()]; ok {
				return string(id), true, nil
			}
		}
		resolved, err := resolver.ResolveRef(ctx, r)
		if err != nil {
			return nil, false, &UnresolvableRefError{Ref: r, Err: err}
		}
		return resolved, true, nil
	case model.ModelRef:
		resolved, err := resolver.ResolveModelRef(ctx, r)
		if err != nil {
			return nil, false, &UnresolvableRefError{Ref: r, Err: err}
		}
		return resolved, true, nil
	default:
		return nil, false, nil
	}
}

func escapePathSegment(s string) string {
	if !strings.ContainsAny(s, `.*?\|#@`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// resolveCollection resolves every element of a declared collection field.
// Non-reference elements pass through unchanged.
func (l *Loader) resolveCollection(ctx context.Context, v gjson.Result, ids map[model.Key]store.RecordID, resolver Resolver) ([]any, error) {
	var out []any
	var walkErr error

	v.ForEach(func(_, item gjson.Result) bool {
		if item.Type != gjson.String {
			out = append(out, item.Value())
			return true
		}

		ref, ok, err := model.ClassifyToken(item.String())
		if err != nil {
			walkErr = err
			return false
		}
		if !ok {
			out = append(out, item.String())
			return true
		}

		switch r := ref.(type) {
		case model.Ref:
			if len(r.AttrPath()) == 0 {
				if id, ok := ids[r.Key()]; ok {
					out = append(out, id)
					return true
				}
			}
			resolved, err := resolver.ResolveRef(ctx, r)
			if err != nil {
				walkErr = &UnresolvableRefError{Ref: r, Err: err}
				return false
			}
			out = append(out, resolved)
		case model.ModelRef:
			resolved, err := resolver.ResolveModelRef(ctx, r)
			if err != nil {
				walkErr = &UnresolvableRefError{Ref: r, Err: err}
				return false
			}
			out = append(out, resolved)
		default:
			out = append(out, item.String())
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}

	return out, nil
}
