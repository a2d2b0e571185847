// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package store defines the boundary to the downstream object store. The
// materializer talks to the store exclusively through these interfaces; the
// concrete schema of any particular store stays on the other side.
package store

import (
	"context"
	"fmt"
)

// RecordID identifies a created record in the downstream store.
type RecordID string

// FieldKind is the semantic kind of a target field. Placeholder policy is
// keyed by kind, never by field name.
type FieldKind int

const (
	KindUnknown FieldKind = iota
	KindIdentifier
	KindText
	KindNumeric
	KindBoolean
	KindTemporal
	KindStructured
	KindCollection
)

func (k FieldKind) String() string {
	switch k {
	case KindIdentifier:
		return "identifier"
	case KindText:
		return "text"
	case KindNumeric:
		return "numeric"
	case KindBoolean:
		return "boolean"
	case KindTemporal:
		return "temporal"
	case KindStructured:
		return "structured"
	case KindCollection:
		return "collection"
	}
	return "unknown"
}

// FieldInfo describes a single field of a target type.
type FieldInfo struct {
	Kind     FieldKind
	Nullable bool
}

// UnknownTypeError reports a spec naming a target type the store cannot
// resolve.
type UnknownTypeError struct {
	TargetType string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown target type %q", e.TargetType)
}

// Adapter is the store-side collaborator of the materializer.
type Adapter interface {
	// FieldInfo resolves the semantic kind of a field. Fields the store
	// does not know about report KindUnknown; types it does not know
	// about are an UnknownTypeError.
	FieldInfo(targetType, field string) (FieldInfo, error)

	// WithinPhase runs fn transactionally. If fn returns an error every
	// write it performed is rolled back.
	WithinPhase(ctx context.Context, fn func(PhaseWriter) error) error
}

// PhaseWriter is the write surface available inside a phase transaction.
type PhaseWriter interface {
	CreateRecord(ctx context.Context, targetType string, attrs map[string]any) (RecordID, error)
	UpdateRecord(ctx context.Context, targetType string, id RecordID, attrs map[string]any) error
	SetCollection(ctx context.Context, targetType string, id RecordID, field string, values []any) error
}
