// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package store

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/platform-engineering-labs/portage/pkg/model"
)

// Schema declares the field kinds of every target type a Memory store
// accepts. Fields not listed report KindUnknown and are treated as
// nullable.
type Schema map[string]map[string]FieldInfo

// Memory is an in-memory store adapter with snapshot-based phase rollback.
// It serves as the reference implementation of the adapter contract and as
// the store double in tests.
type Memory struct {
	mu      sync.Mutex
	schema  Schema
	records map[string]map[RecordID]map[string]any
}

func NewMemory(schema Schema) *Memory {
	return &Memory{
		schema:  schema,
		records: make(map[string]map[RecordID]map[string]any),
	}
}

func (m *Memory) FieldInfo(targetType, field string) (FieldInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields, ok := m.schema[targetType]
	if !ok {
		return FieldInfo{}, &UnknownTypeError{TargetType: targetType}
	}
	info, ok := fields[field]
	if !ok {
		return FieldInfo{Kind: KindUnknown, Nullable: true}, nil
	}
	return info, nil
}

func (m *Memory) WithinPhase(ctx context.Context, fn func(PhaseWriter) error) error {
	m.mu.Lock()
	snapshot := cloneRecords(m.records)
	m.mu.Unlock()

	if err := fn(&memoryWriter{store: m}); err != nil {
		m.mu.Lock()
		m.records = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

// Record returns a copy of a stored record, or nil if absent.
func (m *Memory) Record(targetType string, id RecordID) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[targetType][id]
	if !ok {
		return nil
	}
	return cloneAttrs(record)
}

// Records returns copies of every record of a target type.
func (m *Memory) Records(targetType string) map[RecordID]map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[RecordID]map[string]any, len(m.records[targetType]))
	for id, record := range m.records[targetType] {
		out[id] = cloneAttrs(record)
	}
	return out
}

// Insert seeds a pre-existing record, for tests that exercise resolution
// against data that was never part of a pending batch.
func (m *Memory) Insert(targetType string, attrs map[string]any) RecordID {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := RecordID(ksuid.New().String())
	if m.records[targetType] == nil {
		m.records[targetType] = make(map[RecordID]map[string]any)
	}
	m.records[targetType][id] = cloneAttrs(attrs)
	return id
}

type memoryWriter struct {
	store *Memory
}

func (w *memoryWriter) CreateRecord(_ context.Context, targetType string, attrs map[string]any) (RecordID, error) {
	m := w.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.schema[targetType]; !ok {
		return "", &UnknownTypeError{TargetType: targetType}
	}

	stored, err := materializeBlobs(attrs)
	if err != nil {
		return "", err
	}

	id := RecordID(ksuid.New().String())
	if m.records[targetType] == nil {
		m.records[targetType] = make(map[RecordID]map[string]any)
	}
	m.records[targetType][id] = stored
	return id, nil
}

func (w *memoryWriter) UpdateRecord(_ context.Context, targetType string, id RecordID, attrs map[string]any) error {
	m := w.store
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[targetType][id]
	if !ok {
		return fmt.Errorf("no %s record with id %s", targetType, id)
	}

	updated, err := materializeBlobs(attrs)
	if err != nil {
		return err
	}
	for field, value := range updated {
		record[field] = value
	}
	return nil
}

func (w *memoryWriter) SetCollection(_ context.Context, targetType string, id RecordID, field string, values []any) error {
	m := w.store
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[targetType][id]
	if !ok {
		return fmt.Errorf("no %s record with id %s", targetType, id)
	}
	record[field] = append([]any(nil), values...)
	return nil
}

// materializeBlobs drains blob handles into stored byte slices.
func materializeBlobs(attrs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(attrs))
	for field, value := range attrs {
		handle, ok := value.(model.BlobHandle)
		if !ok {
			out[field] = value
			continue
		}

		reader, err := handle.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open blob for field %q: %w", field, err)
		}
		data, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read blob for field %q: %w", field, err)
		}
		out[field] = data
	}
	return out, nil
}

func cloneRecords(records map[string]map[RecordID]map[string]any) map[string]map[RecordID]map[string]any {
	out := make(map[string]map[RecordID]map[string]any, len(records))
	for targetType, byID := range records {
		cloned := make(map[RecordID]map[string]any, len(byID))
		for id, record := range byID {
			cloned[id] = cloneAttrs(record)
		}
		out[targetType] = cloned
	}
	return out
}

func cloneAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return cloneAttrs(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []byte:
		return append([]byte(nil), v...)
	default:
		return v
	}
}
