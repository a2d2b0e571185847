// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/portage/pkg/model"
)

func testSchema() Schema {
	return Schema{
		"cms.Page": {
			"title": {Kind: KindText},
			"body":  {Kind: KindStructured, Nullable: true},
			"image": {Kind: KindIdentifier, Nullable: true},
		},
	}
}

func TestMemory_FieldInfo(t *testing.T) {
	m := NewMemory(testSchema())

	info, err := m.FieldInfo("cms.Page", "title")
	require.NoError(t, err)
	assert.Equal(t, KindText, info.Kind)

	t.Run("unlisted field is unknown and nullable", func(t *testing.T) {
		info, err := m.FieldInfo("cms.Page", "nonexistent")
		require.NoError(t, err)
		assert.Equal(t, KindUnknown, info.Kind)
		assert.True(t, info.Nullable)
	})

	t.Run("unknown target type errors", func(t *testing.T) {
		_, err := m.FieldInfo("cms.Missing", "title")
		var unknown *UnknownTypeError
		require.ErrorAs(t, err, &unknown)
	})
}

func TestMemory_CreateAndUpdateWithinPhase(t *testing.T) {
	m := NewMemory(testSchema())
	ctx := context.Background()

	var id RecordID
	err := m.WithinPhase(ctx, func(w PhaseWriter) error {
		var err error
		id, err = w.CreateRecord(ctx, "cms.Page", map[string]any{"title": "one"})
		if err != nil {
			return err
		}
		return w.UpdateRecord(ctx, "cms.Page", id, map[string]any{"title": "two"})
	})
	require.NoError(t, err)

	record := m.Record("cms.Page", id)
	require.NotNil(t, record)
	assert.Equal(t, "two", record["title"])
}

func TestMemory_PhaseRollbackDiscardsAllWrites(t *testing.T) {
	m := NewMemory(testSchema())
	ctx := context.Background()
	kept := m.Insert("cms.Page", map[string]any{"title": "pre-existing"})

	boom := errors.New("boom")
	err := m.WithinPhase(ctx, func(w PhaseWriter) error {
		if _, err := w.CreateRecord(ctx, "cms.Page", map[string]any{"title": "doomed"}); err != nil {
			return err
		}
		if err := w.UpdateRecord(ctx, "cms.Page", kept, map[string]any{"title": "mutated"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	records := m.Records("cms.Page")
	require.Len(t, records, 1)
	assert.Equal(t, "pre-existing", records[kept]["title"])
}

func TestMemory_BlobHandlesAreDrainedOnCreate(t *testing.T) {
	m := NewMemory(testSchema())
	ctx := context.Background()

	var id RecordID
	err := m.WithinPhase(ctx, func(w PhaseWriter) error {
		var err error
		id, err = w.CreateRecord(ctx, "cms.Page", map[string]any{
			"title": "with blob",
			"image": model.NewMemoryBlob("blue.jpg", []byte{0xff, 0xd8, 0xff}),
		})
		return err
	})
	require.NoError(t, err)

	record := m.Record("cms.Page", id)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, record["image"])
}

func TestMemory_SetCollection(t *testing.T) {
	m := NewMemory(testSchema())
	ctx := context.Background()

	var id RecordID
	err := m.WithinPhase(ctx, func(w PhaseWriter) error {
		var err error
		id, err = w.CreateRecord(ctx, "cms.Page", map[string]any{"title": "t"})
		if err != nil {
			return err
		}
		return w.SetCollection(ctx, "cms.Page", id, "tags", []any{"a", "b"})
	})
	require.NoError(t, err)

	assert.Equal(t, []any{"a", "b"}, m.Record("cms.Page", id)["tags"])
}
