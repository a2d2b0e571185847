// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platform-engineering-labs/portage/internal/datastore"
	"github.com/platform-engineering-labs/portage/internal/loader"
	"github.com/platform-engineering-labs/portage/internal/store"
	"github.com/platform-engineering-labs/portage/pkg/model"
)

var pipelineSchema = store.Schema{
	"app.Author": {
		"name":             {Kind: store.KindText},
		"favorite_article": {Kind: store.KindIdentifier},
	},
	"app.Article": {
		"title":  {Kind: store.KindText},
		"author": {Kind: store.KindIdentifier},
		"source": {Kind: store.KindIdentifier, Nullable: true},
	},
}

type stubResolver struct {
	refs  map[string]any
	calls []string
}

func (r *stubResolver) ResolveRef(_ context.Context, ref model.Ref) (any, error) {
	r.calls = append(r.calls, ref.String())
	if v, ok := r.refs[ref.String()]; ok {
		return v, nil
	}
	return nil, errors.New("unknown reference " + ref.String())
}

func (r *stubResolver) ResolveModelRef(_ context.Context, ref model.ModelRef) (any, error) {
	return nil, errors.New("unexpected model ref " + ref.String())
}

func (r *stubResolver) OpenBlob(_ context.Context, ref model.BlobRef) (model.BlobHandle, error) {
	return nil, errors.New("unexpected blob ref " + ref.String())
}

func newTestStore(t *testing.T) datastore.Datastore {
	t.Helper()
	ds, err := datastore.NewSQLite(context.Background(), datastore.SqliteConfig{FilePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func savePending(t *testing.T, ds datastore.Datastore, key model.Key, targetType string, attrs map[string]any, deps ...model.Key) {
	t.Helper()
	spec, err := model.NewSpec(targetType, attrs)
	require.NoError(t, err)
	require.NoError(t, ds.SaveResource(context.Background(), datastore.Resource{
		Key:          key,
		Spec:         spec,
		Dependencies: deps,
		Status:       datastore.StatusPending,
	}))
}

func newTestPipeline(t *testing.T, ds datastore.Datastore, adapter store.Adapter, resolver loader.Resolver) *Pipeline {
	t.Helper()
	p, err := New(Config{Store: ds, Adapter: adapter, Resolver: resolver})
	require.NoError(t, err)
	return p
}

func TestRunOrdersDependenciesFirst(t *testing.T) {
	ctx := context.Background()
	ds := newTestStore(t)
	adapter := store.NewMemory(pipelineSchema)

	authorKey := model.NewKey("author", "jane")
	articleKey := model.NewKey("article", "1")
	savePending(t, ds, articleKey, "app.Article", map[string]any{
		"title":  "Hello",
		"author": model.NewRef(authorKey),
	})
	savePending(t, ds, authorKey, "app.Author", map[string]any{
		"name": "Jane",
	})

	p := newTestPipeline(t, ds, adapter, &stubResolver{})
	report, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Phases)
	assert.Equal(t, []model.Key{authorKey, articleKey}, report.Materialized)
	assert.Empty(t, report.Failed)

	author, err := ds.Resource(ctx, authorKey)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusMaterialized, author.Status)

	article, err := ds.Resource(ctx, articleKey)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusMaterialized, article.Status)

	// The article's author column carries the author's real identifier,
	// not a placeholder.
	rec := adapter.Record("app.Article", article.RecordID)
	require.NotNil(t, rec)
	assert.Equal(t, author.RecordID, rec["author"])
}

func TestRunCollapsesCycleIntoOnePhase(t *testing.T) {
	ctx := context.Background()
	ds := newTestStore(t)
	adapter := store.NewMemory(pipelineSchema)

	authorKey := model.NewKey("author", "jane")
	articleKey := model.NewKey("article", "1")
	savePending(t, ds, authorKey, "app.Author", map[string]any{
		"name":             "Jane",
		"favorite_article": model.NewRef(articleKey),
	})
	savePending(t, ds, articleKey, "app.Article", map[string]any{
		"title":  "Hello",
		"author": model.NewRef(authorKey),
	})

	resolver := &stubResolver{}
	p := newTestPipeline(t, ds, adapter, resolver)
	report, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Phases)
	assert.Len(t, report.Materialized, 2)
	assert.Empty(t, resolver.calls, "same-phase references must not reach the resolver")

	author, err := ds.Resource(ctx, authorKey)
	require.NoError(t, err)
	article, err := ds.Resource(ctx, articleKey)
	require.NoError(t, err)

	assert.Equal(t, article.RecordID, adapter.Record("app.Author", author.RecordID)["favorite_article"])
	assert.Equal(t, author.RecordID, adapter.Record("app.Article", article.RecordID)["author"])
}

func TestRunResolvesExternalRefsThroughResolver(t *testing.T) {
	ctx := context.Background()
	ds := newTestStore(t)
	adapter := store.NewMemory(pipelineSchema)

	externalKey := model.NewKey("feed", "upstream")
	articleKey := model.NewKey("article", "1")
	savePending(t, ds, articleKey, "app.Article", map[string]any{
		"title":  "Hello",
		"author": "staff",
		"source": model.NewRef(externalKey),
	})

	resolver := &stubResolver{refs: map[string]any{
		model.NewRef(externalKey).String(): "feed-77",
	}}
	p := newTestPipeline(t, ds, adapter, resolver)
	report, err := p.Run(ctx)
	require.NoError(t, err)

	require.Len(t, report.Materialized, 1)
	assert.Contains(t, resolver.calls, model.NewRef(externalKey).String())

	article, err := ds.Resource(ctx, articleKey)
	require.NoError(t, err)
	assert.Equal(t, "feed-77", adapter.Record("app.Article", article.RecordID)["source"])
}

func TestRunHaltsOnFailedPhaseKeepingEarlierPhases(t *testing.T) {
	ctx := context.Background()
	ds := newTestStore(t)
	adapter := store.NewMemory(pipelineSchema)

	authorKey := model.NewKey("author", "jane")
	articleKey := model.NewKey("article", "1")
	missing := model.NewKey("feed", "nowhere")
	savePending(t, ds, authorKey, "app.Author", map[string]any{
		"name": "Jane",
	})
	savePending(t, ds, articleKey, "app.Article", map[string]any{
		"title":  "Hello",
		"author": model.NewRef(authorKey),
		"source": model.NewRef(missing),
	})

	p := newTestPipeline(t, ds, adapter, &stubResolver{})
	report, err := p.Run(ctx)

	var phaseErr *PhaseError
	require.ErrorAs(t, err, &phaseErr)
	assert.Equal(t, []model.Key{articleKey}, phaseErr.Keys)
	assert.ErrorAs(t, err, new(*loader.UnresolvableRefError))

	// The author phase already succeeded and stays materialized.
	assert.Equal(t, []model.Key{authorKey}, report.Materialized)
	assert.Equal(t, []model.Key{articleKey}, report.Failed)

	author, err := ds.Resource(ctx, authorKey)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusMaterialized, author.Status)

	article, err := ds.Resource(ctx, articleKey)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusFailed, article.Status)
	assert.NotEmpty(t, article.LastError)

	// The failed phase's writes were rolled back.
	assert.Empty(t, adapter.Records("app.Article"))
}

func TestRunMarksMalformedSpecFailedAndContinues(t *testing.T) {
	ctx := context.Background()
	ds := newTestStore(t)
	adapter := store.NewMemory(pipelineSchema)

	brokenKey := model.NewKey("article", "broken")
	goodKey := model.NewKey("author", "jane")
	savePending(t, ds, brokenKey, "app.Article", map[string]any{
		"title":  "Broken",
		"author": "portage-ref:\\not-a-key",
	})
	savePending(t, ds, goodKey, "app.Author", map[string]any{
		"name": "Jane",
	})

	p := newTestPipeline(t, ds, adapter, &stubResolver{})
	report, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []model.Key{goodKey}, report.Materialized)
	assert.Equal(t, []model.Key{brokenKey}, report.Failed)

	broken, err := ds.Resource(ctx, brokenKey)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusFailed, broken.Status)
	assert.NotEmpty(t, broken.LastError)
}

func TestRunHonorsCancellationBetweenPhases(t *testing.T) {
	ds := newTestStore(t)
	adapter := store.NewMemory(pipelineSchema)

	savePending(t, ds, model.NewKey("author", "jane"), "app.Author", map[string]any{
		"name": "Jane",
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(t, ds, adapter, &stubResolver{})
	report, err := p.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Materialized)
	assert.Empty(t, adapter.Records("app.Author"))
}

// cancellingResolver cancels the run's context the moment it is asked to
// resolve, simulating a shutdown landing while a phase is in flight.
type cancellingResolver struct {
	stubResolver
	cancel context.CancelFunc
}

func (r *cancellingResolver) ResolveRef(ctx context.Context, ref model.Ref) (any, error) {
	r.cancel()
	return r.stubResolver.ResolveRef(ctx, ref)
}

func TestRunMidPhaseCancellationStillRecordsOutcome(t *testing.T) {
	ds := newTestStore(t)
	adapter := store.NewMemory(pipelineSchema)

	externalKey := model.NewKey("feed", "upstream")
	articleKey := model.NewKey("article", "1")
	savePending(t, ds, articleKey, "app.Article", map[string]any{
		"title":  "Hello",
		"author": "staff",
		"source": model.NewRef(externalKey),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	resolver := &cancellingResolver{
		stubResolver: stubResolver{refs: map[string]any{
			model.NewRef(externalKey).String(): "feed-77",
		}},
		cancel: cancel,
	}

	p := newTestPipeline(t, ds, adapter, resolver)
	report, err := p.Run(ctx)
	require.NoError(t, err)

	// The phase committed before the cancellation could be observed, so
	// its outcome must be recorded despite the dead run context.
	require.Equal(t, []model.Key{articleKey}, report.Materialized)

	article, err := ds.Resource(context.Background(), articleKey)
	require.NoError(t, err)
	assert.Equal(t, datastore.StatusMaterialized, article.Status)
	assert.NotEmpty(t, article.RecordID)
}

func TestRunDeclaredDependenciesOrderPhases(t *testing.T) {
	ctx := context.Background()
	ds := newTestStore(t)
	adapter := store.NewMemory(pipelineSchema)

	// No reference in the spec, only a declared dependency edge.
	authorKey := model.NewKey("author", "jane")
	articleKey := model.NewKey("article", "1")
	savePending(t, ds, articleKey, "app.Article", map[string]any{
		"title":  "Hello",
		"author": "jane",
	}, authorKey)
	savePending(t, ds, authorKey, "app.Author", map[string]any{
		"name": "Jane",
	})

	p := newTestPipeline(t, ds, adapter, &stubResolver{})
	report, err := p.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Phases)
	assert.Equal(t, []model.Key{authorKey, articleKey}, report.Materialized)
}

func TestRunEmptyDatastoreIsNoop(t *testing.T) {
	ds := newTestStore(t)
	p := newTestPipeline(t, ds, store.NewMemory(pipelineSchema), &stubResolver{})

	report, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Phases)
	assert.Empty(t, report.Materialized)
}
