// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package pipeline drives the materialization stage end to end: it reads
// pending resources from the datastore, resolves a safe creation order and
// materializes one phase at a time through the store adapter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/platform-engineering-labs/portage/internal/datastore"
	"github.com/platform-engineering-labs/portage/internal/graph"
	"github.com/platform-engineering-labs/portage/internal/loader"
	"github.com/platform-engineering-labs/portage/internal/store"
	"github.com/platform-engineering-labs/portage/pkg/model"
)

// Config wires the pipeline's collaborators.
type Config struct {
	Store    datastore.Datastore
	Adapter  store.Adapter
	Resolver loader.Resolver
	Logger   *slog.Logger
}

// PhaseError reports a failed phase. Everything the phase created was
// rolled back; later phases were not attempted.
type PhaseError struct {
	Phase int
	Keys  []model.Key
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %d failed (%d resources): %v", e.Phase, len(e.Keys), e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// Report summarizes one materialization run.
type Report struct {
	Phases       int
	Materialized []model.Key
	Failed       []model.Key
}

type Pipeline struct {
	store    datastore.Datastore
	adapter  store.Adapter
	resolver loader.Resolver
	loader   *loader.Loader
	log      *slog.Logger
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("pipeline requires a datastore")
	}
	if cfg.Adapter == nil {
		return nil, errors.New("pipeline requires a store adapter")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Pipeline{
		store:    cfg.Store,
		adapter:  cfg.Adapter,
		resolver: cfg.Resolver,
		loader:   loader.New(cfg.Adapter, log),
		log:      log,
	}, nil
}

// Run materializes every pending resource. Phases run strictly
// sequentially; the first failing phase halts the run with earlier
// successes retained. Cancellation is honored between phases — the only
// cancellation granularity this stage supports.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	pending, err := p.store.ListPending(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list pending resources: %w", err)
	}
	if len(pending) == 0 {
		return Report{}, nil
	}

	byKey, nodes, edges, malformed, err := p.buildGraph(ctx, pending)
	if err != nil {
		return Report{}, err
	}

	phases := graph.BuildOrder(nodes, edges)
	p.log.Info("resolved build order", "resources", len(nodes), "phases", len(phases))

	// Identifiers assigned during this run. Append-only: a materialized
	// key's identifier is never rewritten. External references never
	// enter this map — they go through the caller's resolver.
	ids := make(map[model.Key]store.RecordID, len(nodes))
	resolver := &runResolver{ids: ids, next: p.resolver}

	// Status writes that record the outcome of a finished phase must land
	// even when the run's context was canceled mid-phase; otherwise a
	// committed phase stays pending and a re-run creates duplicates.
	postCtx := context.WithoutCancel(ctx)

	report := Report{Failed: malformed}
	for i, phase := range phases {
		if err := ctx.Err(); err != nil {
			p.log.Warn("run canceled between phases", "completed", i, "remaining", len(phases)-i)
			return report, err
		}

		items := make([]loader.Item, 0, len(phase))
		for _, key := range phase {
			items = append(items, loader.Item{Key: key, Spec: byKey[key].Spec})
		}

		created, err := p.loader.LoadPhase(ctx, items, resolver)
		if err != nil {
			p.failPhase(postCtx, phase, err)
			resourcesFailed.Add(float64(len(phase)))
			report.Failed = append(report.Failed, phase...)
			return report, &PhaseError{Phase: i, Keys: phase, Err: err}
		}

		for _, c := range created {
			ids[c.Key] = c.ID
			if err := p.store.MarkMaterialized(postCtx, c.Key, c.ID); err != nil {
				return report, fmt.Errorf("failed to mark %s materialized: %w", c.Key, err)
			}
			report.Materialized = append(report.Materialized, c.Key)
		}

		report.Phases++
		phasesTotal.Inc()
		resourcesMaterialized.Add(float64(len(created)))
		p.log.Info("phase materialized", "phase", i, "resources", len(created))
	}

	return report, nil
}

// buildGraph derives the dependency graph over the pending batch. Edges
// come from spec traversal plus declared dependencies, restricted to
// targets that are themselves still pending — a reference to an already
// materialized resource needs no ordering.
func (p *Pipeline) buildGraph(ctx context.Context, pending []datastore.Resource) (map[model.Key]datastore.Resource, []model.Key, []graph.Edge[model.Key], []model.Key, error) {
	byKey := make(map[model.Key]datastore.Resource, len(pending))
	deps := make(map[model.Key][]model.Key, len(pending))
	var malformed []model.Key

	// Weed out malformed specs first so no edge can point at a resource
	// that is about to be excluded.
	for _, resource := range pending {
		specDeps, err := resource.Spec.DependencyKeys()
		if err != nil {
			// A malformed token aborts this resource, not the run.
			p.log.Error("spec has malformed reference", "key", resource.Key.String(), "error", err)
			if markErr := p.store.MarkFailed(ctx, resource.Key, err.Error()); markErr != nil {
				return nil, nil, nil, nil, fmt.Errorf("failed to mark %s failed: %w", resource.Key, markErr)
			}
			resourcesFailed.Inc()
			malformed = append(malformed, resource.Key)
			continue
		}
		byKey[resource.Key] = resource
		deps[resource.Key] = append(specDeps, resource.Dependencies...)
	}

	var nodes []model.Key
	var edges []graph.Edge[model.Key]
	for _, resource := range pending {
		if _, ok := byKey[resource.Key]; !ok {
			continue
		}
		nodes = append(nodes, resource.Key)

		seen := make(map[model.Key]bool)
		for _, dep := range deps[resource.Key] {
			if seen[dep] || dep == resource.Key {
				continue
			}
			seen[dep] = true
			if _, stillPending := byKey[dep]; stillPending {
				edges = append(edges, graph.Edge[model.Key]{From: resource.Key, To: dep})
			}
		}
	}

	return byKey, nodes, edges, malformed, nil
}

func (p *Pipeline) failPhase(ctx context.Context, phase []model.Key, cause error) {
	for _, key := range phase {
		if err := p.store.MarkFailed(ctx, key, cause.Error()); err != nil {
			p.log.Error("failed to record phase failure", "key", key.String(), "error", err)
		}
	}
	p.log.Error("phase failed, halting run", "resources", len(phase), "error", cause)
}

// runResolver answers from the run's identifier map first and defers
// everything else to the caller-supplied resolver.
type runResolver struct {
	ids  map[model.Key]store.RecordID
	next loader.Resolver
}

var errNoResolver = errors.New("no resolver configured")

func (r *runResolver) ResolveRef(ctx context.Context, ref model.Ref) (any, error) {
	if len(ref.AttrPath()) == 0 {
		if id, ok := r.ids[ref.Key()]; ok {
			return id, nil
		}
	}
	if r.next == nil {
		return nil, errNoResolver
	}
	return r.next.ResolveRef(ctx, ref)
}

func (r *runResolver) ResolveModelRef(ctx context.Context, ref model.ModelRef) (any, error) {
	if r.next == nil {
		return nil, errNoResolver
	}
	return r.next.ResolveModelRef(ctx, ref)
}

func (r *runResolver) OpenBlob(ctx context.Context, ref model.BlobRef) (model.BlobHandle, error) {
	if r.next == nil {
		return nil, errNoResolver
	}
	return r.next.OpenBlob(ctx, ref)
}
