// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Package datastore persists pending resources between pipeline stages:
// what still needs materializing, what each spec depends on, and what
// happened to every resource that was attempted.
package datastore

import (
	"context"
	"errors"
	"time"

	"github.com/platform-engineering-labs/portage/internal/store"
	"github.com/platform-engineering-labs/portage/pkg/model"
)

// Status is the materialization lifecycle state of a pending resource.
type Status string

const (
	StatusPending      Status = "pending"
	StatusMaterialized Status = "materialized"
	StatusFailed       Status = "failed"
)

var ErrNotFound = errors.New("resource not found")

// Resource is the pending-resource record the surrounding pipeline hands
// to the materialization stage. The core treats it as read-only input,
// apart from marking it materialized or failed.
type Resource struct {
	Key            model.Key
	Spec           model.Spec
	Dependencies   []model.Key
	Status         Status
	RecordID       store.RecordID
	LastError      string
	CreatedAt      time.Time
	MaterializedAt time.Time
}

type Datastore interface {
	// SaveResource upserts a pending resource and its declared
	// dependency keys.
	SaveResource(ctx context.Context, resource Resource) error

	// Resource fetches a single resource by key, ErrNotFound if absent.
	Resource(ctx context.Context, key model.Key) (Resource, error)

	// ListPending returns every resource awaiting materialization, with
	// declared dependencies attached, in stable (creation, key) order.
	ListPending(ctx context.Context) ([]Resource, error)

	// ListByStatus returns resources in a given lifecycle state.
	ListByStatus(ctx context.Context, status Status) ([]Resource, error)

	// MarkMaterialized records the assigned downstream identifier and
	// stamps the resource materialized.
	MarkMaterialized(ctx context.Context, key model.Key, id store.RecordID) error

	// MarkFailed records why a resource could not be materialized.
	MarkFailed(ctx context.Context, key model.Key, reason string) error

	Close() error
}
