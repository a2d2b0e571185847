// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package api

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/platform-engineering-labs/portage/internal/datastore"
)

type ListResourcesResponse struct {
	Resources []ResourceResponse `json:"resources"`
}

type ResourceResponse struct {
	Key            string          `json:"key"`
	TargetType     string          `json:"target_type"`
	Attributes     json.RawMessage `json:"attributes"`
	Dependencies   []string        `json:"dependencies,omitempty"`
	Status         string          `json:"status"`
	RecordID       string          `json:"record_id,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	MaterializedAt *time.Time      `json:"materialized_at,omitempty"`
}

func toResourceResponse(resource datastore.Resource) ResourceResponse {
	response := ResourceResponse{
		Key:        resource.Key.String(),
		TargetType: resource.Spec.TargetType,
		Attributes: resource.Spec.Attributes,
		Status:     string(resource.Status),
		RecordID:   string(resource.RecordID),
		LastError:  resource.LastError,
		CreatedAt:  resource.CreatedAt,
	}

	for _, dep := range resource.Dependencies {
		response.Dependencies = append(response.Dependencies, dep.String())
	}

	if !resource.MaterializedAt.IsZero() {
		at := resource.MaterializedAt
		response.MaterializedAt = &at
	}

	return response
}
