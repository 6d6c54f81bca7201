package api

import (
	"github.com/satriahrh/voicenote-relay/internal/pipeline"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status           string   `json:"status"`
	Service          string   `json:"service"`
	ConnectedBridges []string `json:"connected_bridges,omitempty"`
}

// PipelinesResponse lists recently finished pipeline runs
type PipelinesResponse struct {
	Pipelines []pipeline.Instance `json:"pipelines"`
}
