// ABOUTME: Agent configuration endpoints: versions, agent creation, extension registration.
// ABOUTME: These run once during startup; failures are configuration errors, not retried.

package api

import (
	"context"
	"net/http"
)

// AgentVersions is the response of GET /agent/versions.
type AgentVersions struct {
	DefaultVersion    string   `json:"default_version"`
	AvailableVersions []string `json:"available_versions"`
}

// CreateAgentRequest selects the provider/model/version for POST /agent.
type CreateAgentRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Extension describes one extension for POST /extensions/add.
type Extension struct {
	Type    string   `json:"type"`
	Name    string   `json:"name"`
	Command string   `json:"cmd"`
	Args    []string `json:"args"`
}

// ListAgentVersions returns the daemon's supported agent versions.
func (c *Client) ListAgentVersions(ctx context.Context) (*AgentVersions, error) {
	var versions AgentVersions
	if err := c.do(ctx, http.MethodGet, "/agent/versions", nil, &versions); err != nil {
		return nil, err
	}
	return &versions, nil
}

// CreateAgent configures the daemon's agent with the given provider, model,
// and version. An empty version lets the daemon pick its default.
func (c *Client) CreateAgent(ctx context.Context, provider, model, version string) error {
	req := CreateAgentRequest{Provider: provider, Model: model, Version: version}
	return c.do(ctx, http.MethodPost, "/agent", req, nil)
}

// AddExtension registers one extension with the daemon.
func (c *Client) AddExtension(ctx context.Context, ext Extension) error {
	return c.do(ctx, http.MethodPost, "/extensions/add", ext, nil)
}
