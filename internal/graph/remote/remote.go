// Package remote implements the graph.Engine contract against the
// fact-extraction service's HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/quarrylabs/quarry/config"
	"github.com/quarrylabs/quarry/internal/core"
	"github.com/quarrylabs/quarry/internal/graph"
)

// Client talks to the remote fact-extraction engine. One Client handle must
// not be shared across concurrently syncing documents.
type Client struct {
	baseURL    string
	apiKey     string
	maxNodes   int
	maxEdges   int
	httpClient *http.Client
}

// New builds a Client from graph configuration.
func New(cfg config.GraphConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("graph base_url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxNodes := cfg.MaxNodes
	if maxNodes <= 0 {
		maxNodes = 20
	}
	maxEdges := cfg.MaxEdges
	if maxEdges <= 0 {
		maxEdges = 30
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxNodes:   maxNodes,
		maxEdges:   maxEdges,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// AddEpisode submits one chunk for extraction.
func (c *Client) AddEpisode(ctx context.Context, in graph.EpisodeInput) (graph.EpisodeResult, error) {
	var out graph.EpisodeResult
	if in.GroupID == "" {
		return out, fmt.Errorf("episode group_id required")
	}
	if len(in.EntityTypes) == 0 {
		return out, fmt.Errorf("episode entity_types required")
	}
	if err := c.do(ctx, http.MethodPost, "/episodes", in, &out); err != nil {
		return graph.EpisodeResult{}, err
	}
	if out.EpisodeID == "" {
		return graph.EpisodeResult{}, &core.TransientProviderError{Provider: "graph", Err: fmt.Errorf("engine returned no episode id")}
	}
	return out, nil
}

// RemoveEpisode retracts a previously created episode.
func (c *Client) RemoveEpisode(ctx context.Context, episodeID string) error {
	if episodeID == "" {
		return fmt.Errorf("episode id required")
	}
	return c.do(ctx, http.MethodDelete, "/episodes/"+url.PathEscape(episodeID), nil, nil)
}

// EntityReferences reports surviving reference counts for the named entities.
func (c *Client) EntityReferences(ctx context.Context, names []string) (map[string]int, error) {
	if len(names) == 0 {
		return map[string]int{}, nil
	}
	var out struct {
		References map[string]int `json:"references"`
	}
	payload := map[string]interface{}{"names": names}
	if err := c.do(ctx, http.MethodPost, "/entities/references", payload, &out); err != nil {
		return nil, err
	}
	if out.References == nil {
		out.References = map[string]int{}
	}
	return out.References, nil
}

// Query returns a subgraph for the question. Results are hard-capped so a
// downstream consumer never receives an unbounded payload.
func (c *Client) Query(ctx context.Context, query string, groupIDs []string) (graph.QueryResult, error) {
	payload := map[string]interface{}{
		"query":     query,
		"group_ids": groupIDs,
		"max_nodes": c.maxNodes,
		"max_edges": c.maxEdges,
	}
	var out graph.QueryResult
	if err := c.do(ctx, http.MethodPost, "/search", payload, &out); err != nil {
		return graph.QueryResult{}, err
	}
	if len(out.Nodes) > c.maxNodes {
		out.Nodes = out.Nodes[:c.maxNodes]
	}
	if len(out.Edges) > c.maxEdges {
		out.Edges = out.Edges[:c.maxEdges]
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal graph request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build graph request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &core.TransientProviderError{Provider: "graph", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &core.TransientProviderError{
			Provider: "graph",
			Err:      fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}
