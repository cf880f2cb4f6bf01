// Package tui implements the interactive status dashboard.
package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wardenhq/warden/internal/api"
	"github.com/wardenhq/warden/internal/models"
)

// Client talks to the daemon's status API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a status API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// ListAgents fetches every registered agent.
func (c *Client) ListAgents() ([]models.AgentDefinition, error) {
	var agents []models.AgentDefinition
	if err := c.get("/agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// ListSpecs fetches the watched-directory listing with states.
func (c *Client) ListSpecs() ([]api.SpecStatus, error) {
	var specs []api.SpecStatus
	if err := c.get("/specs", &specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// AgentTasks fetches the scheduled tasks owned by an agent.
func (c *Client) AgentTasks(name string) ([]models.ScheduledTask, error) {
	var tasks []models.ScheduledTask
	if err := c.get("/agents/"+name+"/tasks", &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (c *Client) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
