package resources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/linluma/gavel/shared/models"
)

// CreateTeamRequest is the body of POST /teams
type CreateTeamRequest struct {
	Name    string   `json:"name"`
	Budget  *int64   `json:"budget,omitempty"`
	Players []string `json:"players,omitempty"`
}

// UpdateTeamRequest is the body of PUT /teams/{id}
type UpdateTeamRequest struct {
	Name    *string  `json:"name,omitempty"`
	Budget  *int64   `json:"budget,omitempty"`
	Players []string `json:"players,omitempty"`
}

func teamPath(id string) string {
	return TeamsEndpoint + "/" + url.PathEscape(id)
}

// ListTeams returns every team
func (c *Client) ListTeams(ctx context.Context) ([]models.Team, error) {
	var teams []models.Team
	if err := c.do(ctx, http.MethodGet, TeamsEndpoint, nil, &teams); err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	return teams, nil
}

// GetTeam returns one team, including its remaining budget
func (c *Client) GetTeam(ctx context.Context, id string) (models.Team, error) {
	var team models.Team
	if err := c.do(ctx, http.MethodGet, teamPath(id), nil, &team); err != nil {
		return models.Team{}, fmt.Errorf("failed to get team %s: %w", id, err)
	}
	return team, nil
}

// CreateTeam registers a bidding team
func (c *Client) CreateTeam(ctx context.Context, req CreateTeamRequest) (models.Team, error) {
	var team models.Team
	if err := c.do(ctx, http.MethodPost, TeamsEndpoint, req, &team); err != nil {
		return models.Team{}, fmt.Errorf("failed to create team: %w", err)
	}
	return team, nil
}

// UpdateTeam patches the fields set in req
func (c *Client) UpdateTeam(ctx context.Context, id string, req UpdateTeamRequest) (models.Team, error) {
	var team models.Team
	if err := c.do(ctx, http.MethodPut, teamPath(id), req, &team); err != nil {
		return models.Team{}, fmt.Errorf("failed to update team %s: %w", id, err)
	}
	return team, nil
}

// DeleteTeam removes a team
func (c *Client) DeleteTeam(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, teamPath(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete team %s: %w", id, err)
	}
	return nil
}
