package resources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/linluma/gavel/shared/models"
)

// CreatePlayerRequest is the body of POST /players
type CreatePlayerRequest struct {
	Name       string              `json:"name"`
	Position   string              `json:"position"`
	BasePrice  int64               `json:"basePrice"`
	FinalPrice *int64              `json:"finalPrice,omitempty"`
	BoughtBy   *string             `json:"boughtBy,omitempty"`
	Image      string              `json:"image,omitempty"`
	Status     models.PlayerStatus `json:"status,omitempty"`
}

// UpdatePlayerRequest is the body of PUT /players/{id}; nil fields are left unchanged
type UpdatePlayerRequest struct {
	Name       *string              `json:"name,omitempty"`
	Position   *string              `json:"position,omitempty"`
	BasePrice  *int64               `json:"basePrice,omitempty"`
	FinalPrice *int64               `json:"finalPrice,omitempty"`
	BoughtBy   *string              `json:"boughtBy,omitempty"`
	Image      *string              `json:"image,omitempty"`
	Status     *models.PlayerStatus `json:"status,omitempty"`
}

func playerPath(id string) string {
	return PlayersEndpoint + "/" + url.PathEscape(id)
}

// ListPlayers returns every player
func (c *Client) ListPlayers(ctx context.Context) ([]models.Player, error) {
	var players []models.Player
	if err := c.do(ctx, http.MethodGet, PlayersEndpoint, nil, &players); err != nil {
		return nil, fmt.Errorf("failed to list players: %w", err)
	}
	return players, nil
}

// ListPlayersByStatus returns the players in one auction status
func (c *Client) ListPlayersByStatus(ctx context.Context, status models.PlayerStatus) ([]models.Player, error) {
	var players []models.Player
	endpoint := PlayersEndpoint + "/status/" + url.PathEscape(string(status))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &players); err != nil {
		return nil, fmt.Errorf("failed to list %s players: %w", status, err)
	}
	return players, nil
}

// GetPlayer returns one player
func (c *Client) GetPlayer(ctx context.Context, id string) (models.Player, error) {
	var player models.Player
	if err := c.do(ctx, http.MethodGet, playerPath(id), nil, &player); err != nil {
		return models.Player{}, fmt.Errorf("failed to get player %s: %w", id, err)
	}
	return player, nil
}

// CreatePlayer adds a player to the roster
func (c *Client) CreatePlayer(ctx context.Context, req CreatePlayerRequest) (models.Player, error) {
	var player models.Player
	if err := c.do(ctx, http.MethodPost, PlayersEndpoint, req, &player); err != nil {
		return models.Player{}, fmt.Errorf("failed to create player: %w", err)
	}
	return player, nil
}

// UpdatePlayer patches the fields set in req
func (c *Client) UpdatePlayer(ctx context.Context, id string, req UpdatePlayerRequest) (models.Player, error) {
	var player models.Player
	if err := c.do(ctx, http.MethodPut, playerPath(id), req, &player); err != nil {
		return models.Player{}, fmt.Errorf("failed to update player %s: %w", id, err)
	}
	return player, nil
}

// DeletePlayer removes a player
func (c *Client) DeletePlayer(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, playerPath(id), nil, nil); err != nil {
		return fmt.Errorf("failed to delete player %s: %w", id, err)
	}
	return nil
}
