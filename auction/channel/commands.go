package channel

import (
	"errors"
	"fmt"
)

// ErrMissingTeam is returned when a bid is issued without a team identity
var ErrMissingTeam = errors.New("bid requires a team id")

// Sender is the write half of the channel
type Sender interface {
	Send(command string, payload any) error
	ReportError(err error)
}

// BidPayload is the data member of a bid command
type BidPayload struct {
	TeamID    string `json:"teamId"`
	PlayerID  string `json:"playerId,omitempty"`
	BidAmount int64  `json:"bidAmount,omitempty"`
}

// StartAuctionPayload is the data member of a startAuction command
type StartAuctionPayload struct {
	PlayerID string `json:"playerId,omitempty"`
}

// SellPlayerPayload is the data member of a sellPlayer command
type SellPlayerPayload struct {
	PlayerID string `json:"playerId,omitempty"`
}

// Commands issues the outbound auction commands. Results are never awaited:
// their effect arrives as later inbound events.
type Commands struct {
	sender Sender
}

// NewCommands wraps a sender
func NewCommands(sender Sender) *Commands {
	return &Commands{sender: sender}
}

// PlaceBid submits a bid for the local team. Empty playerID and zero
// bidAmount are left for the server to resolve.
func (c *Commands) PlaceBid(teamID, playerID string, bidAmount int64) error {
	if teamID == "" {
		c.sender.ReportError(ErrMissingTeam)
		return ErrMissingTeam
	}
	if bidAmount < 0 {
		err := fmt.Errorf("invalid bid amount %d", bidAmount)
		c.sender.ReportError(err)
		return err
	}
	return c.sender.Send(CommandBid, BidPayload{
		TeamID:    teamID,
		PlayerID:  playerID,
		BidAmount: bidAmount,
	})
}

// StartAuction opens bidding on playerID, or on the server's choice when empty
func (c *Commands) StartAuction(playerID string) error {
	return c.sender.Send(CommandStartAuction, StartAuctionPayload{PlayerID: playerID})
}

// NextPlayer asks the server to advance to the next player
func (c *Commands) NextPlayer() error {
	return c.sender.Send(CommandNextPlayer, struct{}{})
}

// SellPlayer closes bidding on the current player
func (c *Commands) SellPlayer(playerID string) error {
	return c.sender.Send(CommandSellPlayer, SellPlayerPayload{PlayerID: playerID})
}
