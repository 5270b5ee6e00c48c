package models

import (
	"strings"
	"time"
)

// ConnectionState represents the lifecycle of the auction channel
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// PlayerStatus represents where a player is in the auction
type PlayerStatus string

// Supported player statuses
const (
	PlayerPending    PlayerStatus = "pending"
	PlayerAuctioning PlayerStatus = "auctioning"
	PlayerSold       PlayerStatus = "sold"
)

// Player represents a player record as served by the auction server
type Player struct {
	ID         string       `json:"_id"`
	Name       string       `json:"name"`
	Position   string       `json:"position"`
	BasePrice  int64        `json:"basePrice"`
	FinalPrice *int64       `json:"finalPrice"`
	BoughtBy   *string      `json:"boughtBy"`
	Image      string       `json:"image,omitempty"`
	Status     PlayerStatus `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Positions splits the comma-delimited position string into its role tags.
// Blank and duplicate tags are dropped.
func (p Player) Positions() []string {
	if p.Position == "" {
		return nil
	}

	seen := make(map[string]bool)
	tags := make([]string, 0)
	for _, raw := range strings.Split(p.Position, ",") {
		tag := strings.TrimSpace(raw)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// Clone returns a deep copy so readers never share pointers with the canonical view
func (p Player) Clone() Player {
	out := p
	if p.FinalPrice != nil {
		price := *p.FinalPrice
		out.FinalPrice = &price
	}
	if p.BoughtBy != nil {
		team := *p.BoughtBy
		out.BoughtBy = &team
	}
	return out
}

// Team represents a bidding team
type Team struct {
	ID        string    `json:"_id"`
	Name      string    `json:"name"`
	Budget    int64     `json:"budget"`
	Players   []string  `json:"players"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuctionView is the canonical local copy of the live auction.
// An empty HighestBidderTeamID means nobody has bid yet.
type AuctionView struct {
	CurrentPlayer       *Player `json:"currentPlayer"`
	HighestBid          int64   `json:"highestBid"`
	HighestBidderTeamID string  `json:"highestBidderTeamId,omitempty"`
	HighestBidderName   string  `json:"highestBidderName,omitempty"`
	TimerSeconds        int     `json:"timerSeconds"`
	IsRunning           bool    `json:"isRunning"`
}

// Clone returns a deep copy of the view
func (v AuctionView) Clone() AuctionView {
	out := v
	if v.CurrentPlayer != nil {
		player := v.CurrentPlayer.Clone()
		out.CurrentPlayer = &player
	}
	return out
}

// CurrentPlayerID returns the id of the player under the hammer, or ""
func (v AuctionView) CurrentPlayerID() string {
	if v.CurrentPlayer == nil {
		return ""
	}
	return v.CurrentPlayer.ID
}

// IsEmpty reports whether the view carries no auction at all
func (v AuctionView) IsEmpty() bool {
	return v.CurrentPlayer == nil && !v.IsRunning && v.HighestBid == 0 && v.HighestBidderTeamID == ""
}

// TimerUpdate is the narrow authoritative tick pushed between snapshots
type TimerUpdate struct {
	TimerSeconds int    `json:"timerSeconds"`
	PlayerID     string `json:"playerId"`
}

// BidPlacedEvent is emitted when any team's bid is accepted by the server
type BidPlacedEvent struct {
	PlayerID   string    `json:"playerId"`
	TeamID     string    `json:"teamId"`
	TeamName   string    `json:"teamName"`
	BidAmount  int64     `json:"bidAmount"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// PlayerSoldEvent is emitted when the hammer falls. An empty TeamID means unsold.
type PlayerSoldEvent struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	TeamID     string    `json:"teamId,omitempty"`
	TeamName   string    `json:"teamName,omitempty"`
	FinalPrice int64     `json:"finalPrice"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Unsold reports whether the player went without a buyer
func (e PlayerSoldEvent) Unsold() bool {
	return e.TeamID == ""
}

// AuctionStartedEvent is emitted when a player goes under the hammer
type AuctionStartedEvent struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	BasePrice  int64     `json:"basePrice"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// AuctionEndedEvent is emitted when bidding on a player closes
type AuctionEndedEvent struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// AuctionErrorEvent carries a domain rejection from the server
type AuctionErrorEvent struct {
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}
