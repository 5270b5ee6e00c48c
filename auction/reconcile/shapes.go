package reconcile

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/linluma/gavel/shared/models"
)

// teamRef is the team object attached to a snapshot
type teamRef struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// flatSnapshot carries every field directly on the payload
type flatSnapshot struct {
	CurrentPlayer    *models.Player `json:"currentPlayer"`
	HighestBid       *int64         `json:"highestBid"`
	HighestBidTeamID *string        `json:"highestBidTeamId"`
	HighestBidTeam   *teamRef       `json:"highestBidTeam"`
	Timer            *int           `json:"timer"`
	IsRunning        *bool          `json:"isRunning"`
	Revision         *int64         `json:"revision"`
}

// nestedState is the auctionState sub-object of the nested shape
type nestedState struct {
	CurrentPlayerID  *string `json:"currentPlayerId"`
	HighestBid       *int64  `json:"highestBid"`
	HighestBidTeamID *string `json:"highestBidTeamId"`
	Timer            *int    `json:"timer"`
	IsRunning        *bool   `json:"isRunning"`
	Revision         *int64  `json:"revision"`
}

// nestedSnapshot keeps state under auctionState with player and team resolved alongside
type nestedSnapshot struct {
	AuctionState   *nestedState   `json:"auctionState"`
	CurrentPlayer  *models.Player `json:"currentPlayer"`
	HighestBidTeam *teamRef       `json:"highestBidTeam"`
}

// snapshot is a decoded stateUpdate in canonical form
type snapshot struct {
	view     models.AuctionView
	revision *int64
	nested   bool
}

// isNested reports whether raw carries a non-null auctionState member
func isNested(raw []byte) (bool, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false, err
	}
	sub, ok := probe["auctionState"]
	return ok && !bytes.Equal(bytes.TrimSpace(sub), []byte("null")), nil
}

// decodeSnapshot normalizes either shape. Every failure wraps ErrProtocol.
func decodeSnapshot(raw []byte) (snapshot, error) {
	nested, err := isNested(raw)
	if err != nil {
		return snapshot{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	var snap snapshot
	if nested {
		snap, err = decodeNested(raw)
	} else {
		snap, err = decodeFlat(raw)
	}
	if err != nil {
		return snapshot{}, err
	}
	snap.nested = nested

	if err := validate(snap.view); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func decodeFlat(raw []byte) (snapshot, error) {
	var flat flatSnapshot
	if err := json.Unmarshal(raw, &flat); err != nil {
		return snapshot{}, fmt.Errorf("%w: flat snapshot: %v", ErrProtocol, err)
	}
	if flat.IsRunning == nil || flat.HighestBid == nil {
		return snapshot{}, fmt.Errorf("%w: flat snapshot missing isRunning or highestBid", ErrProtocol)
	}

	view := models.AuctionView{
		CurrentPlayer: flat.CurrentPlayer,
		HighestBid:    *flat.HighestBid,
		TimerSeconds:  clampTimer(flat.Timer),
		IsRunning:     *flat.IsRunning,
	}
	view.HighestBidderTeamID, view.HighestBidderName = bidder(flat.HighestBidTeamID, flat.HighestBidTeam)
	return snapshot{view: view, revision: flat.Revision}, nil
}

func decodeNested(raw []byte) (snapshot, error) {
	var nested nestedSnapshot
	if err := json.Unmarshal(raw, &nested); err != nil {
		return snapshot{}, fmt.Errorf("%w: nested snapshot: %v", ErrProtocol, err)
	}
	state := nested.AuctionState
	if state.IsRunning == nil || state.HighestBid == nil {
		return snapshot{}, fmt.Errorf("%w: nested snapshot missing isRunning or highestBid", ErrProtocol)
	}

	player := nested.CurrentPlayer
	if state.CurrentPlayerID != nil && *state.CurrentPlayerID != "" {
		switch {
		case player == nil:
			player = &models.Player{ID: *state.CurrentPlayerID}
		case player.ID == "":
			player.ID = *state.CurrentPlayerID
		case player.ID != *state.CurrentPlayerID:
			return snapshot{}, fmt.Errorf("%w: currentPlayer %q does not match currentPlayerId %q",
				ErrProtocol, player.ID, *state.CurrentPlayerID)
		}
	}

	view := models.AuctionView{
		CurrentPlayer: player,
		HighestBid:    *state.HighestBid,
		TimerSeconds:  clampTimer(state.Timer),
		IsRunning:     *state.IsRunning,
	}
	view.HighestBidderTeamID, view.HighestBidderName = bidder(state.HighestBidTeamID, nested.HighestBidTeam)
	return snapshot{view: view, revision: state.Revision}, nil
}

// validate enforces the view invariants on a decoded snapshot
func validate(view models.AuctionView) error {
	if view.HighestBid < 0 {
		return fmt.Errorf("%w: negative highestBid %d", ErrProtocol, view.HighestBid)
	}
	if view.IsRunning && view.CurrentPlayer == nil {
		return fmt.Errorf("%w: running auction without a current player", ErrProtocol)
	}
	return nil
}

func bidder(id *string, team *teamRef) (string, string) {
	var teamID, name string
	if id != nil {
		teamID = *id
	}
	if team != nil {
		if teamID == "" {
			teamID = team.ID
		}
		name = team.Name
	}
	return teamID, name
}

func clampTimer(timer *int) int {
	if timer == nil || *timer < 0 {
		return 0
	}
	return *timer
}

// tick is the timerUpdate payload. The legacy key timer is accepted.
type tick struct {
	TimerSeconds *int   `json:"timerSeconds"`
	Timer        *int   `json:"timer"`
	PlayerID     string `json:"playerId"`
}

func decodeTick(raw []byte) (models.TimerUpdate, error) {
	var t tick
	if err := json.Unmarshal(raw, &t); err != nil {
		return models.TimerUpdate{}, fmt.Errorf("%w: timerUpdate: %v", ErrProtocol, err)
	}
	seconds := t.TimerSeconds
	if seconds == nil {
		seconds = t.Timer
	}
	if seconds == nil {
		return models.TimerUpdate{}, fmt.Errorf("%w: timerUpdate missing timerSeconds", ErrProtocol)
	}
	return models.TimerUpdate{TimerSeconds: clampTimer(seconds), PlayerID: t.PlayerID}, nil
}

// errorPush tolerates numeric or string codes
type errorPush struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

func (e errorPush) code() string {
	switch c := e.Code.(type) {
	case nil:
		return ""
	case string:
		return c
	case float64:
		return fmt.Sprintf("%d", int64(c))
	default:
		return fmt.Sprint(c)
	}
}
