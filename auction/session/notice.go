package session

import (
	"fmt"

	"github.com/linluma/gavel/shared/models"
)

// Outcome is what a sale means to the local team
type Outcome int

const (
	OutcomeUnsold Outcome = iota
	OutcomeWon
	OutcomeLost
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWon:
		return "won"
	case OutcomeLost:
		return "lost"
	default:
		return "unsold"
	}
}

// SoldNotice is a playerSold event seen from the local team's side
type SoldNotice struct {
	Event   models.PlayerSoldEvent
	Outcome Outcome
}

func newSoldNotice(event models.PlayerSoldEvent, localTeamID string) SoldNotice {
	outcome := OutcomeLost
	switch {
	case event.Unsold():
		outcome = OutcomeUnsold
	case localTeamID != "" && event.TeamID == localTeamID:
		outcome = OutcomeWon
	}
	return SoldNotice{Event: event, Outcome: outcome}
}

// Message renders the notice for a status line
func (n SoldNotice) Message() string {
	switch n.Outcome {
	case OutcomeWon:
		return fmt.Sprintf("🎉 You won %s for %d", n.Event.PlayerName, n.Event.FinalPrice)
	case OutcomeLost:
		return fmt.Sprintf("%s sold to %s for %d", n.Event.PlayerName, n.Event.TeamName, n.Event.FinalPrice)
	default:
		return fmt.Sprintf("%s went unsold", n.Event.PlayerName)
	}
}
