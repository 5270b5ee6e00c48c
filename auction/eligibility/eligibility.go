// Package eligibility decides whether the local team may bid, and for how much.
package eligibility

import "github.com/linluma/gavel/shared/models"

// BidIncrement is fixed by the auction server; a different local step would
// produce bids the server rejects.
const BidIncrement int64 = 1

// Actor identifies the local team
type Actor struct {
	TeamID string
	Budget int64
}

// Reason names one condition currently blocking a bid
type Reason string

// Blocking reasons, in evaluation order
const (
	ReasonDisconnected       Reason = "not connected"
	ReasonNoPlayer           Reason = "no player under the hammer"
	ReasonNotRunning         Reason = "auction not running"
	ReasonLeading            Reason = "already the highest bidder"
	ReasonInsufficientBudget Reason = "insufficient budget"
	ReasonTimerExpired       Reason = "timer expired"
)

// Result is the derived bid state for one actor
type Result struct {
	NextBidAmount        int64
	IsHighestBidder      bool
	CanBid               bool
	RemainingBudgetIfBid int64
	Blockers             []Reason
}

// Evaluate is a pure function of its inputs. view.TimerSeconds must be the
// authoritative value, never a locally smoothed one.
func Evaluate(view models.AuctionView, connected bool, actor Actor) Result {
	next := view.HighestBid + BidIncrement
	leading := view.HighestBidderTeamID != "" && view.HighestBidderTeamID == actor.TeamID

	var blockers []Reason
	if !connected {
		blockers = append(blockers, ReasonDisconnected)
	}
	if view.CurrentPlayer == nil {
		blockers = append(blockers, ReasonNoPlayer)
	}
	if !view.IsRunning {
		blockers = append(blockers, ReasonNotRunning)
	}
	if leading {
		blockers = append(blockers, ReasonLeading)
	}
	if next > actor.Budget {
		blockers = append(blockers, ReasonInsufficientBudget)
	}
	if view.TimerSeconds <= 0 {
		blockers = append(blockers, ReasonTimerExpired)
	}

	return Result{
		NextBidAmount:        next,
		IsHighestBidder:      leading,
		CanBid:               len(blockers) == 0,
		RemainingBudgetIfBid: actor.Budget - next,
		Blockers:             blockers,
	}
}

// Blocked reports whether reason is among the result's blockers
func (r Result) Blocked(reason Reason) bool {
	for _, b := range r.Blockers {
		if b == reason {
			return true
		}
	}
	return false
}
