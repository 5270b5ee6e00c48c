package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/linluma/gavel/auction/eligibility"
	"github.com/linluma/gavel/shared/models"
)

// connectionEmoji maps a channel state to its status indicator
func connectionEmoji(state string) string {
	switch state {
	case models.Connected.String():
		return "🟢"
	case models.Connecting.String(), models.Reconnecting.String():
		return "🟡"
	case models.Failed.String():
		return "🔴"
	default:
		return "⚪"
	}
}

// FormatView renders one status line for the auction view
func FormatView(view models.AuctionView, connection string, display int) string {
	if view.CurrentPlayer == nil {
		return fmt.Sprintf("%s %s | waiting for the next player", connectionEmoji(connection), connection)
	}

	player := view.CurrentPlayer
	name := player.Name
	if name == "" {
		name = player.ID
	}
	positions := strings.Join(player.Positions(), "/")
	if positions == "" {
		positions = "-"
	}

	leader := view.HighestBidderName
	if leader == "" {
		leader = view.HighestBidderTeamID
	}
	if leader == "" {
		leader = "None"
	}

	status := "⏸ paused"
	if view.IsRunning {
		status = fmt.Sprintf("⏱ %02ds", display)
	}

	return fmt.Sprintf("%s %s | %s (%s) base:%d | bid:%d by %s | %s",
		connectionEmoji(connection), connection, name, positions, player.BasePrice,
		view.HighestBid, leader, status)
}

// FormatEligibility renders the local team's bid state
func FormatEligibility(result eligibility.Result, budget int64) string {
	if result.CanBid {
		return fmt.Sprintf("💰 next bid %d | budget %d -> %d | type 'bid'",
			result.NextBidAmount, budget, result.RemainingBudgetIfBid)
	}
	reasons := make([]string, 0, len(result.Blockers))
	for _, r := range result.Blockers {
		reasons = append(reasons, string(r))
	}
	return fmt.Sprintf("🚫 cannot bid %d | budget %d | %s",
		result.NextBidAmount, budget, strings.Join(reasons, ", "))
}

// DisplayView writes the status line to w
func DisplayView(w io.Writer, view models.AuctionView, connection string, display int) {
	fmt.Fprintln(w, FormatView(view, connection, display))
}
