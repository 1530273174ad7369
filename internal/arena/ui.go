package arena

import (
	"strings"

	"lightcycle/internal/telemetry"
)

// LogUI renders announcements as log lines for headless clients.
type LogUI struct {
	Logger telemetry.Logger
}

func (u LogUI) Notify(title, text string) {
	telemetry.OrDiscard(u.Logger).Printf("[%s] %s", title, text)
}

func (u LogUI) RefreshPeerList(ids []string) {
	if len(ids) == 0 {
		telemetry.OrDiscard(u.Logger).Printf("no remote players")
		return
	}
	telemetry.OrDiscard(u.Logger).Printf("remote players: %s", strings.Join(ids, ", "))
}

func (u LogUI) UpdateStats(wins int, distance float64) {
	telemetry.OrDiscard(u.Logger).Printf("wins=%d distance=%.1f", wins, distance)
}

func (u LogUI) Clear() {}
