package usecase

import (
	"strings"

	"travel-assistant/internal/domain"
)

var (
	relaxedWords = []string{"relax", "slow", "calm", "peaceful", "leisurely"}
	packedWords  = []string{"busy", "packed", "full day", "action", "as much as possible"}
)

// activityWords maps word stems to the activity they signal.
var activityWords = []struct {
	stem     string
	activity string
}{
	{"museum", "museums"},
	{"gallery", "museums"},
	{"galleries", "museums"},
	{"food", "food"},
	{"restaurant", "food"},
	{"cuisine", "food"},
	{"street food", "food"},
	{"hike", "hiking"},
	{"hiking", "hiking"},
	{"trek", "hiking"},
	{"beach", "beaches"},
	{"surf", "beaches"},
	{"nightlife", "nightlife"},
	{"club", "nightlife"},
	{"shopping", "shopping"},
	{"market", "shopping"},
	{"history", "history"},
	{"historic", "history"},
	{"culture", "culture"},
	{"cultural", "culture"},
	{"temple", "culture"},
	{"nature", "nature"},
	{"park", "nature"},
	{"adventure", "adventure"},
	{"photograph", "photography"},
	{"wine", "wine"},
}

// extractInsights reads destinations, pace and activities out of free text
// and returns them as an update layered on top of the current profile.
// Destinations and activities accumulate; a detected pace replaces the old
// one. An empty update means nothing new was learned.
func extractInsights(text string, current *domain.UserProfile) domain.ProfileUpdate {
	padded := domain.WordText(text)
	var upd domain.ProfileUpdate

	if found := domain.MentionedDestinations(text); len(found) > 0 {
		var existing []string
		if current != nil {
			existing = current.DestinationsOfInterest
		}
		if merged, changed := appendMissing(existing, found); changed {
			upd.DestinationsOfInterest = merged
		}
	}

	switch {
	case containsAny(padded, relaxedWords):
		if current == nil || current.TravelPace != domain.PaceRelaxed {
			upd.TravelPace = domain.Pace(domain.PaceRelaxed)
		}
	case containsAny(padded, packedWords):
		if current == nil || current.TravelPace != domain.PacePacked {
			upd.TravelPace = domain.Pace(domain.PacePacked)
		}
	}

	var acts []string
	for _, a := range activityWords {
		if domain.HasWordStart(padded, a.stem) {
			acts = append(acts, a.activity)
		}
	}
	if len(acts) > 0 {
		var existing []string
		if current != nil {
			existing = current.ActivityPreferences
		}
		if merged, changed := appendMissing(existing, domain.NormalizeActivities(acts)); changed {
			upd.ActivityPreferences = merged
		}
	}
	return upd
}

func containsAny(padded string, stems []string) bool {
	for _, s := range stems {
		if domain.HasWordStart(padded, s) {
			return true
		}
	}
	return false
}

// appendMissing returns base plus the items of add it does not already hold
// (case-insensitively), and whether anything was added.
func appendMissing(base, add []string) ([]string, bool) {
	seen := make(map[string]struct{}, len(base)+len(add))
	out := append([]string(nil), base...)
	for _, s := range base {
		seen[strings.ToLower(s)] = struct{}{}
	}
	changed := false
	for _, s := range add {
		k := strings.ToLower(s)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
		changed = true
	}
	return out, changed
}
