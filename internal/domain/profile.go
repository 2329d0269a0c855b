package domain

import (
	"sort"
	"strings"
	"time"
)

// TravelPace is the preferred rhythm of a trip.
type TravelPace string

const (
	PaceRelaxed  TravelPace = "relaxed"
	PaceModerate TravelPace = "moderate"
	PacePacked   TravelPace = "packed"
)

// Valid reports whether p is one of the known paces.
func (p TravelPace) Valid() bool {
	switch p {
	case PaceRelaxed, PaceModerate, PacePacked:
		return true
	}
	return false
}

// UserProfile holds the travel preferences learned for a user.
type UserProfile struct {
	UserID                 string     `json:"user_id"`
	DestinationsOfInterest []string   `json:"destinations_of_interest,omitempty"`
	TravelPace             TravelPace `json:"travel_pace,omitempty"`
	ActivityPreferences    []string   `json:"activity_preferences,omitempty"`
	LastUpdated            time.Time  `json:"last_updated"`
}

// ProfileUpdate is a partial profile. Nil fields are left untouched by Apply.
type ProfileUpdate struct {
	DestinationsOfInterest []string
	TravelPace             *TravelPace
	ActivityPreferences    []string
}

// IsEmpty reports whether the update carries no fields.
func (u ProfileUpdate) IsEmpty() bool {
	return u.DestinationsOfInterest == nil && u.TravelPace == nil && u.ActivityPreferences == nil
}

// Apply merges the update into p field by field. Present fields overwrite
// the existing value; absent fields keep it.
func (u ProfileUpdate) Apply(p UserProfile, now time.Time) UserProfile {
	if u.DestinationsOfInterest != nil {
		p.DestinationsOfInterest = append([]string(nil), u.DestinationsOfInterest...)
	}
	if u.TravelPace != nil {
		p.TravelPace = *u.TravelPace
	}
	if u.ActivityPreferences != nil {
		p.ActivityPreferences = NormalizeActivities(u.ActivityPreferences)
	}
	p.LastUpdated = now.UTC()
	return p
}

// UpdateFrom returns an update carrying every field that is set in p.
func UpdateFrom(p UserProfile) ProfileUpdate {
	var u ProfileUpdate
	if p.DestinationsOfInterest != nil {
		u.DestinationsOfInterest = append([]string(nil), p.DestinationsOfInterest...)
	}
	if p.TravelPace != "" {
		u.TravelPace = Pace(p.TravelPace)
	}
	if p.ActivityPreferences != nil {
		u.ActivityPreferences = append([]string(nil), p.ActivityPreferences...)
	}
	return u
}

// Over layers u on top of base: fields present in u win, the rest come
// from base.
func (u ProfileUpdate) Over(base ProfileUpdate) ProfileUpdate {
	if u.DestinationsOfInterest != nil {
		base.DestinationsOfInterest = u.DestinationsOfInterest
	}
	if u.TravelPace != nil {
		base.TravelPace = u.TravelPace
	}
	if u.ActivityPreferences != nil {
		base.ActivityPreferences = u.ActivityPreferences
	}
	return base
}

// NormalizeActivities turns a list of activity names into a sorted set.
func NormalizeActivities(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Pace returns a pointer to p, for building updates inline.
func Pace(p TravelPace) *TravelPace {
	return &p
}
