package usecase

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"travel-assistant/internal/domain"
	"travel-assistant/internal/memory"
)

// maxSessionTurns bounds how much history one session read may return.
const maxSessionTurns = 50

// ProfileOutput is a stored profile and where the last write landed.
type ProfileOutput struct {
	Profile    domain.UserProfile
	Durability memory.Durability
}

// GetProfile returns the user's travel profile from the fastest tier that
// has it.
func (o *Orchestrator) GetProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.UserProfile{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	p, ok := o.memory.GetProfile(ctx, userID)
	if !ok {
		return domain.UserProfile{}, newError(ErrorNotFound, "profile_not_found", nil)
	}
	return p, nil
}

// UpdateProfile merges an explicit edit into the profile. Present fields
// replace the stored value; absent fields are kept.
func (o *Orchestrator) UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (ProfileOutput, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ProfileOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if update.IsEmpty() {
		return ProfileOutput{}, newError(ErrorInvalidInput, "empty_update", nil)
	}
	if update.TravelPace != nil && !update.TravelPace.Valid() {
		return ProfileOutput{}, newError(ErrorInvalidInput, "invalid_travel_pace", nil)
	}
	if update.DestinationsOfInterest != nil {
		update.DestinationsOfInterest = cleanList(update.DestinationsOfInterest)
	}

	p, d := o.memory.SetProfile(context.WithoutCancel(ctx), userID, update)
	o.logger.Info("profile updated",
		zap.String("user_id", userID),
		zap.Stringer("durability", d))
	return ProfileOutput{Profile: p, Durability: d}, nil
}

// GetSession returns the user's recent turns, oldest first. A non-positive
// limit selects the context size used for questions.
func (o *Orchestrator) GetSession(ctx context.Context, userID string, limit int) (domain.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Session{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if limit > maxSessionTurns {
		return domain.Session{}, newError(ErrorInvalidInput, "limit_out_of_range", nil)
	}
	if limit <= 0 {
		limit = o.maxContextTurns
	}
	return o.memory.GetSessionContext(ctx, userID, limit), nil
}

// cleanList trims entries, drops blanks and removes case-insensitive
// duplicates, keeping first spellings. An all-blank list clears the field.
func cleanList(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
