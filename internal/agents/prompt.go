package agents

import (
	"fmt"
	"strings"

	"travel-assistant/internal/domain"
)

// maxTurnChars trims long history turns so prompts stay small.
const maxTurnChars = 400

func instruction(name, role string) string {
	return strings.Join([]string{
		fmt.Sprintf("You are %s, %s", name, role),
		"",
		"Rules:",
		"1) Answer only the current travel question.",
		"2) Use the traveller profile and recent conversation when they are relevant.",
		"3) Be concrete: name places, amounts, phrases or steps.",
		"4) Keep the reply under 250 words and use short paragraphs or lists.",
	}, "\n")
}

// buildPrompt lays out profile, recent turns and the query.
func buildPrompt(query string, session domain.Session) string {
	var b strings.Builder
	if p := profileSummary(session.Profile); p != "" {
		b.WriteString("Traveller profile:\n")
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	if h := historySummary(session.Turns); h != "" {
		b.WriteString("Recent conversation:\n")
		b.WriteString(h)
		b.WriteString("\n\n")
	}
	b.WriteString("Travel query: ")
	b.WriteString(normalize(query))
	return b.String()
}

func profileSummary(p *domain.UserProfile) string {
	if p == nil {
		return ""
	}
	var lines []string
	if len(p.DestinationsOfInterest) > 0 {
		lines = append(lines, "- Destinations of interest: "+strings.Join(p.DestinationsOfInterest, ", "))
	}
	if p.TravelPace != "" {
		lines = append(lines, "- Preferred pace: "+string(p.TravelPace))
	}
	if len(p.ActivityPreferences) > 0 {
		lines = append(lines, "- Enjoys: "+strings.Join(p.ActivityPreferences, ", "))
	}
	return strings.Join(lines, "\n")
}

func historySummary(turns []domain.ConversationTurn) string {
	var lines []string
	for _, t := range turns {
		text := normalize(t.Text)
		if text == "" {
			continue
		}
		if r := []rune(text); len(r) > maxTurnChars {
			text = string(r[:maxTurnChars]) + "..."
		}
		who := "Traveller"
		if t.Role == domain.RoleAssistant {
			who = "Assistant"
		}
		lines = append(lines, who+": "+text)
	}
	return strings.Join(lines, "\n")
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
