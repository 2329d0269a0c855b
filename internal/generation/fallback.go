package generation

import (
	"fmt"
	"regexp"
	"strings"

	"travel-assistant/internal/domain"
)

// MinFallbackLength is the shortest reply Fallback will ever return.
const MinFallbackLength = 120

var (
	daysPattern   = regexp.MustCompile(`(?i)\b(\d{1,2})[\s-]*(day|night)s?\b`)
	budgetPattern = regexp.MustCompile(`(?i)\$\s?(\d[\d,]*(?:\.\d+)?)(\s*(?:/|per|a)\s*day)?`)
	concernWords  = []string{"anxious", "nervous", "worried", "stressed", "overwhelmed", "scared", "afraid", "panic"}
)

// promptFacts are the keywords fallback templates are filled with.
type promptFacts struct {
	destinations []string
	days         string
	budget       string
	perDay       bool
	concern      string
	flight       bool
}

func extractFacts(text string) promptFacts {
	padded := domain.WordText(text)
	f := promptFacts{destinations: domain.MentionedDestinations(text)}
	if m := daysPattern.FindStringSubmatch(text); m != nil {
		f.days = m[1]
	}
	if m := budgetPattern.FindStringSubmatch(text); m != nil {
		f.budget = "$" + m[1]
		f.perDay = strings.TrimSpace(m[2]) != ""
	}
	for _, w := range concernWords {
		if domain.HasWordStart(padded, w) {
			f.concern = w
			break
		}
	}
	f.flight = domain.HasWordStart(padded, "flight") || domain.HasWordStart(padded, "fly")
	return f
}

// Fallback builds a deterministic reply for agent from the keywords found in
// text. The same inputs always produce the same output.
func Fallback(agent, text string) string {
	f := extractFacts(text)
	var b strings.Builder
	switch agent {
	case domain.AgentTripAnalyzer:
		tripAnalysis(&b, f)
	case domain.AgentTripMoodDetector:
		moodSupport(&b, f)
	case domain.AgentTripCalmPractice:
		calmPractice(&b, f)
	case domain.AgentTripCommsCoach:
		commsCoaching(&b)
	case domain.AgentTripBehaviorGuide:
		decisionGuide(&b)
	case domain.AgentTripSummarySynth:
		summary(&b, f)
	default:
		generalHelp(&b, f)
	}
	out := strings.TrimSpace(b.String())
	if len(out) < MinFallbackLength {
		out += "\n\nShare a destination, your dates and a rough budget and I can make this more specific."
	}
	return out
}

func tripAnalysis(b *strings.Builder, f promptFacts) {
	place := "your trip"
	if len(f.destinations) > 0 {
		place = strings.Join(f.destinations, " and ")
	}
	fmt.Fprintf(b, "**Trip plan for %s**\n\n", place)
	if f.days != "" {
		fmt.Fprintf(b, "For %s days, keep the first and last day light and put the big sights in the middle.\n", f.days)
	} else {
		b.WriteString("Decide on the number of days first; everything else follows from it.\n")
	}
	if f.budget != "" {
		unit := "in total"
		if f.perDay {
			unit = "per day"
		}
		fmt.Fprintf(b, "With %s %s, a workable split is roughly 40%% lodging, 30%% food, 20%% activities and 10%% local transport.\n", f.budget, unit)
	} else {
		b.WriteString("Set a daily budget and split it roughly 40% lodging, 30% food, 20% activities and 10% local transport.\n")
	}
	b.WriteString("\n1. Book flights and lodging 8-12 weeks out.\n")
	b.WriteString("2. Pick one anchor activity per day and leave the rest flexible.\n")
	b.WriteString("3. Group sights by neighbourhood to cut transit time.\n")
	b.WriteString("4. Keep a 10% buffer for surprises.\n")
}

func moodSupport(b *strings.Builder, f promptFacts) {
	if f.concern != "" {
		fmt.Fprintf(b, "**Feeling %s before a trip is normal**\n\n", f.concern)
		b.WriteString("Most travellers feel some nerves; it usually means you care about the trip going well.\n")
	} else {
		b.WriteString("**Travel mood check**\n\n")
		b.WriteString("Excitement and nerves often show up together before a trip.\n")
	}
	if f.flight {
		b.WriteString("For the flight: arrive early, pick an aisle seat if you like to move, and keep something absorbing to watch or read.\n")
	}
	b.WriteString("\n- Name the specific worry and write down one thing you can do about it.\n")
	b.WriteString("- Prepare the practical parts (documents, bookings, packing list) early.\n")
	b.WriteString("- Remind yourself that problems on the road are usually solvable on the spot.\n")
}

func calmPractice(b *strings.Builder, f promptFacts) {
	b.WriteString("**A quick calming routine**\n\n")
	b.WriteString("1. Breathe in for 4, hold for 7, out for 8. Repeat three times.\n")
	b.WriteString("2. Ground yourself: name 5 things you see, 4 you hear, 3 you can touch.\n")
	b.WriteString("3. Relax your shoulders and jaw, then unclench your hands.\n")
	if f.flight {
		b.WriteString("\nDuring take-off and turbulence, keep your breathing slow and remember that the crew deals with this every day.\n")
	}
	b.WriteString("\nFocus only on the next single step. You do not need to solve the whole trip right now.\n")
}

func commsCoaching(b *strings.Builder) {
	b.WriteString("**Phrases worth learning in the local language**\n\n")
	b.WriteString("1. \"Hello\" and \"Thank you\".\n")
	b.WriteString("2. \"Excuse me, do you speak English?\"\n")
	b.WriteString("3. \"Where is ...?\" and \"How much is this?\"\n")
	b.WriteString("\nAt the hotel: \"I have a reservation under [name]\" and \"Could you please help me with ...?\"\n")
	b.WriteString("Smile, speak slowly, and keep a translation app with offline packs on your phone.\n")
}

func decisionGuide(b *strings.Builder) {
	b.WriteString("**Making the call**\n\n")
	b.WriteString("1. Write down what matters most: cost, comfort, time or experience.\n")
	b.WriteString("2. Score each option from 1 to 10 on those points.\n")
	b.WriteString("3. Drop anything that fails your top priority.\n")
	b.WriteString("4. Set a deadline, pick the best remaining option and commit.\n")
	b.WriteString("\nThere is rarely a perfect choice, only a good one you can adjust later.\n")
}

func summary(b *strings.Builder, f promptFacts) {
	b.WriteString("**Where your planning stands**\n\n")
	if len(f.destinations) > 0 {
		fmt.Fprintf(b, "Destination: %s.\n", strings.Join(f.destinations, ", "))
	}
	b.WriteString("- This week: fix dates, budget and the main bookings.\n")
	b.WriteString("- Two to four weeks out: book key activities and sort documents and insurance.\n")
	b.WriteString("- Final week: confirm reservations, download maps and pack.\n")
	b.WriteString("\nPick one item from this week's list and finish it today.\n")
}

func generalHelp(b *strings.Builder, f promptFacts) {
	b.WriteString("**Happy to help with your travel plans**\n\n")
	if len(f.destinations) > 0 {
		fmt.Fprintf(b, "I can help you plan %s: itinerary, budget, local phrases or how to handle travel nerves.\n", strings.Join(f.destinations, " and "))
	} else {
		b.WriteString("I can help with itineraries, budgets, local phrases, decisions between options and handling travel nerves.\n")
	}
	b.WriteString("Tell me where you are going, for how long and what you enjoy, and I will put together concrete suggestions.\n")
}
