// Package relationship maps an affection score to a relationship tier and the
// content that tier unlocks. Everything here is pure and safe for concurrent use.
package relationship

// Tier is a named relationship stage derived from the affection score.
type Tier string

const (
	Awkward      Tier = "AWKWARD"
	Stranger     Tier = "STRANGER"
	Acquaintance Tier = "ACQUAINTANCE"
	Friend       Tier = "FRIEND"
	Lover        Tier = "LOVER"
)

// Score bounds. Negative scores are reachable and map to Awkward.
const (
	MinScore = -100
	MaxScore = 100
)

// SecretModeTier is the lowest tier allowed to switch a room into secret mode.
const SecretModeTier = Lover

// Base content available before any unlock.
const (
	BaseLocation = "classroom"
	BaseOutfit   = "uniform"
)

// ordered from lowest to highest trust.
var tiers = []Tier{Awkward, Stranger, Acquaintance, Friend, Lover}

// Unlocks lists content introduced exactly at one tier.
type Unlocks struct {
	Locations []string `json:"locations,omitempty"`
	Outfits   []string `json:"outfits,omitempty"`
}

// Empty reports whether nothing is unlocked.
func (u Unlocks) Empty() bool {
	return len(u.Locations) == 0 && len(u.Outfits) == 0
}

var unlockTable = map[Tier]Unlocks{
	Stranger: {
		Locations: []string{"library"},
	},
	Acquaintance: {
		Locations: []string{"cafe", "park"},
		Outfits:   []string{"casual"},
	},
	Friend: {
		Locations: []string{"arcade", "beach"},
		Outfits:   []string{"sportswear", "swimsuit"},
	},
	Lover: {
		Locations: []string{"rooftop_night", "amusement_park"},
		Outfits:   []string{"date_dress", "yukata"},
	},
}

var descriptions = map[Tier]string{
	Awkward:      "Things are tense. You are guarded, short and a little cold.",
	Stranger:     "You barely know each other. Stay polite and a bit distant.",
	Acquaintance: "You are getting comfortable. Small jokes and curiosity are fine.",
	Friend:       "You trust each other. Be warm, teasing and open about your day.",
	Lover:        "You are in love. Be affectionate, honest and openly caring.",
}

// TierFromScore derives the tier for a score.
func TierFromScore(score int) Tier {
	switch {
	case score < 0:
		return Awkward
	case score <= 20:
		return Stranger
	case score <= 39:
		return Acquaintance
	case score <= 79:
		return Friend
	default:
		return Lover
	}
}

// Rank returns the ordinal position of the tier, or -1 if unknown.
func (t Tier) Rank() int {
	for i, candidate := range tiers {
		if candidate == t {
			return i
		}
	}
	return -1
}

// AtLeast reports whether t ranks at or above other.
func (t Tier) AtLeast(other Tier) bool {
	return t.Rank() >= other.Rank()
}

// Describe returns the prompt guidance for the tier.
func (t Tier) Describe() string {
	return descriptions[t]
}

// ParseTier validates a stored tier name.
func ParseTier(raw string) (Tier, bool) {
	t := Tier(raw)
	return t, t.Rank() >= 0
}

// IsPromotion is true when next ranks strictly above current and next is not
// the lowest-trust tier. Demotions are never promotions.
func IsPromotion(current, next Tier) bool {
	if next == Awkward {
		return false
	}
	return next.Rank() > current.Rank()
}

// UnlocksFor returns the content introduced exactly at tier.
func UnlocksFor(tier Tier) Unlocks {
	u := unlockTable[tier]
	return Unlocks{
		Locations: append([]string(nil), u.Locations...),
		Outfits:   append([]string(nil), u.Outfits...),
	}
}

// UnlocksBetween collects everything unlocked when moving from one tier up to
// another. Moving down unlocks nothing.
func UnlocksBetween(from, to Tier) Unlocks {
	var out Unlocks
	for _, t := range tiers {
		if t.Rank() <= from.Rank() || t.Rank() > to.Rank() {
			continue
		}
		u := unlockTable[t]
		out.Locations = append(out.Locations, u.Locations...)
		out.Outfits = append(out.Outfits, u.Outfits...)
	}
	return out
}

// AllowedLocations grows monotonically with the tier.
func AllowedLocations(tier Tier) []string {
	allowed := []string{BaseLocation}
	for _, t := range tiers {
		if t.Rank() > tier.Rank() {
			break
		}
		allowed = append(allowed, unlockTable[t].Locations...)
	}
	return allowed
}

// AllowedOutfits grows monotonically with the tier.
func AllowedOutfits(tier Tier) []string {
	allowed := []string{BaseOutfit}
	for _, t := range tiers {
		if t.Rank() > tier.Rank() {
			break
		}
		allowed = append(allowed, unlockTable[t].Outfits...)
	}
	return allowed
}

// Clamp bounds a score to [MinScore, MaxScore].
func Clamp(score int) int {
	return min(max(score, MinScore), MaxScore)
}

// EndingHint names the ending the client may request once the score sits at
// an extreme, or "" otherwise.
func EndingHint(score int) string {
	switch {
	case score >= MaxScore:
		return "HAPPY"
	case score <= MinScore:
		return "SAD"
	default:
		return ""
	}
}
