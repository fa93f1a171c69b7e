package relationship

import (
	"slices"
	"testing"
)

func TestTierFromScoreBoundaries(t *testing.T) {
	tests := []struct {
		score int
		want  Tier
	}{
		{-100, Awkward},
		{-1, Awkward},
		{0, Stranger},
		{20, Stranger},
		{21, Acquaintance},
		{39, Acquaintance},
		{40, Friend},
		{79, Friend},
		{80, Lover},
		{100, Lover},
	}
	for _, tt := range tests {
		if got := TierFromScore(tt.score); got != tt.want {
			t.Errorf("TierFromScore(%d) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestTierFromScoreIsMonotonic(t *testing.T) {
	prev := TierFromScore(0)
	for s := 1; s <= MaxScore; s++ {
		next := TierFromScore(s)
		if next.Rank() < prev.Rank() {
			t.Fatalf("tier decreased at score %d: %s -> %s", s, prev, next)
		}
		prev = next
	}
	prev = TierFromScore(MinScore)
	for s := MinScore + 1; s <= MaxScore; s++ {
		next := TierFromScore(s)
		if next.Rank() < prev.Rank() {
			t.Fatalf("tier decreased at score %d: %s -> %s", s, prev, next)
		}
		prev = next
	}
}

func TestIsPromotion(t *testing.T) {
	tests := []struct {
		current, next Tier
		want          bool
	}{
		{Stranger, Acquaintance, true},
		{Awkward, Stranger, true},
		{Friend, Lover, true},
		{Stranger, Lover, true},
		{Lover, Friend, false},
		{Stranger, Awkward, false},
		{Friend, Friend, false},
	}
	for _, tt := range tests {
		if got := IsPromotion(tt.current, tt.next); got != tt.want {
			t.Errorf("IsPromotion(%s, %s) = %v, want %v", tt.current, tt.next, got, tt.want)
		}
	}
}

func TestUnlocksAreAdditive(t *testing.T) {
	for _, tier := range tiers {
		var unionOutfits, unionLocations []string
		for _, lower := range tiers {
			if lower.Rank() > tier.Rank() {
				break
			}
			u := UnlocksFor(lower)
			unionOutfits = append(unionOutfits, u.Outfits...)
			unionLocations = append(unionLocations, u.Locations...)
		}

		wantOutfits := slices.DeleteFunc(AllowedOutfits(tier), func(o string) bool { return o == BaseOutfit })
		if !slices.Equal(unionOutfits, wantOutfits) {
			t.Errorf("tier %s: outfit union %v != allowed %v", tier, unionOutfits, wantOutfits)
		}
		wantLocations := slices.DeleteFunc(AllowedLocations(tier), func(l string) bool { return l == BaseLocation })
		if !slices.Equal(unionLocations, wantLocations) {
			t.Errorf("tier %s: location union %v != allowed %v", tier, unionLocations, wantLocations)
		}
	}
}

func TestAllowedSetsGrowWithTier(t *testing.T) {
	for i := 1; i < len(tiers); i++ {
		lower, higher := AllowedLocations(tiers[i-1]), AllowedLocations(tiers[i])
		for _, loc := range lower {
			if !slices.Contains(higher, loc) {
				t.Fatalf("%s lost location %s at %s", tiers[i-1], loc, tiers[i])
			}
		}
		lowerOutfits, higherOutfits := AllowedOutfits(tiers[i-1]), AllowedOutfits(tiers[i])
		for _, outfit := range lowerOutfits {
			if !slices.Contains(higherOutfits, outfit) {
				t.Fatalf("%s lost outfit %s at %s", tiers[i-1], outfit, tiers[i])
			}
		}
	}
}

func TestUnlocksBetween(t *testing.T) {
	got := UnlocksBetween(Stranger, Friend)
	want := []string{"cafe", "park", "arcade", "beach"}
	if !slices.Equal(got.Locations, want) {
		t.Fatalf("locations = %v, want %v", got.Locations, want)
	}
	if !UnlocksBetween(Lover, Friend).Empty() {
		t.Fatal("demotion should unlock nothing")
	}
}

func TestClampAndEndingHint(t *testing.T) {
	if Clamp(150) != MaxScore || Clamp(-150) != MinScore || Clamp(7) != 7 {
		t.Fatal("clamp out of bounds")
	}
	if EndingHint(MaxScore) != "HAPPY" || EndingHint(MinScore) != "SAD" || EndingHint(50) != "" {
		t.Fatal("unexpected ending hint")
	}
}
