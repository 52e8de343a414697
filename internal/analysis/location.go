package analysis

import (
	"fmt"
	"strings"
)

// MatchLocation compares the detected bill origin with the user's claim.
// Only case and surrounding whitespace are normalized; "USA" and
// "United States" do not match.
func MatchLocation(detectedCountry, claimedCountry string) LocationMatch {
	if strings.EqualFold(strings.TrimSpace(detectedCountry), strings.TrimSpace(claimedCountry)) {
		return LocationMatch{IsMatch: true}
	}

	warning := fmt.Sprintf(
		"Warning: Detected location (%s) does not match your selection (%s). Results may be inaccurate.",
		detectedCountry, claimedCountry)
	return LocationMatch{IsMatch: false, Warning: &warning}
}
