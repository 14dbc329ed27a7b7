package calendar

import "strings"

// Included applies the calendar's term filters to an event title.
// Blacklist has priority over whitelist; an empty whitelist admits
// everything the blacklist doesn't reject. Matching is case-insensitive
// substring.
func Included(title string, whitelist, blacklist []string) bool {
	lower := strings.ToLower(title)

	for _, term := range blacklist {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			return false
		}
	}

	if len(whitelist) == 0 {
		return true
	}
	for _, term := range whitelist {
		if term == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
