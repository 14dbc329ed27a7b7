package calendar

import "testing"

func TestIncluded(t *testing.T) {
	cases := []struct {
		name      string
		title     string
		whitelist []string
		blacklist []string
		want      bool
	}{
		{"no filters", "Weekly standup", nil, nil, true},
		{"whitelist hit", "Raid night", []string{"raid"}, nil, true},
		{"whitelist miss", "Coffee chat", []string{"raid"}, nil, false},
		{"blacklist hit", "Cancelled: raid", nil, []string{"cancelled"}, false},
		{"blacklist beats whitelist", "Cancelled: raid", []string{"raid"}, []string{"cancelled"}, false},
		{"case insensitive", "RAID Night", []string{"raid"}, nil, true},
		{"substring match", "Mega raid party", []string{"raid"}, nil, true},
		{"empty blacklist terms skipped", "Anything", nil, []string{""}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Included(tc.title, tc.whitelist, tc.blacklist); got != tc.want {
				t.Fatalf("Included(%q) = %v, want %v", tc.title, got, tc.want)
			}
		})
	}
}
