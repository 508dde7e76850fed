package telegram

import (
	"regexp"
	"strings"
	"testing"

	"github.com/oddswatch/oddswatch/internal/models"
)

func TestEscapeMarkdownV2(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"1.65 (was 2.10)", "1\\.65 \\(was 2\\.10\\)"},
		{"a_b*c[d]", "a\\_b\\*c\\[d\\]"},
		{"edge 2.8%!", "edge 2\\.8%\\!"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := escapeMarkdownV2(tc.in); got != tc.want {
			t.Errorf("escape(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatMessage(t *testing.T) {
	alert := models.FormattedAlert{
		Title:    "Value opportunity: m1",
		Priority: models.UrgencyCritical,
		Sections: []models.BodySection{
			{Label: "Price", Value: "1.65 (was 2.10)"},
			{Label: "Edge", Value: "2.8%"},
		},
	}

	got := formatMessage(alert)
	if !strings.HasPrefix(got, "🚨 *") {
		t.Errorf("critical alert must lead with the siren emoji, got %q", got)
	}
	if !strings.Contains(got, "Value opportunity: m1") {
		t.Error("title missing from message")
	}
	if !strings.Contains(got, "Price: *1\\.65 \\(was 2\\.10\\)*") {
		t.Errorf("section values must be escaped and bold, got %q", got)
	}
	if regexp.MustCompile(`[^\\][()]`).MatchString(got) {
		t.Errorf("unescaped parenthesis leaked into MarkdownV2 payload: %q", got)
	}
}

func TestPriorityEmoji(t *testing.T) {
	cases := []struct {
		urgency models.UrgencyLevel
		want    string
	}{
		{models.UrgencyCritical, "🚨"},
		{models.UrgencyHigh, "🔥"},
		{models.UrgencyMedium, "📈"},
		{models.UrgencyLow, "ℹ️"},
	}
	for _, tc := range cases {
		if got := priorityEmoji(tc.urgency); got != tc.want {
			t.Errorf("emoji(%s) = %q, want %q", tc.urgency, got, tc.want)
		}
	}
}
