package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// Custom IDs
// ============================================================================

// EncodeCustomID builds "handler:choice:userID". Handlers are registered with the "handler:" prefix.
func EncodeCustomID(handler, choice string, userID snowflake.ID) string {
	return handler + ":" + choice + ":" + userID.String()
}

// ParseCustomID splits a custom id produced by EncodeCustomID.
func ParseCustomID(customID string) (handler, choice string, userID snowflake.ID, err error) {
	parts := strings.Split(customID, ":")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return "", "", 0, fmt.Errorf("malformed custom id %q", customID)
	}
	userID, err = snowflake.Parse(parts[2])
	if err != nil {
		return "", "", 0, fmt.Errorf("malformed custom id %q: %w", customID, err)
	}
	return parts[0], parts[1], userID, nil
}

// ============================================================================
// Helper Functions
// ============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intPtr(i int) *int {
	return &i
}

func floatPtr(f float64) *float64 {
	return &f
}

func ptrTo[T any](v T) *T {
	return &v
}

// Atoi converts a string to an integer, returning 0 on error.
func Atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

// Truncate truncates a string to the specified length with ellipsis at the end.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// FormatNumber drops a trailing ".0" so whole values print as integers.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ============================================================================
// Time Utilities
// ============================================================================

func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "∞"
	}
	days := int(d.Hours()) / 24
	h, m, s := int(d.Hours())%24, int(d.Minutes())%60, int(d.Seconds())%60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, h)
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

var durationPattern = regexp.MustCompile(`^(\d+)(s|m|h|d)?$`)

// ParseDuration accepts a plain integer (seconds) or one of the s, m, h, d suffixes. "" and "0" mean zero.
func ParseDuration(duration string) (time.Duration, error) {
	if duration == "" || duration == "0" {
		return 0, nil
	}
	m := durationPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(duration)))
	if m == nil {
		return 0, fmt.Errorf("invalid format %q", duration)
	}
	v, _ := strconv.Atoi(m[1])
	switch m[2] {
	case "m":
		return time.Duration(v) * time.Minute, nil
	case "h":
		return time.Duration(v) * time.Hour, nil
	case "d":
		return time.Duration(v) * 24 * time.Hour, nil
	default:
		return time.Duration(v) * time.Second, nil
	}
}
