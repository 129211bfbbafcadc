package downloader

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const maxTitleLength = 100

var (
	progressPattern = regexp.MustCompile(`(\d+\.?\d*)%`)
	unsafeTitle     = regexp.MustCompile(`[<>:"/\\|?*]`)
)

// ParseProgress extracts the first percentage in line, rounded and clamped to 0-100
func ParseProgress(line string) (int, bool) {
	match := progressPattern.FindStringSubmatch(line)
	if match == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return int(math.Max(0, math.Min(100, math.Round(value)))), true
}

// SanitizeTitle makes title safe to use as a file name
func SanitizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Unknown Video"
	}
	safe := unsafeTitle.ReplaceAllString(title, "_")
	if runes := []rune(safe); len(runes) > maxTitleLength {
		safe = string(runes[:maxTitleLength])
	}
	return safe
}

// FormatDuration renders seconds as m:ss, or h:mm:ss from one hour up
func FormatDuration(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}
