package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// stateTimeLayouts are the timestamp forms seen in osmosis state files
var stateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
}

// ParseStateTimestamp extracts the timestamp of an osmosis state.txt:
//
//	#Sat Jan 15 12:00:00 UTC 2024
//	sequenceNumber=12345
//	timestamp=2024-01-15T12\:00\:00Z
func ParseStateTimestamp(r io.Reader) (time.Time, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) != "timestamp" {
			continue
		}
		value = strings.ReplaceAll(strings.TrimSpace(value), `\:`, ":")
		for _, layout := range stateTimeLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("invalid state timestamp %q", value)
	}
	if err := scanner.Err(); err != nil {
		return time.Time{}, fmt.Errorf("failed to read state: %w", err)
	}
	return time.Time{}, fmt.Errorf("state has no timestamp")
}

// ReadStateTimestamp reads the timestamp of a state.txt file
func ReadStateTimestamp(path string) (time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to open state file: %w", err)
	}
	defer f.Close()
	return ParseStateTimestamp(f)
}
