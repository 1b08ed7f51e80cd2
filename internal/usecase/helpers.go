package usecase

import (
	"fmt"
	"regexp"
	"time"
)

var backupTimestamp = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}T\d{6}[+-]\d{4})_`)

// extractTimestamp reads the creation time encoded in a backup file name.
func extractTimestamp(filename string) (time.Time, error) {
	matches := backupTimestamp.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return time.Time{}, fmt.Errorf("invalid filename format: no timestamp found")
	}
	return time.Parse("2006-01-02T150405-0700", matches[1])
}
