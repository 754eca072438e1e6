package git

import (
	"strconv"
	"strings"
)

// FileStat holds per-file line counts from git diff --numstat.
type FileStat struct {
	Path      string
	Additions int
	Deletions int
}

// ParseNumstat parses the output of git diff --numstat.
// Binary files report "-" for both counts and parse as zero.
func ParseNumstat(output string) []FileStat {
	var stats []FileStat
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}

		stat := FileStat{Path: parts[2]}
		if n, err := strconv.Atoi(parts[0]); err == nil {
			stat.Additions = n
		}
		if n, err := strconv.Atoi(parts[1]); err == nil {
			stat.Deletions = n
		}
		stats = append(stats, stat)
	}
	return stats
}
