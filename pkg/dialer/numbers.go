package dialer

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadNumbers reads a newline-delimited list of destination numbers.
func LoadNumbers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening numbers file: %w", err)
	}
	defer f.Close()
	return ParseNumbers(f)
}

// ParseNumbers trims each line, skips blanks and '#' comments and drops
// repeated numbers, keeping first-seen order.
func ParseNumbers(r io.Reader) ([]string, error) {
	var out []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading numbers: %w", err)
	}
	return out, nil
}
