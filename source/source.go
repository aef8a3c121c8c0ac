// Package source turns plain-text files into the raw blocks ingestion takes.
package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

// SplitText reads r and returns its paragraphs. Paragraphs are separated by
// one or more blank lines; lines inside a paragraph keep their line breaks.
// Trailing whitespace is trimmed from every line and carriage returns are
// dropped.
func SplitText(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		blocks  []string
		current []string
	)
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = current[:0]
		}
	}
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			line = strings.TrimPrefix(line, "\ufeff")
			first = false
		}
		line = strings.TrimRight(line, " \t\r\f\v")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading text: %w", err)
	}
	flush()
	return blocks, nil
}

// ReadFile splits the file at path. See SplitText.
func ReadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return SplitText(f)
}
