// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunking

import (
	"strings"
	"unicode"

	"github.com/poiesic/installment/core"
	"github.com/rivo/uniseg"
)

// Segment splits block into units according to mode.
// Returns core.ErrInvalidMode for an unknown mode.
func Segment(block string, mode core.Mode) ([]string, error) {
	switch mode {
	case core.ModeBySense:
		return sentences(block), nil
	case core.ModeByNewline:
		return lines(block), nil
	default:
		return nil, core.ValidateMode(mode)
	}
}

func sentences(block string) []string {
	text := strings.Join(strings.Fields(forceBreaks(block)), " ")

	var units []string
	state := -1
	for len(text) > 0 {
		var sentence string
		sentence, text, state = uniseg.FirstSentenceInString(text, state)
		if unit := strings.TrimSpace(sentence); unit != "" {
			units = append(units, unit)
		}
	}
	return units
}

// forceBreaks rewrites a line-break run that sits between a word character
// and an uppercase letter or digit into ". ". Other runs are left alone and
// collapse later with the rest of the whitespace.
func forceBreaks(block string) string {
	runes := []rune(block)
	var b strings.Builder
	b.Grow(len(block) + 8)

	for i := 0; i < len(runes); {
		if !isLineBreak(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}

		j := i
		for j < len(runes) && isLineBreak(runes[j]) {
			j++
		}
		if i > 0 && isWordRune(runes[i-1]) && j < len(runes) && startsSentence(runes[j]) {
			b.WriteString(". ")
		} else {
			b.WriteByte(' ')
		}
		i = j
	}
	return b.String()
}

func lines(block string) []string {
	var units []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		units = append(units, line)
	}
	return units
}

func isLineBreak(r rune) bool {
	return r == '\n' || r == '\r' || r == '\f' || r == '\v'
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func startsSentence(r rune) bool {
	return unicode.IsUpper(r) || unicode.IsDigit(r)
}
