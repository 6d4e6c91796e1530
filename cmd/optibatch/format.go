package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/width"
)

var printer = message.NewPrinter(language.English)

// count renders n with thousands separators.
func count(n int) string {
	return printer.Sprintf("%d", n)
}

func bytesLabel(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}

func savingsLabel(saved int64, percent int) string {
	return fmt.Sprintf("%s (%d%%)", bytesLabel(saved), percent)
}

// truncate shortens s to at most limit display cells. Wide (CJK) runes
// count as two cells so table columns stay aligned.
func truncate(s string, limit int) string {
	s = strings.TrimSpace(s)
	if limit <= 0 || cellWidth(s) <= limit {
		return s
	}
	cells := 0
	for i, r := range s {
		w := runeCells(r)
		if cells+w > limit-1 {
			return s[:i] + "…"
		}
		cells += w
	}
	return s
}

func cellWidth(s string) int {
	total := 0
	for _, r := range s {
		total += runeCells(r)
	}
	return total
}

func runeCells(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	}
	return 1
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
