// Package extract pulls structured fields (dates, phone numbers, emails, amounts)
// and basic statistics out of recognized text.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/platinummonkey/oris/internal/models"
)

var (
	datePatterns = []*regexp.Regexp{
		// 12/05/2024, 1-2-24, 03.11.2023
		regexp.MustCompile(`\b(\d{1,2}[/\-.]\d{1,2}[/\-.]\d{2,4})\b`),
		// 2024-05-12
		regexp.MustCompile(`\b(\d{2,4}[/\-.]\d{1,2}[/\-.]\d{1,2})\b`),
		// 3 janvier 2024
		regexp.MustCompile(`(?i)\b(\d{1,2}\s+(?:janvier|février|fevrier|mars|avril|mai|juin|juillet|août|aout|septembre|octobre|novembre|décembre|decembre)\s+\d{2,4})\b`),
	}

	// French numbers: +33 or a leading 0, then 9 digits starting 1-9
	phonePattern = regexp.MustCompile(`(?:\+33|\b0)[1-9]\d{8}\b`)

	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	amountPattern = regexp.MustCompile(`\b(\d+(?:[.,]\d+)?)\s*(?:€|(?i:euros?|eur)\b)`)
)

// Extract runs the field matchers over text. It has no side effects and returns the
// same fields for the same input. The document type hint is accepted for future
// type-specific matchers and does not change the result today.
func Extract(text string, hint models.DocumentType) *models.ExtractedFields {
	_ = hint

	fields := &models.ExtractedFields{
		Dates:   dates(text),
		Phones:  phonePattern.FindAllString(text, -1),
		Emails:  emailPattern.FindAllString(text, -1),
		Amounts: submatches(amountPattern, text),
		Stats:   Stats(text),
	}
	return fields
}

// Stats counts characters (runes), whitespace separated words and newline separated lines
func Stats(text string) models.TextStats {
	return models.TextStats{
		Characters: utf8.RuneCountInString(text),
		Words:      len(strings.Fields(text)),
		Lines:      len(strings.Split(text, "\n")),
	}
}

// Merge combines per-page fields into document level fields. Dates are pooled and
// de-duplicated, other categories are concatenated in page order and stats summed.
func Merge(pages ...*models.ExtractedFields) *models.ExtractedFields {
	out := &models.ExtractedFields{}
	var pooled []string
	for _, f := range pages {
		if f == nil {
			continue
		}
		pooled = append(pooled, f.Dates...)
		out.Phones = append(out.Phones, f.Phones...)
		out.Emails = append(out.Emails, f.Emails...)
		out.Amounts = append(out.Amounts, f.Amounts...)
		out.Stats.Characters += f.Stats.Characters
		out.Stats.Words += f.Stats.Words
		out.Stats.Lines += f.Stats.Lines
	}
	out.Dates = dedupe(pooled)
	return out
}

func dates(text string) []string {
	var found []string
	for _, re := range datePatterns {
		found = append(found, submatches(re, text)...)
	}
	return dedupe(found)
}

func submatches(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}

// dedupe returns the distinct values sorted, or nil when there are none
func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
