// Package duedate normalizes extractor-produced due dates to YYYY-MM-DD.
// Exact ISO dates pass through, day-first numeric forms (15.09.2026,
// 15.09) and natural-language phrases in Russian and English resolve
// against the configured timezone with a future preference. Dates already
// in the past normalize to absent.
package duedate

import (
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/olebedev/when/rules/ru"
)

var isoDateRE = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// numericLayouts are the day-first forms accepted besides ISO. Go layouts
// with unpadded reference values also match padded input.
var numericLayouts = []string{
	"2.1.2006",
	"2/1/2006",
	"2-1-2006",
}

// yearlessLayouts get the year inferred: the current one, or the next if
// the date has already passed.
var yearlessLayouts = []string{
	"2.1",
	"2/1",
}

// Normalizer resolves due-date text in a fixed timezone.
type Normalizer struct {
	loc    *time.Location
	parser *when.Parser
	now    func() time.Time
}

// NewNormalizer creates a normalizer anchored to loc.
func NewNormalizer(loc *time.Location) *Normalizer {
	parser := when.New(nil)
	parser.Add(ru.All...)
	parser.Add(en.All...)
	parser.Add(common.All...)
	return &Normalizer{
		loc:    loc,
		parser: parser,
		now:    time.Now,
	}
}

// Normalize maps raw text to YYYY-MM-DD, or to "" when the text is empty,
// unparseable, or denotes a date before today.
func (n *Normalizer) Normalize(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}

	now := n.now().In(n.loc)
	today := midnight(now, n.loc)

	candidate, ok := n.parseDate(text, now, today)
	if !ok {
		return ""
	}
	if candidate.Before(today) {
		return ""
	}
	return candidate.Format("2006-01-02")
}

func (n *Normalizer) parseDate(text string, now, today time.Time) (time.Time, bool) {
	// An ISO-shaped string is final: either it is a real date or the
	// value is dropped, with no natural-language fallback.
	if isoDateRE.MatchString(text) {
		t, err := time.ParseInLocation("2006-01-02", text, n.loc)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}

	for _, layout := range numericLayouts {
		if t, err := time.ParseInLocation(layout, text, n.loc); err == nil {
			return midnight(t, n.loc), true
		}
	}
	for _, layout := range yearlessLayouts {
		if t, err := time.ParseInLocation(layout, text, n.loc); err == nil {
			candidate := time.Date(now.Year(), t.Month(), t.Day(), 0, 0, 0, 0, n.loc)
			if candidate.Before(today) {
				candidate = candidate.AddDate(1, 0, 0)
			}
			return candidate, true
		}
	}

	result, err := n.parser.Parse(text, now)
	if err != nil || result == nil {
		return time.Time{}, false
	}
	return midnight(result.Time.In(n.loc), n.loc), true
}

func midnight(t time.Time, loc *time.Location) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
