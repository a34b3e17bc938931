package extract

import (
	"strings"
	"unicode"

	"upgradewatch/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
)

type counter int

const (
	counterCapacity counter = iota
	counterAvailable
	counterCheckedIn
)

var counterKeywords = []struct {
	counter  counter
	keywords []string
}{
	{counterCheckedIn, []string{"checked in", "checked-in", "checkedin"}},
	{counterAvailable, []string{"available"}},
	{counterCapacity, []string{"capacity"}},
}

// fuzzyThreshold is the minimum Jaro-Winkler similarity for a label that
// contains none of the keywords to still count as a match.
const fuzzyThreshold = 0.9

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || r == ' ' {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// matchLabel maps label text to a counter, first by substring then by
// fuzzy similarity.
func matchLabel(label string) (counter, bool) {
	norm := strings.ToLower(htmlutil.CleanText(label))
	if norm == "" {
		return 0, false
	}
	for _, c := range counterKeywords {
		for _, keyword := range c.keywords {
			if strings.Contains(norm, keyword) {
				return c.counter, true
			}
		}
	}

	letters := lettersOnly(norm)
	if letters == "" {
		return 0, false
	}
	best := 0.0
	var bestCounter counter
	for _, c := range counterKeywords {
		for _, keyword := range c.keywords {
			score := matchr.JaroWinkler(letters, keyword, false)
			if score > best {
				best = score
				bestCounter = c.counter
			}
		}
	}
	if best < fuzzyThreshold {
		return 0, false
	}
	return bestCounter, true
}

const labelSelector = `dt, label, [class*="label"], [data-label]`

// labelValue reads the integer belonging to a label, from a data-value
// attribute, the label's own text or the next sibling element. A sibling
// that is itself a label belongs to another counter.
func labelValue(label *goquery.Selection) (int, bool) {
	if v, ok := label.Attr("data-value"); ok {
		if n, ok := htmlutil.FirstInt(v); ok {
			return n, true
		}
	}
	if n, ok := htmlutil.FirstInt(htmlutil.Text(label)); ok {
		return n, true
	}
	if next := label.Next(); next.Length() > 0 && !next.Is(labelSelector) {
		return htmlutil.FirstInt(htmlutil.Text(next))
	}
	return 0, false
}

func labelText(label *goquery.Selection) string {
	if v, ok := label.Attr("data-label"); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return htmlutil.Text(label)
}

type counters struct {
	capacity  *int
	available *int
	checkedIn *int
}

// readCounters scans panel for labeled numeric fields, the first label that
// yields a value wins for each counter.
func readCounters(panel *goquery.Selection) counters {
	var out counters
	panel.Find(labelSelector).Each(func(_ int, label *goquery.Selection) {
		c, ok := matchLabel(labelText(label))
		if !ok {
			return
		}
		var target **int
		switch c {
		case counterCapacity:
			target = &out.capacity
		case counterAvailable:
			target = &out.available
		case counterCheckedIn:
			target = &out.checkedIn
		}
		if *target != nil {
			return
		}
		value, ok := labelValue(label)
		if !ok {
			return
		}
		*target = &value
	})
	return out
}
