package announcement

import (
	"fmt"
	"regexp"
	"strings"
)

// Enhancer enriches a normalized announcement. Implementations must not
// change the ID.
type Enhancer interface {
	Enhance(a Announcement) (Announcement, error)
}

// EnhancerFunc adapts a plain function to Enhancer.
type EnhancerFunc func(a Announcement) (Announcement, error)

func (f EnhancerFunc) Enhance(a Announcement) (Announcement, error) { return f(a) }

// SafeEnhance runs e and falls back to a when e fails, panics or tries to
// change the identity. The returned error reports what went wrong.
func SafeEnhance(e Enhancer, a Announcement) (out Announcement, err error) {
	if e == nil {
		return a, nil
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = a, fmt.Errorf("enhancer panic: %v", r)
		}
	}()
	got, err := e.Enhance(a)
	if err != nil {
		return a, err
	}
	if got.ID != a.ID {
		return a, fmt.Errorf("enhancer changed id %q to %q", a.ID, got.ID)
	}
	return got, nil
}

var (
	categoryLine  = regexp.MustCompile(`(?i)\*\*\s*category\s*:?\s*\*\*\s*:?\s*([^\n*]+)`)
	sentimentLine = regexp.MustCompile(`(?i)\*\*\s*sentiment\s*:?\s*\*\*\s*:?\s*(positive|negative|neutral)`)
)

var (
	positiveWords = []string{"profit", "growth", "record", "order win", "new order", "approval", "upgrade", "dividend", "bonus", "expansion", "increase"}
	negativeWords = []string{"loss", "decline", "downgrade", "penalty", "litigation", "default", "insolvency", "resignation", "closure", "suspension", "fraud"}
)

// DefaultEnhancer fills category and sentiment from the AI summary markers
// ("**Category:** X", "**Sentiment:** Y"), falls back to a keyword vote for
// sentiment, and sets DisplayDate.
type DefaultEnhancer struct{}

func (DefaultEnhancer) Enhance(a Announcement) (Announcement, error) {
	text := a.Summary
	if a.Category == "" || a.Category == DefaultCategory {
		if m := categoryLine.FindStringSubmatch(text); m != nil {
			if c := strings.TrimSpace(m[1]); c != "" {
				a.Category = c
			}
		}
	}
	if a.Sentiment == "" || a.Sentiment == Neutral {
		if m := sentimentLine.FindStringSubmatch(text); m != nil {
			a.Sentiment = Sentiment(strings.ToUpper(m[1][:1]) + strings.ToLower(m[1][1:]))
		} else {
			a.Sentiment = keywordSentiment(text)
		}
	}
	a.DisplayDate = FormatDisplayDate(a.Date)
	return a, nil
}

func keywordSentiment(text string) Sentiment {
	lower := strings.ToLower(text)
	score := 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			score++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			score--
		}
	}
	switch {
	case score > 0:
		return Positive
	case score < 0:
		return Negative
	default:
		return Neutral
	}
}
