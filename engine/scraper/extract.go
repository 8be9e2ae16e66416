package scraper

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/avenhq/support-engine/engine/domain"
)

// introMarker delimits the page's FAQ region. Everything before it is nav and
// hero boilerplate; if it is absent the page yields zero FAQs, not an error.
const introMarker = "How can we help?"

// minFieldLength guards against mis-segmented fragments: both question and
// answer must exceed it.
const minFieldLength = 5

var (
	// Category sections are introduced by level-5 markdown headings.
	headingRe = regexp.MustCompile(`(?m)^#{5}\s+(.+)$`)
	// A Q/A pair opens with a dash bullet at line start.
	bulletRe = regexp.MustCompile(`(?m)^[ \t]*-[ \t]+`)

	imageRe  = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	iframeRe = regexp.MustCompile(`(?is)<iframe[^>]*>(?:.*?</iframe>)?`)
	linkRe   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// expandTokens are UI control artifacts the text extraction leaves behind.
var expandTokens = []string{"expand_more", "expand_less", "keyboard_arrow_down"}

// categoryHeadings maps section heading text to the canonical category.
// Headings not listed here are skipped along with their content; unexpected
// future sections are ignored rather than misfiled.
var categoryHeadings = map[string]domain.Category{
	"Trending Articles": domain.CategoryTrending,
	"Before You Apply":  domain.CategoryBeforeYouApply,
	"Application":       domain.CategoryApplication,
	"Applying":          domain.CategoryApplication,
	"Payments":          domain.CategoryPayments,
	"Making Payments":   domain.CategoryPayments,
	"Account":           domain.CategoryAccount,
	"My Account":        domain.CategoryAccount,
	"Aven Card":         domain.CategoryCard,
	"Card":              domain.CategoryCard,
	"Debt Protection":   domain.CategoryDebtProtection,
	"Online Notary":     domain.CategoryOnlineNotary,
}

// Extractor turns raw page text into ordered FAQ candidates. It never fails on
// malformed input; unmatched sections and fragments are skipped and logged.
type Extractor struct {
	log *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(log *slog.Logger) *Extractor {
	if log == nil {
		log = slog.Default()
	}
	return &Extractor{log: log}
}

// Extract parses raw page text into category-tagged FAQ records with
// sequential ids scoped to this call.
func (e *Extractor) Extract(raw string) ([]domain.FAQItem, Stats) {
	var stats Stats

	_, content, found := strings.Cut(raw, introMarker)
	if !found {
		e.log.Warn("scraper: intro marker absent, nothing to extract")
		return nil, stats
	}
	content = stripBoilerplate(content)

	var items []domain.FAQItem
	seq := 0

	headings := headingRe.FindAllStringSubmatchIndex(content, -1)
	stats.TotalSections = len(headings)
	for i, h := range headings {
		name := strings.TrimSpace(content[h[2]:h[3]])
		category, ok := categoryHeadings[name]
		if !ok {
			stats.SkippedSections++
			e.log.Info("scraper: skipping unrecognised section", "heading", name)
			continue
		}

		end := len(content)
		if i+1 < len(headings) {
			end = headings[i+1][0]
		}
		section := content[h[1]:end]

		pairs := splitPairs(section)
		stats.TotalPairs += len(pairs)
		for _, p := range pairs {
			question := collapseWhitespace(flattenLinks(p.question))
			answer := collapseWhitespace(flattenLinks(p.answer))
			if len(question) <= minFieldLength || len(answer) <= minFieldLength {
				e.log.Info("scraper: dropping short fragment", "category", category, "question", question)
				continue
			}
			seq++
			items = append(items, domain.FAQItem{
				ID:       fmt.Sprintf("aven_faq_%d", seq),
				Category: category,
				Question: question,
				Answer:   answer,
			})
		}
	}

	stats.AcceptedPairs = len(items)
	return items, stats
}

type rawPair struct {
	question string
	answer   string
}

// splitPairs splits a category section into question/answer pairs on dash
// bullets. The question runs from the bullet to the FIRST "?" — not to the end
// of the line, because source content sometimes continues the answer on the
// same visual line. A run of whitespace-separated "?" immediately after the
// first one is absorbed into the question; the scraped source contains stray
// "?" artifacts from expand-control icons and this reproduces the upstream
// split behaviour rather than guessing a cleanup.
func splitPairs(section string) []rawPair {
	bullets := bulletRe.FindAllStringIndex(section, -1)
	var pairs []rawPair

	for i, b := range bullets {
		end := len(section)
		if i+1 < len(bullets) {
			end = bullets[i+1][0]
		}
		segment := section[b[1]:end]

		q := strings.IndexByte(segment, '?')
		if q == -1 {
			continue
		}
		question := segment[:q+1]
		rest := segment[q+1:]

		// Absorb stray "?" runs into the question.
		for {
			trimmed := strings.TrimLeft(rest, " \t")
			if !strings.HasPrefix(trimmed, "?") {
				break
			}
			question += "?"
			rest = trimmed[1:]
		}

		pairs = append(pairs, rawPair{question: question, answer: rest})
	}
	return pairs
}

func stripBoilerplate(s string) string {
	s = imageRe.ReplaceAllString(s, "")
	s = iframeRe.ReplaceAllString(s, "")
	for _, tok := range expandTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	return s
}

// flattenLinks converts markdown links to plain text, keeping the link text.
func flattenLinks(s string) string {
	return linkRe.ReplaceAllString(s, "$1")
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
