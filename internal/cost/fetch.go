package cost

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tuskdev/tusk/internal/errors"
)

// DefaultPricingURL is the published model pricing page scraped by
// pricing-update.
const DefaultPricingURL = "https://docs.anthropic.com/en/docs/about-claude/pricing"

var dollarFigure = regexp.MustCompile(`\$([0-9]+(?:\.[0-9]+)?)`)

// FetchPricing scrapes the pricing page into a catalog. Rows need a
// recognizable model name and at least five dollar figures in the
// documented column order: input, 5m cache write, 1h cache write,
// cache read, output.
func FetchPricing(ctx context.Context, url string) (*Pricing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &errors.TuskError{
			Code:  errors.CodeFetchFailed,
			What:  "pricing page fetch failed",
			Fix:   "retry, or load rates from a saved page with --from-file",
			Cause: err,
		}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &errors.TuskError{
			Code: errors.CodeFetchFailed,
			What: fmt.Sprintf("pricing page returned %s", resp.Status),
			Fix:  "retry, or load rates from a saved page with --from-file",
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse pricing page: %w", err)
	}
	return pricingFromDocument(doc)
}

// ParsePricingHTML builds a catalog from a saved copy of the pricing
// page, for offline updates.
func ParsePricingHTML(r io.Reader) (*Pricing, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse pricing html: %w", err)
	}
	return pricingFromDocument(doc)
}

func pricingFromDocument(doc *goquery.Document) (*Pricing, error) {
	p := &Pricing{Models: map[string]ModelPrice{}}
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		model := modelSlug(strings.TrimSpace(cells.First().Text()))
		if model == "" {
			return
		}
		var figures []float64
		cells.Slice(1, cells.Length()).Each(func(_ int, cell *goquery.Selection) {
			for _, m := range dollarFigure.FindAllStringSubmatch(cell.Text(), -1) {
				if v, err := strconv.ParseFloat(m[1], 64); err == nil {
					figures = append(figures, v)
				}
			}
		})
		if len(figures) < 5 {
			return
		}
		p.Models[model] = ModelPrice{
			Input:        figures[0],
			CacheWrite5m: figures[1],
			CacheWrite1h: figures[2],
			CacheRead:    figures[3],
			Output:       figures[len(figures)-1],
		}
	})
	if len(p.Models) == 0 {
		return nil, &errors.TuskError{
			Code: errors.CodeFetchFailed,
			What: "no model rates found on the pricing page",
			Why:  "the page layout may have changed",
			Fix:  "update manually by editing pricing.json",
		}
	}
	return p, nil
}

// modelSlug normalizes a display name like "Claude Sonnet 4" to the
// API id shape "claude-sonnet-4". Non-Claude rows yield "".
func modelSlug(display string) string {
	s := strings.ToLower(strings.TrimSpace(display))
	if !strings.HasPrefix(s, "claude") {
		return ""
	}
	s = strings.NewReplacer(" ", "-", ".", "-").Replace(s)
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return s
}
