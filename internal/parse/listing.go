// Package parse extracts structured data from listing and detail pages.
// The selectors are specific to the retailer's markup and are the part of
// the system expected to break when the site changes.
package parse

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Parser implements the listing-page and detail-page extraction contracts.
type Parser struct{}

// New constructs a Parser.
func New() *Parser {
	return &Parser{}
}

// ProductLinks returns the detail-page hrefs linked from a listing page.
func (p *Parser) ProductLinks(body []byte) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing page: %w", err)
	}

	var links []string
	doc.Find("a.product").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			links = append(links, href)
		}
	})
	return links, nil
}

// ResultTotals parses the listing page's result-count line into the page
// size and the total result count.
func (p *Parser) ResultTotals(body []byte) (int, int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("parse listing page: %w", err)
	}
	text := doc.Find("p.results-count").First().Text()
	if strings.TrimSpace(text) == "" {
		return 0, 0, fmt.Errorf("result-count line not found")
	}
	return ParseResultTotals(text)
}

// ParseResultTotals parses a whitespace-normalized result-count line of the
// form "1 - 36 of 3513 Results": the page size and total sit at fixed token
// positions.
func ParseResultTotals(text string) (int, int, error) {
	fields := strings.Fields(text)
	if len(fields) < 5 {
		return 0, 0, fmt.Errorf("malformed result-count line %q", text)
	}
	pageSize, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, fmt.Errorf("parse page size from %q: %w", text, err)
	}
	total, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0, 0, fmt.Errorf("parse total count from %q: %w", text, err)
	}
	if pageSize <= 0 || total < 0 {
		return 0, 0, fmt.Errorf("implausible result counts in %q", text)
	}
	return pageSize, total, nil
}
