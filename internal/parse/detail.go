package parse

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kibblewatch/crawler/internal/crawler"
)

// Breed-size labels as they appear in the detail page's attributes table.
const (
	labelXSmallBreeds = "Extra Small & Toy Breeds"
	labelSmallBreeds  = "Small Breeds"
	labelMediumBreeds = "Medium Breeds"
	labelLargeBreeds  = "Large Breeds"
	labelGiantBreeds  = "Giant Breeds"
)

// Detail extracts a food record and its diet tags from a detail page.
// Item number and ingredients are required; any extraction failure abandons
// the whole page so no partial record is ever stored.
func (p *Parser) Detail(body []byte, pageURL string) (crawler.Food, []string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.Food{}, nil, fmt.Errorf("parse detail page: %w", err)
	}

	food := crawler.Food{URL: crawler.CanonicalURL(pageURL)}

	itemText := attributeValue(doc, "Item Number")
	if itemText == "" {
		return crawler.Food{}, nil, fmt.Errorf("item number not found on %s", pageURL)
	}
	food.ItemNumber, err = strconv.Atoi(strings.TrimSpace(itemText))
	if err != nil {
		return crawler.Food{}, nil, fmt.Errorf("parse item number %q: %w", itemText, err)
	}

	food.Ingredients = strings.TrimSpace(doc.Find("section#nutritional-info p").First().Text())
	if food.Ingredients == "" {
		return crawler.Food{}, nil, fmt.Errorf("ingredients not found on %s", pageURL)
	}

	food.Brand = strings.TrimSpace(doc.Find(`span[itemprop="brand"]`).First().Text())

	for _, size := range splitList(attributeValue(doc, "Breed Size")) {
		switch size {
		case labelXSmallBreeds:
			food.XSmallBreed = true
		case labelSmallBreeds:
			food.SmallBreed = true
		case labelMediumBreeds:
			food.MediumBreed = true
		case labelLargeBreeds:
			food.LargeBreed = true
		case labelGiantBreeds:
			food.GiantBreed = true
		}
	}

	food.FoodForm = attributeValue(doc, "Food Form")
	food.Lifestage = attributeValue(doc, "Lifestage")

	diets := splitList(attributeValue(doc, "Special Diet"))

	return food, diets, nil
}

// attributeValue looks up a row of the detail page's attributes table by
// its title and returns the trimmed value text, or "" when absent.
func attributeValue(doc *goquery.Document, title string) string {
	var value string
	doc.Find("ul.attributes li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Find(".title").Text()) == title {
			value = strings.TrimSpace(s.Find(".value").Text())
			return false
		}
		return true
	})
	return value
}

func splitList(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
