package site

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
)

const caseListingMarker = "Case Listing Details"

// parseListing reads the cause-list table. The first two rows are headers;
// every later row with exactly three cells and a clickable link is a document.
func parseListing(body []byte, base string) ([]causelist.DocumentReference, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w: %w", causelist.ErrMalformedPage, err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse listing base %q: %w", base, err)
	}

	docs := make([]causelist.DocumentReference, 0)
	doc.Find("table#tables11 tr").Each(func(i int, row *goquery.Selection) {
		if i < 2 {
			return
		}
		cells := row.Find("td")
		if cells.Length() != 3 {
			return
		}
		link := cells.Eq(0).Find("a[href]").First()
		if link.Length() == 0 {
			return
		}
		target, ok := onclickTarget(link.AttrOr("onclick", ""))
		if !ok {
			return
		}
		ref, err := baseURL.Parse(target)
		if err != nil {
			return
		}
		listType := strings.TrimSpace(cells.Eq(1).Text())
		mainSup := strings.TrimSpace(cells.Eq(2).Text())
		docs = append(docs, causelist.DocumentReference{
			Name: listType + " | " + mainSup,
			URL:  ref.String(),
		})
	})
	return docs, nil
}

// onclickTarget pulls the first single-quoted literal out of a handler such as
// window.open('cause_list/2024/x.pdf').
func onclickTarget(onclick string) (string, bool) {
	parts := strings.Split(onclick, "'")
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

// findCaseID returns the id embedded in the first anchor pointing at the
// case details page.
func findCaseID(body []byte, marker string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse case search: %w: %w", causelist.ErrMalformedPage, err)
	}
	var caseID string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		if !strings.Contains(href, marker) {
			return true
		}
		_, after, _ := strings.Cut(href, "case_id=")
		if end := strings.IndexAny(after, "&#"); end >= 0 {
			after = after[:end]
		}
		caseID = strings.TrimSpace(after)
		return caseID == ""
	})
	if caseID == "" {
		return "", fmt.Errorf("case anchor: %w", causelist.ErrNotFound)
	}
	return caseID, nil
}

// ExtractCaseListingSection zips the header row two rows below the
// "Case Listing Details" row with the value row beneath it. A missing
// section or a header/value count mismatch yields an empty map.
func ExtractCaseListingSection(html string) map[string]string {
	out := map[string]string{}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return out
	}
	rows := doc.Find("tr")
	marker := -1
	rows.EachWithBreak(func(i int, row *goquery.Selection) bool {
		lead := row.Children().Filter("td, th").First()
		if strings.TrimSpace(lead.Text()) == caseListingMarker {
			marker = i
			return false
		}
		return true
	})
	if marker < 0 || marker+3 >= rows.Length() {
		return out
	}
	headers := cellTexts(rows.Eq(marker + 2))
	values := cellTexts(rows.Eq(marker + 3))
	if len(headers) == 0 || len(headers) != len(values) {
		return out
	}
	for i, h := range headers {
		out[h] = values[i]
	}
	return out
}

func cellTexts(row *goquery.Selection) []string {
	var texts []string
	row.Children().Filter("td, th").Each(func(_ int, c *goquery.Selection) {
		texts = append(texts, strings.TrimSpace(c.Text()))
	})
	return texts
}

// honorifics are stripped, in any order, from the front of a bench name.
var honorifics = []string{
	"hon'ble", "hon’ble", "honble", "hon.", "the", "mr.", "mrs.", "ms.", "dr.", "mr", "mrs", "ms", "dr", "justice",
}

// StripHonorific lowercases name and removes leading titles such as
// "HON'BLE MR. JUSTICE".
func StripHonorific(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	for changed := true; changed; {
		changed = false
		for _, h := range honorifics {
			if !strings.HasPrefix(s, h) {
				continue
			}
			rest := s[len(h):]
			// "mr" must not eat the start of "mrinal".
			if !strings.HasSuffix(h, ".") && rest != "" && rest[0] != ' ' && rest[0] != '.' {
				continue
			}
			s = strings.TrimLeft(rest, " .")
			changed = true
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// matchJudgeOption scans the page's <select> options for the judge.
func matchJudgeOption(body []byte, judgeName string) (causelist.JudgeBinding, error) {
	needle := StripHonorific(judgeName)
	if needle == "" {
		return causelist.JudgeBinding{}, fmt.Errorf("empty judge name: %w", causelist.ErrNotFound)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return causelist.JudgeBinding{}, fmt.Errorf("parse judge page: %w: %w", causelist.ErrMalformedPage, err)
	}
	var binding causelist.JudgeBinding
	doc.Find("select option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
		value := strings.TrimSpace(opt.AttrOr("value", ""))
		text := strings.Join(strings.Fields(opt.Text()), " ")
		if value == "" || !strings.Contains(strings.ToLower(text), needle) {
			return true
		}
		binding = causelist.JudgeBinding{Name: text, Code: value}
		return false
	})
	if binding.Code == "" {
		return causelist.JudgeBinding{}, fmt.Errorf("judge option: %w", causelist.ErrNotFound)
	}
	return binding, nil
}
