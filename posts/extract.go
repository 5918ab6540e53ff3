package posts

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Zero-width space placed after every @ so stored text can never mention anyone.
const mentionBreaker = "@\u200B"

// ExtractToot turns a status' HTML content into plain text.
func ExtractToot(content string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("failed to parse status content: %w", err)
	}

	// goquery Text() will not turn br or p into newlines
	doc.Find("br").ReplaceWithHtml("\n")

	doc.Find("a").Each(func(i int, s *goquery.Selection) {
		switch {
		case s.HasClass("mention"), s.HasClass("hashtag"):
			s.ReplaceWithHtml(escape(s.Text()))
		default:
			href, ok := s.Attr("href")
			if !ok {
				href = s.Text()
			}
			s.ReplaceWithHtml(escape(href))
		}
	})

	var paragraphs []string
	body := doc.Find("body")
	if ps := body.Find("p"); ps.Length() > 0 {
		ps.Each(func(i int, s *goquery.Selection) {
			paragraphs = append(paragraphs, strings.TrimSpace(s.Text()))
		})
	} else {
		paragraphs = append(paragraphs, strings.TrimSpace(body.Text()))
	}

	text := strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
	return strings.ReplaceAll(text, "@", mentionBreaker), nil
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
