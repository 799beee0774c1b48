package audit

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extract parses the HTML and pulls the content signals used by listing
// health reports.
func Extract(html []byte) (title string, headings []string, textLength int, images []ImageInfo, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", nil, 0, nil, fmt.Errorf("parse html: %w", err)
	}

	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find("h1, h2").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			headings = append(headings, text)
		}
	})

	textLength = len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))

	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		alt, hasAlt := sel.Attr("alt")
		info := ImageInfo{
			Src:        src,
			Alt:        alt,
			Width:      intAttr(sel, "width"),
			Height:     intAttr(sel, "height"),
			AltMissing: !hasAlt || strings.TrimSpace(alt) == "",
		}
		images = append(images, info)
	})

	return title, headings, textLength, images, nil
}

func intAttr(sel *goquery.Selection, name string) int {
	raw, ok := sel.Attr(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(raw), "px"))
	if err != nil {
		return 0
	}
	return n
}
