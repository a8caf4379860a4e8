package moderation

import (
	"bytes"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/russross/blackfriday/v2"
	"golang.org/x/net/html"
)

// Normalizer turns a ContentItem into an AnalysisRequest.
type Normalizer struct {
	base *url.URL
	now  func() time.Time
}

// NewNormalizer creates a Normalizer that resolves relative links against baseURL.
func NewNormalizer(baseURL string) (*Normalizer, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return &Normalizer{base: base, now: time.Now}, nil
}

// BuildRequest produces the fields title (first posts only), post and
// image-1..N in that order. Attachments come before images in the text.
func (n *Normalizer) BuildRequest(item *ContentItem) AnalysisRequest {
	var fields []Field
	if item.IsFirstPost && item.TopicTitle != "" {
		fields = append(fields, Field{Name: "title", Kind: FieldText, Value: item.TopicTitle})
	}
	fields = append(fields, Field{Name: "post", Kind: FieldText, Value: item.Raw})
	for i, src := range n.images(item) {
		fields = append(fields, Field{Name: "image-" + strconv.Itoa(i+1), Kind: FieldImage, Value: src})
	}

	req := AnalysisRequest{
		Fields:       fields,
		MetadataLink: n.link(item),
		DoNotStore:   false,
	}
	if item.AuthorID > 0 {
		req.AuthorID = strconv.FormatInt(item.AuthorID, 10)
	}
	if item.TopicID > 0 {
		req.ContextID = strconv.FormatInt(item.TopicID, 10)
	}
	if item.ID > 0 {
		req.ContentID = strconv.FormatInt(item.ID, 10)
	} else {
		req.ContentID = "pending_" + strconv.FormatInt(n.now().Unix(), 10)
	}
	return req
}

func (n *Normalizer) link(item *ContentItem) string {
	if item.URL != "" {
		return item.URL
	}
	post := ""
	if item.ID > 0 {
		post = strconv.FormatInt(item.ID, 10)
	}
	return fmt.Sprintf("%s/t/%d/%s", n.base.String(), item.TopicID, post)
}

// images returns the item's attachments followed by the images in its text,
// each absolute URL once.
func (n *Normalizer) images(item *ContentItem) []string {
	var images []string
	seen := make(map[string]bool)
	add := func(abs string) {
		if !seen[abs] {
			seen[abs] = true
			images = append(images, abs)
		}
	}
	for _, src := range item.ImageURLs {
		if abs, ok := n.resolve(src); ok {
			add(abs)
		}
	}
	for _, abs := range n.ExtractImages(item.Raw) {
		add(abs)
	}
	return images
}

// ExtractImages renders raw as Markdown and returns the absolute URLs of
// its images in document order, without duplicates.
func (n *Normalizer) ExtractImages(raw string) []string {
	cooked := blackfriday.Run([]byte(raw))

	var images []string
	seen := make(map[string]bool)
	z := html.NewTokenizer(bytes.NewReader(cooked))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return images
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		if tok.Data != "img" {
			continue
		}
		for _, attr := range tok.Attr {
			if attr.Key != "src" {
				continue
			}
			abs, ok := n.resolve(attr.Val)
			if ok && !seen[abs] {
				seen[abs] = true
				images = append(images, abs)
			}
		}
	}
}

func (n *Normalizer) resolve(src string) (string, bool) {
	src = strings.TrimSpace(src)
	if src == "" {
		return "", false
	}
	u, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return purell.NormalizeURL(n.base.ResolveReference(u), purell.FlagsSafe), true
}
