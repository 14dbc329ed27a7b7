package feed

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Entry is the normalized view of one feed item.
type Entry struct {
	GUID        string
	Title       string
	Summary     string
	Description string
	Link        string
	Author      string
	Thumbnail   string
	Published   time.Time
}

// ContentHash fingerprints the fields whose change warrants an edit.
func (e *Entry) ContentHash() string {
	sum := md5.Sum([]byte(strings.Join([]string{
		e.Title, e.Summary, e.Description, e.Link,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

var imgRe = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)

// ExtractEntries normalizes parsed feed items, preserving feed order.
func ExtractEntries(parsed *gofeed.Feed) []*Entry {
	entries := make([]*Entry, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		entries = append(entries, extractEntry(item))
	}
	return entries
}

func extractEntry(item *gofeed.Item) *Entry {
	e := &Entry{
		Title:       strings.TrimSpace(item.Title),
		Summary:     strings.TrimSpace(item.Description),
		Description: strings.TrimSpace(item.Content),
		Link:        strings.TrimSpace(item.Link),
	}

	// GUID preference: explicit id, then link, then any alternate link.
	switch {
	case item.GUID != "":
		e.GUID = item.GUID
	case item.Link != "":
		e.GUID = item.Link
	case len(item.Links) > 0:
		e.GUID = item.Links[0]
	}

	if item.PublishedParsed != nil {
		e.Published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		e.Published = *item.UpdatedParsed
	}

	if len(item.Authors) > 0 && item.Authors[0] != nil {
		e.Author = item.Authors[0].Name
	}

	e.Thumbnail = staticThumbnail(item)
	return e
}

// staticThumbnail walks the parts of the thumbnail search order that need
// no network: media extensions, enclosures, feed-declared images, inline
// <img> tags. Network fallbacks (Bluesky, OpenGraph) live in the engine.
func staticThumbnail(item *gofeed.Item) string {
	if url := mediaExtensionURL(item, "thumbnail"); url != "" {
		return url
	}
	if url := mediaExtensionURL(item, "content"); url != "" {
		return url
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if m := imgRe.FindStringSubmatch(item.Content); m != nil {
		return m[1]
	}
	if m := imgRe.FindStringSubmatch(item.Description); m != nil {
		return m[1]
	}
	return ""
}

func mediaExtensionURL(item *gofeed.Item, name string) string {
	media, ok := item.Extensions["media"]
	if !ok {
		return ""
	}
	for _, ext := range media[name] {
		if url := ext.Attrs["url"]; url != "" {
			// media:content may carry video; only take declared images
			// or bare urls.
			if t, ok := ext.Attrs["type"]; ok && !strings.HasPrefix(t, "image/") {
				continue
			}
			return url
		}
	}
	return ""
}

// TemplateVars exposes every entry field to the placeholder formatter.
func (e *Entry) TemplateVars(tz *time.Location) map[string]string {
	published := ""
	publishedCustom := ""
	if !e.Published.IsZero() {
		published = e.Published.UTC().Format(time.RFC3339)
		if tz != nil {
			publishedCustom = e.Published.In(tz).Format("02.01.2006 15:04")
		}
	}
	summary := e.Summary
	if summary == "" {
		summary = e.Description
	}
	return map[string]string{
		"guid":             e.GUID,
		"title":            e.Title,
		"summary":          summary,
		"description":      e.Description,
		"link":             e.Link,
		"author":           e.Author,
		"thumbnail":        e.Thumbnail,
		"published":        published,
		"published_custom": publishedCustom,
	}
}
