package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Getter is the plain-HTTP slice of the fetcher used for thumbnail
// fallbacks.
type Getter interface {
	Get(ctx context.Context, url string, accept string) ([]byte, error)
}

const blueskyAPI = "https://public.api.bsky.app/xrpc/app.bsky.feed.getPosts"

var blueskyPostRe = regexp.MustCompile(`bsky\.app/profile/([^/]+)/post/([A-Za-z0-9]+)`)

// IsBlueskyFeed reports whether a feed URL is a Bluesky profile feed.
func IsBlueskyFeed(feedURL string) bool {
	return strings.Contains(feedURL, "bsky.app/profile/")
}

// blueskyThumbnail dereferences a Bluesky post link through the public API
// and returns the first attached image, if any.
func blueskyThumbnail(ctx context.Context, getter Getter, link string) string {
	m := blueskyPostRe.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	atURI := fmt.Sprintf("at://%s/app.bsky.feed.post/%s", m[1], m[2])

	body, err := getter.Get(ctx, blueskyAPI+"?uris="+url.QueryEscape(atURI), "application/json")
	if err != nil {
		return ""
	}

	var resp struct {
		Posts []struct {
			Embed struct {
				Images []struct {
					Thumb    string `json:"thumb"`
					Fullsize string `json:"fullsize"`
				} `json:"images"`
			} `json:"embed"`
		} `json:"posts"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	for _, post := range resp.Posts {
		for _, img := range post.Embed.Images {
			if img.Fullsize != "" {
				return img.Fullsize
			}
			if img.Thumb != "" {
				return img.Thumb
			}
		}
	}
	return ""
}

var ogImageRe = []*regexp.Regexp{
	regexp.MustCompile(`<meta[^>]+property=["']og:image["'][^>]+content=["']([^"']+)["']`),
	regexp.MustCompile(`<meta[^>]+content=["']([^"']+)["'][^>]+property=["']og:image["']`),
}

// openGraphThumbnail scrapes og:image from the entry's link page. Last
// resort in the thumbnail search order.
func openGraphThumbnail(ctx context.Context, getter Getter, link string) string {
	if link == "" {
		return ""
	}
	body, err := getter.Get(ctx, link, "text/html")
	if err != nil {
		return ""
	}
	head := body
	if len(head) > 64<<10 {
		head = head[:64<<10]
	}
	for _, re := range ogImageRe {
		if m := re.FindSubmatch(head); m != nil {
			return string(m[1])
		}
	}
	return ""
}
