package feed

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/herald-labs/herald/internal/chat"
)

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// DefaultTemplate is used when a feed has no template configured.
const DefaultTemplate = `{
  "title": "{title}",
  "description": "{summary}",
  "url": "{link}",
  "image": {"url": "{thumbnail}"},
  "footer": {"text": "{published_custom}"}
}`

// BlueskyTemplate renders profile-feed posts; they carry no usable title.
const BlueskyTemplate = `{
  "title": "{author} just posted on Bluesky",
  "description": "{summary}",
  "url": "{link}",
  "image": {"url": "{thumbnail}"},
  "footer": {"text": "{published_custom}"}
}`

// RenderTemplate formats every string leaf of the template tree with vars.
// Unknown placeholders resolve to the empty string; after formatting,
// empty leaves and empty branches are pruned so the embed never shows
// hollow fields.
func RenderTemplate(raw json.RawMessage, vars map[string]string) (*chat.Embed, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(DefaultTemplate)
	}

	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("invalid embed template: %w", err)
	}

	rendered := renderNode(tree, vars)
	rendered = prune(rendered)
	if rendered == nil {
		rendered = map[string]any{}
	}

	out, err := json.Marshal(rendered)
	if err != nil {
		return nil, err
	}
	var embed chat.Embed
	if err := json.Unmarshal(out, &embed); err != nil {
		return nil, fmt.Errorf("template does not describe an embed: %w", err)
	}
	return &embed, nil
}

func renderNode(node any, vars map[string]string) any {
	switch v := node.(type) {
	case string:
		return placeholderRe.ReplaceAllStringFunc(v, func(m string) string {
			name := m[1 : len(m)-1]
			return vars[name]
		})
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = renderNode(child, vars)
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, child := range v {
			out = append(out, renderNode(child, vars))
		}
		return out
	default:
		// numbers, bools, nulls pass through untouched
		return v
	}
}

// prune removes empty strings, nils, and branches that end up empty.
// Rendered strings are trimmed so vanished placeholders leave no stray
// whitespace behind.
func prune(node any) any {
	switch v := node.(type) {
	case string:
		v = strings.TrimSpace(v)
		if v == "" {
			return nil
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			if cleaned := prune(child); cleaned != nil {
				out[k] = cleaned
			}
		}
		// A field object whose value rendered empty is hollow even when
		// its name survived; drop it whole.
		if _, had := v["value"]; had {
			if _, ok := out["value"]; !ok {
				return nil
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, child := range v {
			if cleaned := prune(child); cleaned != nil {
				out = append(out, cleaned)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case nil:
		return nil
	default:
		return v
	}
}
