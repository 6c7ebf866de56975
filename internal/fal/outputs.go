package fal

import (
	"encoding/json"
	"sort"
	"strings"
)

// OutputURLs collects media URLs from a workflow result. Results nest
// outputs as {"url": ...} objects under arbitrary keys, e.g.
// {"images":[{"url":"..."}]} or {"video":{"url":"..."}}.
func OutputURLs(result json.RawMessage) []string {
	var doc any
	if err := json.Unmarshal(result, &doc); err != nil {
		return nil
	}
	var urls []string
	seen := make(map[string]struct{})
	collectURLs(doc, &urls, seen)
	return urls
}

func collectURLs(node any, urls *[]string, seen map[string]struct{}) {
	switch v := node.(type) {
	case map[string]any:
		if raw, ok := v["url"].(string); ok && isHTTPURL(raw) {
			if _, dup := seen[raw]; !dup {
				seen[raw] = struct{}{}
				*urls = append(*urls, raw)
			}
		}
		// Map iteration order is random; walk keys sorted for stable output.
		keys := make([]string, 0, len(v))
		for k := range v {
			if k != "url" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectURLs(v[k], urls, seen)
		}
	case []any:
		for _, item := range v {
			collectURLs(item, urls, seen)
		}
	}
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}
