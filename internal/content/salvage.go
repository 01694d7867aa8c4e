package content

import (
	"github.com/ajitpratap0/cityscope/internal/models"
)

// metadataContainers are the provider metadata keys that may carry a
// search_results list, in lookup order.
var metadataContainers = []string{"raw", "providerResponse", "additional_kwargs"}

// SalvageSources extracts web citations from provider metadata.
// The first container whose search_results list is well-formed wins.
// Entries without an http(s) URL are dropped. Returns an empty slice when
// nothing usable is found.
func SalvageSources(meta map[string]any) []models.NewsItem {
	for _, key := range metadataContainers {
		container, ok := meta[key].(map[string]any)
		if !ok {
			continue
		}
		items, ok := searchResults(container["search_results"])
		if !ok {
			continue
		}
		out := make([]models.NewsItem, 0, len(items))
		for _, it := range items {
			if isURL(it.URL) && it.Title != "" {
				out = append(out, it)
			}
		}
		return out
	}
	return []models.NewsItem{}
}

// searchResults accepts a list only if every element has string title and
// url fields and an optional string date.
func searchResults(v any) ([]models.NewsItem, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]models.NewsItem, 0, len(arr))
	for _, el := range arr {
		obj, ok := el.(map[string]any)
		if !ok {
			return nil, false
		}
		title, ok1 := obj["title"].(string)
		link, ok2 := obj["url"].(string)
		if !ok1 || !ok2 {
			return nil, false
		}
		item := models.NewsItem{Title: title, URL: link}
		switch d := obj["date"].(type) {
		case nil:
		case string:
			item.Date = &d
		default:
			return nil, false
		}
		out = append(out, item)
	}
	return out, true
}
