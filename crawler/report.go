package crawler

import (
	"encoding/json"
	"slices"
)

// MarshalReport renders a crawl result as JSON.
// Pages are ordered by depth, then URL; the output always ends with a newline.
func MarshalReport(result Result, indent bool) []byte {
	result.Pages = slices.Clone(result.Pages)
	sortPages(result.Pages)

	var (
		data []byte
		err  error
	)

	if indent {
		data, err = json.MarshalIndent(result, "", "  ")
	} else {
		data, err = json.Marshal(result)
	}

	if err != nil {
		data = []byte(`{"error":"failed to marshal report"}`)
	}

	return ensureNewline(data)
}

func ensureNewline(data []byte) []byte {
	if len(data) == 0 || data[len(data)-1] != '\n' {
		return append(data, '\n')
	}

	return data
}

func sortPages(pages []PageRecord) {
	slices.SortStableFunc(pages, func(a, b PageRecord) int {
		if a.Depth != b.Depth {
			return a.Depth - b.Depth
		}

		switch {
		case a.URL < b.URL:
			return -1
		case a.URL > b.URL:
			return 1
		default:
			return 0
		}
	})
}
