package searchapi

import "strconv"

// Record is one opaque lead row from the upstream. Field layout is
// upstream-defined; records pass through the harvester untouched.
type Record map[string]any

// Pagination describes the upstream cursor state for one page.
type Pagination struct {
	Total   int  `json:"total"`
	Count   int  `json:"count"`
	Start   int  `json:"start"`
	HasMore bool `json:"hasMore"`

	// HasMoreSet reports whether the upstream sent hasMore itself. When false
	// the fetcher derives HasMore from Start+Count < Total.
	HasMoreSet bool `json:"-"`
}

// PageResult is one normalized page of search results.
type PageResult struct {
	Records    []Record
	Pagination Pagination
}

// normalizePayload extracts the record list from a decoded response body.
// Upstream endpoints disagree about nesting, so the known shapes are checked
// in order: a response.data array, a data.data array, then data itself as an
// array. The pagination object adjacent to the matched list rides along when
// present. No list at all is a valid empty page, not an error.
func normalizePayload(payload map[string]any) *PageResult {
	if payload == nil {
		return &PageResult{}
	}

	if response, ok := payload["response"].(map[string]any); ok {
		if records, ok := recordList(response["data"]); ok {
			return &PageResult{Records: records, Pagination: paginationOf(response)}
		}
	}

	if data, ok := payload["data"].(map[string]any); ok {
		if records, ok := recordList(data["data"]); ok {
			return &PageResult{Records: records, Pagination: paginationOf(data)}
		}
	}

	if records, ok := recordList(payload["data"]); ok {
		return &PageResult{Records: records, Pagination: paginationOf(payload)}
	}

	return &PageResult{}
}

// recordList converts a decoded JSON array into records, preserving order.
func recordList(v any) ([]Record, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	records := make([]Record, 0, len(arr))
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			// Rows that are not objects carry nothing usable.
			continue
		}
		records = append(records, Record(m))
	}
	return records, true
}

// paginationOf reads the pagination object next to the matched record list.
func paginationOf(container map[string]any) Pagination {
	p := Pagination{}
	pg, ok := container["pagination"].(map[string]any)
	if !ok {
		return p
	}
	p.Total = intField(pg, "total")
	p.Count = intField(pg, "count")
	p.Start = intField(pg, "start")
	if hasMore, ok := pg["hasMore"].(bool); ok {
		p.HasMore = hasMore
		p.HasMoreSet = true
	}
	return p
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}
