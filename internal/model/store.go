package model

import "time"

// HistoryItem is a persisted exchange. The request and response sides are
// kept exactly as they were shown at the time.
type HistoryItem struct {
	ID              int64
	Method          string
	URL             string
	RequestBody     string
	RequestHeaders  string // JSON array of pairs
	ResponseBody    string
	ResponseHeaders string
	Status          string
	Time            string
	Size            int64
	Timestamp       time.Time
}

// Draft rebuilds the request side of the item. Unknown methods and
// unreadable header JSON degrade to GET and an empty header set.
func (h HistoryItem) Draft() RequestDraft {
	m, _ := ParseMethod(h.Method)
	headers, _ := DecodeHeaders(h.RequestHeaders)
	return RequestDraft{Method: m, URL: h.URL, Body: h.RequestBody, Headers: headers}
}

// Collection is a named folder of saved requests.
type Collection struct {
	ID   int64
	Name string
}

// CollectionItem is a saved request template. It has no response side.
type CollectionItem struct {
	ID           int64
	CollectionID int64
	Name         string
	Method       string
	URL          string
	Body         string
	Headers      string // JSON array of pairs
}

// Draft rebuilds the request stored in the item.
func (c CollectionItem) Draft() RequestDraft {
	m, _ := ParseMethod(c.Method)
	headers, _ := DecodeHeaders(c.Headers)
	return RequestDraft{Method: m, URL: c.URL, Body: c.Body, Headers: headers}
}

// Alias maps a short name to a base URL.
type Alias struct {
	Name string
	URL  string
}
