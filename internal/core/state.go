package core

import (
	"strconv"
	"strings"

	"dispatch/internal/model"
)

// Marker is the styling class of the status line.
type Marker string

const (
	MarkerNone    Marker = ""
	MarkerSuccess Marker = "success"
	MarkerError   Marker = "error"
)

// Status line texts that are not a response status.
const (
	StatusIdle    = "-"
	StatusSending = "Sending..."
	StatusError   = "Error"
)

// ResponseView is the response pane.
type ResponseView struct {
	Status  string
	Marker  Marker
	Headers string
	Body    string
	Time    string
	Size    int64
}

// HistoryRow is one entry of the visible history list.
type HistoryRow struct {
	ID     int64
	Method string
	URL    string
	Status string
	Marker Marker
}

// State is the read model owned by the loop.
type State struct {
	Draft    model.RequestDraft
	Busy     bool
	InFlight int
	Response ResponseView

	// LastSeq is the sequence number of the most recently dispatched send.
	LastSeq uint64

	History            []HistoryRow
	Collections        []model.Collection
	SelectedCollection int64
	CollectionItems    []model.CollectionItem
}

func initialState() State {
	return State{
		Draft:    model.RequestDraft{Method: model.GET},
		Response: ResponseView{Status: StatusIdle},
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	s.Draft = s.Draft.Clone()
	s.History = append([]HistoryRow(nil), s.History...)
	s.Collections = append([]model.Collection(nil), s.Collections...)
	s.CollectionItems = append([]model.CollectionItem(nil), s.CollectionItems...)
	return s
}

// Snapshot is a published copy of State. Version increases with every
// applied action.
type Snapshot struct {
	State
	Cause   Kind
	Version uint64
}

// classify maps a status code to its marker.
func classify(code int) Marker {
	if model.IsSuccessStatus(code) {
		return MarkerSuccess
	}
	return MarkerError
}

// ClassifyStatusLine classifies a stored status line such as "404 Not Found".
func ClassifyStatusLine(status string) Marker {
	fields := strings.Fields(status)
	if len(fields) == 0 {
		return MarkerError
	}
	code, err := strconv.Atoi(fields[0])
	if err != nil {
		return MarkerError
	}
	return classify(code)
}
