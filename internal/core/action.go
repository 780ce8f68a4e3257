package core

import "dispatch/internal/model"

// Kind names an action type. It is what snapshots report as their cause.
type Kind string

const (
	KindSetURL     Kind = "SetUrl"
	KindSetMethod  Kind = "SetMethod"
	KindSetBody    Kind = "SetBody"
	KindSetHeaders Kind = "SetHeaders"

	KindSend                  Kind = "Send"
	KindReset                 Kind = "Reset"
	KindClearHistory          Kind = "ClearHistory"
	KindLoadHistoryItem       Kind = "LoadHistoryItem"
	KindCreateCollection      Kind = "CreateCollection"
	KindSaveDraftToCollection Kind = "SaveDraftToCollection"
	KindLoadCollectionItem    Kind = "LoadCollectionItem"
	KindSelectCollection      Kind = "SelectCollection"
	KindDeleteCollection      Kind = "DeleteCollection"
	KindHydrate               Kind = "Hydrate"

	KindSendStarted    Kind = "SendStarted" // applied inside Send; never a Snapshot cause
	KindSendCompleted  Kind = "SendCompleted"
	KindSavedToHistory Kind = "SavedToHistory"
)

// Action is the only way state changes. The set is closed: every
// implementation lives in this file.
type Action interface {
	Kind() Kind
	action()
}

// Field edits.

type SetURL struct{ URL string }
type SetMethod struct{ Method model.Method }
type SetBody struct{ Body string }
type SetHeaders struct{ Headers model.HeaderSet }

// Commands.

type Send struct{}

// Reset starts a new request.
type Reset struct{}
type ClearHistory struct{}
type LoadHistoryItem struct{ ID int64 }
type CreateCollection struct{ Name string }
type SaveDraftToCollection struct {
	CollectionID int64
	Name         string
}
type LoadCollectionItem struct{ ID int64 }

// SelectCollection loads the items of a collection into the read model.
type SelectCollection struct{ ID int64 }
type DeleteCollection struct{ ID int64 }

// Hydrate loads the history and collection lists from the gateway.
type Hydrate struct{}

// Lifecycle notifications, emitted by the reducer itself.

// SendStarted marks a request as in flight. Seq increases by one for every
// dispatched request. It is applied in the same step as the Send that
// caused it, so Busy is visible as soon as Send is. For the same reason it
// never reaches the queue: subscribers see KindSend as the cause of that
// snapshot, never KindSendStarted.
type SendStarted struct {
	Seq     uint64
	TraceID string
}

// SendCompleted carries the result of the request numbered Seq together with
// the draft as it was when sent.
type SendCompleted struct {
	Seq     uint64
	TraceID string
	Request model.RequestDraft
	Result  model.ExchangeResult
}

// SavedToHistory reports the id the gateway assigned to a stored exchange.
type SavedToHistory struct {
	ID     int64
	Method string
	URL    string
	Status string
}

func (SetURL) Kind() Kind                { return KindSetURL }
func (SetMethod) Kind() Kind             { return KindSetMethod }
func (SetBody) Kind() Kind               { return KindSetBody }
func (SetHeaders) Kind() Kind            { return KindSetHeaders }
func (Send) Kind() Kind                  { return KindSend }
func (Reset) Kind() Kind                 { return KindReset }
func (ClearHistory) Kind() Kind          { return KindClearHistory }
func (LoadHistoryItem) Kind() Kind       { return KindLoadHistoryItem }
func (CreateCollection) Kind() Kind      { return KindCreateCollection }
func (SaveDraftToCollection) Kind() Kind { return KindSaveDraftToCollection }
func (LoadCollectionItem) Kind() Kind    { return KindLoadCollectionItem }
func (SelectCollection) Kind() Kind      { return KindSelectCollection }
func (DeleteCollection) Kind() Kind      { return KindDeleteCollection }
func (Hydrate) Kind() Kind               { return KindHydrate }
func (SendStarted) Kind() Kind           { return KindSendStarted }
func (SendCompleted) Kind() Kind         { return KindSendCompleted }
func (SavedToHistory) Kind() Kind        { return KindSavedToHistory }

func (SetURL) action()                {}
func (SetMethod) action()             {}
func (SetBody) action()               {}
func (SetHeaders) action()            {}
func (Send) action()                  {}
func (Reset) action()                 {}
func (ClearHistory) action()          {}
func (LoadHistoryItem) action()       {}
func (CreateCollection) action()      {}
func (SaveDraftToCollection) action() {}
func (LoadCollectionItem) action()    {}
func (SelectCollection) action()      {}
func (DeleteCollection) action()      {}
func (Hydrate) action()               {}
func (SendStarted) action()           {}
func (SendCompleted) action()         {}
func (SavedToHistory) action()        {}

// DraftEdits returns the field edits that turn the current draft into d.
func DraftEdits(d model.RequestDraft) []Action {
	return []Action{
		SetURL{URL: d.URL},
		SetMethod{Method: d.Method},
		SetBody{Body: d.Body},
		SetHeaders{Headers: d.Headers.Clone()},
	}
}
