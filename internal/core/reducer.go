package core

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/logging"
	"dispatch/internal/metrics"
	"dispatch/internal/model"
	"dispatch/internal/storage"
)

// DefaultHistoryLimit caps the visible history list.
const DefaultHistoryLimit = 50

// Options tunes reducer policy.
type Options struct {
	// HistoryLimit caps both the gateway read and the visible list.
	HistoryLimit int

	// RedactSensitiveHeaders replaces credential headers before an exchange
	// is written to history.
	RedactSensitiveHeaders bool

	// DiscardStaleResults ignores completions of requests that were
	// superseded by a newer Send. Off by default: results are applied in
	// completion order.
	DiscardStaleResults bool

	// RecordSentRequest labels new visible history rows with the request
	// that was sent. Off by default: rows show the draft at the time the
	// exchange was saved. The stored exchange is always the sent request.
	RecordSentRequest bool
}

// reducer applies actions to state. It is only ever called from the loop
// goroutine; emit and spawn are provided by the loop.
type reducer struct {
	state State
	opts  Options

	gateway  Gateway
	executor Executor
	logger   *slog.Logger
	metrics  Metrics

	// ctx is handed to the executor. It is never cancelled: a dispatched
	// request runs to completion.
	ctx   context.Context
	emit  func(Action)
	spawn func(func())
}

func newReducer(opts Options, gw Gateway, ex Executor) *reducer {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &reducer{
		state:    initialState(),
		opts:     opts,
		gateway:  gw,
		executor: ex,
		logger:   logging.NewNop(),
		metrics:  nopMetrics{},
		ctx:      context.Background(),
		emit:     func(Action) {},
		spawn:    func(f func()) { go f() },
	}
}

func (r *reducer) apply(a Action) {
	switch a := a.(type) {
	case SetURL:
		r.state.Draft.URL = a.URL
	case SetMethod:
		r.state.Draft.Method = a.Method
	case SetBody:
		r.state.Draft.Body = a.Body
	case SetHeaders:
		r.state.Draft.Headers = a.Headers.Clone()

	case Send:
		r.send()
	case Reset:
		r.state.Draft = model.RequestDraft{Method: model.GET}
		r.state.Response = ResponseView{Status: StatusIdle}
	case ClearHistory:
		r.clearHistory()
	case LoadHistoryItem:
		r.loadHistoryItem(a.ID)
	case CreateCollection:
		r.createCollection(a.Name)
	case SaveDraftToCollection:
		r.saveDraftToCollection(a)
	case LoadCollectionItem:
		r.loadCollectionItem(a.ID)
	case SelectCollection:
		r.selectCollection(a.ID)
	case DeleteCollection:
		r.deleteCollection(a.ID)
	case Hydrate:
		r.hydrate()

	case SendStarted:
		r.state.InFlight++
		r.state.Busy = true
		r.state.Response.Status = StatusSending
		r.state.Response.Marker = MarkerNone
		r.metrics.SendStarted()
	case SendCompleted:
		r.sendCompleted(a)
	case SavedToHistory:
		r.savedToHistory(a)

	default:
		r.logger.Warn("unhandled action", "kind", a.Kind())
	}
}

func (r *reducer) send() {
	if !r.state.Draft.Sendable() {
		return
	}

	// The worker gets its own copy so later edits cannot reach it.
	snapshot := r.state.Draft.Clone()
	r.state.LastSeq++
	seq := r.state.LastSeq
	traceID := uuid.NewString()

	r.logger.Debug("dispatching request",
		"seq", seq,
		"trace_id", traceID,
		"method", snapshot.Method.String(),
		"url", snapshot.URL,
	)

	r.apply(SendStarted{Seq: seq, TraceID: traceID})

	ctx, ex, emit := r.ctx, r.executor, r.emit
	r.spawn(func() {
		result := ex.Execute(ctx, snapshot)
		emit(SendCompleted{Seq: seq, TraceID: traceID, Request: snapshot, Result: result})
	})
}

func (r *reducer) sendCompleted(a SendCompleted) {
	if r.state.InFlight > 0 {
		r.state.InFlight--
	}
	r.state.Busy = r.state.InFlight > 0

	if r.opts.DiscardStaleResults && a.Seq != r.state.LastSeq {
		r.logger.Debug("discarding stale result", "seq", a.Seq, "latest", r.state.LastSeq, "trace_id", a.TraceID)
		r.metrics.StaleDiscarded()
		return
	}

	if a.Result.Failed() {
		r.logger.Debug("request failed", "seq", a.Seq, "trace_id", a.TraceID, "error", a.Result.Err)
		r.metrics.SendCompleted(metrics.OutcomeFailure, 0)
		r.state.Response = ResponseView{
			Status: StatusError,
			Marker: MarkerError,
			Body:   a.Result.Err,
		}
		return
	}

	resp := *a.Result.Response
	marker := classify(int(resp.StatusCode))
	outcome := metrics.OutcomeSuccess
	if marker == MarkerError {
		outcome = metrics.OutcomeError
	}
	r.metrics.SendCompleted(outcome, resp.Elapsed)

	r.state.Response = ResponseView{
		Status:  resp.Status(),
		Marker:  marker,
		Headers: resp.HeadersText,
		Body:    resp.Body,
		Time:    model.FormatElapsed(resp.Elapsed),
		Size:    resp.Size,
	}

	r.persistExchange(a.Request, resp)
}

func (r *reducer) persistExchange(req model.RequestDraft, resp model.Response) {
	headers := req.Headers.Clean()
	respHeaders := resp.HeadersText
	if r.opts.RedactSensitiveHeaders {
		headers = redactHeaders(headers)
		respHeaders = redactResponseHeaders(respHeaders)
	}

	item := model.HistoryItem{
		Method:          req.Method.String(),
		URL:             req.URL,
		RequestBody:     req.Body,
		RequestHeaders:  model.EncodeHeaders(headers),
		ResponseBody:    resp.Body,
		ResponseHeaders: respHeaders,
		Status:          resp.Status(),
		Time:            model.FormatElapsed(resp.Elapsed),
		Size:            resp.Size,
		Timestamp:       time.Now().UTC(),
	}

	id, err := r.gateway.SaveExchange(item)
	if err != nil {
		r.persistenceFailed("save_exchange", err)
		return
	}

	r.emit(SavedToHistory{ID: id, Method: item.Method, URL: item.URL, Status: item.Status})
}

// savedToHistory puts the new row on top of the visible list. The row shows
// the draft as it is now, which may have been edited since the send, unless
// RecordSentRequest is set.
func (r *reducer) savedToHistory(a SavedToHistory) {
	row := HistoryRow{
		ID:     a.ID,
		Method: r.state.Draft.Method.String(),
		URL:    r.state.Draft.URL,
		Status: a.Status,
		Marker: ClassifyStatusLine(a.Status),
	}
	if r.opts.RecordSentRequest {
		row.Method, row.URL = a.Method, a.URL
	}
	r.state.History = append([]HistoryRow{row}, r.state.History...)
	if len(r.state.History) > r.opts.HistoryLimit {
		r.state.History = r.state.History[:r.opts.HistoryLimit]
	}
}

func (r *reducer) clearHistory() {
	if err := r.gateway.ClearHistory(); err != nil {
		r.persistenceFailed("clear_history", err)
	}
	r.state.History = nil
}

func (r *reducer) loadHistoryItem(id int64) {
	item, err := r.gateway.GetHistoryItem(id)
	if err != nil {
		r.lookupFailed("get_history_item", id, err)
		return
	}

	for _, edit := range DraftEdits(item.Draft()) {
		r.emit(edit)
	}

	r.state.Response = ResponseView{
		Status:  item.Status,
		Marker:  ClassifyStatusLine(item.Status),
		Headers: item.ResponseHeaders,
		Body:    item.ResponseBody,
		Time:    item.Time,
		Size:    item.Size,
	}
}

func (r *reducer) loadCollectionItem(id int64) {
	item, err := r.gateway.GetCollectionItem(id)
	if err != nil {
		r.lookupFailed("get_collection_item", id, err)
		return
	}

	for _, edit := range DraftEdits(item.Draft()) {
		r.emit(edit)
	}
}

func (r *reducer) createCollection(name string) {
	if name == "" {
		return
	}

	col, err := r.gateway.CreateCollection(name)
	if err != nil {
		r.persistenceFailed("create_collection", err)
		return
	}

	cols := append(r.state.Collections, col)
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	r.state.Collections = cols
}

func (r *reducer) saveDraftToCollection(a SaveDraftToCollection) {
	d := r.state.Draft
	item := model.CollectionItem{
		CollectionID: a.CollectionID,
		Name:         a.Name,
		Method:       d.Method.String(),
		URL:          d.URL,
		Body:         d.Body,
		Headers:      model.EncodeHeaders(d.Headers),
	}

	id, err := r.gateway.SaveToCollection(item)
	if err != nil {
		r.persistenceFailed("save_to_collection", err)
		return
	}

	if r.state.SelectedCollection == a.CollectionID {
		item.ID = id
		r.state.CollectionItems = append(r.state.CollectionItems, item)
	}
}

func (r *reducer) selectCollection(id int64) {
	items, err := r.gateway.GetCollectionItems(id)
	if err != nil {
		r.persistenceFailed("get_collection_items", err)
		return
	}
	r.state.SelectedCollection = id
	r.state.CollectionItems = items
}

func (r *reducer) deleteCollection(id int64) {
	if err := r.gateway.DeleteCollection(id); err != nil {
		r.lookupFailed("delete_collection", id, err)
		return
	}

	cols := r.state.Collections[:0:0]
	for _, c := range r.state.Collections {
		if c.ID != id {
			cols = append(cols, c)
		}
	}
	r.state.Collections = cols

	if r.state.SelectedCollection == id {
		r.state.SelectedCollection = 0
		r.state.CollectionItems = nil
	}
}

func (r *reducer) hydrate() {
	items, err := r.gateway.GetHistory(r.opts.HistoryLimit)
	if err != nil {
		r.persistenceFailed("get_history", err)
	} else {
		rows := make([]HistoryRow, 0, len(items))
		for _, item := range items {
			rows = append(rows, HistoryRow{
				ID:     item.ID,
				Method: item.Method,
				URL:    item.URL,
				Status: item.Status,
				Marker: ClassifyStatusLine(item.Status),
			})
		}
		r.state.History = rows
	}

	cols, err := r.gateway.GetCollections()
	if err != nil {
		r.persistenceFailed("get_collections", err)
		return
	}
	r.state.Collections = cols
}

// persistenceFailed logs and swallows a gateway error. Visible state is not
// rolled back.
func (r *reducer) persistenceFailed(op string, err error) {
	r.logger.Warn("persistence failed", "op", op, "error", err)
	r.metrics.PersistenceFailed(op)
}

// lookupFailed treats a missing id as a no-op and anything else as a
// persistence failure.
func (r *reducer) lookupFailed(op string, id int64, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Debug("ignoring missing id", "op", op, "id", id)
		return
	}
	r.persistenceFailed(op, err)
}
