package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch/internal/model"
)

func TestEndToEndSuccessfulSend(t *testing.T) {
	gw := newSQLiteGateway(t)
	ex := newStubExecutor(okResult(200, "{}"))
	l := startLoop(t, Options{}, gw, ex)

	dispatchAll(l,
		SetMethod{Method: model.GET},
		SetURL{URL: "https://example.test/a"},
		SetBody{Body: ""},
		SetHeaders{Headers: model.HeaderSet{}},
		Send{},
	)
	require.NoError(t, l.Settle(testContext(t)))

	snap := l.Snapshot()
	assert.Equal(t, "200 OK", snap.Response.Status)
	assert.Equal(t, MarkerSuccess, snap.Response.Marker)
	assert.Equal(t, "{}", snap.Response.Body)
	assert.Equal(t, "10ms", snap.Response.Time)
	assert.Equal(t, int64(2), snap.Response.Size)
	assert.False(t, snap.Busy)

	items, err := gw.GetHistory(50)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "GET", items[0].Method)
	assert.Equal(t, "https://example.test/a", items[0].URL)
	assert.Equal(t, "200 OK", items[0].Status)

	require.Len(t, snap.History, 1)
	assert.Equal(t, items[0].ID, snap.History[0].ID)
	assert.Equal(t, "https://example.test/a", snap.History[0].URL)
}

func TestSendWithEmptyURLIsNoop(t *testing.T) {
	gw := newMemGateway()
	ex := newStubExecutor(okResult(200, "{}"))
	l := startLoop(t, Options{}, gw, ex)

	l.Dispatch(Send{})
	require.NoError(t, l.Settle(testContext(t)))

	snap := l.Snapshot()
	assert.Equal(t, uint64(0), snap.LastSeq)
	assert.Equal(t, StatusIdle, snap.Response.Status)
	assert.Empty(t, ex.Calls())
	assert.Equal(t, 0, gw.historyLen())
}

func TestFailureIsShownButNotPersisted(t *testing.T) {
	gw := newMemGateway()
	ex := newStubExecutor(func(model.RequestDraft) model.ExchangeResult {
		return model.Failure("dial tcp: connection refused")
	})
	l := startLoop(t, Options{}, gw, ex)

	dispatchAll(l, SetURL{URL: "https://down.test"}, Send{})
	require.NoError(t, l.Settle(testContext(t)))

	snap := l.Snapshot()
	assert.Equal(t, StatusError, snap.Response.Status)
	assert.Equal(t, MarkerError, snap.Response.Marker)
	assert.Equal(t, "dial tcp: connection refused", snap.Response.Body)
	assert.Equal(t, 0, gw.historyLen())
	assert.Empty(t, snap.History)
	assert.Equal(t, "https://down.test", snap.Draft.URL)
}

func TestStatusClassification(t *testing.T) {
	for _, code := range []uint16{200, 204, 299, 301, 404, 500} {
		t.Run(fmt.Sprint(code), func(t *testing.T) {
			gw := newMemGateway()
			ex := newStubExecutor(okResult(code, "{}"))
			l := startLoop(t, Options{}, gw, ex)

			dispatchAll(l, SetURL{URL: "https://example.test"}, Send{})
			require.NoError(t, l.Settle(testContext(t)))

			want := MarkerError
			if code >= 200 && code <= 299 {
				want = MarkerSuccess
			}
			assert.Equal(t, want, l.Snapshot().Response.Marker)
			// Non-2xx responses are still exchanges and get recorded.
			assert.Equal(t, 1, gw.historyLen())
		})
	}
}

func TestResetIsIdempotent(t *testing.T) {
	gw := newMemGateway()
	l := startLoop(t, Options{}, gw, newStubExecutor(okResult(200, "{}")))

	dispatchAll(l,
		SetURL{URL: "https://example.test"},
		SetMethod{Method: model.DELETE},
		SetBody{Body: "x"},
		SetHeaders{Headers: model.HeaderSet{{Name: "A", Value: "b"}}},
		Reset{},
	)
	require.NoError(t, l.Sync(testContext(t)))
	once := l.Snapshot().State

	l.Dispatch(Reset{})
	require.NoError(t, l.Sync(testContext(t)))
	twice := l.Snapshot().State

	assert.Equal(t, once, twice)
	assert.Equal(t, model.RequestDraft{Method: model.GET}, twice.Draft)
	assert.Equal(t, ResponseView{Status: StatusIdle}, twice.Response)
}

func TestHistoryVisibleListIsCapped(t *testing.T) {
	gw := newSQLiteGateway(t)
	l := startLoop(t, Options{}, gw, newStubExecutor(okResult(200, "{}")))

	for i := 0; i < 60; i++ {
		dispatchAll(l, SetURL{URL: fmt.Sprintf("https://example.test/%d", i)}, Send{})
		require.NoError(t, l.Settle(testContext(t)))
	}

	snap := l.Snapshot()
	require.Len(t, snap.History, 50)
	assert.Equal(t, "https://example.test/59", snap.History[0].URL)
	for i := 1; i < len(snap.History); i++ {
		assert.Greater(t, snap.History[i-1].ID, snap.History[i].ID)
	}

	n, err := gw.CountHistory()
	require.NoError(t, err)
	assert.Equal(t, 60, n)
}

// sendThenEdit sends POST .../original, edits the draft to PUT .../edited
// while the request is held, then lets it finish.
func sendThenEdit(t *testing.T, opts Options) (*Loop, *memGateway, *stubExecutor) {
	t.Helper()
	gw := newMemGateway()
	ex := newStubExecutor(okResult(200, "{}"))
	release := ex.gate("https://example.test/original")
	l := startLoop(t, opts, gw, ex)

	dispatchAll(l,
		SetMethod{Method: model.POST},
		SetURL{URL: "https://example.test/original"},
		SetBody{Body: `{"v":1}`},
		Send{},
		SetURL{URL: "https://example.test/edited"},
		SetMethod{Method: model.PUT},
	)
	require.NoError(t, l.Sync(testContext(t)))
	assert.True(t, l.Snapshot().Busy)
	assert.Equal(t, StatusSending, l.Snapshot().Response.Status)

	close(release)
	require.NoError(t, l.Settle(testContext(t)))
	return l, gw, ex
}

func TestSendUsesDraftSnapshot(t *testing.T) {
	l, gw, ex := sendThenEdit(t, Options{})

	calls := ex.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, model.POST, calls[0].Method)
	assert.Equal(t, "https://example.test/original", calls[0].URL)
	assert.Equal(t, `{"v":1}`, calls[0].Body)

	require.Equal(t, 1, gw.historyLen())
	stored, err := gw.GetHistoryItem(1)
	require.NoError(t, err)
	assert.Equal(t, "POST", stored.Method)
	assert.Equal(t, "https://example.test/original", stored.URL)

	assert.Equal(t, "https://example.test/edited", l.Snapshot().Draft.URL)
}

func TestHistoryRowShowsCurrentDraftByDefault(t *testing.T) {
	l, _, _ := sendThenEdit(t, Options{})

	snap := l.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, "PUT", snap.History[0].Method)
	assert.Equal(t, "https://example.test/edited", snap.History[0].URL)
	assert.Equal(t, "200 OK", snap.History[0].Status)
	assert.Equal(t, MarkerSuccess, snap.History[0].Marker)
}

func TestHistoryRowShowsSentRequestWhenRecorded(t *testing.T) {
	l, _, _ := sendThenEdit(t, Options{RecordSentRequest: true})

	snap := l.Snapshot()
	require.Len(t, snap.History, 1)
	assert.Equal(t, "POST", snap.History[0].Method)
	assert.Equal(t, "https://example.test/original", snap.History[0].URL)
	assert.Equal(t, "https://example.test/edited", snap.Draft.URL)
}

func TestCompletionOrderWins(t *testing.T) {
	gw := newMemGateway()
	ex := newStubExecutor(func(req model.RequestDraft) model.ExchangeResult {
		return okResult(200, fmt.Sprintf(`{"url":%q}`, req.URL))(req)
	})
	slow := ex.gate("https://example.test/slow")
	fast := ex.gate("https://example.test/fast")
	l := startLoop(t, Options{}, gw, ex)

	dispatchAll(l, SetURL{URL: "https://example.test/slow"}, Send{}, SetURL{URL: "https://example.test/fast"}, Send{})
	require.NoError(t, l.Sync(testContext(t)))
	assert.Equal(t, 2, l.Snapshot().InFlight)

	close(fast)
	ctx := testContext(t)
	require.Eventually(t, func() bool {
		_ = l.Sync(ctx)
		return l.Snapshot().InFlight == 1
	}, 5*time.Second, time.Millisecond)
	assert.True(t, l.Snapshot().Busy)

	close(slow)
	require.NoError(t, l.Settle(testContext(t)))

	snap := l.Snapshot()
	assert.Equal(t, `{"url":"https://example.test/slow"}`, snap.Response.Body)
	assert.False(t, snap.Busy)
	assert.Equal(t, 2, gw.historyLen())
}

func TestDiscardStaleResults(t *testing.T) {
	gw := newMemGateway()
	ex := newStubExecutor(func(req model.RequestDraft) model.ExchangeResult {
		return okResult(200, fmt.Sprintf(`{"url":%q}`, req.URL))(req)
	})
	slow := ex.gate("https://example.test/slow")
	l := startLoop(t, Options{DiscardStaleResults: true}, gw, ex)

	dispatchAll(l, SetURL{URL: "https://example.test/slow"}, Send{}, SetURL{URL: "https://example.test/fast"}, Send{})
	ctx := testContext(t)
	require.Eventually(t, func() bool {
		_ = l.Sync(ctx)
		return l.Snapshot().InFlight == 1
	}, 5*time.Second, time.Millisecond)

	close(slow)
	require.NoError(t, l.Settle(testContext(t)))

	snap := l.Snapshot()
	assert.Equal(t, `{"url":"https://example.test/fast"}`, snap.Response.Body)
	assert.Equal(t, 1, gw.historyLen())
	require.Len(t, snap.History, 1)
	assert.Equal(t, "https://example.test/fast", snap.History[0].URL)
}

func TestResetDoesNotCancelInFlightRequest(t *testing.T) {
	gw := newMemGateway()
	ex := newStubExecutor(okResult(200, `{"late":true}`))
	release := ex.gate("https://example.test")
	l := startLoop(t, Options{}, gw, ex)

	dispatchAll(l, SetURL{URL: "https://example.test"}, Send{}, Reset{})
	require.NoError(t, l.Sync(testContext(t)))
	assert.Equal(t, StatusIdle, l.Snapshot().Response.Status)
	assert.True(t, l.Snapshot().Busy)

	close(release)
	require.NoError(t, l.Settle(testContext(t)))

	snap := l.Snapshot()
	assert.Equal(t, "{\"late\":true}", snap.Response.Body)
	assert.Equal(t, "", snap.Draft.URL)
	assert.Equal(t, 1, gw.historyLen())
}

func TestPersistenceFailureIsSwallowed(t *testing.T) {
	gw := newMemGateway()
	gw.failSave = true
	l := startLoop(t, Options{}, gw, newStubExecutor(okResult(200, "{}")))

	dispatchAll(l, SetURL{URL: "https://example.test"}, SetBody{Body: "keep me"}, Send{})
	require.NoError(t, l.Settle(testContext(t)))

	snap := l.Snapshot()
	assert.Equal(t, "200 OK", snap.Response.Status)
	assert.Empty(t, snap.History)
	assert.Equal(t, "keep me", snap.Draft.Body)
	assert.Equal(t, 0, gw.historyLen())
}

func TestAtMostOneHistoryWritePerSuccess(t *testing.T) {
	gw := newMemGateway()
	l := startLoop(t, Options{}, gw, newStubExecutor(okResult(200, "{}")))

	dispatchAll(l, SetURL{URL: "https://example.test"}, Send{}, SetBody{Body: "after"}, Reset{})
	require.NoError(t, l.Settle(testContext(t)))

	assert.Equal(t, 1, gw.saves)
	assert.Len(t, l.Snapshot().History, 1)
}

func TestClearHistory(t *testing.T) {
	gw := newMemGateway()
	l := startLoop(t, Options{}, gw, newStubExecutor(okResult(200, "{}")))

	dispatchAll(l, SetURL{URL: "https://example.test"}, Send{})
	require.NoError(t, l.Settle(testContext(t)))
	require.Len(t, l.Snapshot().History, 1)

	l.Dispatch(ClearHistory{})
	require.NoError(t, l.Sync(testContext(t)))
	assert.Empty(t, l.Snapshot().History)
	assert.Equal(t, 0, gw.historyLen())
}

func TestClearHistoryFailureStillClearsList(t *testing.T) {
	gw := newMemGateway()
	l := startLoop(t, Options{}, gw, newStubExecutor(okResult(200, "{}")))
	dispatchAll(l, SetURL{URL: "https://example.test"}, Send{})
	require.NoError(t, l.Settle(testContext(t)))

	gw.mu.Lock()
	gw.failClear = true
	gw.mu.Unlock()

	l.Dispatch(ClearHistory{})
	require.NoError(t, l.Sync(testContext(t)))
	assert.Empty(t, l.Snapshot().History)
	assert.Equal(t, 1, gw.historyLen())
}

func TestLoadHistoryItem(t *testing.T) {
	gw := newMemGateway()
	id, err := gw.SaveExchange(model.HistoryItem{
		Method:          "PATCH",
		URL:             "https://example.test/items/1",
		RequestBody:     `{"n":1}`,
		RequestHeaders:  `[["X-Trace","abc"]]`,
		ResponseBody:    `{"ok":false}`,
		ResponseHeaders: "Content-Type: application/json\n",
		Status:          "404 Not Found",
		Time:            "12ms",
		Size:            12,
	})
	require.NoError(t, err)

	ex := newStubExecutor(okResult(200, "{}"))
	l := startLoop(t, Options{}, gw, ex)

	l.Dispatch(LoadHistoryItem{ID: id})
	require.NoError(t, l.Sync(testContext(t)))

	snap := l.Snapshot()
	assert.Equal(t, model.RequestDraft{
		Method:  model.PATCH,
		URL:     "https://example.test/items/1",
		Body:    `{"n":1}`,
		Headers: model.HeaderSet{{Name: "X-Trace", Value: "abc"}},
	}, snap.Draft)
	assert.Equal(t, "404 Not Found", snap.Response.Status)
	assert.Equal(t, MarkerError, snap.Response.Marker)
	assert.Equal(t, `{"ok":false}`, snap.Response.Body)
	assert.Equal(t, "12ms", snap.Response.Time)
	assert.Empty(t, ex.Calls(), "loading history never re-sends")
}

func TestLoadMissingIDsAreNoops(t *testing.T) {
	gw := newMemGateway()
	l := startLoop(t, Options{}, gw, newStubExecutor(okResult(200, "{}")))

	l.Dispatch(SetURL{URL: "https://example.test/keep"})
	require.NoError(t, l.Sync(testContext(t)))
	before := l.Snapshot().State

	dispatchAll(l, LoadHistoryItem{ID: 99}, LoadCollectionItem{ID: 99}, DeleteCollection{ID: 99})
	require.NoError(t, l.Sync(testContext(t)))

	assert.Equal(t, before, l.Snapshot().State)
}

func TestCollections(t *testing.T) {
	gw := newSQLiteGateway(t)
	l := startLoop(t, Options{}, gw, newStubExecutor(okResult(200, "{}")))

	dispatchAll(l, CreateCollection{Name: "zoo"}, CreateCollection{Name: "api"}, CreateCollection{Name: "api"}, CreateCollection{Name: ""})
	require.NoError(t, l.Sync(testContext(t)))

	snap := l.Snapshot()
	require.Len(t, snap.Collections, 2)
	assert.Equal(t, "api", snap.Collections[0].Name)
	assert.Equal(t, "zoo", snap.Collections[1].Name)
	apiID := snap.Collections[0].ID

	dispatchAll(l,
		SelectCollection{ID: apiID},
		SetMethod{Method: model.POST},
		SetURL{URL: "https://example.test/users"},
		SetBody{Body: `{"name":"x"}`},
		SetHeaders{Headers: model.HeaderSet{{Name: "Accept", Value: "application/json"}}},
		SaveDraftToCollection{CollectionID: apiID, Name: "create user"},
		Reset{},
	)
	require.NoError(t, l.Sync(testContext(t)))

	snap = l.Snapshot()
	require.Len(t, snap.CollectionItems, 1)
	item := snap.CollectionItems[0]
	assert.Equal(t, "create user", item.Name)
	assert.Equal(t, model.RequestDraft{Method: model.GET}, snap.Draft)

	l.Dispatch(LoadCollectionItem{ID: item.ID})
	require.NoError(t, l.Sync(testContext(t)))

	snap = l.Snapshot()
	assert.Equal(t, model.POST, snap.Draft.Method)
	assert.Equal(t, "https://example.test/users", snap.Draft.URL)
	assert.Equal(t, `{"name":"x"}`, snap.Draft.Body)
	assert.Equal(t, model.HeaderSet{{Name: "Accept", Value: "application/json"}}, snap.Draft.Headers)
	assert.Equal(t, StatusIdle, snap.Response.Status, "collection items have no response side")

	l.Dispatch(DeleteCollection{ID: apiID})
	require.NoError(t, l.Sync(testContext(t)))

	snap = l.Snapshot()
	require.Len(t, snap.Collections, 1)
	assert.Equal(t, "zoo", snap.Collections[0].Name)
	assert.Zero(t, snap.SelectedCollection)
	assert.Empty(t, snap.CollectionItems)

	items, err := gw.GetCollectionItems(apiID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestHydrateLoadsPersistedLists(t *testing.T) {
	gw := newSQLiteGateway(t)
	_, err := gw.CreateCollection("saved")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := gw.SaveExchange(model.HistoryItem{Method: "GET", URL: fmt.Sprintf("https://example.test/%d", i), Status: "200 OK"})
		require.NoError(t, err)
	}

	l := startLoop(t, Options{HistoryLimit: 2}, gw, newStubExecutor(okResult(200, "{}")))

	snap := l.Snapshot()
	require.Len(t, snap.History, 2)
	assert.Equal(t, "https://example.test/2", snap.History[0].URL)
	require.Len(t, snap.Collections, 1)
	assert.Equal(t, "saved", snap.Collections[0].Name)
}

func TestSensitiveHeadersAreRedactedInHistory(t *testing.T) {
	gw := newMemGateway()
	ex := newStubExecutor(func(model.RequestDraft) model.ExchangeResult {
		return model.Success(model.Response{StatusCode: 200, StatusText: "OK", HeadersText: "Set-Cookie: sid=1\nX-Ok: yes\n", Body: "{}"})
	})
	l := startLoop(t, Options{RedactSensitiveHeaders: true}, gw, ex)

	dispatchAll(l,
		SetURL{URL: "https://example.test"},
		SetHeaders{Headers: model.HeaderSet{{Name: "Authorization", Value: "Bearer secret"}, {Name: "Accept", Value: "*/*"}}},
		Send{},
	)
	require.NoError(t, l.Settle(testContext(t)))

	calls := ex.Calls()
	require.Len(t, calls, 1)
	v, _ := calls[0].Headers.Get("Authorization")
	assert.Equal(t, "Bearer secret", v, "the live request is not redacted")

	stored, err := gw.GetHistoryItem(1)
	require.NoError(t, err)
	assert.Equal(t, `[["Authorization","[REDACTED]"],["Accept","*/*"]]`, stored.RequestHeaders)
	assert.Equal(t, "Set-Cookie: [REDACTED]\nX-Ok: yes\n", stored.ResponseHeaders)
	assert.Equal(t, "Set-Cookie: sid=1\nX-Ok: yes\n", l.Snapshot().Response.Headers)
}
