package store_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurakura967/go-elasticsearch-archiver/store"
)

type call struct {
	method string
	path   string
	query  string
	body   string
}

// fakeTransport answers requests from a table keyed by "METHOD /path".
type fakeTransport struct {
	responses map[string]response
	calls     []call
}

type response struct {
	status int
	body   string
	err    error
}

func (f *fakeTransport) Perform(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		body = string(b)
	}
	f.calls = append(f.calls, call{method: req.Method, path: req.URL.Path, query: req.URL.RawQuery, body: body})

	r, ok := f.responses[req.Method+" "+req.URL.Path]
	if !ok {
		r = response{status: http.StatusNotFound, body: `{"error":{"type":"index_not_found_exception","reason":"no such index"},"status":404}`}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(r.body)),
	}, nil
}

func (f *fakeTransport) lastCall(t *testing.T) call {
	t.Helper()
	require.NotEmpty(t, f.calls)
	return f.calls[len(f.calls)-1]
}

func newStore(responses map[string]response) (*store.Elasticsearch, *fakeTransport) {
	tr := &fakeTransport{responses: responses}
	return store.NewElasticsearch(tr), tr
}

func TestGetIndices(t *testing.T) {
	s, tr := newStore(map[string]response{
		"GET /logs": {status: 200, body: `{
			"logs-1": {"settings": {"index": {"number_of_shards": "1"}}, "mappings": {"properties": {"n": {"type": "long", "ignore_above": 256}}}},
			"logs-2": {"settings": {"index": {"number_of_shards": "2"}}, "mappings": {}}
		}`},
	})

	got, err := s.GetIndices(context.Background(), "logs")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, map[string]interface{}{"number_of_shards": "2"}, got["logs-2"].Settings["index"])

	n := got["logs-1"].Mappings["properties"].(map[string]interface{})["n"].(map[string]interface{})
	assert.Equal(t, json.Number("256"), n["ignore_above"])

	c := tr.lastCall(t)
	assert.Contains(t, c.query, "filter_path=")
	assert.Contains(t, c.query, "-%2A.settings.index.uuid")
}

func TestGetIndices_NotFound(t *testing.T) {
	s, _ := newStore(nil)

	_, err := s.GetIndices(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
	assert.False(t, store.IsTransient(err))
	assert.Contains(t, err.Error(), "index_not_found_exception")
}

func TestGetAliasesAndResolve(t *testing.T) {
	s, _ := newStore(map[string]response{
		"GET /logs-1/_alias": {status: 200, body: `{"logs-1": {"aliases": {"logs": {}, "logs-write": {"is_write_index": true}}}}`},
		"GET /logs/_alias":   {status: 200, body: `{"logs-2": {"aliases": {"logs": {}}}, "logs-1": {"aliases": {"logs": {}}}}`},
		"GET /bare/_alias":   {status: 200, body: `{"bare": {"aliases": {}}}`},
	})
	ctx := context.Background()

	aliases, err := s.GetAliases(ctx, "logs-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"logs":       map[string]interface{}{},
		"logs-write": map[string]interface{}{"is_write_index": true},
	}, aliases)

	names, err := s.ResolveIndices(ctx, "logs")
	require.NoError(t, err)
	assert.Equal(t, []string{"logs-1", "logs-2"}, names)

	names, err = s.ResolveIndices(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, names)

	aliases, err = s.GetAliases(ctx, "bare")
	require.NoError(t, err)
	assert.NotNil(t, aliases)
	assert.Empty(t, aliases)
}

func TestCreateIndex(t *testing.T) {
	s, tr := newStore(map[string]response{
		"PUT /users": {status: 200, body: `{"acknowledged": true}`},
	})

	err := s.CreateIndex(context.Background(), "users",
		map[string]interface{}{"index": map[string]interface{}{"number_of_shards": "1"}},
		map[string]interface{}{"properties": map[string]interface{}{"email": map[string]interface{}{"type": "keyword"}}},
	)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(tr.lastCall(t).body), &body))
	assert.Contains(t, body, "settings")
	assert.Contains(t, body, "mappings")
}

func TestCreateIndex_AlreadyExists(t *testing.T) {
	s, _ := newStore(map[string]response{
		"PUT /users": {status: 400, body: `{"error":{"type":"resource_already_exists_exception","reason":"index [users/abc] already exists"},"status":400}`},
	})

	err := s.CreateIndex(context.Background(), "users", nil, nil)
	require.Error(t, err)
	assert.True(t, store.IsAlreadyExists(err))
	assert.False(t, store.IsTransient(err))

	var re *store.ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 400, re.Status)
}

func TestDeleteIndices(t *testing.T) {
	s, tr := newStore(map[string]response{
		"DELETE /a,b": {status: 200, body: `{"acknowledged": true}`},
	})

	require.NoError(t, s.DeleteIndices(context.Background(), []string{"a", "b"}))
	assert.Contains(t, tr.lastCall(t).query, "ignore_unavailable=true")

	require.NoError(t, s.DeleteIndices(context.Background(), nil))
	assert.Len(t, tr.calls, 1)
}

func TestDeleteIndices_SnapshotInProgress(t *testing.T) {
	s, _ := newStore(map[string]response{
		"DELETE /a": {status: 400, body: `{"error":{"type":"snapshot_in_progress_exception","reason":"Cannot delete indices that are being snapshotted: [[a/x]]"},"status":400}`},
	})

	err := s.DeleteIndices(context.Background(), []string{"a"})
	assert.True(t, store.IsSnapshotInProgress(err))
}

func TestPutAliases(t *testing.T) {
	s, tr := newStore(map[string]response{
		"POST /_aliases": {status: 200, body: `{"acknowledged": true}`},
	})

	err := s.PutAliases(context.Background(), "logs-1", map[string]interface{}{
		"logs-write": map[string]interface{}{"is_write_index": true},
		"logs":       map[string]interface{}{},
	})
	require.NoError(t, err)

	var body struct {
		Actions []struct {
			Add map[string]interface{} `json:"add"`
		} `json:"actions"`
	}
	require.NoError(t, json.Unmarshal([]byte(tr.lastCall(t).body), &body))
	require.Len(t, body.Actions, 2)
	assert.Equal(t, map[string]interface{}{"index": "logs-1", "alias": "logs"}, body.Actions[0].Add)
	assert.Equal(t, map[string]interface{}{"index": "logs-1", "alias": "logs-write", "is_write_index": true}, body.Actions[1].Add)

	require.NoError(t, s.PutAliases(context.Background(), "logs-1", nil))
	assert.Len(t, tr.calls, 1)
}

func TestBulk(t *testing.T) {
	s, tr := newStore(map[string]response{
		"POST /_bulk": {status: 200, body: `{"errors": true, "items": [
			{"index": {"_index": "users", "_id": "1", "status": 201}},
			{"create": {"_index": "users", "_id": "2", "status": 400, "error": {"type": "mapper_parsing_exception", "reason": "failed to parse field [age]"}}}
		]}`},
	})

	items := []store.BulkItem{
		{Index: "users", ID: "1", Source: json.RawMessage(`{"name":"Alice"}`)},
		{Action: store.ActionCreate, Index: "users", ID: "2", Source: json.RawMessage(`{"age":"x"}`)},
	}
	results, err := s.Bulk(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Nil(t, results[0].Error)
	assert.Equal(t, 201, results[0].Status)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, "mapper_parsing_exception", results[1].Error.Type)

	body := tr.lastCall(t).body
	var lines []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	assert.Equal(t, []string{
		`{"index":{"_index":"users","_id":"1"}}`,
		`{"name":"Alice"}`,
		`{"create":{"_index":"users","_id":"2"}}`,
		`{"age":"x"}`,
	}, lines)

	total := 0
	for _, item := range items {
		total += item.EncodedSize()
	}
	assert.Equal(t, len(body), total)
}

func TestBulk_TransportFailure(t *testing.T) {
	errNetwork := errors.New("connection reset by peer")
	s, _ := newStore(map[string]response{
		"POST /_bulk": {err: errNetwork},
	})

	_, err := s.Bulk(context.Background(), []store.BulkItem{{Index: "a", Source: json.RawMessage(`{}`)}})
	assert.ErrorIs(t, err, errNetwork)
	assert.True(t, store.IsTransient(err))
}

func TestBulk_ServerError(t *testing.T) {
	s, _ := newStore(map[string]response{
		"POST /_bulk": {status: 503, body: `{"error":{"type":"unavailable_shards_exception","reason":"primary shard is not active"},"status":503}`},
	})

	_, err := s.Bulk(context.Background(), []store.BulkItem{{Index: "a", Source: json.RawMessage(`{}`)}})
	assert.True(t, store.IsTransient(err))
}

func TestSearchAndScroll(t *testing.T) {
	s, tr := newStore(map[string]response{
		"POST /logs/_search": {status: 200, body: `{"_scroll_id": "s1", "hits": {"hits": [
			{"_index": "logs-1", "_id": "1", "_source": {"n": 1}},
			{"_index": "logs-1", "_type": "_doc", "_id": "2", "_source": {"n": 2}}
		]}}`},
		"POST /_search/scroll":   {status: 200, body: `{"_scroll_id": "s2", "hits": {"hits": []}}`},
		"DELETE /_search/scroll": {status: 200, body: `{"succeeded": true}`},
	})
	ctx := context.Background()

	page, err := s.Search(ctx, store.SearchRequest{
		Index:     "logs",
		Query:     map[string]interface{}{"term": map[string]interface{}{"n": 1}},
		Size:      500,
		KeepAlive: time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", page.ScrollID)
	require.Len(t, page.Hits, 2)
	assert.Equal(t, "_doc", page.Hits[1].Type)
	assert.Equal(t, json.Number("2"), page.Hits[1].Source["n"])

	c := tr.lastCall(t)
	assert.Contains(t, c.query, "scroll=60000ms")
	assert.Contains(t, c.query, "size=500")
	assert.Contains(t, c.body, `"term"`)

	page, err = s.Scroll(ctx, "s1", time.Minute)
	require.NoError(t, err)
	assert.Empty(t, page.Hits)
	assert.Contains(t, tr.lastCall(t).body, `"scroll_id":"s1"`)

	require.NoError(t, s.ClearScroll(ctx, "s2"))
}

func TestClearScroll_Expired(t *testing.T) {
	s, _ := newStore(nil)
	assert.NoError(t, s.ClearScroll(context.Background(), "gone"))
}

func TestRefresh(t *testing.T) {
	s, tr := newStore(map[string]response{
		"POST /a,b/_refresh": {status: 200, body: `{"_shards": {}}`},
	})

	require.NoError(t, s.Refresh(context.Background(), []string{"a", "b"}))
	assert.Contains(t, tr.lastCall(t).query, "allow_no_indices=true")
}

func TestParseResponseError_PlainBody(t *testing.T) {
	s, _ := newStore(map[string]response{
		"PUT /x": {status: 502, body: `Bad Gateway`},
	})

	err := s.CreateIndex(context.Background(), "x", nil, nil)
	var re *store.ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "Bad Gateway", re.Body)
	assert.True(t, store.IsTransient(err))
}

func TestIsTransient_Cancelled(t *testing.T) {
	assert.False(t, store.IsTransient(context.Canceled))
	assert.False(t, store.IsTransient(nil))
}
