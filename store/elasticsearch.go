package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// metadataFilterPath keeps settings and mappings and drops the settings that
// describe one particular index instance rather than its shape.
var metadataFilterPath = []string{
	"*.settings",
	"*.mappings",
	"-*.settings.index.creation_date",
	"-*.settings.index.uuid",
	"-*.settings.index.version",
	"-*.settings.index.provided_name",
	"-*.settings.index.frozen",
	"-*.settings.index.search.throttled",
	"-*.settings.index.query",
	"-*.settings.index.routing",
}

// Elasticsearch implements Store with the REST API. Any esapi.Transport
// works, so both *elasticsearch.Client and *opensearch.Client can back it.
type Elasticsearch struct {
	transport esapi.Transport
}

func NewElasticsearch(transport esapi.Transport) *Elasticsearch {
	return &Elasticsearch{transport: transport}
}

type request interface {
	Do(ctx context.Context, transport esapi.Transport) (*esapi.Response, error)
}

// do performs req and decodes a successful JSON response into v, if v is
// not nil.
func (s *Elasticsearch) do(ctx context.Context, req request, v interface{}) error {
	res, err := req.Do(ctx, s.transport)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := checkResponse(res); err != nil {
		return err
	}

	if v == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	return decodeJSON(res.Body, v)
}

func decodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func jsonBody(v interface{}) (io.Reader, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("building request body: %w", err)
	}
	return &buf, nil
}

func (s *Elasticsearch) GetIndices(ctx context.Context, nameOrAlias string) (map[string]IndexMetadata, error) {
	var resp map[string]IndexMetadata
	err := s.do(ctx, esapi.IndicesGetRequest{
		Index:      []string{nameOrAlias},
		FilterPath: metadataFilterPath,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("getting index %q: %w", nameOrAlias, err)
	}
	return resp, nil
}

type aliasesResponse map[string]struct {
	Aliases map[string]interface{} `json:"aliases"`
}

func (s *Elasticsearch) getAlias(ctx context.Context, name string) (aliasesResponse, error) {
	var resp aliasesResponse
	err := s.do(ctx, esapi.IndicesGetAliasRequest{Index: []string{name}}, &resp)
	return resp, err
}

func (s *Elasticsearch) GetAliases(ctx context.Context, index string) (map[string]interface{}, error) {
	resp, err := s.getAlias(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("getting aliases of %q: %w", index, err)
	}

	aliases := resp[index].Aliases
	if aliases == nil {
		aliases = map[string]interface{}{}
	}
	return aliases, nil
}

func (s *Elasticsearch) ResolveIndices(ctx context.Context, nameOrAlias string) ([]string, error) {
	resp, err := s.getAlias(ctx, nameOrAlias)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", nameOrAlias, err)
	}

	names := make([]string, 0, len(resp))
	for name := range resp {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Elasticsearch) DeleteIndices(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	ignoreUnavailable := true
	err := s.do(ctx, esapi.IndicesDeleteRequest{
		Index:             names,
		IgnoreUnavailable: &ignoreUnavailable,
	}, nil)
	if err != nil {
		return fmt.Errorf("deleting indices %q: %w", names, err)
	}
	return nil
}

// buildCreateIndexBody constructs the JSON body for the Create Index API.
func buildCreateIndexBody(settings, mappings map[string]interface{}) map[string]interface{} {
	body := make(map[string]interface{})
	if len(mappings) > 0 {
		body["mappings"] = mappings
	}
	if len(settings) > 0 {
		body["settings"] = settings
	}
	return body
}

func (s *Elasticsearch) CreateIndex(ctx context.Context, name string, settings, mappings map[string]interface{}) error {
	body, err := jsonBody(buildCreateIndexBody(settings, mappings))
	if err != nil {
		return err
	}

	if err := s.do(ctx, esapi.IndicesCreateRequest{Index: name, Body: body}, nil); err != nil {
		return fmt.Errorf("creating index %q: %w", name, err)
	}
	return nil
}

func (s *Elasticsearch) PutAliases(ctx context.Context, index string, aliases map[string]interface{}) error {
	if len(aliases) == 0 {
		return nil
	}

	names := make([]string, 0, len(aliases))
	for name := range aliases {
		names = append(names, name)
	}
	sort.Strings(names)

	actions := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		add := map[string]interface{}{}
		if opts, ok := aliases[name].(map[string]interface{}); ok {
			for k, v := range opts {
				add[k] = v
			}
		}
		add["index"] = index
		add["alias"] = name
		actions = append(actions, map[string]interface{}{"add": add})
	}

	body, err := jsonBody(map[string]interface{}{"actions": actions})
	if err != nil {
		return err
	}
	if err := s.do(ctx, esapi.IndicesUpdateAliasesRequest{Body: body}, nil); err != nil {
		return fmt.Errorf("putting aliases %q on %q: %w", names, index, err)
	}
	return nil
}

type bulkMeta struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

func (i BulkItem) metaLine() ([]byte, error) {
	action := i.Action
	if action == "" {
		action = ActionIndex
	}
	return json.Marshal(map[BulkAction]bulkMeta{action: {Index: i.Index, ID: i.ID}})
}

// EncodedSize is the number of bytes the item adds to a bulk request body.
func (i BulkItem) EncodedSize() int {
	meta, err := i.metaLine()
	if err != nil {
		return len(i.Source)
	}
	return len(meta) + 1 + len(i.Source) + 1
}

type bulkResponse struct {
	Errors bool                          `json:"errors"`
	Items  []map[string]bulkResponseItem `json:"items"`
}

type bulkResponseItem struct {
	Index  string      `json:"_index"`
	ID     string      `json:"_id"`
	Status int         `json:"status"`
	Error  *ErrorCause `json:"error,omitempty"`
}

func (s *Elasticsearch) Bulk(ctx context.Context, items []BulkItem) ([]BulkResult, error) {
	if len(items) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	for _, item := range items {
		meta, err := item.metaLine()
		if err != nil {
			return nil, fmt.Errorf("encoding bulk item %q: %w", item.ID, err)
		}
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(item.Source)
		buf.WriteByte('\n')
	}

	var resp bulkResponse
	if err := s.do(ctx, esapi.BulkRequest{Body: &buf}, &resp); err != nil {
		return nil, fmt.Errorf("bulk request of %d documents: %w", len(items), err)
	}
	if len(resp.Items) != len(items) {
		return nil, fmt.Errorf("bulk response has %d items for %d documents", len(resp.Items), len(items))
	}

	results := make([]BulkResult, len(items))
	for i, entry := range resp.Items {
		results[i] = BulkResult{Index: items[i].Index, ID: items[i].ID}
		for _, item := range entry {
			results[i].Status = item.Status
			results[i].Error = item.Error
			if item.ID != "" {
				results[i].ID = item.ID
			}
		}
	}
	return results, nil
}

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Hits     struct {
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

func (r searchResponse) page() *Page {
	return &Page{ScrollID: r.ScrollID, Hits: r.Hits.Hits}
}

func formatKeepAlive(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}

func (s *Elasticsearch) Search(ctx context.Context, req SearchRequest) (*Page, error) {
	body := map[string]interface{}{"sort": []string{"_doc"}}
	if req.Query != nil {
		body["query"] = req.Query
	}
	reader, err := jsonBody(body)
	if err != nil {
		return nil, err
	}

	size := req.Size
	var resp searchResponse
	err = s.do(ctx, esapi.SearchRequest{
		Index:  []string{req.Index},
		Body:   reader,
		Size:   &size,
		Scroll: req.KeepAlive,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", req.Index, err)
	}
	return resp.page(), nil
}

func (s *Elasticsearch) Scroll(ctx context.Context, scrollID string, keepAlive time.Duration) (*Page, error) {
	body, err := jsonBody(map[string]interface{}{
		"scroll":    formatKeepAlive(keepAlive),
		"scroll_id": scrollID,
	})
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := s.do(ctx, esapi.ScrollRequest{Body: body}, &resp); err != nil {
		return nil, fmt.Errorf("scrolling: %w", err)
	}
	return resp.page(), nil
}

func (s *Elasticsearch) ClearScroll(ctx context.Context, scrollID string) error {
	body, err := jsonBody(map[string]interface{}{"scroll_id": []string{scrollID}})
	if err != nil {
		return err
	}

	err = s.do(ctx, esapi.ClearScrollRequest{Body: body}, nil)
	if err != nil && !IsNotFound(err) {
		return fmt.Errorf("clearing scroll: %w", err)
	}
	return nil
}

// Refresh forces a refresh so that documents are immediately searchable.
func (s *Elasticsearch) Refresh(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}

	allowNoIndices := true
	ignoreUnavailable := true
	err := s.do(ctx, esapi.IndicesRefreshRequest{
		Index:             names,
		AllowNoIndices:    &allowNoIndices,
		IgnoreUnavailable: &ignoreUnavailable,
	}, nil)
	if err != nil {
		return fmt.Errorf("refreshing indices %q: %w", names, err)
	}
	return nil
}

var _ Store = (*Elasticsearch)(nil)
