//go:build integration

// Package sample_test walks the fixtures under testdata through the archive
// workflow against a live cluster: fixtures are converted to an archive,
// restored, saved again and restored from the saved copy.
package sample_test

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	esarchiver "github.com/kurakura967/go-elasticsearch-archiver"
	"github.com/kurakura967/go-elasticsearch-archiver/archive"
	"github.com/kurakura967/go-elasticsearch-archiver/store"
)

const fixturesDir = "testdata/fixtures"

var (
	client   *elasticsearch.Client
	archiver *esarchiver.Archiver
)

func TestMain(m *testing.M) {
	addr := os.Getenv("ELASTICSEARCH_URL")
	if addr == "" {
		addr = "http://localhost:9200"
	}

	var err error
	client, err = elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
	})
	if err != nil {
		log.Fatalf("creating ES client: %v", err)
	}

	logger, _ := test.NewNullLogger()
	archiver, err = esarchiver.New(store.NewElasticsearch(client), esarchiver.WithLogger(logger))
	if err != nil {
		log.Fatalf("creating archiver: %v", err)
	}

	os.Exit(m.Run())
}

// convert writes the sample fixtures as an archive in a temporary directory.
func convert(t *testing.T) archive.LocalDir {
	t.Helper()
	dir := archive.LocalDir(t.TempDir())
	require.NoError(t, archiver.Convert(context.Background(), fixturesDir, dir))
	return dir
}

// load restores dir and unloads it when the test ends.
func load(t *testing.T, dir archive.Storage) {
	t.Helper()
	ctx := context.Background()
	t.Cleanup(func() { archiver.Unload(ctx, dir) })

	s, err := archiver.Load(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Totals().CreatedIndex)
	assert.Equal(t, 6, s.Totals().IndexedDoc)
	assert.Zero(t, s.Totals().RejectedDoc)
}

func count(t *testing.T, index string) int {
	t.Helper()
	res, err := client.Count(
		client.Count.WithContext(context.Background()),
		client.Count.WithIndex(index),
	)
	require.NoError(t, err)
	defer res.Body.Close()
	require.False(t, res.IsError(), res.String())

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body.Count
}

func source(t *testing.T, index, id string) map[string]interface{} {
	t.Helper()
	res, err := client.Get(index, id, client.Get.WithContext(context.Background()))
	require.NoError(t, err)
	defer res.Body.Close()
	require.False(t, res.IsError(), res.String())

	var body struct {
		Source map[string]interface{} `json:"_source"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body.Source
}

func fieldType(t *testing.T, index, field string) string {
	t.Helper()
	res, err := client.Indices.GetMapping(
		client.Indices.GetMapping.WithContext(context.Background()),
		client.Indices.GetMapping.WithIndex(index),
	)
	require.NoError(t, err)
	defer res.Body.Close()

	var body map[string]struct {
		Mappings struct {
			Properties map[string]struct {
				Type string `json:"type"`
			} `json:"properties"`
		} `json:"mappings"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return body[index].Mappings.Properties[field].Type
}

func TestConvertAndLoad(t *testing.T) {
	dir := convert(t)

	names, err := dir.List(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{archive.MappingsFile, archive.DataFile + ".gz"}, names)

	load(t, dir)

	assert.Equal(t, 3, count(t, "users"))
	assert.Equal(t, 3, count(t, "products"))
	assert.Equal(t, 3, count(t, "people"), "alias restored")
	assert.Equal(t, "keyword", fieldType(t, "users", "email"))
	assert.Equal(t, "float", fieldType(t, "products", "price"))
	assert.Equal(t, "Laptop", source(t, "products", "p1")["title"])
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	load(t, convert(t))
	before := source(t, "users", "1")

	saved := archive.LocalDir(t.TempDir())
	s, err := archiver.Save(ctx, saved, []string{"users", "products"})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Totals().ArchivedIndex)
	assert.Equal(t, 6, s.Totals().ArchivedDoc)

	_, err = archiver.Unload(ctx, saved)
	require.NoError(t, err)
	res, err := client.Indices.Exists([]string{"users", "products"}, client.Indices.Exists.WithContext(ctx))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, 404, res.StatusCode, "unloaded")

	load(t, saved)
	assert.Equal(t, before, source(t, "users", "1"))
	assert.Equal(t, 3, count(t, "people"))
	assert.Equal(t, "integer", fieldType(t, "users", "age"))
}

func TestLoadResetsState(t *testing.T) {
	dir := convert(t)
	load(t, dir)

	res, err := client.Index(
		"users",
		strings.NewReader(`{"name": "Extra User", "email": "extra@example.com", "age": 99}`),
		client.Index.WithContext(context.Background()),
		client.Index.WithRefresh("true"),
	)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, 4, count(t, "users"))

	s, err := archiver.Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Totals().DeletedIndex)
	assert.Equal(t, 3, count(t, "users"))
}
