//go:build integration

package esarchiver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	esarchiver "github.com/kurakura967/go-elasticsearch-archiver"
	"github.com/kurakura967/go-elasticsearch-archiver/archive"
)

var (
	testClient  *elasticsearch.Client
	testCluster esarchiver.ClusterConfig
)

// startElasticsearch runs a single-node cluster and returns its address.
func startElasticsearch(ctx context.Context) (string, func(), error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.elastic.co/elasticsearch/elasticsearch:8.15.3",
			ExposedPorts: []string{"9200/tcp"},
			Env: map[string]string{
				"discovery.type":         "single-node",
				"xpack.security.enabled": "false",
				"ES_JAVA_OPTS":           "-Xms512m -Xmx512m",
			},
			WaitingFor: wait.
				ForHTTP("/_cluster/health?wait_for_status=yellow").
				WithPort("9200/tcp").
				WithStartupTimeout(3 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return "", nil, err
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	endpoint, err := container.PortEndpoint(ctx, "9200/tcp", "http")
	if err != nil {
		terminate()
		return "", nil, err
	}
	return endpoint, terminate, nil
}

func TestMain(m *testing.M) {
	addr := os.Getenv("ELASTICSEARCH_URL")
	terminate := func() {}
	if addr == "" {
		var err error
		addr, terminate, err = startElasticsearch(context.Background())
		if err != nil {
			log.Fatalf("starting Elasticsearch: %v", err)
		}
	}

	var err error
	testClient, err = elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{addr},
	})
	if err != nil {
		log.Fatalf("creating ES client: %v", err)
	}

	res, err := testClient.Ping()
	if err != nil {
		log.Fatalf("Elasticsearch not available: %v", err)
	}
	res.Body.Close()

	testCluster = esarchiver.ClusterConfig{Addresses: []string{addr}}

	code := m.Run()
	terminate()
	os.Exit(code)
}

func setupArchiver(t *testing.T, opts ...esarchiver.Option) *esarchiver.Archiver {
	t.Helper()

	st, err := testCluster.NewStore()
	if err != nil {
		t.Fatalf("NewStore() error: %v", err)
	}
	a, err := esarchiver.New(st, opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return a
}

// getDocCount returns the number of documents in the given index or alias.
func getDocCount(t *testing.T, index string) int {
	t.Helper()

	res, err := testClient.Count(
		testClient.Count.WithIndex(index),
		testClient.Count.WithContext(context.Background()),
	)
	if err != nil {
		t.Fatalf("counting documents in %q: %v", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		t.Fatalf("counting documents in %q: %s", index, res.Status())
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decoding count response: %v", err)
	}

	return result.Count
}

// getDocument retrieves a document by ID from the given index.
func getDocument(t *testing.T, index, id string) map[string]interface{} {
	t.Helper()

	res, err := testClient.Get(index, id,
		testClient.Get.WithContext(context.Background()),
	)
	if err != nil {
		t.Fatalf("getting document %q from %q: %v", id, index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		t.Fatalf("getting document %q from %q: %s", id, index, res.Status())
	}

	var result struct {
		Source map[string]interface{} `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decoding get response: %v", err)
	}

	return result.Source
}

// getIndexMapping retrieves the mapping of the given index.
func getIndexMapping(t *testing.T, index string) map[string]interface{} {
	t.Helper()

	res, err := testClient.Indices.GetMapping(
		testClient.Indices.GetMapping.WithIndex(index),
		testClient.Indices.GetMapping.WithContext(context.Background()),
	)
	if err != nil {
		t.Fatalf("getting mapping for %q: %v", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		t.Fatalf("getting mapping for %q: %s", index, res.Status())
	}

	var result map[string]interface{}
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decoding mapping response: %v", err)
	}

	return result
}

// indexExists checks whether the given index exists.
func indexExists(t *testing.T, index string) bool {
	t.Helper()

	res, err := testClient.Indices.Exists([]string{index},
		testClient.Indices.Exists.WithContext(context.Background()),
	)
	if err != nil {
		t.Fatalf("checking existence of %q: %v", index, err)
	}
	defer res.Body.Close()

	return !res.IsError()
}

func TestLoadAndUnloadFixtures_BasicRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := setupArchiver(t)

	// Load fixtures (deletes existing indices first)
	if _, err := a.LoadFixtures(ctx, fixturesDir); err != nil {
		t.Fatalf("LoadFixtures() error: %v", err)
	}

	if count := getDocCount(t, "users"); count != 2 {
		t.Errorf("expected 2 users documents, got %d", count)
	}
	if count := getDocCount(t, "products"); count != 3 {
		t.Errorf("expected 3 products documents, got %d", count)
	}
	if count := getDocCount(t, "people"); count != 2 {
		t.Errorf("expected 2 documents behind alias people, got %d", count)
	}

	if _, err := a.UnloadFixtures(ctx, fixturesDir); err != nil {
		t.Fatalf("UnloadFixtures() error: %v", err)
	}

	if indexExists(t, "users") {
		t.Error("users index should not exist after UnloadFixtures()")
	}
	if indexExists(t, "products") {
		t.Error("products index should not exist after UnloadFixtures()")
	}
}

func TestLoadFixtures_MappingApplied(t *testing.T) {
	ctx := context.Background()
	a := setupArchiver(t)

	if _, err := a.LoadFixtures(ctx, fixturesDir); err != nil {
		t.Fatalf("LoadFixtures() error: %v", err)
	}
	t.Cleanup(func() { a.UnloadFixtures(ctx, fixturesDir) })

	mapping := getIndexMapping(t, "users")
	usersMapping, ok := mapping["users"].(map[string]interface{})
	if !ok {
		t.Fatal("expected users index in mapping response")
	}
	mappings, ok := usersMapping["mappings"].(map[string]interface{})
	if !ok {
		t.Fatal("expected mappings in users index")
	}
	properties, ok := mappings["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("expected properties in mappings")
	}
	emailProp, ok := properties["email"].(map[string]interface{})
	if !ok {
		t.Fatal("expected email property")
	}

	if emailType, ok := emailProp["type"].(string); !ok || emailType != "keyword" {
		t.Errorf("expected email type 'keyword', got %v", emailProp["type"])
	}
}

func TestLoadFixtures_DocumentIDs(t *testing.T) {
	ctx := context.Background()
	a := setupArchiver(t)

	if _, err := a.LoadFixtures(ctx, fixturesDir); err != nil {
		t.Fatalf("LoadFixtures() error: %v", err)
	}
	t.Cleanup(func() { a.UnloadFixtures(ctx, fixturesDir) })

	doc := getDocument(t, "users", "1")
	if name, ok := doc["name"].(string); !ok || name != "Alice" {
		t.Errorf("expected name 'Alice', got %v", doc["name"])
	}

	doc = getDocument(t, "products", "p3")
	if title, ok := doc["title"].(string); !ok || title != "Go Programming" {
		t.Errorf("expected title 'Go Programming', got %v", doc["title"])
	}
}

func TestLoadFixtures_ReloadsCleanState(t *testing.T) {
	ctx := context.Background()
	a := setupArchiver(t)

	// Load twice to verify clean reload
	if _, err := a.LoadFixtures(ctx, fixturesDir); err != nil {
		t.Fatalf("first LoadFixtures() error: %v", err)
	}
	s, err := a.LoadFixtures(ctx, fixturesDir)
	if err != nil {
		t.Fatalf("second LoadFixtures() error: %v", err)
	}
	t.Cleanup(func() { a.UnloadFixtures(ctx, fixturesDir) })

	if deleted := s.Totals().DeletedIndex; deleted != 2 {
		t.Errorf("expected 2 deleted indices on reload, got %d", deleted)
	}
	// Document count should be the same (not doubled)
	if count := getDocCount(t, "users"); count != 2 {
		t.Errorf("expected 2 users documents after reload, got %d", count)
	}
}

func TestUnloadFixtures_Idempotent(t *testing.T) {
	ctx := context.Background()
	a := setupArchiver(t)

	if _, err := a.LoadFixtures(ctx, fixturesDir); err != nil {
		t.Fatalf("LoadFixtures() error: %v", err)
	}

	if _, err := a.UnloadFixtures(ctx, fixturesDir); err != nil {
		t.Fatalf("first UnloadFixtures() error: %v", err)
	}
	if _, err := a.UnloadFixtures(ctx, fixturesDir); err != nil {
		t.Fatalf("second UnloadFixtures() error: %v", err)
	}
}

func TestLoadFixtures_NoMappingOrSettings(t *testing.T) {
	ctx := context.Background()
	a := setupArchiver(t)

	dir := t.TempDir()
	indexDir := filepath.Join(dir, "dynamic_index")
	if err := os.Mkdir(indexDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(indexDir, "documents.yml"), []byte("- name: test\n  value: hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := a.LoadFixtures(ctx, dir); err != nil {
		t.Fatalf("LoadFixtures() error: %v", err)
	}
	t.Cleanup(func() { a.UnloadFixtures(ctx, dir) })

	if count := getDocCount(t, "dynamic_index"); count != 1 {
		t.Errorf("expected 1 document, got %d", count)
	}
}

func TestSaveLoad_LiveCluster(t *testing.T) {
	ctx := context.Background()
	a := setupArchiver(t, esarchiver.WithPageSize(1))

	if _, err := a.LoadFixtures(ctx, fixturesDir); err != nil {
		t.Fatalf("LoadFixtures() error: %v", err)
	}
	t.Cleanup(func() { a.UnloadFixtures(ctx, fixturesDir) })

	dir := archive.LocalDir(t.TempDir())
	s, err := a.Save(ctx, dir, []string{"people", "products"})
	if err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	if got := s.Totals().ArchivedDoc; got != 5 {
		t.Errorf("expected 5 archived documents, got %d", got)
	}

	if _, err := a.Unload(ctx, dir); err != nil {
		t.Fatalf("Unload() error: %v", err)
	}
	if indexExists(t, "users") {
		t.Fatal("users index should not exist after Unload()")
	}

	s, err = a.Load(ctx, dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got := s.Totals().IndexedDoc; got != 5 {
		t.Errorf("expected 5 indexed documents, got %d", got)
	}
	if count := getDocCount(t, "people"); count != 2 {
		t.Errorf("expected 2 documents behind alias people, got %d", count)
	}
	doc := getDocument(t, "products", "p1")
	if title := fmt.Sprint(doc["title"]); title != "Laptop" {
		t.Errorf("expected title 'Laptop', got %q", title)
	}
}

func TestLoad_SkipExisting_LiveCluster(t *testing.T) {
	ctx := context.Background()
	a := setupArchiver(t)

	dir := archive.LocalDir(t.TempDir())
	if err := a.Convert(ctx, fixturesDir, dir); err != nil {
		t.Fatalf("Convert() error: %v", err)
	}
	if _, err := a.LoadFixtures(ctx, fixturesDir); err != nil {
		t.Fatalf("LoadFixtures() error: %v", err)
	}
	t.Cleanup(func() { a.UnloadFixtures(ctx, fixturesDir) })

	s, err := setupArchiver(t, esarchiver.SkipExisting()).Load(ctx, dir)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if skipped := s.Totals().SkippedIndex; skipped != 2 {
		t.Errorf("expected 2 skipped indices, got %d", skipped)
	}
	if indexed := s.Totals().IndexedDoc; indexed != 0 {
		t.Errorf("expected no indexed documents, got %d", indexed)
	}
}
