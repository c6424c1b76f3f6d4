package fixture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	MappingFile  = "_mapping.json"
	SettingsFile = "_settings.json"
	AliasesFile  = "_aliases.json"
)

// Parse scans the fixtures directory and parses all index subdirectories,
// in name order.
func Parse(dir string) ([]*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures directory %q: %w", dir, err)
	}

	var fixtures []*Index
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		f, err := parseIndexDir(filepath.Join(dir, entry.Name()), entry.Name())
		if err != nil {
			return nil, fmt.Errorf("parsing index %q: %w", entry.Name(), err)
		}
		fixtures = append(fixtures, f)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no index directories found in %q", dir)
	}

	return fixtures, nil
}

// parseIndexDir parses a single index directory containing schema and document files.
func parseIndexDir(dir string, name string) (*Index, error) {
	f := &Index{Name: name}

	for file, dst := range map[string]*map[string]interface{}{
		MappingFile:  &f.Mappings,
		SettingsFile: &f.Settings,
		AliasesFile:  &f.Aliases,
	} {
		obj, err := readJSONFile(filepath.Join(dir, file))
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		*dst = obj
	}

	docs, err := parseDocumentFiles(dir)
	if err != nil {
		return nil, err
	}
	f.Documents = docs

	return f, nil
}

// readJSONFile reads a file holding one JSON object. Numbers are kept as
// json.Number. The error satisfies os.IsNotExist if the file does not exist.
func readJSONFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("invalid JSON in %q: %w", path, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("invalid JSON in %q: trailing data", path)
	}

	return obj, nil
}

// documentFiles returns the YAML files of dir in name order. Files whose
// name starts with "_" describe the index and hold no documents.
func documentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %q: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, "_") {
			continue
		}
		if ext := filepath.Ext(name); ext == ".yml" || ext == ".yaml" {
			files = append(files, filepath.Join(dir, name))
		}
	}
	return files, nil
}

func parseDocumentFiles(dir string) ([]Document, error) {
	files, err := documentFiles(dir)
	if err != nil {
		return nil, err
	}

	var docs []Document
	for _, path := range files {
		fileDocs, err := readDocuments(path)
		if err != nil {
			return nil, fmt.Errorf("parsing document file %q: %w", filepath.Base(path), err)
		}
		docs = append(docs, fileDocs...)
	}
	return docs, nil
}

// readDocuments decodes every YAML document of path in turn. Each one is a
// list of document bodies, so a file may be split with "---".
func readDocuments(path string) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var docs []Document
	dec := yaml.NewDecoder(f)
	for part := 0; ; part++ {
		var bodies []map[string]interface{}
		if err := dec.Decode(&bodies); err != nil {
			if errors.Is(err, io.EOF) {
				return docs, nil
			}
			return nil, fmt.Errorf("yaml document %d: %w", part, err)
		}

		for _, body := range bodies {
			doc, err := newDocument(body)
			if err != nil {
				return nil, fmt.Errorf("document %d: %w", len(docs), err)
			}
			docs = append(docs, doc)
		}
	}
}

// newDocument moves the "_id" key of body out into the document ID.
func newDocument(body map[string]interface{}) (Document, error) {
	if body == nil {
		body = map[string]interface{}{}
	}
	raw, ok := body["_id"]
	if !ok {
		return Document{Body: body}, nil
	}
	delete(body, "_id")

	switch id := raw.(type) {
	case string:
		return Document{ID: id, Body: body}, nil
	case int, int64, uint64, float64, bool:
		return Document{ID: fmt.Sprint(id), Body: body}, nil
	default:
		return Document{}, fmt.Errorf("_id must be a scalar, got %T", raw)
	}
}
