// Package fixture reads hand-written index fixtures and turns them into the
// same records an archive holds, so they restore through the same pipeline.
//
// A fixtures directory holds one subdirectory per index:
//
//	fixtures/
//	  users/
//	    _mapping.json   mappings (optional)
//	    _settings.json  settings (optional)
//	    _aliases.json   aliases (optional)
//	    001_users.yml   a YAML list of documents; "_id" sets the document id
package fixture

import (
	"context"

	"github.com/kurakura967/go-elasticsearch-archiver/internal/stream"
	"github.com/kurakura967/go-elasticsearch-archiver/record"
)

// Index represents a single index and its fixture data.
type Index struct {
	Name      string                 // Directory name = index name
	Mappings  map[string]interface{} // Contents of _mapping.json (may be nil)
	Settings  map[string]interface{} // Contents of _settings.json (may be nil)
	Aliases   map[string]interface{} // Contents of _aliases.json (may be nil)
	Documents []Document             // Parsed documents from YAML files
}

// Document represents a single document to be indexed.
type Document struct {
	ID   string                 // Extracted from _id field (may be empty for auto-generated IDs)
	Body map[string]interface{} // Document body (without _id)
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// Records returns the index record of f followed by its document records.
func (f *Index) Records() []record.Record {
	records := make([]record.Record, 0, 1+len(f.Documents))
	records = append(records, &record.IndexRecord{
		Index:    f.Name,
		Settings: orEmpty(f.Settings),
		Mappings: orEmpty(f.Mappings),
		Aliases:  orEmpty(f.Aliases),
	})
	for _, doc := range f.Documents {
		records = append(records, &record.DocumentRecord{
			Index:  f.Name,
			ID:     doc.ID,
			Source: orEmpty(doc.Body),
		})
	}
	return records
}

// GenerateRecords emits the records of every fixture in order and closes
// out.
func GenerateRecords(ctx context.Context, fixtures []*Index, out chan<- record.Record) error {
	for _, f := range fixtures {
		for _, r := range f.Records() {
			if err := stream.Send(ctx, out, r); err != nil {
				return err
			}
		}
	}
	close(out)
	return nil
}
