// Package record defines the two kinds of archive records and their JSON
// encoding.
//
// An archive is a sequence of records, each a JSON object of the form
//
//	{
//	  "type": "index",
//	  "value": { ... }
//	}
//
// pretty-printed with two spaces and separated by a blank line. Index records
// for an index always come before the document records that reference it.
package record

// Kind tells the two record shapes apart on the wire.
type Kind string

const (
	KindIndex    Kind = "index"
	KindDocument Kind = "doc"
)

// Record is either an *IndexRecord or a *DocumentRecord.
type Record interface {
	Kind() Kind
	// IndexName is the index the record belongs to.
	IndexName() string

	isRecord()
}

// IndexRecord describes everything needed to recreate an index: its portable
// settings, its mappings and the aliases pointing at it.
type IndexRecord struct {
	Index    string                 `json:"index"`
	Settings map[string]interface{} `json:"settings"`
	Mappings map[string]interface{} `json:"mappings"`
	Aliases  map[string]interface{} `json:"aliases"`
}

func (r *IndexRecord) Kind() Kind        { return KindIndex }
func (r *IndexRecord) IndexName() string { return r.Index }
func (*IndexRecord) isRecord()           {}

// DocumentRecord is a single stored document.
type DocumentRecord struct {
	Index string `json:"index"`
	// Type is only present in archives taken from clusters that still had
	// mapping types. It is never sent back to the store.
	Type   string                 `json:"type,omitempty"`
	ID     string                 `json:"id"`
	Source map[string]interface{} `json:"source"`
}

func (r *DocumentRecord) Kind() Kind        { return KindDocument }
func (r *DocumentRecord) IndexName() string { return r.Index }
func (*DocumentRecord) isRecord()           {}
