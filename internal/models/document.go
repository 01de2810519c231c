package models

import "time"

// Document is the extracted text of one fetched URL.
type Document struct {
	Source   string
	Title    string
	Text     string
	Metadata map[string]interface{}
}

// Segment is a bounded slice of a document's text. Order is the position of
// the segment inside its document.
type Segment struct {
	Source string
	Text   string
	Order  int
}

type ScoredSegment struct {
	Segment
	Score float64
}

// IndexEntry is the persisted unit of the vector index.
type IndexEntry struct {
	Vector []float32
	Text   string
	Source string
	Order  int
}

// Index is a fully built vector index. Every entry's vector has Dimension
// elements. An index is never merged into; rebuilding replaces it.
type Index struct {
	Dimension int
	Model     string
	BuildID   string
	BuiltAt   time.Time
	Entries   []IndexEntry
}

func (i *Index) Len() int {
	if i == nil {
		return 0
	}
	return len(i.Entries)
}

// Sources returns the distinct entry sources in insertion order.
func (i *Index) Sources() []string {
	if i == nil {
		return nil
	}
	var sources []string
	seen := make(map[string]bool)
	for _, e := range i.Entries {
		if !seen[e.Source] {
			seen[e.Source] = true
			sources = append(sources, e.Source)
		}
	}
	return sources
}

// IndexInfo describes a persisted index without its vectors.
type IndexInfo struct {
	Dimension int
	Model     string
	BuildID   string
	BuiltAt   time.Time
	Count     int
	Sources   []string
}

type QueryResult struct {
	Answer    string
	Sources   []string
	NoContent bool
}

// URLFailure records a URL that was dropped while loading documents.
type URLFailure struct {
	URL string
	Err error
}

func (f URLFailure) Error() string {
	return f.URL + ": " + f.Err.Error()
}

func (f URLFailure) Unwrap() error {
	return f.Err
}
