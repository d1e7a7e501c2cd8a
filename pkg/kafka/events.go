package kafka

// DocumentEvent is one document to check, read from the documents topic.
// Source is an opaque caller reference echoed in the resulting
// SimilarityEvent.
type DocumentEvent struct {
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

// SimilarityEvent is published when a consumed document is recorded as
// similar to an earlier one.
type SimilarityEvent struct {
	DocumentID int     `json:"doc_id"`
	Source     string  `json:"source,omitempty"`
	MasterID   int     `json:"master_id"`
	Distance   float64 `json:"distance"`
	Duplicate  bool    `json:"duplicate"`
}
