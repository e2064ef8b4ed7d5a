package models

// Page is one ingested web page. URL is the unique key; Content holds the
// full extracted text while Embedding is computed from the (possibly
// truncated) vectorization input. Pages are written once and never updated.
type Page struct {
	URL       string
	Content   string
	Embedding []float32
}

// SimilarityMatch is a transient similarity-search hit. Similarity is cosine
// similarity mapped into [0,1].
type SimilarityMatch struct {
	URL        string  `json:"url"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// ChatTurn is a single message in a conversation session. Held only by the
// presentation layer; the pipelines are stateless across turns.
type ChatTurn struct {
	Role string // "user" or "assistant"
	Text string
}
