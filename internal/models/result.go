package models

// Response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Metadata describes the cost of a request. Duration is in milliseconds.
type Metadata struct {
	Tokens   int   `json:"tokens"`
	Duration int64 `json:"duration"`
}

// EmbeddingResponse carries the vector of one query.
type EmbeddingResponse struct {
	Status   string    `json:"status"`
	Vector   []float32 `json:"vector"`
	Metadata Metadata  `json:"metadata"`
}

// EmbeddingsResponse carries one vector per document.
type EmbeddingsResponse struct {
	Status   string      `json:"status"`
	Vectors  [][]float32 `json:"vectors"`
	Metadata Metadata    `json:"metadata"`
}

// RerankResult is one scored document. CorpusID is its index in the request.
type RerankResult struct {
	CorpusID int     `json:"corpus_id"`
	Score    float32 `json:"score"`
	Text     string  `json:"text,omitempty"`
}

// RerankResponse lists results by descending score.
type RerankResponse struct {
	Status   string         `json:"status"`
	Results  []RerankResult `json:"results"`
	Metadata Metadata       `json:"metadata"`
}

// CacheStatsResponse reports cache usage.
type CacheStatsResponse struct {
	Entries       int64 `json:"entries"`
	Bytes         int64 `json:"bytes"`
	MemoryEntries int   `json:"memory_entries"`
}

// StatusFor returns StatusSuccess when n results were produced, else StatusError.
func StatusFor(n int) string {
	if n > 0 {
		return StatusSuccess
	}
	return StatusError
}
