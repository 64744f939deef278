// Package cli provides CLI utilities for zake.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/zake/internal/models"
	"github.com/hyperjump/zake/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputCompact prints one line per vector or result.
	OutputCompact OutputFormat = "compact"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// previewDims is the number of vector components shown in text output.
const previewDims = 6

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputCompact, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// WriteEmbeddings writes embedding vectors to w in the given format.
func WriteEmbeddings(w io.Writer, response *models.EmbeddingsResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, v := range response.Vectors {
			fmt.Fprintln(w, joinFloats(v, " "))
		}
		return nil
	default:
		fmt.Fprintf(w, "\n%d vector(s), status %s, %d tokens in %dms\n\n",
			len(response.Vectors), response.Status, response.Metadata.Tokens, response.Metadata.Duration)
		for i, v := range response.Vectors {
			fmt.Fprintf(w, "[%d] dims=%d %s\n", i, len(v), previewVector(v))
		}
		return nil
	}
}

// WriteRerankResults writes reranker results to w in the given format.
func WriteRerankResults(w io.Writer, response *models.RerankResponse, format OutputFormat) error {
	switch format {
	case OutputJSON:
		return writeJSON(w, response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\n", r.CorpusID, r.Score)
		}
		return nil
	default:
		fmt.Fprintf(w, "\n%d result(s), %d tokens in %dms\n\n",
			len(response.Results), response.Metadata.Tokens, response.Metadata.Duration)
		for rank, r := range response.Results {
			fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Rank: %d | Document: %d | Score: %.4f\n", rank+1, r.CorpusID, r.Score)
			if r.Text != "" {
				fmt.Fprintf(w, "\n%s\n", utils.Truncate(r.Text, 200))
			}
			fmt.Fprintln(w)
		}
		return nil
	}
}

// WriteCacheStats writes cache statistics to w as text or JSON.
func WriteCacheStats(w io.Writer, stats *models.CacheStatsResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	fmt.Fprintf(w, "entries:         %d   # cached embeddings\n", stats.Entries)
	fmt.Fprintf(w, "disk_usage:      %d   # bytes, entries + scratch files\n", stats.Bytes)
	fmt.Fprintf(w, "memory_entries:  %d\n", stats.MemoryEntries)
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func previewVector(v []float32) string {
	if len(v) <= previewDims {
		return "[" + joinFloats(v, ", ") + "]"
	}
	return "[" + joinFloats(v[:previewDims], ", ") + ", ...]"
}

func joinFloats(v []float32, sep string) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%.6f", f)
	}
	return strings.Join(parts, sep)
}
