// Package models defines the request and response bodies of the HTTP API.
package models

import (
	"errors"
	"fmt"

	"github.com/hyperjump/zake/pkg/utils"
)

// MaxChunkSize is the nominal chunk size in characters. Inputs may exceed it
// by a quarter.
const MaxChunkSize = 1000

// MaxInputLength is the longest accepted query or document, in characters.
const MaxInputLength = MaxChunkSize * 5 / 4

// ErrEmptyInput is returned for a missing or empty text.
var ErrEmptyInput = errors.New("value must not be empty")

// ValidateChunk checks that text is 1..MaxInputLength characters long.
func ValidateChunk(text string) error {
	n := utils.CharCount(text)
	if n == 0 {
		return ErrEmptyInput
	}
	if n > MaxInputLength {
		return fmt.Errorf("max length is %d", MaxInputLength)
	}
	return nil
}

// EmbedQueryRequest embeds a single text.
type EmbedQueryRequest struct {
	Query string `json:"query"`
}

// Validate checks the query length.
func (r *EmbedQueryRequest) Validate() error {
	if err := ValidateChunk(r.Query); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	return nil
}

// EmbedDocumentsRequest embeds a list of texts.
type EmbedDocumentsRequest struct {
	Documents []string `json:"documents"`
}

// Validate checks every document length. An empty list is valid.
func (r *EmbedDocumentsRequest) Validate() error {
	if r.Documents == nil {
		return errors.New("documents: field is required")
	}
	for i, d := range r.Documents {
		if err := ValidateChunk(d); err != nil {
			return fmt.Errorf("documents[%d]: %w", i, err)
		}
	}
	return nil
}

// RerankRequest scores documents against a query. Optional fields fall back
// to the server configuration when nil.
type RerankRequest struct {
	Model           string   `json:"model,omitempty"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopK            *int     `json:"topK,omitempty"`
	ReturnDocuments *bool    `json:"returnDocuments,omitempty"`
}

// Validate requires a query and non-empty documents.
func (r *RerankRequest) Validate() error {
	if r.Query == "" {
		return fmt.Errorf("query: %w", ErrEmptyInput)
	}
	if r.Documents == nil {
		return errors.New("documents: field is required")
	}
	for i, d := range r.Documents {
		if d == "" {
			return fmt.Errorf("documents[%d]: %w", i, ErrEmptyInput)
		}
	}
	return nil
}
