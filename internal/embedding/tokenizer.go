package embedding

import (
	"strings"
)

// BERT special token ids.
const (
	tokenCLS = 101
	tokenSEP = 102
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
	// TokenizePair encodes "[CLS] a [SEP] b [SEP]" with segment ids 0 and 1.
	TokenizePair(a, b string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs.
type SimpleTokenizer struct{}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	words := SplitWords(text)
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1

	pos := 1
	for _, word := range words {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = wordID(word)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = tokenSEP
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// TokenizePair encodes a query/document pair. The first segment gets at most
// half of the budget; the second fills what remains.
func (t *SimpleTokenizer) TokenizePair(a, b string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 0 {
		maxTokens = 512
	}
	if maxTokens < 4 {
		maxTokens = 4
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1

	firstLimit := 1 + (maxTokens-3)/2
	for _, w := range SplitWords(a) {
		if pos >= firstLimit {
			break
		}
		inputIDs[pos] = wordID(w)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	pos++

	for _, w := range SplitWords(b) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = wordID(w)
		attentionMask[pos] = 1
		tokenTypeIDs[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	tokenTypeIDs[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

func wordID(word string) int64 {
	return int64(HashString(strings.ToLower(word))%30000) + 1000
}

// Batch is a row-major [Size, SeqLen] encoding of several sequences.
type Batch struct {
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
	Size          int
	SeqLen        int
}

// EncodeBatch tokenizes each sequence with encode and trims padding so that
// SeqLen is the longest real sequence in the batch.
func EncodeBatch(n, maxTokens int, encode func(i int) (ids, mask, types []int64)) Batch {
	rows := make([][3][]int64, n)
	seqLen := 1
	for i := 0; i < n; i++ {
		ids, mask, types := encode(i)
		rows[i] = [3][]int64{ids, mask, types}
		l := 0
		for j, m := range mask {
			if m != 0 {
				l = j + 1
			}
		}
		if l > seqLen {
			seqLen = l
		}
	}
	if maxTokens > 0 && seqLen > maxTokens {
		seqLen = maxTokens
	}

	b := Batch{
		InputIDs:      make([]int64, 0, n*seqLen),
		AttentionMask: make([]int64, 0, n*seqLen),
		TokenTypeIDs:  make([]int64, 0, n*seqLen),
		Size:          n,
		SeqLen:        seqLen,
	}
	for _, r := range rows {
		b.InputIDs = append(b.InputIDs, padTo(r[0], seqLen)...)
		b.AttentionMask = append(b.AttentionMask, padTo(r[1], seqLen)...)
		b.TokenTypeIDs = append(b.TokenTypeIDs, padTo(r[2], seqLen)...)
	}
	return b
}

func padTo(x []int64, n int) []int64 {
	if len(x) >= n {
		return x[:n]
	}
	out := make([]int64, n)
	copy(out, x)
	return out
}

// SplitWords splits text on whitespace and returns non-empty words.
func SplitWords(text string) []string {
	var words []string
	var word strings.Builder
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' || r == '\r' {
			if word.Len() > 0 {
				words = append(words, word.String())
				word.Reset()
			}
		} else {
			word.WriteRune(r)
		}
	}
	if word.Len() > 0 {
		words = append(words, word.String())
	}
	return words
}

// HashString returns a deterministic non-negative hash for use as a simple token ID.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		h = 0
	}
	return h
}
