package kb

import (
	"github.com/tmc/langchaingo/textsplitter"
)

// RecursiveCharacterSplit splits text on a separator hierarchy,
// recursing into smaller separators until chunks fit the size.
type RecursiveCharacterSplit struct {
	Text         string   `json:"text"`
	ChunkSize    int      `json:"chunk_size"`
	ChunkOverlap int      `json:"chunk_overlap"`
	Separators   []string `json:"separators,omitempty"`
}

// MarkdownSplit splits markdown along its heading structure.
type MarkdownSplit struct {
	Text         string `json:"markdown_document"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

// TokenSplit splits text by token count under the given encoding.
type TokenSplit struct {
	Text         string `json:"text"`
	EncodingName string `json:"encoding_name"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

// SplitRequest selects exactly one splitting method. Leaving every
// method empty, or setting more than one, is a validation error.
type SplitRequest struct {
	RecursiveCharacter *RecursiveCharacterSplit `json:"recursive_character_splitter,omitempty"`
	Markdown           *MarkdownSplit           `json:"markdown_splitter,omitempty"`
	Token              *TokenSplit              `json:"split_by_tokens,omitempty"`
}

// Split runs the selected splitting method and returns the chunks.
func (r *SplitRequest) Split() ([]string, error) {
	selected := 0
	if r.RecursiveCharacter != nil {
		selected++
	}
	if r.Markdown != nil {
		selected++
	}
	if r.Token != nil {
		selected++
	}
	if selected == 0 {
		return nil, &ValidationError{Message: "a splitter method is required"}
	}
	if selected > 1 {
		return nil, &ValidationError{Message: "only one splitter method should be specified"}
	}

	switch {
	case r.RecursiveCharacter != nil:
		return r.RecursiveCharacter.split()
	case r.Markdown != nil:
		return r.Markdown.split()
	default:
		return r.Token.split()
	}
}

func (m *RecursiveCharacterSplit) split() ([]string, error) {
	opts := []textsplitter.Option{
		textsplitter.WithChunkSize(defaultInt(m.ChunkSize, 100)),
		textsplitter.WithChunkOverlap(defaultInt(m.ChunkOverlap, 20)),
	}
	if len(m.Separators) > 0 {
		opts = append(opts, textsplitter.WithSeparators(m.Separators))
	}
	splitter := textsplitter.NewRecursiveCharacter(opts...)
	return splitter.SplitText(m.Text)
}

func (m *MarkdownSplit) split() ([]string, error) {
	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithChunkSize(defaultInt(m.ChunkSize, 500)),
		textsplitter.WithChunkOverlap(defaultInt(m.ChunkOverlap, 30)),
	)
	return splitter.SplitText(m.Text)
}

func (m *TokenSplit) split() ([]string, error) {
	encoding := m.EncodingName
	if encoding == "" {
		encoding = "cl100k_base"
	}
	splitter := textsplitter.NewTokenSplitter(
		textsplitter.WithEncodingName(encoding),
		textsplitter.WithChunkSize(defaultInt(m.ChunkSize, 100)),
		textsplitter.WithChunkOverlap(m.ChunkOverlap),
	)
	return splitter.SplitText(m.Text)
}

func defaultInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
