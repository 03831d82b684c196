package kb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// Loader methods accepted by NewLoader.
const (
	LoaderText     = "text"
	LoaderHTML     = "html"
	LoaderMarkdown = "markdown"
	LoaderWebHTML  = "web_html"
)

// NewLoader creates a document loader for the given method. content is
// the raw input for text, html and markdown; for web_html it is the URL
// to fetch. An unknown method is a validation error.
func NewLoader(method, content string) (documentloaders.Loader, error) {
	switch method {
	case LoaderText:
		return documentloaders.NewText(strings.NewReader(content)), nil
	case LoaderHTML:
		return &HTMLLoader{html: content}, nil
	case LoaderMarkdown:
		return &MarkdownLoader{source: content}, nil
	case LoaderWebHTML:
		return &WebLoader{url: content}, nil
	default:
		return nil, &ValidationError{Message: fmt.Sprintf("unsupported loader method %q", method)}
	}
}

// HTMLLoader extracts the visible text of an HTML document. Scripts,
// styles and unsafe markup are stripped before extraction.
type HTMLLoader struct {
	html string
}

// NewHTMLLoader creates a loader over raw HTML.
func NewHTMLLoader(html string) *HTMLLoader {
	return &HTMLLoader{html: html}
}

// Load returns the extracted text as a single document.
func (l *HTMLLoader) Load(_ context.Context) ([]schema.Document, error) {
	text, err := extractHTMLText(strings.NewReader(l.html))
	if err != nil {
		return nil, err
	}
	return []schema.Document{{PageContent: text, Metadata: map[string]any{}}}, nil
}

// LoadAndSplit loads the document and splits it with the splitter.
func (l *HTMLLoader) LoadAndSplit(ctx context.Context, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	docs, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return textsplitter.SplitDocuments(splitter, docs)
}

// MarkdownLoader renders markdown to HTML and extracts its text.
type MarkdownLoader struct {
	source string
}

// NewMarkdownLoader creates a loader over markdown source.
func NewMarkdownLoader(source string) *MarkdownLoader {
	return &MarkdownLoader{source: source}
}

// Load returns the rendered text as a single document.
func (l *MarkdownLoader) Load(_ context.Context) ([]schema.Document, error) {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(l.source))

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	rendered := markdown.Render(doc, renderer)

	text, err := extractHTMLText(strings.NewReader(string(rendered)))
	if err != nil {
		return nil, err
	}
	return []schema.Document{{PageContent: text, Metadata: map[string]any{}}}, nil
}

// LoadAndSplit loads the document and splits it with the splitter.
func (l *MarkdownLoader) LoadAndSplit(ctx context.Context, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	docs, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return textsplitter.SplitDocuments(splitter, docs)
}

// WebLoader fetches a URL and extracts the page text. The source URL is
// recorded in the document metadata.
type WebLoader struct {
	url    string
	client *http.Client
}

// NewWebLoader creates a loader that fetches the URL with the given
// client. A nil client uses http.DefaultClient.
func NewWebLoader(url string, client *http.Client) *WebLoader {
	return &WebLoader{url: url, client: client}
}

// Load fetches the page and returns its text as a single document.
func (l *WebLoader) Load(ctx context.Context) ([]schema.Document, error) {
	client := l.client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %s: %w", l.url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", l.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch %s: status code %d", l.url, resp.StatusCode)
	}

	text, err := extractHTMLText(resp.Body)
	if err != nil {
		return nil, err
	}
	return []schema.Document{{PageContent: text, Metadata: map[string]any{"url": l.url}}}, nil
}

// LoadAndSplit loads the page and splits it with the splitter.
func (l *WebLoader) LoadAndSplit(ctx context.Context, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	docs, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return textsplitter.SplitDocuments(splitter, docs)
}

func extractHTMLText(r io.Reader) (string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read html: %w", err)
	}
	sanitized := bluemonday.UGCPolicy().SanitizeBytes(raw)

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(sanitized)))
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %w", err)
	}
	doc.Find("script, style").Remove()

	var parts []string
	doc.Find("body, html").First().Each(func(_ int, s *goquery.Selection) {
		parts = append(parts, s.Text())
	})
	if len(parts) == 0 {
		parts = append(parts, doc.Text())
	}

	text := strings.TrimSpace(strings.Join(parts, "\n"))
	text = collapseWhitespace(text)
	if text == "" {
		return "", fmt.Errorf("no text content found")
	}
	return text, nil
}

func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
