package kb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoaderRejectsUnknownMethod(t *testing.T) {
	_, err := NewLoader("selenium", "content")

	var valErr *ValidationError
	assert.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Message, "selenium")
}

func TestTextLoader(t *testing.T) {
	loader, err := NewLoader(LoaderText, "plain text content")
	require.NoError(t, err)

	docs, err := loader.Load(context.Background())
	assert.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "plain text content", docs[0].PageContent)
}

func TestHTMLLoaderStripsScriptsAndStyles(t *testing.T) {
	loader := NewHTMLLoader(`<!DOCTYPE html>
<html>
<head>
	<title>Test Page</title>
	<script>console.log('hidden');</script>
	<style>body { color: blue; }</style>
</head>
<body>
	<h1>Visible Heading</h1>
	<p>Visible paragraph.</p>
</body>
</html>`)

	docs, err := loader.Load(context.Background())
	assert.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].PageContent, "Visible Heading")
	assert.Contains(t, docs[0].PageContent, "Visible paragraph.")
	assert.NotContains(t, docs[0].PageContent, "console.log")
	assert.NotContains(t, docs[0].PageContent, "color: blue")
}

func TestHTMLLoaderEmptyBody(t *testing.T) {
	loader := NewHTMLLoader("<html><body></body></html>")

	_, err := loader.Load(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no text content found")
}

func TestMarkdownLoader(t *testing.T) {
	loader := NewMarkdownLoader("# Release Notes\n\nFixed the *parser* bug.")

	docs, err := loader.Load(context.Background())
	assert.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].PageContent, "Release Notes")
	assert.Contains(t, docs[0].PageContent, "Fixed the parser bug.")
	assert.NotContains(t, docs[0].PageContent, "#")
}

func TestWebLoader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body><p>Fetched content.</p></body></html>"))
	}))
	defer server.Close()

	loader := NewWebLoader(server.URL, server.Client())

	docs, err := loader.Load(context.Background())
	assert.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].PageContent, "Fetched content.")
	assert.Equal(t, server.URL, docs[0].Metadata["url"])
}

func TestWebLoaderErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	loader := NewWebLoader(server.URL, server.Client())

	_, err := loader.Load(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "status code 404")
}
