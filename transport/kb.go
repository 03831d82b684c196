package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/graphserve-ai/graphserve/kb"
	"github.com/graphserve-ai/graphserve/log"
)

// KBHandlers exposes the knowledge base as HTTP endpoints.
type KBHandlers struct {
	pool        kb.DBPool
	collections *kb.CollectionService
	embedder    kb.Embedder
	logger      log.Logger
}

// NewKBHandlers creates the knowledge base handler set.
func NewKBHandlers(pool kb.DBPool, embedder kb.Embedder, logger log.Logger) *KBHandlers {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}
	return &KBHandlers{
		pool:        pool,
		collections: kb.NewCollectionService(pool),
		embedder:    embedder,
		logger:      logger,
	}
}

// Register attaches all knowledge base routes to the mux.
func (h *KBHandlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /collections/", h.CreateCollection)
	mux.HandleFunc("GET /collections/", h.ListCollections)
	mux.HandleFunc("GET /collections/{name}/", h.GetCollection)
	mux.HandleFunc("PUT /collections/{name}/", h.UpdateCollection)
	mux.HandleFunc("DELETE /collections/{name}/", h.DeleteCollection)
	mux.HandleFunc("POST /collections/{name}/reset/", h.ResetCollection)

	mux.HandleFunc("POST /documents/{collection}/", h.CreateDocument)
	mux.HandleFunc("GET /documents/{collection}/", h.ListDocuments)
	mux.HandleFunc("GET /documents/{collection}/{id}/", h.GetDocument)
	mux.HandleFunc("PUT /documents/{collection}/{id}/", h.UpdateDocument)
	mux.HandleFunc("DELETE /documents/{collection}/{id}/", h.DeleteDocument)
	mux.HandleFunc("POST /documents/{collection}/bulk-create/", h.BulkCreateDocuments)
	mux.HandleFunc("POST /documents/{collection}/bulk-delete/", h.BulkDeleteDocuments)
	mux.HandleFunc("POST /documents/{collection}/search/", h.Search)

	mux.HandleFunc("POST /splitters/", h.SplitText)
	mux.HandleFunc("POST /loaders/", h.LoadDocuments)
}

type collectionRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateCollection creates a collection from {name, description}.
func (h *KBHandlers) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var req collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	collection, err := h.collections.CreateCollection(r.Context(), req.Name, req.Description)
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, collection)
}

// ListCollections returns collections with a count/response envelope.
// Pagination via limit/offset query params.
func (h *KBHandlers) ListCollections(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	list, err := h.collections.ListCollections(r.Context(), limit, offset)
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetCollection returns the collection with the given name.
func (h *KBHandlers) GetCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := h.collections.GetCollectionByName(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collection)
}

// UpdateCollection renames the collection or changes its description.
func (h *KBHandlers) UpdateCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := h.collections.GetCollectionByName(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeKBError(w, err)
		return
	}

	var req collectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		req.Name = collection.Name
	}

	updated, err := h.collections.UpdateCollection(r.Context(), collection.ID, req.Name, req.Description)
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteCollection removes the collection and its documents.
func (h *KBHandlers) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := h.collections.GetCollectionByName(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	if err := h.collections.DeleteCollection(r.Context(), collection.ID); err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": collection.Name})
}

// ResetCollection removes all documents, keeping the collection.
func (h *KBHandlers) ResetCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := h.collections.GetCollectionByName(r.Context(), r.PathValue("name"))
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	if err := h.collections.ResetCollection(r.Context(), collection.ID); err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reset": collection.Name})
}

// CreateDocument adds a document to the collection.
func (h *KBHandlers) CreateDocument(w http.ResponseWriter, r *http.Request) {
	docs, stop := h.documents(w, r)
	if stop {
		return
	}

	var doc kb.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	created, err := docs.CreateDocument(r.Context(), &doc)
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListDocuments returns the collection's documents with a
// count/response envelope.
func (h *KBHandlers) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, stop := h.documents(w, r)
	if stop {
		return
	}

	limit, offset := pagination(r)
	list, err := docs.ListDocuments(r.Context(), limit, offset)
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetDocument returns one document by ID.
func (h *KBHandlers) GetDocument(w http.ResponseWriter, r *http.Request) {
	docs, stop := h.documents(w, r)
	if stop {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	doc, err := docs.GetDocument(r.Context(), id)
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// UpdateDocument replaces a document's content and re-embeds it.
func (h *KBHandlers) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	docs, stop := h.documents(w, r)
	if stop {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	var doc kb.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	doc.ID = id

	updated, err := docs.UpdateDocument(r.Context(), &doc)
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteDocument removes one document by ID.
func (h *KBHandlers) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	docs, stop := h.documents(w, r)
	if stop {
		return
	}
	id, ok := documentID(w, r)
	if !ok {
		return
	}

	if err := docs.DeleteDocument(r.Context(), id); err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// BulkCreateDocuments inserts a batch of documents atomically.
func (h *KBHandlers) BulkCreateDocuments(w http.ResponseWriter, r *http.Request) {
	docs, stop := h.documents(w, r)
	if stop {
		return
	}

	var batch []*kb.Document
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	created, err := docs.BulkCreateDocuments(r.Context(), batch)
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"count":    len(created),
		"response": created,
	})
}

// BulkDeleteDocuments removes a batch of documents atomically.
func (h *KBHandlers) BulkDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	docs, stop := h.documents(w, r)
	if stop {
		return
	}

	var req struct {
		IDs []uuid.UUID `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := docs.BulkDeleteDocuments(r.Context(), req.IDs); err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": len(req.IDs)})
}

type searchRequest struct {
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
	WithScores bool   `json:"with_scores"`
}

// Search runs a similarity search over the collection.
func (h *KBHandlers) Search(w http.ResponseWriter, r *http.Request) {
	docs, stop := h.documents(w, r)
	if stop {
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	if req.WithScores {
		results, err := docs.SimilaritySearchWithScores(r.Context(), req.Query, req.TopK)
		if err != nil {
			h.writeKBError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"count": len(results), "response": results})
		return
	}

	results, err := docs.SimilaritySearch(r.Context(), req.Query, req.TopK)
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(results), "response": results})
}

// SplitText splits text with the single configured splitting method.
func (h *KBHandlers) SplitText(w http.ResponseWriter, r *http.Request) {
	var req kb.SplitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	chunks, err := req.Split()
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(chunks), "response": chunks})
}

type loaderRequest struct {
	Method  string `json:"method"`
	Content string `json:"content"`
}

type loadedDocument struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// LoadDocuments extracts plain-text documents from the given content
// with the named loader method. For the web loader the content is a URL.
func (h *KBHandlers) LoadDocuments(w http.ResponseWriter, r *http.Request) {
	var req loaderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	loader, err := kb.NewLoader(req.Method, req.Content)
	if err != nil {
		h.writeKBError(w, err)
		return
	}
	docs, err := loader.Load(r.Context())
	if err != nil {
		h.writeKBError(w, err)
		return
	}

	loaded := make([]loadedDocument, len(docs))
	for i, doc := range docs {
		loaded[i] = loadedDocument{PageContent: doc.PageContent, Metadata: doc.Metadata}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(loaded), "response": loaded})
}

// documents resolves the {collection} path segment to a scoped
// document service. On failure the error has been written already.
func (h *KBHandlers) documents(w http.ResponseWriter, r *http.Request) (*kb.DocumentService, bool) {
	docs, err := kb.ForCollection(r.Context(), h.pool, h.embedder, r.PathValue("collection"))
	if err != nil {
		h.writeKBError(w, err)
		return nil, true
	}
	return docs, false
}

func documentID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return uuid.Nil, false
	}
	return id, true
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// writeKBError maps knowledge base errors to status codes.
func (h *KBHandlers) writeKBError(w http.ResponseWriter, err error) {
	var valErr *kb.ValidationError
	var embErr *kb.EmbeddingError
	switch {
	case errors.Is(err, kb.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, valErr.Message)
	case errors.As(err, &embErr):
		h.logger.Error("embedding failed: %v", err)
		writeError(w, http.StatusBadGateway, "failed to generate embeddings")
	default:
		h.logger.Error("knowledge base request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
