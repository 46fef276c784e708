package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/Ohnim102/hust-chatbot-retriever-service/aggregate"
	"github.com/Ohnim102/hust-chatbot-retriever-service/ingest"
	"github.com/Ohnim102/hust-chatbot-retriever-service/schema"
	"github.com/Ohnim102/hust-chatbot-retriever-service/vectorstores"
)

// maxUploadSize bounds multipart parsing memory; larger files spill to disk.
const maxUploadSize = 64 << 20

// RAGHandler serves document ingestion and retrieval endpoints.
type RAGHandler struct {
	stores    map[schema.Collection]vectorstores.VectorStore
	extractor *ingest.Extractor
	uploadDir string
	logger    *slog.Logger
}

func NewRAGHandler(stores map[schema.Collection]vectorstores.VectorStore, extractor *ingest.Extractor, uploadDir string, logger *slog.Logger) *RAGHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RAGHandler{
		stores:    stores,
		extractor: extractor,
		uploadDir: uploadDir,
		logger:    logger.With("component", "rag_handler"),
	}
}

// resolveStore maps the request's collection parameter onto a configured
// store. Collection identity is validated once, here at the boundary.
func (h *RAGHandler) resolveStore(name string) (vectorstores.VectorStore, schema.Collection, error) {
	collection, err := schema.ParseCollection(name)
	if err != nil {
		return nil, "", err
	}
	store, ok := h.stores[collection]
	if !ok {
		return nil, "", fmt.Errorf("collection %q is not configured", collection)
	}
	return store, collection, nil
}

// Upload ingests one multipart file: doc_id and file are required, the
// collection form field defaults to the RAG collection.
func (h *RAGHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %s", err))
		return
	}

	docID := r.FormValue("doc_id")
	if docID == "" {
		writeError(w, http.StatusBadRequest, "doc_id is required")
		return
	}

	store, collection, err := h.resolveStore(r.FormValue("collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	filePath, err := h.saveUpload(file, header.Filename)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to persist upload", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save uploaded file")
		return
	}

	ingestor := ingest.NewIngestor(h.extractor, store, h.logger)
	written, err := ingestor.Ingest(r.Context(), docID, filePath, ingest.Options{
		ChunkSize:    ingest.DefaultChunkSize,
		ChunkOverlap: ingest.DefaultChunkOverlap,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ingest.ErrUnsupportedFileType) {
			status = http.StatusUnsupportedMediaType
		}
		h.logger.ErrorContext(r.Context(), "Ingestion failed",
			"doc_id", docID, "path", filePath, "error", err)
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"doc_id":         docID,
		"file_path":      filePath,
		"collection":     collection.String(),
		"chunks_written": written,
	})
}

func (h *RAGHandler) saveUpload(file io.Reader, filename string) (string, error) {
	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	// Uploaded names are untrusted; keep only the basename.
	filePath := filepath.Join(h.uploadDir, filepath.Base(filename))
	dst, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		return "", fmt.Errorf("failed to write upload file: %w", err)
	}
	return filePath, nil
}

// Query runs a similarity search and returns matches grouped by source.
func (h *RAGHandler) Query(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	k, err := strconv.Atoi(r.URL.Query().Get("k"))
	if err != nil || k < 1 {
		writeError(w, http.StatusBadRequest, "k must be a positive integer")
		return
	}

	store, _, err := h.resolveStore(r.URL.Query().Get("collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	matches, err := store.SimilaritySearchWithScores(r.Context(), query, k)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Query failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, aggregate.GroupBySource(matches))
}

// GeneratePrompt returns the retrieval context a chat turn would use for a
// query, without running generation. Useful for inspecting what the model
// will be shown.
func (h *RAGHandler) GeneratePrompt(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	store, _, err := h.resolveStore(r.URL.Query().Get("collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	matches, err := store.SimilaritySearchWithScores(r.Context(), query, 5)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Prompt retrieval failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	context := aggregate.ContextString(aggregate.GroupBySource(matches), aggregate.DefaultMinScore)
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"context": context,
	})
}

// DeleteByDocID removes every chunk of one ingested file.
func (h *RAGHandler) DeleteByDocID(w http.ResponseWriter, r *http.Request) {
	docID := r.URL.Query().Get("doc_id")
	if docID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false})
		return
	}

	store, _, err := h.resolveStore(r.URL.Query().Get("collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.DeleteByDocID(r.Context(), docID); err != nil {
		h.logger.ErrorContext(r.Context(), "Delete by doc_id failed", "doc_id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "doc_id": docID})
}

// ClearCollection destroys and recreates the collection.
func (h *RAGHandler) ClearCollection(w http.ResponseWriter, r *http.Request) {
	store, collection, err := h.resolveStore(r.URL.Query().Get("collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := store.ResetCollection(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to clear collection", "collection", collection, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.logger.InfoContext(r.Context(), "Collection cleared", "collection", collection)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "collection": collection.String()})
}

// CollectionInfo reports point count and vector geometry of a collection.
func (h *RAGHandler) CollectionInfo(w http.ResponseWriter, r *http.Request) {
	store, _, err := h.resolveStore(r.URL.Query().Get("collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := store.Info(r.Context())
	if err != nil {
		if errors.Is(err, vectorstores.ErrCollectionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
