package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

// maxBodySize bounds a single document write.
const maxBodySize = 8 << 20

// versionHeader carries the document version on reads and writes.
const versionHeader = "X-Document-Version"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, status := store.CodeOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("Request failed: %v", err)
	}
	writeJSON(w, status, store.ErrorBody{Error: err.Error(), Code: code})
}

// docKey extracts and validates {collection} and {id}.
func (s *Server) docKey(r *http.Request) (string, string, error) {
	collection := r.PathValue("collection")
	id := r.PathValue("id")
	if err := s.checkCollection(collection); err != nil {
		return "", "", err
	}
	if err := store.ValidateKey(collection, id); err != nil {
		return "", "", err
	}
	return collection, id, nil
}

func readBody(r *http.Request) (json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", store.ErrInvalid, err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", store.ErrInvalid, maxBodySize)
	}
	return data, nil
}

// parseIfMatch reads a numeric version from If-Match ("3", "\"3\"" or W/"3").
func parseIfMatch(h string) (int64, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return 0, nil
	}
	h = strings.TrimPrefix(h, "W/")
	h = strings.Trim(h, `"`)
	v, err := strconv.ParseInt(h, 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: bad If-Match version %q", store.ErrInvalid, h)
	}
	return v, nil
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	if err := s.checkCollection(collection); err != nil {
		s.writeError(w, err)
		return
	}
	docs, err := s.store.List(r.Context(), collection)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, store.SnapshotData{Documents: docs})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	collection, id, err := s.docKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	doc, err := s.store.Get(r.Context(), collection, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set(versionHeader, strconv.FormatInt(doc.Version, 10))
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	collection, id, err := s.docKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	version, err := s.store.Upsert(r.Context(), collection, id, data)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set(versionHeader, strconv.FormatInt(version, 10))
	writeJSON(w, http.StatusOK, store.VersionResponse{Version: version})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	collection, id, err := s.docKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.Create(r.Context(), collection, id, data); err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set(versionHeader, "1")
	writeJSON(w, http.StatusCreated, store.VersionResponse{Version: 1})
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	collection, id, err := s.docKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	expect, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := readBody(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req store.PatchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeError(w, fmt.Errorf("%w: bad patch body: %v", store.ErrInvalid, err))
		return
	}

	version, err := s.store.UpdateFields(r.Context(), collection, id, req.Fields, expect)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set(versionHeader, strconv.FormatInt(version, 10))
	writeJSON(w, http.StatusOK, store.VersionResponse{Version: version})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	collection, id, err := s.docKey(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.Delete(r.Context(), collection, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
