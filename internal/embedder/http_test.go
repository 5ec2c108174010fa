package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestEmbedTextsPostsAndParsesResponse(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotBody = req.Model
		json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.1, 0.2}}, {Embedding: []float32{0.3, 0.4}}}})
	}))
	defer srv.Close()

	h := New(srv.URL, "secret-key", "test-model")
	vecs, err := h.EmbedTexts(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed texts: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if gotAuth != "Bearer secret-key" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotBody != "test-model" {
		t.Errorf("expected model in request, got %q", gotBody)
	}
}

func TestEmbedTextsOfEmptyInputReturnsNil(t *testing.T) {
	h := New("http://unused.invalid", "", "m")
	vecs, err := h.EmbedTexts(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Fatalf("expected nil, nil for empty input, got %v, %v", vecs, err)
	}
}

func TestEmbedTextsSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	h := New(srv.URL, "", "m")
	_, err := h.EmbedTexts(context.Background(), []string{"a"})
	if err == nil {
		t.Fatal("expected error on non-200 response")
	}
}

func TestEmbedTextsRejectsMismatchedCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.1}}}})
	}))
	defer srv.Close()

	h := New(srv.URL, "", "m")
	_, err := h.EmbedTexts(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected error on count mismatch")
	}
}
