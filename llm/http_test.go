package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewHTTPClient(HTTPClientConfig{
		BaseURL:       srv.URL,
		APIKeyRef:     "test-key",
		Stage1Model:   "stage1-model",
		Stage2Model:   "stage2-model",
		Stage1Timeout: 5 * time.Second,
		Stage2Timeout: 5 * time.Second,
	})
	return client, srv
}

func writeChatResponse(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := chatResponse{
		Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: content}}},
		Usage:   Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func TestHTTPClient_ProcessStage1_Success(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q, want Bearer test-key", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type header = %q, want application/json", got)
		}
		writeChatResponse(t, w, "```json\n{\"primary_meaning\": \"to divide\"}\n```")
	})

	result, usage, err := client.ProcessStage1(context.Background(), "mitosis", "definition")
	if err != nil {
		t.Fatalf("ProcessStage1() error = %v", err)
	}
	if result.PrimaryMeaning != "to divide" {
		t.Errorf("PrimaryMeaning = %q, want %q", result.PrimaryMeaning, "to divide")
	}
	if usage.TotalTokens != 30 {
		t.Errorf("TotalTokens = %d, want 30", usage.TotalTokens)
	}
}

func TestHTTPClient_ProcessStage2_Success(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeChatResponse(t, w, "1\tmitosis\t1\tcore\tCells divide.\tmitosis\tcell division\tbiology\tformal\n")
	})

	result, _, err := client.ProcessStage2(context.Background(), "mitosis", Stage1Result{PrimaryMeaning: "to divide"})
	if err != nil {
		t.Fatalf("ProcessStage2() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("len(Rows) = %d, want 1", len(result.Rows))
	}
}

func TestHTTPClient_RateLimit(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, _, err := client.ProcessStage1(context.Background(), "mitosis", "definition")

	var llmErr *Error
	if !errorsAs(err, &llmErr) {
		t.Fatalf("ProcessStage1() error = %v, want *Error", err)
	}
	if llmErr.Kind != KindRateLimit {
		t.Errorf("Kind = %v, want KindRateLimit", llmErr.Kind)
	}
	if llmErr.RetryAfter != 42 {
		t.Errorf("RetryAfter = %d, want 42", llmErr.RetryAfter)
	}
}

func TestHTTPClient_ServerError(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "upstream overloaded"}}`))
	})

	_, _, err := client.ProcessStage1(context.Background(), "mitosis", "definition")

	var llmErr *Error
	if !errorsAs(err, &llmErr) {
		t.Fatalf("ProcessStage1() error = %v, want *Error", err)
	}
	if llmErr.Kind != KindServerAPI {
		t.Errorf("Kind = %v, want KindServerAPI", llmErr.Kind)
	}
	if llmErr.Message != "upstream overloaded" {
		t.Errorf("Message = %q, want %q", llmErr.Message, "upstream overloaded")
	}
}

func TestHTTPClient_AuthError(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, _, err := client.ProcessStage1(context.Background(), "mitosis", "definition")

	var llmErr *Error
	if !errorsAs(err, &llmErr) {
		t.Fatalf("ProcessStage1() error = %v, want *Error", err)
	}
	if llmErr.Kind != KindAuth {
		t.Errorf("Kind = %v, want KindAuth", llmErr.Kind)
	}
}

func TestHTTPClient_ClientError(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "bad request"}}`))
	})

	_, _, err := client.ProcessStage1(context.Background(), "mitosis", "definition")

	var llmErr *Error
	if !errorsAs(err, &llmErr) {
		t.Fatalf("ProcessStage1() error = %v, want *Error", err)
	}
	if llmErr.Kind != KindClientAPI {
		t.Errorf("Kind = %v, want KindClientAPI", llmErr.Kind)
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		writeChatResponse(t, w, "```json\n{\"definition\": \"slow\"}\n```")
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPClientConfig{
		BaseURL:       srv.URL,
		APIKeyRef:     "test-key",
		Stage1Timeout: 5 * time.Millisecond,
	})

	_, _, err := client.ProcessStage1(context.Background(), "mitosis", "definition")

	var llmErr *Error
	if !errorsAs(err, &llmErr) {
		t.Fatalf("ProcessStage1() error = %v, want *Error", err)
	}
	if llmErr.Kind != KindTimeout {
		t.Errorf("Kind = %v, want KindTimeout", llmErr.Kind)
	}
}

func TestHTTPClient_SecretRefAPIKey(t *testing.T) {
	var sawAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawAuth = r.Header.Get("Authorization")
		writeChatResponse(t, w, "```json\n{\"primary_meaning\": \"x\"}\n```")
	}))
	defer srv.Close()

	t.Setenv("OPENROUTER_API_KEY", "env-resolved-key")
	client := NewHTTPClient(HTTPClientConfig{
		BaseURL:   srv.URL,
		APIKeyRef: "${OPENROUTER_API_KEY}",
	})

	_, _, err := client.ProcessStage1(context.Background(), "mitosis", "definition")
	if err != nil {
		t.Fatalf("ProcessStage1() error = %v", err)
	}
	if sawAuth != "Bearer env-resolved-key" {
		t.Errorf("Authorization = %q, want Bearer env-resolved-key", sawAuth)
	}
}
