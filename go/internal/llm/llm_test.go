package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mcdev12/ludus/go/internal/models"
)

// geminiServer answers every generateContent call with reply as the model text.
func geminiServer(t *testing.T, status int, reply string, seen *generateRequest) (*httptest.Server, Config) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in %s", r.URL)
		}
		if !strings.HasSuffix(r.URL.Path, "/test-model:generateContent") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error":{"code":429,"message":"quota exceeded"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"candidates": []interface{}{
				map[string]interface{}{"content": map[string]interface{}{"parts": []interface{}{map[string]string{"text": reply}}}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	cfg := Config{APIKey: "test-key", BaseURL: srv.URL + "/v1beta/models", Model: "test-model", GradeModel: "test-model", Timeout: 5 * time.Second}
	return srv, cfg
}

func TestGenerate(t *testing.T) {
	var seen generateRequest
	reply := `{"questions":[{"question":"Which organelle makes ATP?","reference_answer":"Mitochondria","hint":"Powerhouse","explanation":"Cellular respiration","context":"Cells","source_chunk":"Mitochondria produce..."}]}`
	_, cfg := geminiServer(t, http.StatusOK, reply, &seen)
	gen := NewGenerator(NewClient(cfg), cfg)

	questions, err := gen.Generate(context.Background(), "biology", 1, []string{"Mitochondria produce most of the energy."})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(questions) != 1 || questions[0].ReferenceAnswer != "Mitochondria" || questions[0].SourceExcerpt == "" {
		t.Fatalf("questions = %+v", questions)
	}
	if seen.GenerationConfig.ResponseMimeType != "application/json" {
		t.Fatalf("mime type = %q", seen.GenerationConfig.ResponseMimeType)
	}
	prompt := seen.Contents[0].Parts[0].Text
	if !strings.Contains(prompt, `"biology"`) || !strings.Contains(prompt, "[Excerpt 1]") {
		t.Fatalf("prompt = %s", prompt)
	}
}

func TestGenerateFromGeneralKnowledgeFenced(t *testing.T) {
	reply := "```json\n{\"questions\":[{\"question\":\"Capital of France?\",\"reference_answer\":\"Paris\"}]}\n```"
	_, cfg := geminiServer(t, http.StatusOK, reply, nil)
	gen := NewGenerator(NewClient(cfg), cfg)

	questions, err := gen.GenerateFromGeneralKnowledge(context.Background(), "geography", 1)
	if err != nil {
		t.Fatalf("GenerateFromGeneralKnowledge: %v", err)
	}
	if len(questions) != 1 || questions[0].ReferenceAnswer != "Paris" {
		t.Fatalf("questions = %+v", questions)
	}
}

func TestGrade(t *testing.T) {
	_, cfg := geminiServer(t, http.StatusOK, `{"score":70,"is_correct":false,"feedback":"Almost"}`, nil)
	grader := NewGrader(NewClient(cfg), cfg)

	result, err := grader.Grade(context.Background(), models.GradeRequest{QuestionText: "Q", ReferenceAnswer: "A", UserAnswer: "a-ish"})
	if err != nil {
		t.Fatalf("Grade: %v", err)
	}
	if result.Score != 70 || result.Feedback != "Almost" {
		t.Fatalf("result = %+v", result)
	}
}

func TestClientErrors(t *testing.T) {
	_, cfg := geminiServer(t, http.StatusTooManyRequests, "", nil)
	grader := NewGrader(NewClient(cfg), cfg)
	if _, err := grader.Grade(context.Background(), models.GradeRequest{}); err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("Grade on error status = %v", err)
	}

	_, cfg = geminiServer(t, http.StatusOK, "not json", nil)
	grader = NewGrader(NewClient(cfg), cfg)
	if _, err := grader.Grade(context.Background(), models.GradeRequest{}); err == nil {
		t.Fatal("expected error for non-JSON model output")
	}

	disabled := Config{}
	if _, err := NewGenerator(NewClient(disabled), disabled).GenerateFromGeneralKnowledge(context.Background(), "x", 1); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled generator = %v", err)
	}
}

func TestStripFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:                 `{"a":1}`,
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}```":       `{"a":1}`,
	}
	for in, want := range tests {
		if got := stripFence(in); got != want {
			t.Errorf("stripFence(%q) = %q", in, got)
		}
	}
}
