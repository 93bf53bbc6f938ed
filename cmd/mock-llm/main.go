// Package main implements a mock completion backend for mermaidgen e2e tests.
// It serves OpenAI-compatible /v1/chat/completions responses from fixture
// files, routing by the "model" field in the request, so the generation
// pipeline can be exercised without a real model.
//
// Usage:
//
//	mock-llm -fixtures /path/to/fixtures -port 1234 [-watch]
//
// Fixture files are named by model: "mock-flow.mmd" maps to model
// "mock-flow". The file content is returned verbatim as the assistant
// message, so fixtures may hold fenced code, prose or broken diagrams to
// drive the sanitizer and validator. Fixtures are found recursively with the
// extensions .mmd, .md and .txt. A "default" fixture answers any model
// without its own.
//
// Sequential fixtures: if numbered files exist ("mock-flow.1.mmd",
// "mock-flow.2.mmd"), the Nth call to that model returns the Nth fixture.
// After exhausting numbered fixtures, the base "mock-flow.mmd" is used as a
// repeating fallback. This enables testing invalid-then-valid retries.
//
// A fixture whose first line is "!status <code>" answers with that HTTP
// status instead of a completion.
//
// With -watch, fixtures are reloaded when files in the directory change.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// defaultFixture answers models without a fixture of their own.
const defaultFixture = "default"

// fixturePattern selects fixture files below the fixture directory.
const fixturePattern = "**/*.{mmd,md,txt}"

// statusDirective turns a fixture into an HTTP error reply.
const statusDirective = "!status "

// --- OpenAI-compatible types ---

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// --- Server ---

// capturedRequest stores the key fields of an incoming request for test verification.
type capturedRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	CallIndex int           `json:"call_index"` // 1-indexed per-model call number
	Timestamp int64         `json:"timestamp"`
}

type server struct {
	logger *slog.Logger

	fixturesMu sync.RWMutex
	fixtures   map[string][]string // model name → ordered fixture contents

	calls atomic.Int64 // total calls served

	// Per-model call counters for sequential fixture selection.
	modelCalls   map[string]*atomic.Int64
	modelCallsMu sync.Mutex

	// Per-model request capture for prompt verification in e2e tests.
	modelRequests   map[string][]capturedRequest
	modelRequestsMu sync.Mutex
}

func newServer(fixtures map[string][]string, logger *slog.Logger) *server {
	if logger == nil {
		logger = slog.Default()
	}
	return &server{
		logger:        logger,
		fixtures:      fixtures,
		modelCalls:    make(map[string]*atomic.Int64),
		modelRequests: make(map[string][]capturedRequest),
	}
}

// setFixtures replaces the fixture set. Call counters are kept.
func (s *server) setFixtures(fixtures map[string][]string) {
	s.fixturesMu.Lock()
	s.fixtures = fixtures
	s.fixturesMu.Unlock()
}

// lookup resolves the fixture sequence for model: exact name, then without
// the "mock-" prefix, then the default fixture.
func (s *server) lookup(model string) ([]string, bool) {
	s.fixturesMu.RLock()
	defer s.fixturesMu.RUnlock()

	for _, name := range []string{model, strings.TrimPrefix(model, "mock-"), defaultFixture} {
		if seq, ok := s.fixtures[name]; ok {
			return seq, true
		}
	}
	return nil, false
}

func (s *server) captureRequest(model string, req chatRequest, callIndex int) {
	s.modelRequestsMu.Lock()
	defer s.modelRequestsMu.Unlock()
	s.modelRequests[model] = append(s.modelRequests[model], capturedRequest{
		Model:     model,
		Messages:  req.Messages,
		CallIndex: callIndex,
		Timestamp: time.Now().UnixMilli(),
	})
}

// getModelCounter returns the call counter for a model, creating it lazily.
func (s *server) getModelCounter(model string) *atomic.Int64 {
	s.modelCallsMu.Lock()
	defer s.modelCallsMu.Unlock()
	if c, ok := s.modelCalls[model]; ok {
		return c
	}
	c := &atomic.Int64{}
	s.modelCalls[model] = c
	return c
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/requests", s.handleRequests)
	return mux
}

func main() {
	fixtureDir := flag.String("fixtures", "", "directory containing fixture response files")
	port := flag.Int("port", 1234, "port to listen on")
	watch := flag.Bool("watch", false, "reload fixtures when files change")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// Allow env var override
	if envDir := os.Getenv("MOCK_LLM_FIXTURES"); envDir != "" && *fixtureDir == "" {
		*fixtureDir = envDir
	}
	if *fixtureDir == "" {
		*fixtureDir = "/fixtures"
	}

	fixtures, err := loadFixtures(*fixtureDir)
	if err != nil {
		logger.Error("Failed to load fixtures", "dir", *fixtureDir, "error", err)
		os.Exit(1)
	}
	logFixtures(logger, *fixtureDir, fixtures)

	s := newServer(fixtures, logger)

	if *watch {
		stop, err := s.watch(*fixtureDir)
		if err != nil {
			logger.Error("Failed to watch fixtures", "dir", *fixtureDir, "error", err)
			os.Exit(1)
		}
		defer stop()
	}

	addr := fmt.Sprintf(":%d", *port)
	logger.Info("Mock LLM server listening", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func logFixtures(logger *slog.Logger, dir string, fixtures map[string][]string) {
	logger.Info("Loaded fixtures", "models", len(fixtures), "dir", dir)
	for model, seq := range fixtures {
		logger.Debug("Fixture", "model", model, "count", len(seq))
	}
}

// watch reloads fixtures whenever a file in dir is written, created, removed
// or renamed. A reload that fails keeps the previous fixtures.
func (s *server) watch(dir string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	// fsnotify is not recursive; watch every directory under dir.
	err = fs.WalkDir(os.DirFS(dir), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(filepath.Join(dir, filepath.FromSlash(p)))
		}
		return nil
	})
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
					continue
				}
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				s.reload(dir)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Fixture watcher error", "error", err)
			}
		}
	}()

	return func() {
		_ = watcher.Close()
		<-done
	}, nil
}

func (s *server) reload(dir string) {
	fixtures, err := loadFixtures(dir)
	if err != nil {
		s.logger.Warn("Fixture reload failed, keeping previous fixtures", "error", err)
		return
	}
	s.setFixtures(fixtures)
	logFixtures(s.logger, dir, fixtures)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	callNum := s.calls.Add(1)
	s.logger.Debug("Completion request", "call", callNum, "model", req.Model, "messages", len(req.Messages))

	seq, ok := s.lookup(req.Model)
	if !ok {
		s.logger.Warn("No fixture for model", "call", callNum, "model", req.Model)
		http.Error(w, fmt.Sprintf("no fixture for model %q", req.Model), http.StatusNotFound)
		return
	}

	// Select fixture from sequence based on per-model call count
	counter := s.getModelCounter(req.Model)
	callIndex := int(counter.Add(1) - 1) // 0-indexed

	s.captureRequest(req.Model, req, callIndex+1)
	content := seq[min(callIndex, len(seq)-1)]

	if status, body, ok := parseStatus(content); ok {
		s.logger.Debug("Status fixture", "call", callNum, "model", req.Model, "status", status)
		http.Error(w, body, status)
		return
	}

	resp := chatResponse{
		ID:      fmt.Sprintf("mock-%d", time.Now().UnixNano()),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chatChoice{
			{
				Index: 0,
				Message: chatMessage{
					Role:    "assistant",
					Content: content,
				},
				FinishReason: "stop",
			},
		},
		Usage: chatUsage{
			PromptTokens:     len(content) / 4, // rough estimate
			CompletionTokens: len(content) / 4,
			TotalTokens:      len(content) / 2,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
	s.logger.Debug("Completion served", "call", callNum, "model", req.Model,
		"call_index", callIndex+1, "sequence", len(seq), "bytes", len(content))
}

// parseStatus recognizes a "!status <code>" fixture. The rest of the first
// line, if any, becomes the error body.
func parseStatus(content string) (int, string, bool) {
	if !strings.HasPrefix(content, statusDirective) {
		return 0, "", false
	}
	line, _, _ := strings.Cut(strings.TrimPrefix(content, statusDirective), "\n")
	codeStr, body, _ := strings.Cut(strings.TrimSpace(line), " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil || code < 400 || code > 599 {
		return 0, "", false
	}
	if body == "" {
		body = http.StatusText(code)
	}
	return code, body, true
}

// handleModels returns the list of available mock models.
func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	type modelEntry struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		OwnedBy string `json:"owned_by"`
	}

	s.fixturesMu.RLock()
	names := make([]string, 0, len(s.fixtures))
	for name := range s.fixtures {
		names = append(names, name)
	}
	s.fixturesMu.RUnlock()
	sort.Strings(names)

	models := make([]modelEntry, 0, len(names))
	for _, name := range names {
		models = append(models, modelEntry{ID: name, Object: "model", OwnedBy: "mock-llm"})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   models,
	})
}

// handleStats returns call counts for test assertions.
func (s *server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.modelCallsMu.Lock()
	callsByModel := make(map[string]int64, len(s.modelCalls))
	for model, counter := range s.modelCalls {
		callsByModel[model] = counter.Load()
	}
	s.modelCallsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"total_calls":    s.calls.Load(),
		"calls_by_model": callsByModel,
	})
}

// handleRequests returns captured request bodies for test assertions.
// Query params:
//   - model: filter by model name (optional)
//   - call: filter by call index, 1-indexed (optional)
func (s *server) handleRequests(w http.ResponseWriter, r *http.Request) {
	modelFilter := r.URL.Query().Get("model")
	callIdx, callErr := strconv.Atoi(r.URL.Query().Get("call"))
	filterCall := callErr == nil

	s.modelRequestsMu.Lock()
	result := make(map[string][]capturedRequest)
	for model, reqs := range s.modelRequests {
		if modelFilter != "" && model != modelFilter {
			continue
		}
		if !filterCall {
			result[model] = reqs
			continue
		}
		for _, req := range reqs {
			if req.CallIndex == callIdx {
				result[model] = append(result[model], req)
			}
		}
	}
	s.modelRequestsMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"requests_by_model": result,
	})
}

// numberedFileRe matches fixture names like "mock-flow.1", "mock-flow.2".
var numberedFileRe = regexp.MustCompile(`^(.+)\.(\d+)$`)

// loadFixtures reads fixture files below dir and returns a map of
// model→content sequence.
//
// For each model, fixtures are ordered:
//  1. Numbered files (model.1.mmd, model.2.mmd, ...) in numeric order
//  2. Base file (model.mmd) appended as the final fallback
func loadFixtures(dir string) (map[string][]string, error) {
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, fixturePattern)
	if err != nil {
		return nil, fmt.Errorf("find fixtures in %s: %w", dir, err)
	}

	baseFiles := make(map[string]string)             // model → content
	numberedFiles := make(map[string]map[int]string) // model → {index → content}

	for _, match := range matches {
		data, err := fs.ReadFile(fsys, match)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", match, err)
		}
		content := strings.TrimRight(string(data), "\n")
		if strings.TrimSpace(content) == "" {
			return nil, fmt.Errorf("empty fixture %s", match)
		}

		name := path.Base(match)
		name = strings.TrimSuffix(name, path.Ext(name))

		if m := numberedFileRe.FindStringSubmatch(name); m != nil {
			model := m[1]
			index, _ := strconv.Atoi(m[2])
			if numberedFiles[model] == nil {
				numberedFiles[model] = make(map[int]string)
			}
			numberedFiles[model][index] = content
			continue
		}
		baseFiles[name] = content
	}

	fixtures := make(map[string][]string)
	for model, numbered := range numberedFiles {
		indices := make([]int, 0, len(numbered))
		for idx := range numbered {
			indices = append(indices, idx)
		}
		sort.Ints(indices)
		for _, idx := range indices {
			fixtures[model] = append(fixtures[model], numbered[idx])
		}
	}
	for model, base := range baseFiles {
		fixtures[model] = append(fixtures[model], base)
	}

	if len(fixtures) == 0 {
		return nil, fmt.Errorf("no fixture files found in %s", dir)
	}
	return fixtures, nil
}
