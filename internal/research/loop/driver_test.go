package loop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"deepresearch/internal/config"
	"deepresearch/internal/llm"
	"deepresearch/internal/research/answerer"
	"deepresearch/internal/research/cache"
	"deepresearch/internal/research/evaluator"
	"deepresearch/internal/research/guardrail"
	"deepresearch/internal/research/rewriter"
	"deepresearch/internal/research/scrape"
	"deepresearch/internal/research/search"
	"deepresearch/internal/research/stream"
	"deepresearch/internal/research/summarizer"
	"deepresearch/internal/research/types"
)

// fakeLLM serves guardrail/rewriter/evaluator/answerer from one backend,
// dispatching on the forced tool's name the same way a real model call would
// decide which structured output to emit.
type fakeLLM struct {
	guardrailVerdict string
	rewriterPlan     string
	rewriterQueries  []string
	evaluatorActions []string
	evaluatorIdx     int
	answerDeltas     []string
}

func (f *fakeLLM) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string) (llm.Message, error) {
	if len(tools) == 0 {
		return llm.Message{}, nil
	}
	switch tools[0].Name {
	case "emit_verdict":
		args, _ := json.Marshal(struct {
			Classification string `json:"classification"`
		}{f.guardrailVerdict})
		return llm.Message{ToolCalls: []llm.ToolCall{{Name: "emit_verdict", Args: args}}}, nil
	case "emit_query_plan":
		args, _ := json.Marshal(struct {
			Plan    string   `json:"plan"`
			Queries []string `json:"queries"`
		}{f.rewriterPlan, f.rewriterQueries})
		return llm.Message{ToolCalls: []llm.ToolCall{{Name: "emit_query_plan", Args: args}}}, nil
	case "emit_action":
		idx := f.evaluatorIdx
		if idx >= len(f.evaluatorActions) {
			idx = len(f.evaluatorActions) - 1
		}
		typ := f.evaluatorActions[idx]
		f.evaluatorIdx++
		args, _ := json.Marshal(struct {
			Type      string `json:"type"`
			Title     string `json:"title"`
			Reasoning string `json:"reasoning"`
			Feedback  string `json:"feedback"`
		}{typ, "decision", "reasoning", "feedback for next step"})
		return llm.Message{ToolCalls: []llm.ToolCall{{Name: "emit_action", Args: args}}}, nil
	}
	return llm.Message{}, nil
}

func (f *fakeLLM) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, model string, h llm.StreamHandler) error {
	for _, d := range f.answerDeltas {
		h.OnDelta(d)
	}
	return nil
}

// newSearchServer returns hits whose URLs point at scrapeSrv, failing with a
// fatal 400 when q equals one of failQueries (used for partial-failure tests).
func newSearchServer(t *testing.T, scrapeSrv *httptest.Server, failQueries map[string]bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if failQueries[q] {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		body := `{"results":[
			{"title":"Result 1","url":"` + scrapeSrv.URL + `/1","content":"snippet 1"},
			{"title":"Result 2","url":"` + scrapeSrv.URL + `/2","content":"snippet 2"},
			{"title":"Result 3","url":"` + scrapeSrv.URL + `/3","content":"snippet 3"}
		]}`
		_, _ = w.Write([]byte(body))
	}))
}

func newScrapeServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><article><p>Paris is the capital of France. Source page: ` + r.URL.String() + `.</p></article></body></html>`))
	}))
}

func buildDriver(t *testing.T, fp *fakeLLM, searchSrv *httptest.Server, cfg Config) (*Driver, *httptest.ResponseRecorder) {
	t.Helper()
	resultCache := cache.New(config.CacheConfig{TTLSeconds: 60}, nil)
	se := search.New(config.SearchConfig{SearXNGURL: searchSrv.URL}, resultCache)
	sc := scrape.New(resultCache)
	su := summarizer.New(fp, resultCache, "test-model")
	ev := evaluator.New(fp, "test-model")
	rw := rewriter.New(fp, "test-model")
	gr := guardrail.New(fp, "test-model")
	an := answerer.New(fp, "test-model")
	d := New(gr, rw, se, sc, su, ev, an, cfg)
	return d, httptest.NewRecorder()
}

func parseEventTypes(t *testing.T, body string) []string {
	t.Helper()
	var types []string
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if !strings.HasPrefix(frame, "data: ") {
			continue
		}
		raw := strings.TrimPrefix(frame, "data: ")
		var ev struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(raw), &ev))
		types = append(types, ev.Type)
	}
	return types
}

func TestRun_HappyPathOneStep(t *testing.T) {
	scrapeSrv := newScrapeServer()
	defer scrapeSrv.Close()
	searchSrv := newSearchServer(t, scrapeSrv, nil)
	defer searchSrv.Close()

	fp := &fakeLLM{
		guardrailVerdict: "allow",
		rewriterPlan:     "search for capital of France",
		rewriterQueries:  []string{"capital of France", "France government seat", "Paris overview"},
		evaluatorActions: []string{"answer"},
		answerDeltas:     []string{"The capital is ", "[Paris](https://example.com/paris)."},
	}
	d, rec := buildDriver(t, fp, searchSrv, Config{MaxSteps: 3, ResultsPerQuery: 3, MaxParallelism: 5})
	w, err := stream.NewWriter(rec)
	require.NoError(t, err)

	var persisted string
	err = d.Run(context.Background(), w, []types.Message{{Role: types.RoleUser, Content: "What is the capital of France?"}}, "", func(ctx context.Context, answer string) error {
		persisted = answer
		return nil
	})
	require.NoError(t, err)

	evs := parseEventTypes(t, rec.Body.String())
	require.Equal(t, 1, countOf(evs, "planning"))
	require.Equal(t, 1, countOf(evs, "queries-generated"))
	require.Equal(t, 6, countOf(evs, "search-update"), "loading + terminal status per query")
	require.Equal(t, 1, countOf(evs, "sources-found"))
	require.Equal(t, 1, countOf(evs, "new-action"))
	require.Equal(t, 1, countOf(evs, "evaluator-feedback"))
	require.GreaterOrEqual(t, countOf(evs, "text-delta"), 1)
	require.Contains(t, persisted, "[Paris](https://example.com/paris)")
	requireBefore(t, evs, "planning", "queries-generated")
	requireBefore(t, evs, "queries-generated", "sources-found")
	requireBefore(t, evs, "sources-found", "new-action")
	requireBefore(t, evs, "new-action", "evaluator-feedback")
}

func TestRun_StepCapReachedProducesFinalAnswer(t *testing.T) {
	scrapeSrv := newScrapeServer()
	defer scrapeSrv.Close()
	searchSrv := newSearchServer(t, scrapeSrv, nil)
	defer searchSrv.Close()

	fp := &fakeLLM{
		guardrailVerdict: "allow",
		rewriterPlan:     "plan",
		rewriterQueries:  []string{"q1", "q2", "q3"},
		evaluatorActions: []string{"continue", "continue"},
		answerDeltas:     []string{"partial answer"},
	}
	d, rec := buildDriver(t, fp, searchSrv, Config{MaxSteps: 2, ResultsPerQuery: 3, MaxParallelism: 5})
	w, err := stream.NewWriter(rec)
	require.NoError(t, err)

	err = d.Run(context.Background(), w, []types.Message{{Role: types.RoleUser, Content: "q"}}, "", nil)
	require.NoError(t, err)

	evs := parseEventTypes(t, rec.Body.String())
	require.Equal(t, 2, countOf(evs, "planning"), "two full step cycles before the cap")
	require.Equal(t, 2, countOf(evs, "queries-generated"))
	require.Equal(t, 2, countOf(evs, "action-update"), "both continue decisions commit their step")
	require.GreaterOrEqual(t, countOf(evs, "text-delta"), 1)
}

func TestRun_GuardrailRefusalSkipsPlanning(t *testing.T) {
	scrapeSrv := newScrapeServer()
	defer scrapeSrv.Close()
	searchSrv := newSearchServer(t, scrapeSrv, nil)
	defer searchSrv.Close()

	fp := &fakeLLM{guardrailVerdict: "refuse", answerDeltas: []string{"I can't help with that."}}
	d, rec := buildDriver(t, fp, searchSrv, Config{MaxSteps: 3, ResultsPerQuery: 3, MaxParallelism: 5})
	w, err := stream.NewWriter(rec)
	require.NoError(t, err)

	err = d.Run(context.Background(), w, []types.Message{{Role: types.RoleUser, Content: "disallowed"}}, "", nil)
	require.NoError(t, err)

	evs := parseEventTypes(t, rec.Body.String())
	require.Equal(t, 0, countOf(evs, "planning"))
	require.Equal(t, 0, countOf(evs, "queries-generated"))
	require.GreaterOrEqual(t, countOf(evs, "text-delta"), 1)
}

func TestRun_PartialFanOutFailureIsContained(t *testing.T) {
	scrapeSrv := newScrapeServer()
	defer scrapeSrv.Close()
	searchSrv := newSearchServer(t, scrapeSrv, map[string]bool{"fail-me": true})
	defer searchSrv.Close()

	fp := &fakeLLM{
		guardrailVerdict: "allow",
		rewriterPlan:     "plan",
		rewriterQueries:  []string{"ok-one", "fail-me", "ok-two"},
		evaluatorActions: []string{"answer"},
		answerDeltas:     []string{"answer text"},
	}
	d, rec := buildDriver(t, fp, searchSrv, Config{MaxSteps: 3, ResultsPerQuery: 3, MaxParallelism: 5})
	w, err := stream.NewWriter(rec)
	require.NoError(t, err)

	err = d.Run(context.Background(), w, []types.Message{{Role: types.RoleUser, Content: "q"}}, "", nil)
	require.NoError(t, err)

	body := rec.Body.String()
	require.Contains(t, body, `"status":"error"`)
	evs := parseEventTypes(t, body)
	require.Equal(t, 6, countOf(evs, "search-update"), "loading + terminal status per query, including the failed one")
	require.Equal(t, 1, countOf(evs, "sources-found"))
	require.Equal(t, 1, countOf(evs, "new-action"))
}

func TestRun_ZeroMaxStepsAnswersImmediately(t *testing.T) {
	scrapeSrv := newScrapeServer()
	defer scrapeSrv.Close()
	searchSrv := newSearchServer(t, scrapeSrv, nil)
	defer searchSrv.Close()

	fp := &fakeLLM{guardrailVerdict: "allow", answerDeltas: []string{"immediate answer"}}
	d, rec := buildDriver(t, fp, searchSrv, Config{MaxSteps: 0, ResultsPerQuery: 3, MaxParallelism: 5})
	w, err := stream.NewWriter(rec)
	require.NoError(t, err)

	err = d.Run(context.Background(), w, []types.Message{{Role: types.RoleUser, Content: "q"}}, "", nil)
	require.NoError(t, err)

	evs := parseEventTypes(t, rec.Body.String())
	require.Equal(t, 0, countOf(evs, "planning"))
	require.GreaterOrEqual(t, countOf(evs, "text-delta"), 1)
}

func countOf(evs []string, target string) int {
	n := 0
	for _, e := range evs {
		if e == target {
			n++
		}
	}
	return n
}

func requireBefore(t *testing.T, evs []string, first, second string) {
	t.Helper()
	fi, si := -1, -1
	for i, e := range evs {
		if e == first && fi == -1 {
			fi = i
		}
		if e == second && si == -1 && fi != -1 {
			si = i
		}
	}
	require.NotEqual(t, -1, fi, "%s not found", first)
	require.NotEqual(t, -1, si, "%s not found after %s", second, first)
}
