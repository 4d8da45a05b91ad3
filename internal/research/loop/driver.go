// Package loop implements the agent loop driver (C11): the state machine
// GUARD → LOOP{PLAN → FANOUT → EVAL → (continue|answer)} → STREAM_ANSWER that
// turns one chat turn into a sequence of streamed progress events and a
// final answer. Admission (C1) happens in the HTTP layer before Run is
// called, since a 429 deny must emit no stream events at all.
package loop

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"deepresearch/internal/llm"
	"deepresearch/internal/research/answerer"
	rcontext "deepresearch/internal/research/context"
	"deepresearch/internal/research/evaluator"
	"deepresearch/internal/research/guardrail"
	"deepresearch/internal/research/rewriter"
	"deepresearch/internal/research/scrape"
	"deepresearch/internal/research/search"
	"deepresearch/internal/research/stream"
	"deepresearch/internal/research/summarizer"
	"deepresearch/internal/research/types"
)

// OnFinish persists the assembled assistant answer once streaming completes.
// Per C16/C7 StorageError semantics, a failure here is logged and swallowed:
// the user already received the streamed answer.
type OnFinish func(ctx context.Context, answer string) error

// Driver wires every LLM-backed stage and I/O adapter into the loop state
// machine described by the design's agent-loop section.
type Driver struct {
	guardrail  *guardrail.Guardrail
	rewriter   *rewriter.Rewriter
	search     *search.Adapter
	scrape     *scrape.Adapter
	summarizer *summarizer.Summarizer
	evaluator  *evaluator.Evaluator
	answerer   *answerer.Answerer

	maxSteps        int
	resultsPerQuery int
	maxParallelism  int
	requestTimeout  time.Duration
}

// Config bundles the loop driver's tunables (C11's bounded-resource knobs).
type Config struct {
	MaxSteps        int
	ResultsPerQuery int
	MaxParallelism  int
	RequestTimeout  time.Duration
}

// New builds a Driver from its stage dependencies and tunables.
func New(
	g *guardrail.Guardrail,
	rw *rewriter.Rewriter,
	se *search.Adapter,
	sc *scrape.Adapter,
	su *summarizer.Summarizer,
	ev *evaluator.Evaluator,
	an *answerer.Answerer,
	cfg Config,
) *Driver {
	maxSteps := cfg.MaxSteps
	if maxSteps < 0 {
		maxSteps = 0
	}
	resultsPerQuery := cfg.ResultsPerQuery
	if resultsPerQuery <= 0 {
		resultsPerQuery = 3
	}
	maxParallelism := cfg.MaxParallelism
	if maxParallelism <= 0 {
		maxParallelism = 5
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Driver{
		guardrail:       g,
		rewriter:        rw,
		search:          se,
		scrape:          sc,
		summarizer:      su,
		evaluator:       ev,
		answerer:        an,
		maxSteps:        maxSteps,
		resultsPerQuery: resultsPerQuery,
		maxParallelism:  maxParallelism,
		requestTimeout:  timeout,
	}
}

// settledQuery is one query's fan-out outcome; a nil Entry means the query
// failed and contributes nothing to this step's history.
type settledQuery struct {
	Entry *types.SearchHistoryEntry
}

// Run executes GUARD → LOOP → STREAM_ANSWER for one chat turn, writing
// progress events to w as it goes, and invoking onFinish with the assembled
// answer text once streaming completes.
func (d *Driver) Run(ctx context.Context, w *stream.Writer, messages []types.Message, locationContext string, onFinish OnFinish) error {
	ctx, cancel := context.WithTimeout(ctx, d.requestTimeout)
	defer cancel()

	sysCtx := rcontext.New(messages, locationContext)

	verdict := d.guardrail.Classify(ctx, sysCtx.MessageHistoryText(), sysCtx.LastUserMessage())
	if verdict.Classification == types.GuardrailRefuse {
		return d.streamRefusal(ctx, w, sysCtx, verdict, onFinish)
	}

	for {
		if ctx.Err() != nil {
			_ = w.Emit(stream.Error("cancelled"))
			return ctx.Err()
		}
		if sysCtx.CurrentStep() >= d.maxSteps {
			return d.streamAnswer(ctx, w, sysCtx, true, onFinish)
		}

		step := sysCtx.CurrentStep()

		planningTitle, planningReasoning := planningAnnouncement(step, sysCtx.LastFeedback())
		if err := w.Emit(stream.Planning(planningTitle, planningReasoning)); err != nil {
			return err
		}

		plan, err := d.rewriter.Rewrite(ctx, sysCtx.MessageHistoryText(), sysCtx.SearchHistoryText(), sysCtx.LastFeedback(), sysCtx.LastUserMessage())
		if err != nil {
			return d.fatalPlannerError(ctx, w, sysCtx, err, onFinish)
		}
		if err := w.Emit(stream.QueriesGenerated(plan.Plan, plan.Queries)); err != nil {
			return err
		}

		entries := d.fanOut(ctx, w, plan.Queries)

		var stepSources []stream.Source
		for _, settled := range entries {
			if settled.Entry == nil {
				continue
			}
			recorded := sysCtx.RecordSearch(*settled.Entry)
			for _, r := range recorded.Results {
				stepSources = append(stepSources, stream.Source{
					Title:   r.Title,
					URL:     r.URL,
					Snippet: r.Snippet,
					Favicon: types.FaviconURL(r.URL),
				})
			}
		}
		if err := w.Emit(stream.SourcesFound(step, stepSources)); err != nil {
			return err
		}

		action, err := d.evaluator.Evaluate(ctx, sysCtx.MessageHistoryText(), sysCtx.SearchHistoryText(), step, d.maxSteps)
		if err != nil {
			return d.fatalPlannerError(ctx, w, sysCtx, err, onFinish)
		}
		sysCtx.RecordFeedback(action.Feedback)

		if err := w.Emit(stream.NewAction(stream.ActionData{
			Type: string(action.Type), Title: action.Title, Reasoning: action.Reasoning, Feedback: action.Feedback,
		})); err != nil {
			return err
		}
		if err := w.Emit(stream.EvaluatorFeedback(action.Feedback, string(action.Type))); err != nil {
			return err
		}

		if action.Type == types.ActionAnswer {
			return d.streamAnswer(ctx, w, sysCtx, false, onFinish)
		}

		if err := w.Emit(stream.ActionUpdate(step, "completed", "")); err != nil {
			return err
		}
		sysCtx.IncrementStep()
	}
}

// fanOut runs each query's search→scrape→summarize sub-pipeline concurrently,
// bounded to maxParallelism at the query level and again at the per-query
// scrape level, so one step never exceeds maxParallelism^2 concurrent I/O
// tasks (5x5=25 at the defaults).
func (d *Driver) fanOut(ctx context.Context, w *stream.Writer, queries []string) []settledQuery {
	results := make([]settledQuery, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxParallelism)

	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			_ = w.Emit(stream.SearchUpdate(i, q, stream.StatusLoading, ""))

			hits, err := d.search.Search(gctx, q, d.resultsPerQuery)
			if err != nil {
				_ = w.Emit(stream.SearchUpdate(i, q, stream.StatusError, err.Error()))
				return nil
			}

			urls := make([]string, len(hits))
			for j, h := range hits {
				urls[j] = h.URL
			}
			pages := d.scrape.FetchAll(gctx, urls, d.maxParallelism)
			byURL := make(map[string]scrape.PageResult, len(pages))
			for _, p := range pages {
				byURL[p.URL] = p
				byURL[scrape.Canonicalize(p.URL)] = p
			}

			searchResults := make([]types.SearchResult, 0, len(hits))
			for _, hit := range hits {
				sr := types.SearchResult{Title: hit.Title, URL: hit.URL, Snippet: hit.Snippet, Date: hit.Date}
				if page, ok := byURL[scrape.Canonicalize(hit.URL)]; ok && page.Success {
					sr.ScrapedContent = page.Data
					if sr.Title == "" {
						sr.Title = page.Title
					}
				}
				sr.Summary = d.summarizer.Summarize(gctx, q, "", sr)
				searchResults = append(searchResults, sr)
			}

			_ = w.Emit(stream.SearchUpdate(i, q, stream.StatusCompleted, ""))
			results[i] = settledQuery{Entry: &types.SearchHistoryEntry{Query: q, Results: searchResults}}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// answerContextBudgetChars is the search history size handed to C8 past which
// older rounds are compressed (see SystemContext.CompressedSearchHistoryText)
// rather than silently truncated, so the answerer still sees every round's
// query and sources, just with earlier rounds' content summaries shortened.
const answerContextBudgetChars = 24000

// streamAnswer invokes the answerer, forwarding text deltas to w, then calls
// onFinish with the assembled text.
func (d *Driver) streamAnswer(ctx context.Context, w *stream.Writer, sysCtx *rcontext.SystemContext, isFinal bool, onFinish OnFinish) error {
	var sb strings.Builder
	h := &deltaForwarder{w: w, buf: &sb}
	err := d.answerer.Answer(ctx, sysCtx.MessageHistoryText(), sysCtx.CompressedSearchHistoryText(answerContextBudgetChars), sysCtx.LastFeedback(), isFinal, h)
	if err != nil {
		_ = w.Emit(stream.Error("failed to generate answer"))
		return err
	}
	if onFinish != nil {
		if ferr := onFinish(ctx, sb.String()); ferr != nil {
			log.Warn().Err(ferr).Msg("loop_onfinish_persistence_failed")
		}
	}
	return nil
}

// streamRefusal answers the guardrail's refusal through the same answerer
// stage, against a synthetic empty research context, per the design's GUARD
// → REFUSE → STREAM_REFUSAL path.
func (d *Driver) streamRefusal(ctx context.Context, w *stream.Writer, sysCtx *rcontext.SystemContext, verdict types.GuardrailVerdict, onFinish OnFinish) error {
	var sb strings.Builder
	h := &deltaForwarder{w: w, buf: &sb}
	reason := verdict.Reason
	if reason == "" {
		reason = "This request cannot be fulfilled by the research assistant."
	}
	err := d.answerer.Answer(ctx, sysCtx.MessageHistoryText(), "", reason, false, h)
	if err != nil {
		_ = w.Emit(stream.Error("failed to generate refusal"))
		return err
	}
	if onFinish != nil {
		if ferr := onFinish(ctx, sb.String()); ferr != nil {
			log.Warn().Err(ferr).Msg("loop_onfinish_persistence_failed")
		}
	}
	return nil
}

// fatalPlannerError handles a PlannerError (rewriter/evaluator failure after
// retry): emit a terminal error event, then best-effort a last-ditch final
// answer from whatever history exists.
func (d *Driver) fatalPlannerError(ctx context.Context, w *stream.Writer, sysCtx *rcontext.SystemContext, cause error, onFinish OnFinish) error {
	_ = w.Emit(stream.Error("research planning failed"))
	if len(sysCtx.SearchHistory()) > 0 {
		_ = d.streamAnswer(ctx, w, sysCtx, true, onFinish)
	}
	return errors.New("loop: planner error: " + cause.Error())
}

// planningAnnouncement derives the Planning event's title/reasoning: the
// design's state machine emits this before the rewriter runs, so it can only
// describe intent, not the rewriter's (not-yet-known) output.
func planningAnnouncement(step int, lastFeedback string) (title, reasoning string) {
	if step == 0 {
		return "Planning research", "Determining initial search queries for the user's question."
	}
	return "Refining research", "Incorporating feedback from the previous step: " + lastFeedback
}

// deltaForwarder relays streamed answer text as TextDelta events while also
// buffering the full text for onFinish.
type deltaForwarder struct {
	w   *stream.Writer
	buf *strings.Builder
}

func (f *deltaForwarder) OnDelta(content string) {
	f.buf.WriteString(content)
	_ = f.w.Emit(stream.TextDelta(content))
}

func (f *deltaForwarder) OnToolCall(llm.ToolCall) {}
