// Package orchestrator implements the streaming conversational query
// pipeline (C11): safety guard, session load, cache lookup, a bounded
// sub-engine fan-out, paced token streaming, post-generation policing,
// and persistence into session and query-history memory.
//
// Grounded on retrieval.Engine.search's channel-based fan-out (here
// generalized from two retrievers to an arbitrary sub-engine set) and on
// reasoning.Engine.Reason's error-wrapping discipline (return a wrapped
// error rather than panic, even deep in a multi-stage pipeline).
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/ldip/mattermemory"
	"github.com/brunobiangulo/ldip/querycache"
	"github.com/brunobiangulo/ldip/retrieval"
	"github.com/brunobiangulo/ldip/safety"
	"github.com/brunobiangulo/ldip/session"
	"github.com/brunobiangulo/ldip/storage"
)

// EventType is the wire-level discriminator for one streamed event.
type EventType string

const (
	EventTyping          EventType = "typing"
	EventEngineComplete  EventType = "engine_complete"
	EventToken           EventType = "token"
	EventSourceReference EventType = "source_reference"
	EventComplete        EventType = "complete"
	EventError           EventType = "error"
)

// Event is one newline-delimited-JSON record of the stream.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type TypingData struct {
	Status string `json:"status"`
}

type EngineCompleteData struct {
	Engine          string `json:"engine"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
	FindingsCount   int    `json:"findings_count"`
	Success         bool   `json:"success"`
	Error           string `json:"error,omitempty"`
}

type TokenData struct {
	Token       string `json:"token"`
	Accumulated string `json:"accumulated"`
}

type SourceReferenceData struct {
	ChunkID    string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	PageNumber *int   `json:"page_number,omitempty"`
}

type CompleteData struct {
	Text         string               `json:"text"`
	Confidence   float64              `json:"confidence"`
	Sources      []storage.RetrievalResult `json:"sources"`
	EngineTraces []EngineCompleteData `json:"engine_traces"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Retriever is the narrow hybrid-search surface the orchestrator needs;
// satisfied by *retrieval.Engine.
type Retriever interface {
	Search(ctx context.Context, matterID, userID, query string, opts retrieval.SearchOptions) ([]storage.RetrievalResult, error)
}

// Dependencies wires every collaborator the pipeline steps call into.
type Dependencies struct {
	Retriever Retriever
	Meta      storage.MetaStore
	LLM       storage.LLM
	Broker    storage.Broker
	Sessions  *session.Store
	History   *mattermemory.QueryHistory
	Cache     *querycache.Cache
}

// Config tunes pipeline behavior; zero values take the defaults below.
type Config struct {
	TokenDelay   time.Duration // pacing delay between TOKEN events, default 5ms
	EvalQueue    string        // broker queue name for the async evaluation enqueue
	RetrieveTopK int           // default 10
}

const (
	defaultTokenDelay   = 5 * time.Millisecond
	defaultRetrieveTopK = 10
	defaultEvalQueue    = "evaluation"
	eventBufferSize     = 16
)

// Orchestrator runs the streaming query pipeline described in spec §4.11.
type Orchestrator struct {
	deps Dependencies
	cfg  Config
}

func New(deps Dependencies, cfg Config) *Orchestrator {
	if cfg.TokenDelay == 0 {
		cfg.TokenDelay = defaultTokenDelay
	}
	if cfg.RetrieveTopK == 0 {
		cfg.RetrieveTopK = defaultRetrieveTopK
	}
	if cfg.EvalQueue == "" {
		cfg.EvalQueue = defaultEvalQueue
	}
	return &Orchestrator{deps: deps, cfg: cfg}
}

// Stream runs the pipeline and returns a bounded channel of events. The
// channel is closed when the pipeline finishes or the caller cancels ctx;
// per spec, a cancelled stream emits no further events and leaves no
// partial state in session or query history.
func (o *Orchestrator) Stream(ctx context.Context, matterID, userID, query string) <-chan Event {
	out := make(chan Event, eventBufferSize)
	go o.run(ctx, matterID, userID, query, out)
	return out
}

func (o *Orchestrator) run(ctx context.Context, matterID, userID, query string, out chan<- Event) {
	defer close(out)

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(Event{Type: EventTyping, Data: TypingData{Status: "analyzing query"}}) {
		return
	}

	guard := safety.Check(query)
	if !guard.IsSafe {
		send(Event{Type: EventError, Data: ErrorData{Code: "QUERY_BLOCKED", Message: guard.Explanation}})
		return
	}

	sess, err := o.deps.Sessions.Load(ctx, matterID, userID)
	if err != nil {
		send(Event{Type: EventError, Data: ErrorData{Code: "SESSION_LOAD_FAILED", Message: "could not load session"}})
		return
	}

	normalizedQuery := strings.ToLower(strings.TrimSpace(query))
	queryHash := querycache.HashQuery(normalizedQuery)

	if cached, hit, err := o.deps.Cache.Get(ctx, matterID, queryHash); err == nil && hit {
		o.streamCached(ctx, send, cached)
		if ctx.Err() == nil {
			o.persist(ctx, matterID, userID, query, query, cached.ResultSummary, []string{"cache"}, cached.Confidence, sess, nil)
		}
		return
	}

	outcomes, results, timelineCount, entityCount, citationCount := o.runEngines(ctx, send, matterID, userID, query)
	if ctx.Err() != nil {
		return
	}

	for i, r := range results {
		if i >= 5 {
			break
		}
		if !send(Event{Type: EventSourceReference, Data: SourceReferenceData{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Filename:   r.Filename,
			PageNumber: r.PageNumber,
		}}) {
			return
		}
	}

	answer, err := o.generate(ctx, query, results, sess)
	if err != nil {
		send(Event{Type: EventError, Data: ErrorData{Code: "GENERATION_FAILED", Message: "answer generation failed"}})
		return
	}

	policed := safety.Sanitize(answer)

	if !o.streamTokens(ctx, send, policed.SanitizedText) {
		return
	}

	confidence := estimateConfidence(policed.SanitizedText, results)

	if !send(Event{Type: EventComplete, Data: CompleteData{
		Text:         policed.SanitizedText,
		Confidence:   confidence,
		Sources:      results,
		EngineTraces: outcomes,
	}}) {
		return
	}

	enginesUsed := make([]string, 0, len(outcomes))
	for _, oc := range outcomes {
		if oc.Success {
			enginesUsed = append(enginesUsed, oc.Engine)
		}
	}
	_ = timelineCount
	_ = entityCount
	_ = citationCount

	o.persist(ctx, matterID, userID, query, query, policed.SanitizedText, enginesUsed, confidence, sess, results)
}

// streamCached replays a cached answer as a single ENGINE_COMPLETE
// (engine "cache") + TOKEN* + COMPLETE sequence, skipping the sub-engine
// fan-out entirely.
func (o *Orchestrator) streamCached(ctx context.Context, send func(Event) bool, cached *storage.CachedQueryResult) {
	if !send(Event{Type: EventEngineComplete, Data: EngineCompleteData{
		Engine:        "cache",
		FindingsCount: cached.FindingsCount,
		Success:       true,
	}}) {
		return
	}
	if !o.streamTokens(ctx, send, cached.ResultSummary) {
		return
	}
	send(Event{Type: EventComplete, Data: CompleteData{
		Text:       cached.ResultSummary,
		Confidence: cached.Confidence,
	}})
}

// streamTokens paces word-by-word delivery of text, honoring cancellation
// between tokens. The accumulator in each event is the exact
// concatenation of every token emitted so far, per spec's streaming
// contract.
func (o *Orchestrator) streamTokens(ctx context.Context, send func(Event) bool, text string) bool {
	words := strings.Fields(text)
	var accumulated strings.Builder
	for i, w := range words {
		token := w
		if i > 0 {
			token = " " + w
		}
		accumulated.WriteString(token)
		if !send(Event{Type: EventToken, Data: TokenData{Token: token, Accumulated: accumulated.String()}}) {
			return false
		}
		select {
		case <-time.After(o.cfg.TokenDelay):
		case <-ctx.Done():
			return false
		}
	}
	return true
}

type engineTask struct {
	name string
	run  func(ctx context.Context) (int, error)
}

// runEngines fans the inner query planner out across the retrieval,
// timeline, entity, and citation sub-engines concurrently, each wrapped
// with its own timing and failure isolation, mirroring
// retrieval.Engine.search's channel-based two-retriever fan-out
// generalized to an arbitrary task set.
func (o *Orchestrator) runEngines(ctx context.Context, send func(Event) bool, matterID, userID, query string) (outcomes []EngineCompleteData, results []storage.RetrievalResult, timelineCount, entityCount, citationCount int) {
	var resultsOut []storage.RetrievalResult

	tasks := []engineTask{
		{name: "retrieval", run: func(ctx context.Context) (int, error) {
			r, err := o.deps.Retriever.Search(ctx, matterID, userID, query, retrieval.SearchOptions{Limit: o.cfg.RetrieveTopK})
			if err != nil {
				return 0, err
			}
			resultsOut = r
			return len(r), nil
		}},
		{name: "timeline", run: func(ctx context.Context) (int, error) {
			events, err := o.deps.Meta.ListTimelineEvents(ctx, matterID)
			if err != nil {
				return 0, err
			}
			return len(events), nil
		}},
		{name: "entities", run: func(ctx context.Context) (int, error) {
			entities, err := o.deps.Meta.ListEntities(ctx, matterID)
			if err != nil {
				return 0, err
			}
			return len(entities), nil
		}},
		{name: "citations", run: func(ctx context.Context) (int, error) {
			cites, err := o.deps.Meta.ListCitationsByStatus(ctx, matterID, storage.CitationVerified)
			if err != nil {
				return 0, err
			}
			return len(cites), nil
		}},
	}

	type outcomeMsg struct {
		data  EngineCompleteData
		count int
	}
	ch := make(chan outcomeMsg, len(tasks))
	for _, t := range tasks {
		t := t
		go func() {
			start := time.Now()
			n, err := t.run(ctx)
			d := EngineCompleteData{
				Engine:          t.name,
				ExecutionTimeMs: time.Since(start).Milliseconds(),
				FindingsCount:   n,
				Success:         err == nil,
			}
			if err != nil {
				d.Error = err.Error()
				slog.Warn("orchestrator: sub-engine failed, degrading", "engine", t.name, "matter_id", matterID, "error", err)
			}
			ch <- outcomeMsg{data: d, count: n}
		}()
	}

	for i := 0; i < len(tasks); i++ {
		msg := <-ch
		outcomes = append(outcomes, msg.data)
		switch msg.data.Engine {
		case "timeline":
			timelineCount = msg.count
		case "entities":
			entityCount = msg.count
		case "citations":
			citationCount = msg.count
		}
		if !send(Event{Type: EventEngineComplete, Data: msg.data}) {
			return outcomes, resultsOut, timelineCount, entityCount, citationCount
		}
	}

	return outcomes, resultsOut, timelineCount, entityCount, citationCount
}

const systemPreamble = `You are a matter-scoped legal document analysis assistant. Answer questions
based only on the provided source excerpts. Cite the source filename and
page when available. State explicitly when the sources do not contain
enough information to answer.`

// generate composes a grounded prompt from the fused retrieval results and
// the session's recent turns, then calls the LLM once. Streaming is
// simulated client-side by pacing the returned text, since storage.LLM
// exposes only a single-shot Generate.
func (o *Orchestrator) generate(ctx context.Context, query string, results []storage.RetrievalResult, sess *storage.Session) (string, error) {
	var ctxBuilder strings.Builder
	for i, r := range results {
		fmt.Fprintf(&ctxBuilder, "--- Source %d: %s", i+1, r.Filename)
		if r.PageNumber != nil {
			fmt.Fprintf(&ctxBuilder, " | Page %d", *r.PageNumber)
		}
		ctxBuilder.WriteString(" ---\n")
		ctxBuilder.WriteString(r.Content)
		ctxBuilder.WriteString("\n\n")
	}

	var historyBuilder strings.Builder
	for _, m := range session.Tail(sess) {
		fmt.Fprintf(&historyBuilder, "%s: %s\n", m.Role, m.Content)
	}

	prompt := fmt.Sprintf("%s\n\nConversation so far:\n%s\nSources:\n%s\nQuestion: %s\n\nProvide a detailed, grounded answer.",
		systemPreamble, historyBuilder.String(), ctxBuilder.String(), query)

	resp, err := o.deps.LLM.Generate(ctx, prompt, "")
	if err != nil {
		return "", fmt.Errorf("orchestrator: generate: %w", err)
	}
	return resp, nil
}

// estimateConfidence mirrors reasoning.Engine's confidence heuristic:
// base score, boosted by source references appearing in the answer,
// lowered by hedging language.
func estimateConfidence(answer string, results []storage.RetrievalResult) float64 {
	if answer == "" || len(results) == 0 {
		return 0
	}
	score := 0.5
	lower := strings.ToLower(answer)
	refs := 0
	for _, r := range results {
		if r.Filename != "" && strings.Contains(lower, strings.ToLower(r.Filename)) {
			refs++
		}
	}
	if refs > 0 {
		boost := refs
		if boost > 3 {
			boost = 3
		}
		score += 0.2 * float64(boost) / 3.0
	}
	for _, h := range []string{"might", "possibly", "unclear", "not enough information", "cannot determine"} {
		if strings.Contains(lower, h) {
			score -= 0.1
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// persist appends the exchange to session memory and query history, then
// fires a non-blocking, best-effort evaluation enqueue. Never called if
// ctx was already cancelled, so a cancelled stream leaves no trace.
func (o *Orchestrator) persist(ctx context.Context, matterID, userID, query, userMessage, assistantText string, enginesUsed []string, confidence float64, sess *storage.Session, sources []storage.RetrievalResult) {
	if ctx.Err() != nil {
		return
	}

	sourceRefs := make([]string, 0, len(sources))
	for _, s := range sources {
		sourceRefs = append(sourceRefs, s.ChunkID)
	}

	if err := o.deps.Sessions.AddMessage(ctx, matterID, userID, "user", userMessage, nil, nil); err != nil {
		slog.Warn("orchestrator: failed to persist user message", "matter_id", matterID, "error", err)
	}
	if err := o.deps.Sessions.AddMessage(ctx, matterID, userID, "assistant", assistantText, sourceRefs, nil); err != nil {
		slog.Warn("orchestrator: failed to persist assistant message", "matter_id", matterID, "error", err)
	}

	entry := storage.QueryHistoryEntry{
		ID:         uuid.NewString(),
		MatterID:   matterID,
		UserID:     userID,
		Query:      query,
		EnginesUsed: enginesUsed,
		Confidence: confidence,
		CreatedAt:  time.Now(),
	}
	if err := o.deps.History.Append(ctx, entry); err != nil {
		slog.Warn("orchestrator: failed to append query history", "matter_id", matterID, "error", err)
	}

	cacheResult := storage.CachedQueryResult{
		QueryHash:       querycache.HashQuery(strings.ToLower(strings.TrimSpace(query))),
		MatterID:        matterID,
		OriginalQuery:   query,
		NormalizedQuery: strings.ToLower(strings.TrimSpace(query)),
		CachedAt:        time.Now(),
		ResultSummary:   assistantText,
		FindingsCount:   len(sources),
		Confidence:      confidence,
	}
	if err := o.deps.Cache.Set(ctx, matterID, cacheResult); err != nil {
		slog.Warn("orchestrator: failed to cache query result", "matter_id", matterID, "error", err)
	}

	go o.enqueueEvaluation(matterID, userID, query, entry.ID)
}

// enqueueEvaluation schedules an async evaluation run. It deliberately
// uses a detached context with its own short timeout: the request context
// is gone by the time this goroutine runs, and a failure here is never
// reported to the caller, only logged.
func (o *Orchestrator) enqueueEvaluation(matterID, userID, query, queryID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	task := map[string]string{
		"matter_id": matterID,
		"user_id":   userID,
		"query_id":  queryID,
		"query":     query,
	}
	if err := o.deps.Broker.Enqueue(ctx, o.cfg.EvalQueue, task); err != nil {
		slog.Warn("orchestrator: evaluation enqueue failed, skipping", "matter_id", matterID, "error", err)
	}
}
