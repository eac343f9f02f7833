// Package chat answers questions about the captured history by retrieving
// relevant traces and summaries and grounding a chat completion on them.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"

	"github.com/engramhq/engram/internal/ai"
	"github.com/engramhq/engram/internal/models"
	"github.com/engramhq/engram/internal/search"
	"github.com/engramhq/engram/internal/store"
)

const systemPreamble = `You are a personal memory assistant. You answer questions about what the user did on their computer, using only the activity context provided. When the context does not cover the question, say so. Mention times and applications when they help.`

// Engine wires retrieval and completion into one Chat call.
type Engine struct {
	chatStore     *store.ChatStore
	summaries     *store.SummaryStore
	searcher      *search.Engine
	client        *ai.ChatClient
	contextTokens int
	historyLimit  int
	logger        *slog.Logger

	encoder *tiktoken.Tiktoken
}

func NewEngine(chatStore *store.ChatStore, summaries *store.SummaryStore,
	searcher *search.Engine, client *ai.ChatClient,
	contextTokens, historyLimit int, logger *slog.Logger) *Engine {
	if contextTokens <= 0 {
		contextTokens = 2000
	}
	if historyLimit <= 0 {
		historyLimit = 10
	}
	// Best effort: a missing encoding file falls back to the chars/4 estimate.
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn("tiktoken unavailable, estimating tokens", "error", err)
		encoder = nil
	}
	return &Engine{
		chatStore:     chatStore,
		summaries:     summaries,
		searcher:      searcher,
		client:        client,
		contextTokens: contextTokens,
		historyLimit:  historyLimit,
		logger:        logger,
		encoder:       encoder,
	}
}

// Chat answers one user message inside a thread, creating the thread when
// needed. Both the user message and the grounded reply are persisted.
func (e *Engine) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}

	thread, err := e.ensureThread(req.ThreadID, message)
	if err != nil {
		return nil, err
	}

	// Retrieve grounding context.
	searchResp, err := e.searcher.Search(ctx, &models.SearchRequest{
		Query:  message,
		Mode:   models.SearchModeHybrid,
		Filter: req.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}

	contextBlock, sourceIDs, timeRange := e.buildContext(searchResp.Results, req.Filter)

	history, err := e.chatStore.RecentMessages(thread.ID, e.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("thread history: %w", err)
	}

	messages := []ai.ChatMessage{{Role: models.RoleSystem, Content: systemPreamble + "\n\n## Activity context\n" + contextBlock}}
	for _, m := range history {
		messages = append(messages, ai.ChatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, ai.ChatMessage{Role: models.RoleUser, Content: message})

	reply, err := e.client.Complete(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("completion: %w", err)
	}

	if _, err := e.chatStore.AppendMessage(&models.ChatMessage{
		ThreadID: thread.ID,
		Role:     models.RoleUser,
		Content:  message,
	}); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	if _, err := e.chatStore.AppendMessage(&models.ChatMessage{
		ThreadID:       thread.ID,
		Role:           models.RoleAssistant,
		Content:        reply,
		SourceTraceIDs: sourceIDs,
	}); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	return &models.ChatResponse{
		ThreadID:     thread.ID,
		Reply:        reply,
		ContextCount: len(sourceIDs),
		TimeRange:    timeRange,
	}, nil
}

func (e *Engine) ensureThread(threadID, firstMessage string) (*models.ChatThread, error) {
	if threadID != "" {
		thread, err := e.chatStore.GetThread(threadID)
		if err != nil {
			return nil, fmt.Errorf("get thread: %w", err)
		}
		if thread == nil {
			return nil, fmt.Errorf("thread not found: %s", threadID)
		}
		return thread, nil
	}

	thread := &models.ChatThread{
		ID:    uuid.New().String(),
		Title: truncate(firstMessage, 80),
	}
	if err := e.chatStore.CreateThread(thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// buildContext assembles a token-bounded context block from search results
// (relevance order) plus recent summaries, and reports which traces made it
// in along with the human-readable time range they span.
func (e *Engine) buildContext(results []models.SearchResult, filter models.TraceFilter) (string, []int64, string) {
	var b strings.Builder
	var sourceIDs []int64
	var minTs, maxTs int64
	budget := e.contextTokens

	for _, r := range results {
		if r.Trace.OCRText == nil {
			continue
		}
		line := fmt.Sprintf("[%s] %s: %s\n",
			time.UnixMilli(r.Trace.Timestamp).Format("Jan 2 15:04"),
			r.Trace.AppName,
			truncate(*r.Trace.OCRText, 300))
		cost := e.countTokens(line)
		if cost > budget {
			break
		}
		budget -= cost
		b.WriteString(line)
		sourceIDs = append(sourceIDs, r.Trace.ID)
		if minTs == 0 || r.Trace.Timestamp < minTs {
			minTs = r.Trace.Timestamp
		}
		if r.Trace.Timestamp > maxTs {
			maxTs = r.Trace.Timestamp
		}
	}

	// Recent summaries give the model broader context than individual traces.
	start, end := int64(0), time.Now().UnixMilli()
	if filter.StartTime != nil {
		start = *filter.StartTime
	}
	if filter.EndTime != nil {
		end = *filter.EndTime
	}
	if sums, err := e.summaries.List(models.SummaryShort, start, end, 5); err == nil {
		for _, sum := range sums {
			line := fmt.Sprintf("Summary [%s]: %s\n",
				time.UnixMilli(sum.PeriodStart).Format("Jan 2 15:04"),
				truncate(sum.Content, 300))
			cost := e.countTokens(line)
			if cost > budget {
				break
			}
			budget -= cost
			b.WriteString(line)
		}
	}

	if b.Len() == 0 {
		return "(no matching activity found)", nil, ""
	}
	return b.String(), sourceIDs, formatRange(minTs, maxTs)
}

func (e *Engine) countTokens(s string) int {
	if e.encoder != nil {
		return len(e.encoder.Encode(s, nil, nil))
	}
	return len(s)/4 + 1
}

func formatRange(minTs, maxTs int64) string {
	if minTs == 0 {
		return ""
	}
	from := time.UnixMilli(minTs)
	to := time.UnixMilli(maxTs)
	if from.Format("2006-01-02") == to.Format("2006-01-02") {
		return fmt.Sprintf("%s, %s to %s",
			from.Format("Jan 2"), from.Format("15:04"), to.Format("15:04"))
	}
	return fmt.Sprintf("%s to %s", from.Format("Jan 2 15:04"), to.Format("Jan 2 15:04"))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
