package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/engramhq/engram/internal/models"
)

const visionPrompt = `Analyze this screenshot of a computer screen and respond with ONLY a JSON object:
{
  "summary": "one or two sentences describing what the user is doing",
  "text_content": "important visible text, verbatim",
  "detected_app": "the application in focus",
  "activity_type": "one of: coding, browsing, writing, communication, media, design, terminal, other",
  "entities": ["named people, projects, technologies, urls, or files visible"],
  "confidence": 0.0 to 1.0,
  "is_key_action": true if this looks like a decisive moment (commit, send, deploy, purchase),
  "key_action_description": "short description when is_key_action is true"
}`

// VisionClient analyzes screenshots via an OpenAI-compatible vision model.
type VisionClient struct {
	client
	model string
	cache *visionCache
}

func NewVisionClient(endpoint, model, apiKey string) *VisionClient {
	return &VisionClient{
		client: newClient(endpoint, apiKey, 120*time.Second),
		model:  model,
		cache:  newVisionCache(100, 300*time.Second),
	}
}

// AnalyzeImage sends a JPEG screenshot for structured analysis. Results are
// cached by perceptual hash, so re-analyzing a near-duplicate frame is free.
func (c *VisionClient) AnalyzeImage(ctx context.Context, jpegData []byte, phash string) (*models.ScreenAnalysis, error) {
	if cached, ok := c.cache.get(phash); ok {
		return cached, nil
	}

	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegData)
	req := chatCompletionRequest{
		Model: c.model,
		Messages: []wireMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: visionPrompt},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				},
			},
		},
		MaxTokens:   1024,
		Temperature: 0.1,
	}

	var resp chatCompletionResponse
	if err := c.postJSON(ctx, "/chat/completions", req, &resp); err != nil {
		return nil, fmt.Errorf("vision analyze: %w", err)
	}
	content, err := resp.content()
	if err != nil {
		return nil, fmt.Errorf("vision analyze: %w", err)
	}

	analysis := parseAnalysis(content)
	c.cache.put(phash, analysis)
	return analysis, nil
}

// parseAnalysis decodes the structured reply, falling back to the raw text
// as a low-confidence summary when the model did not return valid JSON.
func parseAnalysis(content string) *models.ScreenAnalysis {
	var a models.ScreenAnalysis
	if ExtractJSON(content, &a) && a.Summary != "" {
		if a.Confidence <= 0 || a.Confidence > 1 {
			a.Confidence = 0.5
		}
		return &a
	}
	return &models.ScreenAnalysis{
		Summary:    strings.TrimSpace(content),
		Confidence: 0.5,
	}
}

// visionCache memoizes analysis results by perceptual hash with a TTL and a
// hard entry cap.
type visionCache struct {
	mu      sync.Mutex
	entries map[string]visionCacheEntry
	max     int
	ttl     time.Duration
}

type visionCacheEntry struct {
	analysis *models.ScreenAnalysis
	storedAt time.Time
}

func newVisionCache(max int, ttl time.Duration) *visionCache {
	return &visionCache{
		entries: make(map[string]visionCacheEntry),
		max:     max,
		ttl:     ttl,
	}
}

func (c *visionCache) get(phash string) (*models.ScreenAnalysis, bool) {
	if phash == "" {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[phash]
	if !ok {
		return nil, false
	}
	if time.Since(e.storedAt) > c.ttl {
		delete(c.entries, phash)
		return nil, false
	}
	return e.analysis, true
}

func (c *visionCache) put(phash string, a *models.ScreenAnalysis) {
	if phash == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		// Evict the oldest entry.
		var oldestKey string
		var oldest time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.storedAt.Before(oldest) {
				oldestKey, oldest = k, e.storedAt
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[phash] = visionCacheEntry{analysis: a, storedAt: time.Now()}
}
