package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/core/domain"
	"github.com/kirillkom/docflow/internal/core/ports"
	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	exec       *resilience.Executor
	logger     *zap.SugaredLogger
}

func New(cfg Config, exec *resilience.Executor, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.OllamaPolicy(0), logger)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
		exec:       exec,
		logger:     logger.Named("ollama"),
	}
}

// Extractor asks a vision model for schema-shaped items. It implements ports.Extractor.
type Extractor struct {
	client *Client
}

func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

func (e *Extractor) Extract(ctx context.Context, req ports.ExtractionRequest) ([]map[string]any, error) {
	if len(req.Image) == 0 && strings.TrimSpace(req.Text) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract", errors.New("neither image nor text supplied"))
	}
	var itemSchema map[string]any
	if err := json.Unmarshal(req.Schema, &itemSchema); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract", errors.Wrap(err, "decode extraction schema"))
	}

	body := map[string]any{
		"model":  e.client.model,
		"prompt": buildExtractionPrompt(req),
		"stream": false,
		"format": itemsFormat(itemSchema),
		"options": map[string]any{
			"temperature": 0,
		},
	}
	if len(req.Image) > 0 {
		body["images"] = []string{base64.StdEncoding.EncodeToString(req.Image)}
	}

	started := time.Now()
	raw, err := e.client.generate(ctx, body)
	if err != nil {
		return nil, err
	}
	items, err := parseItems(raw)
	if err != nil {
		return nil, err
	}
	e.client.logger.Debugw("extraction finished", "items", len(items), "duration", time.Since(started), "image", len(req.Image) > 0)
	return items, nil
}

// itemsFormat wraps the item schema so the model always answers {"items": [...]}.
func itemsFormat(itemSchema map[string]any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"items": map[string]any{
				"type":  "array",
				"items": itemSchema,
			},
		},
		"required": []string{"items"},
	}
}

func (c *Client) generate(ctx context.Context, reqBody map[string]any) (string, error) {
	var response struct {
		Response string `json:"response"`
	}
	if err := c.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}

// parseItems accepts {"items": [...]}, a bare array or a single object.
func parseItems(raw string) ([]map[string]any, error) {
	raw = stripCodeFence(raw)
	if raw == "" {
		return nil, domain.WrapError(domain.ErrSchemaMismatch, "parse extraction", errors.New("empty model response"))
	}

	if strings.HasPrefix(raw, "[") {
		var items []map[string]any
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, domain.WrapError(domain.ErrSchemaMismatch, "parse extraction", err)
		}
		return items, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &envelope); err != nil {
		return nil, domain.WrapError(domain.ErrSchemaMismatch, "parse extraction", err)
	}
	itemsRaw, ok := envelope["items"]
	if !ok {
		var single map[string]any
		if err := json.Unmarshal([]byte(extractJSONObject(raw)), &single); err != nil {
			return nil, domain.WrapError(domain.ErrSchemaMismatch, "parse extraction", err)
		}
		if len(single) == 0 {
			return []map[string]any{}, nil
		}
		return []map[string]any{single}, nil
	}
	var items []map[string]any
	if err := json.Unmarshal(itemsRaw, &items); err != nil {
		return nil, domain.WrapError(domain.ErrSchemaMismatch, "parse extraction items", err)
	}
	if items == nil {
		items = []map[string]any{}
	}
	return items, nil
}

func stripCodeFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
