package paperless

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kirillkom/docflow/internal/infrastructure/resilience"
)

const defaultPageSize = 100

type Config struct {
	BaseURL  string
	Token    string
	PageSize int
	Timeout  time.Duration
}

// Client talks to the paperless-ngx REST API. It implements ports.DocumentStore
// and ports.EntityStore.
type Client struct {
	baseURL    string
	token      string
	pageSize   int
	httpClient *http.Client
	exec       *resilience.Executor
	logger     *zap.SugaredLogger
}

func New(cfg Config, exec *resilience.Executor, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if exec == nil {
		exec = resilience.NewExecutor(resilience.PaperlessPolicy(), logger)
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: timeout},
		exec:       exec,
		logger:     logger.Named("paperless"),
	}
}
