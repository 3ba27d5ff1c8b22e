package evaluation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/trigg3rX/mmlu-operator/internal/operator/types"
	httppkg "github.com/trigg3rX/mmlu-operator/pkg/http"
	"github.com/trigg3rX/mmlu-operator/pkg/logging"
)

const (
	DefaultStartTimeout  = 30 * time.Second
	DefaultStatusTimeout = 10 * time.Second
)

// Evaluator is the remote MMLU evaluation service.
type Evaluator interface {
	Start(ctx context.Context, subset string, prompts []types.Prompt) (string, error)
	Status(ctx context.Context, jobID string) (*types.EvaluationStatus, error)
}

type ClientConfig struct {
	BaseURL       string
	StartTimeout  time.Duration
	StatusTimeout time.Duration
	InsecureTLS   bool
}

// Client talks to the evaluator over HTTP. It keeps no job state, so Status
// may be repeated freely; Start must be called once per task.
type Client struct {
	baseURL       string
	startTimeout  time.Duration
	statusTimeout time.Duration
	http          httppkg.HTTPClientInterface
	logger        logging.Logger
}

var _ Evaluator = (*Client)(nil)

type startRequest struct {
	Subset  string         `json:"subset"`
	Prompts []types.Prompt `json:"prompts"`
}

type startResponse struct {
	TaskID string `json:"task_id"`
}

type statusResponse struct {
	Completed        *bool    `json:"completed"`
	ProcessedPrompts int      `json:"processed_prompts"`
	TotalPrompts     int      `json:"total_prompts"`
	Accuracy         *float64 `json:"accuracy"`
}

func NewClient(cfg ClientConfig, logger logging.Logger) (*Client, error) {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}

	// Each call carries its own deadline and is attempted exactly once; the
	// poll loop owns retrying.
	httpClient, err := httppkg.NewHTTPClient(&httppkg.HTTPConfig{
		Timeout:            maxDuration(cfg.StartTimeout, cfg.StatusTimeout),
		IdleConnTimeout:    90 * time.Second,
		MaxResponseSize:    4096,
		InsecureSkipVerify: cfg.InsecureTLS,
	}, logger)
	if err != nil {
		return nil, err
	}
	return NewClientWithHTTP(cfg, httpClient, logger)
}

// NewClientWithHTTP builds a client over an existing transport.
func NewClientWithHTTP(cfg ClientConfig, httpClient httppkg.HTTPClientInterface, logger logging.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, &types.ConfigurationError{Field: "EVALUATOR_URL", Reason: fmt.Sprintf("invalid url %q", cfg.BaseURL)}
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		startTimeout:  cfg.StartTimeout,
		statusTimeout: cfg.StatusTimeout,
		http:          httpClient,
		logger:        logger,
	}, nil
}

// Close releases idle connections to the evaluator.
func (c *Client) Close() {
	c.http.Close()
}

// Start submits the prompts of a subset for evaluation and returns the job id.
func (c *Client) Start(ctx context.Context, subset string, prompts []types.Prompt) (string, error) {
	var resp startResponse
	err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/evaluate", startRequest{Subset: subset, Prompts: prompts}, &resp, c.startTimeout)
	if err != nil {
		return "", serviceError("start", err)
	}
	if resp.TaskID == "" {
		return "", serviceError("start", errors.New("response is missing task_id"))
	}
	c.logger.Debug("Evaluation job started", "subset", subset, "jobID", resp.TaskID, "prompts", len(prompts))
	return resp.TaskID, nil
}

// Status fetches the progress of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*types.EvaluationStatus, error) {
	var resp statusResponse
	err := c.http.DoJSON(ctx, http.MethodGet, c.baseURL+"/evaluate/"+url.PathEscape(jobID), nil, &resp, c.statusTimeout)
	if err != nil {
		return nil, serviceError("status", err)
	}
	if resp.Completed == nil {
		return nil, serviceError("status", errors.New("response is missing completed"))
	}

	status := &types.EvaluationStatus{
		Completed:        *resp.Completed,
		ProcessedPrompts: resp.ProcessedPrompts,
		TotalPrompts:     resp.TotalPrompts,
	}
	if status.Completed {
		if resp.Accuracy == nil {
			return nil, serviceError("status", errors.New("completed response is missing accuracy"))
		}
		status.Accuracy = *resp.Accuracy
	}
	return status, nil
}

func serviceError(op string, err error) error {
	svcErr := &types.ServiceError{Op: op, Err: err}
	var httpErr *httppkg.HTTPError
	if errors.As(err, &httpErr) {
		svcErr.StatusCode = httpErr.StatusCode
	}
	return svcErr
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
