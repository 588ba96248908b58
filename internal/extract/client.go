package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pmsim/internal/domain"
	"pmsim/internal/taskgraph"
)

const (
	defaultRetries           = 2
	defaultRetryBackoff      = 1500 * time.Millisecond
	defaultTimeout           = 2 * time.Minute
	defaultMaxOutputBytes    = 1024 * 1024
	defaultMaxOutputTokens   = 8000
	defaultConcurrency       = 10
	maxHTTPErrorBodyReadSize = 64 * 1024
)

type Config struct {
	Endpoint        string
	Model           string
	AuthToken       string
	Timeout         time.Duration
	Retries         int
	RetryBackoff    time.Duration
	MaxOutputBytes  int
	MaxOutputTokens int
	Concurrency     int
	Logger          *log.Logger
	Client          *http.Client
}

// Client turns free text into project tasks and resources through a
// responses-style model endpoint.
type Client struct {
	endpoint        string
	model           string
	authToken       string
	retries         int
	retryBackoff    time.Duration
	maxOutputBytes  int
	maxOutputTokens int
	concurrency     int
	logger          *log.Logger
	client          *http.Client
}

func New(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("empty extraction endpoint")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid extraction endpoint %q: %w", endpoint, err)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fmt.Errorf("empty model")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	if retries == 0 {
		retries = defaultRetries
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	maxBytes := cfg.MaxOutputBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxOutputBytes
	}
	maxTokens := cfg.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint:        endpoint,
		model:           model,
		authToken:       strings.TrimSpace(cfg.AuthToken),
		retries:         retries,
		retryBackoff:    backoff,
		maxOutputBytes:  maxBytes,
		maxOutputTokens: maxTokens,
		concurrency:     concurrency,
		logger:          cfg.Logger,
		client:          client,
	}, nil
}

// Result is what one text yielded. Resources are derived from the task
// requirements when the model listed none.
type Result struct {
	Tasks     []*domain.Task
	Resources []*domain.Resource
}

// Extract never fails on collaborator trouble: transport errors and
// malformed output are logged and give an empty result. Only a cancelled
// context is returned as an error.
func (c *Client) Extract(ctx context.Context, text string) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries+1; attempt++ {
		res, err := c.extractOnce(ctx, text)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt == c.retries+1 {
			break
		}
		wait := time.Duration(attempt) * c.retryBackoff
		c.logger.Printf("extract retry attempt=%d wait=%s reason=%v", attempt, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
		}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}
	c.logger.Printf("extract failed reason=%v", lastErr)
	return Result{}, nil
}

// ExtractAll runs Extract over every text with bounded concurrency and
// concatenates the results. Result order does not follow input order.
func (c *Client) ExtractAll(ctx context.Context, texts []string) (Result, error) {
	var (
		mu  sync.Mutex
		out Result
		wg  sync.WaitGroup
	)
	sem := make(chan struct{}, c.concurrency)
	errs := make(chan error, len(texts))
	for _, text := range texts {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return out, ctx.Err()
		}
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := c.Extract(ctx, text)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			out.Tasks = append(out.Tasks, res.Tasks...)
			out.Resources = append(out.Resources, res.Resources...)
			mu.Unlock()
		}(text)
	}
	wg.Wait()
	close(errs)
	if err := <-errs; err != nil {
		return out, err
	}
	return out, nil
}

func (c *Client) extractOnce(ctx context.Context, text string) (Result, error) {
	payload := responsesRequest{
		Model:        c.model,
		Instructions: extractionInstructions,
		Stream:       true,
		Input: []responsesInputMessage{{
			Role:    "user",
			Content: []responsesInputContent{{Type: "input_text", Text: "Identify the tasks and resources in the following text:\n\n" + text}},
		}},
		MaxOutputTokens: c.maxOutputTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal extraction request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create extraction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxHTTPErrorBodyReadSize))
		if readErr != nil {
			return Result{}, fmt.Errorf("extraction status=%d and read body failed: %w", resp.StatusCode, readErr)
		}
		return Result{}, httpError{statusCode: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	raw, err := readResponsesStream(resp.Body, c.maxOutputBytes)
	if err != nil {
		return Result{}, fmt.Errorf("read extraction stream: %w", err)
	}
	res, err := parseExtraction([]byte(raw))
	if err != nil {
		return Result{}, fmt.Errorf("parse extraction output: %w; output: %s", err, trim(raw, 800))
	}
	return res, nil
}

type extraction struct {
	Tasks []struct {
		ID          string   `json:"id"`
		Start       float64  `json:"start"`
		Deadline    float64  `json:"deadline"`
		Priority    int      `json:"priority"`
		Duration    float64  `json:"duration"`
		Reward      float64  `json:"reward"`
		Difficulty  float64  `json:"difficulty"`
		ProblemProb float64  `json:"problems_probability"`
		DependsOn   []string `json:"depends_on"`
		Resources   []struct {
			ID       string  `json:"id"`
			Quantity float64 `json:"quantity"`
		} `json:"resources"`
	} `json:"tasks"`
	Resources []struct {
		Name  string  `json:"name"`
		Total float64 `json:"total"`
		Cost  float64 `json:"cost"`
	} `json:"resources"`
}

// parseExtraction accepts the JSON object alone, inside a markdown fence or
// surrounded by prose.
func parseExtraction(raw []byte) (Result, error) {
	text := strings.TrimSpace(string(raw))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var ex extraction
	if err := json.Unmarshal([]byte(text), &ex); err != nil {
		start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return Result{}, err
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &ex); err != nil {
			return Result{}, err
		}
	}

	var res Result
	for _, t := range ex.Tasks {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			continue
		}
		task := &domain.Task{
			ID:          id,
			Start:       t.Start,
			Deadline:    t.Deadline,
			Priority:    t.Priority,
			Duration:    t.Duration,
			Reward:      t.Reward,
			Difficulty:  t.Difficulty,
			ProblemProb: t.ProblemProb,
			Status:      domain.TaskStatusPending,
			DependsOn:   t.DependsOn,
		}
		for _, r := range t.Resources {
			task.Requires = append(task.Requires, domain.ResourceRequirement{ResourceID: r.ID, Quantity: r.Quantity})
		}
		res.Tasks = append(res.Tasks, task)
	}
	for _, r := range ex.Resources {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		res.Resources = append(res.Resources, &domain.Resource{ID: name, Total: r.Total, Cost: r.Cost})
	}
	if len(res.Resources) == 0 {
		res.Resources = taskgraph.ResourcesFromTasks(res.Tasks, 0)
	}
	return res, nil
}

func isRetryable(err error) bool {
	var statusErr httpError
	if errors.As(err, &statusErr) {
		return statusErr.statusCode == http.StatusTooManyRequests || statusErr.statusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded)
}

type httpError struct {
	statusCode int
	body       string
}

func (e httpError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("extraction status=%d", e.statusCode)
	}
	return fmt.Sprintf("extraction status=%d body=%s", e.statusCode, e.body)
}

func trim(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

const extractionInstructions = `You are a project manager assistant. Identify every task and resource in the text.
Return only valid JSON. Do not wrap output in markdown fences.
Required top-level JSON shape:
{
  "tasks": [
    {"id": "T1", "start": 0, "deadline": 100, "priority": 1, "duration": 30,
     "reward": 10, "difficulty": 20, "problems_probability": 0.1,
     "depends_on": [], "resources": [{"id": "dev", "quantity": 2}]}
  ],
  "resources": [
    {"name": "dev", "total": 10, "cost": 1}
  ]
}
Times are in simulation units. Priority is 1 (low) to 4 (high).`
