package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/kflash/flashpipe/secret"
)

const (
	defaultBaseURL        = "https://openrouter.ai/api/v1/chat/completions"
	defaultUserAgent      = "flashpipe/0.1.0"
	defaultStage1Timeout  = 30 * time.Second
	defaultStage2Timeout  = 60 * time.Second
	defaultMaxIdleConns   = 20
	defaultIdleConnPerHost = 10
	defaultIdleConnExpiry = 30 * time.Second
)

// HTTPClientConfig configures HTTPClient. Fields mirror the connection
// tuning the archived OpenRouterClient applied through httpx.Limits
// (max_keepalive_connections, max_connections, keepalive_expiry),
// translated to Go's http.Transport knobs.
type HTTPClientConfig struct {
	// BaseURL is the chat-completions endpoint. Default:
	// https://openrouter.ai/api/v1/chat/completions
	BaseURL string

	// APIKeyRef is resolved via Resolver.ResolveValue before the first
	// request; it may be a raw value, an env-var reference, or a
	// "secretref:<provider>:<ref>" value.
	APIKeyRef string

	// Stage1Model and Stage2Model name the models sent in each request's
	// "model" field.
	Stage1Model string
	Stage2Model string

	// Stage1Timeout and Stage2Timeout bound each call's context, per
	// spec.md §6's recommended 30s/60s defaults.
	Stage1Timeout time.Duration
	Stage2Timeout time.Duration

	// MaxIdleConns and MaxIdleConnsPerHost bound the shared transport's
	// connection pool; IdleConnTimeout mirrors httpx's keepalive_expiry.
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// UserAgent is sent on every request.
	UserAgent string

	// Resolver resolves APIKeyRef. If nil, a non-strict resolver with no
	// providers is used (only raw values/env vars resolve).
	Resolver *secret.Resolver

	// HTTPClient overrides the underlying *http.Client entirely. If nil,
	// one is built from the Max*/IdleConnTimeout fields above.
	HTTPClient *http.Client
}

func (c *HTTPClientConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Stage1Timeout == 0 {
		c.Stage1Timeout = defaultStage1Timeout
	}
	if c.Stage2Timeout == 0 {
		c.Stage2Timeout = defaultStage2Timeout
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	if c.MaxIdleConnsPerHost == 0 {
		c.MaxIdleConnsPerHost = defaultIdleConnPerHost
	}
	if c.IdleConnTimeout == 0 {
		c.IdleConnTimeout = defaultIdleConnExpiry
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Resolver == nil {
		c.Resolver = secret.NewResolver(false)
	}
}

// HTTPClient is the Client implementation that talks to an
// OpenAI-chat-completions-shaped LLM endpoint over HTTP, grounded on the
// archived OpenRouterClient's request/response handling (Bearer auth,
// Content-Type, User-Agent, connection pooling, status-code dispatch,
// and fenced-content parsing), generalized to Go's error-return idiom in
// place of Python exceptions.
type HTTPClient struct {
	cfg        HTTPClientConfig
	httpClient *http.Client
}

// NewHTTPClient builds an HTTPClient from cfg, applying defaults for any
// zero-valued fields.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	cfg.applyDefaults()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.MaxIdleConns,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
		httpClient = &http.Client{Transport: transport}
	}

	return &HTTPClient{cfg: cfg, httpClient: httpClient}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ProcessStage1 implements Client.
func (c *HTTPClient) ProcessStage1(ctx context.Context, term, typ string) (Stage1Result, Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Stage1Timeout)
	defer cancel()

	prompt := stage1Prompt(term, typ)
	content, usage, err := c.call(ctx, c.cfg.Stage1Model, prompt)
	if err != nil {
		return Stage1Result{}, Usage{}, err
	}

	result, err := parseStage1(term, typ, content)
	if err != nil {
		return Stage1Result{}, usage, err
	}
	return result, usage, nil
}

// ProcessStage2 implements Client.
func (c *HTTPClient) ProcessStage2(ctx context.Context, term string, stage1 Stage1Result) (Stage2Result, Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Stage2Timeout)
	defer cancel()

	prompt := stage2Prompt(term, stage1)
	content, usage, err := c.call(ctx, c.cfg.Stage2Model, prompt)
	if err != nil {
		return Stage2Result{}, Usage{}, err
	}

	result, err := parseStage2(term, content)
	if err != nil {
		return Stage2Result{}, usage, err
	}
	return result, usage, nil
}

// call performs one chat-completions request and extracts the assistant
// message content plus usage accounting. Errors are classified into the
// llm.Kind taxonomy before being returned, per spec.md §7.
func (c *HTTPClient) call(ctx context.Context, model, prompt string) (content string, usage Usage, err error) {
	apiKey, err := c.cfg.Resolver.ResolveValue(ctx, c.cfg.APIKeyRef)
	if err != nil {
		return "", Usage{}, &Error{Kind: KindAuth, Message: "failed to resolve API key", Err: err}
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", Usage{}, &Error{Kind: KindInternal, Message: "failed to marshal request body", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, &Error{Kind: KindInternal, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, &Error{Kind: KindNetwork, Message: "failed reading response body", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var parsed chatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", Usage{}, &Error{Kind: KindValidation, Message: "failed to parse chat completion envelope", Field: "body", Err: err}
		}
		if len(parsed.Choices) == 0 {
			return "", Usage{}, &Error{Kind: KindValidation, Message: "chat completion returned no choices", Field: "choices"}
		}
		return parsed.Choices[0].Message.Content, parsed.Usage, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return "", Usage{}, &Error{
			Kind:       KindRateLimit,
			Message:    "rate limit exceeded",
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", Usage{}, &Error{Kind: KindAuth, Message: "authentication rejected by upstream", StatusCode: resp.StatusCode}

	case resp.StatusCode >= 500:
		return "", Usage{}, &Error{Kind: KindServerAPI, Message: errorMessageFromBody(respBody), StatusCode: resp.StatusCode}

	default:
		return "", Usage{}, &Error{Kind: KindClientAPI, Message: errorMessageFromBody(respBody), StatusCode: resp.StatusCode}
	}
}

func errorMessageFromBody(body []byte) string {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	if len(body) > 0 {
		return string(body)
	}
	return "upstream returned an error with no body"
}

func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil {
		return 0
	}
	return seconds
}

// classifyTransportError distinguishes cancellation/timeout from a
// genuine network failure, since both surface as an error from
// (*http.Client).Do rather than as a status code.
func classifyTransportError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Kind: KindTimeout, Message: "request exceeded its deadline", Err: err}
		}
		return &Error{Kind: KindCancelled, Message: "request was cancelled", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Message: "network timeout", Err: err}
	}
	return &Error{Kind: KindNetwork, Message: "request failed before a response arrived", Err: err}
}

func stage1Prompt(term, typ string) string {
	return fmt.Sprintf("Analyze the vocabulary term %q (type: %s). Respond with a fenced JSON block containing: phonetic, part_of_speech, primary_meaning, other_meanings, metaphor, metaphor_noun, metaphor_action, suggested_location, anchor_object, anchor_sensory, explanation, usage_context, comparison (vs, nuance), homonyms, keywords.", term, typ)
}

func stage2Prompt(term string, stage1 Stage1Result) string {
	return fmt.Sprintf("Generate flashcards for %q from this analysis: %s. Respond with tab-separated rows of position, term, term_number, tab_name, primer, front, back, tags, honorific_level, one card per line.", term, stage1.PrimaryMeaning)
}

var _ Client = (*HTTPClient)(nil)
