package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/reviewflow/config"
	"github.com/BaSui01/reviewflow/types"
)

// =============================================================================
// HTTP bridge
// =============================================================================

// HTTPBridge implements Bridge against the engine's REST surface.
type HTTPBridge struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	metrics Metrics
	logger  *zap.Logger
}

// HTTPOption configures an HTTPBridge.
type HTTPOption func(*HTTPBridge)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(b *HTTPBridge) {
		b.client = client
	}
}

// WithBridgeMetrics attaches engine call recording.
func WithBridgeMetrics(m Metrics) HTTPOption {
	return func(b *HTTPBridge) {
		b.metrics = m
	}
}

// NewHTTPBridge creates a bridge for the configured engine.
func NewHTTPBridge(cfg config.EngineConfig, logger *zap.Logger, opts ...HTTPOption) *HTTPBridge {
	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = rps
	}

	b := &HTTPBridge{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.CallTimeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger.With(zap.String("component", "engine_bridge")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// StartTask implements Bridge.
func (b *HTTPBridge) StartTask(ctx context.Context, in StartInput) (*types.RunResult, error) {
	if in.TaskID == "" {
		return nil, types.NewError(types.ErrValidation, "task id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	return b.call(ctx, "start", b.baseURL+"/v1/runs", in)
}

// Resume implements Bridge.
func (b *HTTPBridge) Resume(ctx context.Context, taskID string, payload ResumePayload) (*types.RunResult, error) {
	if taskID == "" {
		return nil, types.NewError(types.ErrValidation, "task id is required").
			WithHTTPStatus(http.StatusBadRequest)
	}
	return b.call(ctx, "resume", b.baseURL+"/v1/runs/"+taskID+"/resume", payload)
}

// runResponse is the engine's wire format for a run outcome.
type runResponse struct {
	State  string        `json:"state"`
	Pause  *types.Pause  `json:"pause,omitempty"`
	Output types.Content `json:"output,omitempty"`
	Error  string        `json:"error,omitempty"`
}

func (b *HTTPBridge) call(ctx context.Context, operation, url string, body any) (*types.RunResult, error) {
	start := time.Now()
	result, err := b.doCall(ctx, url, body)

	status := "ok"
	if err != nil {
		status = string(types.GetErrorCode(err))
	}
	if b.metrics != nil {
		b.metrics.RecordEngineCall(operation, status, time.Since(start))
	}

	if err != nil {
		b.logger.Warn("engine call failed",
			zap.String("operation", operation),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}

	b.logger.Debug("engine call completed",
		zap.String("operation", operation),
		zap.String("state", string(result.State)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}

func (b *HTTPBridge) doCall(ctx context.Context, url string, body any) (*types.RunResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, mapTransportError(err)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encode engine request failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build engine request failed").
			WithCause(err).
			WithHTTPStatus(http.StatusInternalServerError)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, types.NewError(types.ErrEngineUnavailable, "read engine response failed").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, types.NewError(types.ErrNotFound, "engine does not know this run").
			WithHTTPStatus(http.StatusNotFound)
	case resp.StatusCode >= 500:
		return nil, types.NewError(types.ErrEngineFailed,
			fmt.Sprintf("engine returned status %d", resp.StatusCode)).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(true)
	case resp.StatusCode >= 400:
		return nil, types.NewError(types.ErrEngineFailed,
			fmt.Sprintf("engine rejected the call with status %d", resp.StatusCode)).
			WithHTTPStatus(http.StatusBadGateway)
	}

	var wire runResponse
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, types.NewError(types.ErrEngineFailed, "decode engine response failed").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway)
	}

	return decodeRunResponse(wire)
}

// decodeRunResponse maps the wire outcome to a RunResult. An unknown
// state is an engine contract violation, not a pause.
func decodeRunResponse(wire runResponse) (*types.RunResult, error) {
	switch types.RunState(wire.State) {
	case types.RunPaused:
		if wire.Pause == nil {
			return nil, types.NewError(types.ErrEngineFailed, "engine reported pause without interrupt payload").
				WithHTTPStatus(http.StatusBadGateway)
		}
		return types.PausedResult(*wire.Pause), nil
	case types.RunFinished:
		return types.FinishedResult(wire.Output), nil
	case types.RunFailed:
		return types.FailedResult(errors.New(wire.Error)), nil
	}
	return nil, types.NewError(types.ErrEngineFailed,
		fmt.Sprintf("engine returned unknown run state %q", wire.State)).
		WithHTTPStatus(http.StatusBadGateway)
}

// mapTransportError classifies client-side call failures.
func mapTransportError(err error) *types.Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrEngineTimeout, "engine call timed out").
			WithCause(err).
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithRetryable(true)
	}
	if errors.Is(err, context.Canceled) {
		return types.NewError(types.ErrEngineUnavailable, "engine call cancelled").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway)
	}

	// http.Client wraps its own deadline in a url.Error that reports
	// Timeout() rather than matching context.DeadlineExceeded.
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return types.NewError(types.ErrEngineTimeout, "engine call timed out").
			WithCause(err).
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithRetryable(true)
	}

	return types.NewError(types.ErrEngineUnavailable, "engine is unreachable").
		WithCause(err).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(true)
}
