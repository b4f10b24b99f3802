// Package sandbox 调用沙箱网关完成跨组织对象复制，请求经过熔断器.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/sony/gobreaker"

	"github.com/yeisme/treevault/pkg/configs"
	nlog "github.com/yeisme/treevault/pkg/log"
)

// ErrUnavailable 熔断打开或网关未配置.
var ErrUnavailable = errors.New("sandbox: gateway unavailable")

const copyPath = "/api/v1/objects/copy"

// CopyRequest 跨组织复制请求.
type CopyRequest struct {
	SourceOrg string `json:"source_org"`
	SourceKey string `json:"source_key"`
	TargetOrg string `json:"target_org"`
	TargetKey string `json:"target_key"`
	UserID    string `json:"user_id,omitempty"`
}

type copyResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Client 沙箱网关客户端.
type Client struct {
	endpoint string
	token    string
	http     *http.Client
	cb       *gobreaker.CircuitBreaker
}

// New 创建网关客户端.
func New(cfg configs.SandboxConfig, cbCfg configs.CircuitBreakerConfig) *Client {
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		token:    cfg.Token,
		http:     &http.Client{Timeout: cfg.GetTimeout()},
		cb:       gobreaker.NewCircuitBreaker(breakerSettings("sandbox-gateway", cbCfg)),
	}
}

// breakerSettings 按失败比例熔断；未启用时永不打开.
func breakerSettings(name string, cfg configs.CircuitBreakerConfig) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequestsInHalf,
		Interval:    cfg.GetInterval(),
		Timeout:     cfg.GetOpenTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.ShouldTrip(counts.Requests, counts.TotalFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			nlog.Logger().Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("熔断器状态变化")
		},
	}
}

// CopyObject 通过网关复制对象.
func (c *Client) CopyObject(ctx context.Context, req CopyRequest) error {
	if c.endpoint == "" {
		return ErrUnavailable
	}

	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.doCopy(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}

func (c *Client) doCopy(ctx context.Context, req CopyRequest) error {
	body, err := sonic.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal copy request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+copyPath, bytes.NewReader(body))
	if err != nil {
		return err
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sandbox copy %s: %w", req.SourceKey, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read sandbox response: %w", err)
	}

	var out copyResponse
	if len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("decode sandbox response: %w", err)
		}
	}

	if resp.StatusCode >= http.StatusBadRequest || out.Code != 0 {
		return fmt.Errorf("sandbox copy %s: status %d code %d: %s", req.SourceKey, resp.StatusCode, out.Code, out.Message)
	}

	return nil
}

// State 返回熔断器状态.
func (c *Client) State() string {
	return c.cb.State().String()
}
