package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SubmitResult 队列提交结果
type SubmitResult struct {
	RequestID   string `json:"request_id"`
	StatusURL   string `json:"status_url,omitempty"`
	ResponseURL string `json:"response_url,omitempty"`
}

// Submitter 向 fal 队列提交任务
type Submitter interface {
	Submit(ctx context.Context, endpointID string, input interface{}, webhookURL string) (*SubmitResult, error)
}

// Client fal.ai 队列 API 客户端
type Client struct {
	baseURL    string
	key        string
	httpClient *http.Client
}

// NewClient 创建客户端，httpClient 为 nil 时使用 30 秒超时的默认客户端
func NewClient(baseURL, key string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		httpClient: httpClient,
	}
}

// Submit 提交任务到 {base}/{endpointID}，结果通过 webhook 回调
func (c *Client) Submit(ctx context.Context, endpointID string, input interface{}, webhookURL string) (*SubmitResult, error) {
	if c.key == "" {
		return nil, fmt.Errorf("FAL_KEY 未配置")
	}

	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}

	target := c.baseURL + "/" + strings.TrimLeft(endpointID, "/")
	if webhookURL != "" {
		target += "?fal_webhook=" + url.QueryEscape(webhookURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+c.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", endpointID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("submit %s: status %d: %s", endpointID, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var result SubmitResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result.RequestID == "" {
		return nil, fmt.Errorf("submit %s: empty request_id", endpointID)
	}
	return &result, nil
}

// WebhookURL 拼接 fal 回调地址，publicURL 为空时不使用回调
func WebhookURL(publicURL string) string {
	if publicURL == "" {
		return ""
	}
	return strings.TrimRight(publicURL, "/") + "/api/webhooks/fal"
}
