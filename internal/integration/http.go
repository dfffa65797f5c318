// Package integration 调用库存、通知、退款等协作服务的 HTTP 客户端
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/d60-Lab/order-payments/internal/apperr"
)

// ServiceTokenHeader 服务间调用携带的令牌头
const ServiceTokenHeader = "X-Service-Token"

// jsonClient 协作服务公共的 JSON-over-HTTP 调用
type jsonClient struct {
	name    string
	baseURL string
	token   string
	http    *http.Client
}

func newJSONClient(name, baseURL, token string, timeout time.Duration) jsonClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return jsonClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// post 发送 JSON 请求；非 2xx 与网络错误统一包装为 apperr.ErrIntegration
func (c jsonClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperr.Integration(c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(ServiceTokenHeader, c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Integration(c.name, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Integration(c.name, fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(respBody))))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.Integration(c.name, fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
