// Package xnat はXNAT REST APIのクライアントを提供する。
package xnat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/xnatbot/internal/httpclient"
	"github.com/hitoshi/xnatbot/internal/model"
)

const (
	upstreamName = "XNAT"
	projectsPath = "/xapi/users/projects"
	// maxResponseSize はレスポンスボディの最大サイズ（1MB）。
	maxResponseSize = 1 << 20
)

// Client はXNAT APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	host       string
}

// NewClient はClientを生成する。hostはスキームを含むXNATのベースURL。
func NewClient(httpClient *http.Client, logger *slog.Logger, host string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		host:       host,
	}
}

// ListProjects はアクセストークンの所有者が参照できるプロジェクト名の一覧を取得する。
// accessTokenが空の場合はAuthorizationヘッダーを付けない。
// 失敗時はUpstreamTimeoutまたはUpstreamErrorを返す。
func (c *Client) ListProjects(ctx context.Context, accessToken string) ([]string, error) {
	reqURL, err := url.JoinPath(c.host, projectsPath)
	if err != nil {
		return nil, model.NewUpstreamError(upstreamName, fmt.Errorf("invalid host %q: %w", c.host, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, model.NewUpstreamError(upstreamName, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("XNAT API call failed", slog.String("error", err.Error()))
		return nil, httpclient.Classify(upstreamName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("XNAT API returned error status", slog.Int("http_status", resp.StatusCode))
		return nil, model.NewUpstreamError(upstreamName, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, httpclient.Classify(upstreamName, fmt.Errorf("failed to read response: %w", err))
	}

	var projects []string
	if err := json.Unmarshal(body, &projects); err != nil {
		return nil, model.NewUpstreamError(upstreamName, fmt.Errorf("failed to parse response: %w", err))
	}
	return projects, nil
}
