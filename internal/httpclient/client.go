// Package httpclient は外部サービス呼び出し用のHTTPクライアントと、
// 呼び出し失敗のエラー分類を提供する。
package httpclient

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/hitoshi/xnatbot/internal/model"
)

const (
	// DefaultTimeout は1リクエストあたりのデフォルトタイムアウト。
	DefaultTimeout = 10 * time.Second
	// DefaultMaxRetries はデフォルトの最大リトライ回数。
	DefaultMaxRetries = 2
)

// leveledSlog はretryablehttpのログをslogへ流す。
// リトライ途中の失敗はERRORではなくWARNとして出力する。
type leveledSlog struct {
	inner *slog.Logger
}

func (l leveledSlog) Error(msg string, keysAndValues ...any) { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Warn(msg string, keysAndValues ...any)  { l.inner.Warn(msg, keysAndValues...) }
func (l leveledSlog) Info(msg string, keysAndValues ...any)  { l.inner.Debug(msg, keysAndValues...) }
func (l leveledSlog) Debug(msg string, keysAndValues ...any) { l.inner.Debug(msg, keysAndValues...) }

// Option はクライアント生成時の設定を変更する。
type Option func(*retryablehttp.Client, *http.Client)

// WithTimeout はリトライを含めた1回の呼び出し全体のタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(_ *retryablehttp.Client, c *http.Client) {
		c.Timeout = d
	}
}

// WithMaxRetries は最大リトライ回数を設定する。
func WithMaxRetries(n int) Option {
	return func(rc *retryablehttp.Client, _ *http.Client) {
		rc.RetryMax = n
	}
}

// WithRetryWait はリトライ間隔の下限と上限を設定する。
func WithRetryWait(minWait, maxWait time.Duration) Option {
	return func(rc *retryablehttp.Client, _ *http.Client) {
		rc.RetryWaitMin = minWait
		rc.RetryWaitMax = maxWait
	}
}

// WithLogger はリトライログの出力先を設定する。
func WithLogger(logger *slog.Logger) Option {
	return func(rc *retryablehttp.Client, _ *http.Client) {
		rc.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: logger})
	}
}

// New はリトライ付きの*http.Clientを生成する。
// 接続エラーと5xx（501を除く）でリトライし、429はリトライしない。
// リトライするのは冪等なメソッドだけで、POSTなどは1回だけ送る。
func New(options ...Option) *http.Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	rc.RetryMax = DefaultMaxRetries
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: slog.Default().With("subsystem", "httpclient")})
	rc.CheckRetry = retryPolicy

	client := rc.StandardClient()
	client.Transport = idempotentRetryTransport{
		retrying: client.Transport,
		direct:   rc.HTTPClient.Transport,
	}
	client.Timeout = DefaultTimeout

	for _, option := range options {
		option(rc, client)
	}
	return client
}

// idempotentRetryTransport は冪等なリクエストだけをリトライ付きのトランスポートに流す。
// 認可コードの交換やSlackへの投稿は再送すると二重に処理されるため直接送る。
type idempotentRetryTransport struct {
	retrying http.RoundTripper
	direct   http.RoundTripper
}

func (t idempotentRetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if isIdempotent(req.Method) {
		return t.retrying.RoundTrip(req)
	}
	return t.direct.RoundTrip(req)
}

func isIdempotent(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// IsTimeout はエラーがタイムアウトに起因するかを判定する。
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Classify は外部呼び出しの失敗をUpstreamTimeoutまたはUpstreamErrorに分類する。
// すでにAPIErrorであればそのまま返す。
func Classify(upstream string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return err
	}
	if IsTimeout(err) {
		return model.NewUpstreamTimeoutError(upstream, err)
	}
	return model.NewUpstreamError(upstream, err)
}

// Call はfnをタイムアウト付きのコンテキストで実行し、失敗をClassifyで分類する。
// timeoutが0以下の場合は呼び出し元のコンテキストをそのまま使う。
func Call(ctx context.Context, timeout time.Duration, upstream string, fn func(context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !model.HasCode(err, model.ErrCodeUpstreamTimeout) {
		return model.NewUpstreamTimeoutError(upstream, err)
	}
	return Classify(upstream, err)
}
