// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Server
	ServerPort string
	BaseURL    string

	// OAuth (XNAT)
	OAuthClientID         string
	OAuthClientSecret     string
	OAuthAuthorizationURL string
	OAuthTokenURL         string
	OAuthScopes           []string
	OAuthRedirectPath     string

	// Slack
	SlackBotToken      string
	SlackSigningSecret string
	SlackAPIURL        string

	// XNAT
	XNATHost string

	// Association
	AssociationPath    string
	AssociationLinkTTL time.Duration

	// Upstream
	UpstreamTimeout    time.Duration
	UpstreamMaxRetries int

	// Bot
	AppName        string
	CommandName    string
	DefaultMessage string

	// Session
	SessionMaxAge int

	// Cookie
	CookieSecure bool
	CookieDomain string

	// Rate Limit（req/min）
	RateLimitPerMinute            int
	AssociationRateLimitPerMinute int

	// Worker
	CleanupInterval time.Duration

	// Logging
	LogLevel string
}

// OAuthRedirectURL はプロバイダーに登録するコールバックURLを返す。
func (c *Config) OAuthRedirectURL() string {
	u, err := url.JoinPath(c.BaseURL, c.OAuthRedirectPath)
	if err != nil {
		return strings.TrimRight(c.BaseURL, "/") + c.OAuthRedirectPath
	}
	return u
}

// requiredVars は未設定の場合に起動を中止する環境変数。
var requiredVars = []string{
	"DATABASE_URL",
	"BASE_URL",
	"OAUTH_CLIENT_ID",
	"OAUTH_CLIENT_SECRET",
	"OAUTH_AUTHORIZATION_URL",
	"OAUTH_TOKEN_URL",
	"SLACK_BOT_TOKEN",
	"SLACK_SIGNING_SECRET",
	"XNAT_HOST",
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	var missing []string
	for _, key := range requiredVars {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg := &Config{
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		BaseURL:               os.Getenv("BASE_URL"),
		OAuthClientID:         os.Getenv("OAUTH_CLIENT_ID"),
		OAuthClientSecret:     os.Getenv("OAUTH_CLIENT_SECRET"),
		OAuthAuthorizationURL: os.Getenv("OAUTH_AUTHORIZATION_URL"),
		OAuthTokenURL:         os.Getenv("OAUTH_TOKEN_URL"),
		SlackBotToken:         os.Getenv("SLACK_BOT_TOKEN"),
		SlackSigningSecret:    os.Getenv("SLACK_SIGNING_SECRET"),
		XNATHost:              os.Getenv("XNAT_HOST"),
	}

	for key, raw := range map[string]string{
		"BASE_URL":                cfg.BaseURL,
		"OAUTH_AUTHORIZATION_URL": cfg.OAuthAuthorizationURL,
		"OAUTH_TOKEN_URL":         cfg.OAuthTokenURL,
		"XNAT_HOST":               cfg.XNATHost,
	} {
		if err := validateAbsoluteURL(raw); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
	}

	// Optional fields with defaults
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.OAuthScopes = getEnvList("OAUTH_SCOPES", nil)
	cfg.OAuthRedirectPath = getEnvString("OAUTH_REDIRECT_PATH", "/oauth/callback")
	cfg.SlackAPIURL = getEnvString("SLACK_API_URL", "")
	cfg.AssociationPath = getEnvString("ASSOCIATION_PATH", "/associate")
	cfg.AssociationLinkTTL = getEnvDuration("ASSOCIATION_LINK_TTL", 24*time.Hour)
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second)
	cfg.UpstreamMaxRetries = getEnvInt("UPSTREAM_MAX_RETRIES", 2)
	cfg.AppName = getEnvString("APP_NAME", "XNAT")
	cfg.CommandName = getEnvString("COMMAND_NAME", "/xnat")
	cfg.DefaultMessage = getEnvString("DEFAULT_MESSAGE", "Hello World")
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 60)
	cfg.AssociationRateLimitPerMinute = getEnvInt("ASSOCIATION_RATE_LIMIT_PER_MINUTE", 20)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if !strings.HasPrefix(cfg.AssociationPath, "/") || !strings.HasPrefix(cfg.OAuthRedirectPath, "/") {
		return nil, fmt.Errorf("ASSOCIATION_PATH and OAUTH_REDIRECT_PATH must start with '/'")
	}
	if cfg.AssociationLinkTTL < 0 {
		return nil, fmt.Errorf("ASSOCIATION_LINK_TTL must not be negative")
	}

	return cfg, nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an absolute http(s) URL", raw)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// getEnvDuration は"24h"形式のほか、"0"で無効化を表せる。
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマまたは空白区切りの値をスライスにする。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' '
	})
}
