package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// OAuthProvider はOAuth認可コードフローのプロバイダーのインターフェース。
type OAuthProvider interface {
	// AuthCodeURL はstateを含む認可URLを生成する。
	AuthCodeURL(state string) string
	// Exchange は認可コードをアクセストークンに交換する。
	Exchange(ctx context.Context, code string) (string, error)
}

// OAuth2Config はOAuth2Providerの設定。
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	RedirectURL  string
	Scopes       []string

	// HTTPClient はトークンエンドポイント呼び出しに使う。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client
}

// OAuth2Provider はgolang.org/x/oauth2による汎用OAuthプロバイダー。
type OAuth2Provider struct {
	config *oauth2.Config
	client *http.Client
}

// NewOAuth2Provider はOAuth2Providerを生成する。
func NewOAuth2Provider(config OAuth2Config) *OAuth2Provider {
	return &OAuth2Provider{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       config.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthURL,
				TokenURL:  config.TokenURL,
				// 自動判定は失敗時に同じコードで再送するため、Basic認証に固定する
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client: config.HTTPClient,
	}
}

// AuthCodeURL は認可URLを生成する。
func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange は認可コードをアクセストークンに交換する。
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", errors.New("authorization code is required")
	}
	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}

	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to exchange token: %w", err)
	}
	if token.AccessToken == "" {
		return "", errors.New("empty access token in response")
	}
	return token.AccessToken, nil
}

// compile-time interface check
var _ OAuthProvider = (*OAuth2Provider)(nil)
