package auth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

const (
	// ProviderGoogle はGoogleプロバイダーの名前。
	ProviderGoogle = "google"

	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// GoogleOAuthConfig はGoogle OAuthプロバイダーの設定。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient はnilの場合、10秒タイムアウトのクライアントを使用する。
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogle OAuth 2.0（PKCE S256）による認証を提供する。
type GoogleOAuthProvider struct {
	oauthBase
	userInfoURL string
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGoogleAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGoogleTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultGoogleUserInfoURL
	}

	oc := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   config.AuthURL,
			TokenURL:  config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	return &GoogleOAuthProvider{
		oauthBase:   newOAuthBase(oc, config.HTTPClient),
		userInfoURL: config.UserInfoURL,
	}
}

// Name はProviderを実装する。
func (p *GoogleOAuthProvider) Name() string { return ProviderGoogle }

// UsesPKCE はProviderを実装する。
func (p *GoogleOAuthProvider) UsesPKCE() bool { return true }

// AuthCodeURL はGoogleの認可URLを生成する。
// スコープにはopenid, email, profileを含み、リフレッシュトークン取得のためaccess_type=offlineを付与する。
func (p *GoogleOAuthProvider) AuthCodeURL(state, verifier string) string {
	return p.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)
}

// ExchangeCode は認可コードとcode_verifierをトークンに交換する。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code, verifier string) (*ProviderTokens, error) {
	if verifier == "" {
		return nil, ErrMissingCodeVerifier
	}
	return p.exchange(ctx, code, oauth2.VerifierOption(verifier))
}

// googleUserInfo はGoogleのユーザー情報エンドポイント（v3）のレスポンス。
type googleUserInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// FetchProfile はアクセストークンでGoogleのユーザー情報を取得する。
func (p *GoogleOAuthProvider) FetchProfile(ctx context.Context, tokens *ProviderTokens) (*ExternalProfile, error) {
	var info googleUserInfo
	if err := p.getJSON(ctx, tokens, p.userInfoURL, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch user info: %w", err)
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("empty sub in user info response")
	}

	return &ExternalProfile{
		ExternalID: info.Sub,
		Name:       info.Name,
		Email:      info.Email,
		Photo:      info.Picture,
	}, nil
}

// compile-time interface check
var _ Provider = (*GoogleOAuthProvider)(nil)
