package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

const (
	// ProviderGitHub はGitHubプロバイダーの名前。
	ProviderGitHub = "github"

	defaultGitHubAuthURL  = "https://github.com/login/oauth/authorize"
	defaultGitHubTokenURL = "https://github.com/login/oauth/access_token"
	defaultGitHubAPIURL   = "https://api.github.com"
)

// GitHubOAuthConfig はGitHub OAuthプロバイダーの設定。
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
	APIURL   string

	// HTTPClient はnilの場合、10秒タイムアウトのクライアントを使用する。
	HTTPClient *http.Client
}

// GitHubOAuthProvider はGitHub OAuth Appによる認証を提供する。
// GitHubはPKCEを使用せず、stateのみで検証する。
type GitHubOAuthProvider struct {
	oauthBase
	apiURL string
}

// NewGitHubOAuthProvider はGitHubOAuthProviderを生成する。
func NewGitHubOAuthProvider(config GitHubOAuthConfig) *GitHubOAuthProvider {
	if config.AuthURL == "" {
		config.AuthURL = defaultGitHubAuthURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultGitHubTokenURL
	}
	if config.APIURL == "" {
		config.APIURL = defaultGitHubAPIURL
	}

	oc := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		RedirectURL:  config.RedirectURL,
		Scopes:       []string{"read:user", "user:email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:   config.AuthURL,
			TokenURL:  config.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	return &GitHubOAuthProvider{
		oauthBase: newOAuthBase(oc, config.HTTPClient),
		apiURL:    strings.TrimRight(config.APIURL, "/"),
	}
}

// Name はProviderを実装する。
func (p *GitHubOAuthProvider) Name() string { return ProviderGitHub }

// UsesPKCE はProviderを実装する。
func (p *GitHubOAuthProvider) UsesPKCE() bool { return false }

// AuthCodeURL はGitHubの認可URLを生成する。verifierは使用しない。
func (p *GitHubOAuthProvider) AuthCodeURL(state, _ string) string {
	return p.config.AuthCodeURL(state)
}

// ExchangeCode は認可コードをトークンに交換する。
func (p *GitHubOAuthProvider) ExchangeCode(ctx context.Context, code, _ string) (*ProviderTokens, error) {
	return p.exchange(ctx, code)
}

// githubUser は GET /user のレスポンス。
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// githubEmail は GET /user/emails のレスポンス要素。
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchProfile はGitHubのユーザー情報を取得する。
// 公開メールアドレスが未設定の場合は /user/emails から検証済みアドレスを補完する。
func (p *GitHubOAuthProvider) FetchProfile(ctx context.Context, tokens *ProviderTokens) (*ExternalProfile, error) {
	var user githubUser
	if err := p.getJSON(ctx, tokens, p.apiURL+"/user", &user); err != nil {
		return nil, fmt.Errorf("failed to fetch github user: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("empty id in github user response")
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}

	email := user.Email
	if email == "" {
		var emails []githubEmail
		if err := p.getJSON(ctx, tokens, p.apiURL+"/user/emails", &emails); err != nil {
			return nil, fmt.Errorf("failed to fetch github emails: %w", err)
		}
		email = pickVerifiedEmail(emails)
	}

	return &ExternalProfile{
		ExternalID: strconv.FormatInt(user.ID, 10),
		Name:       name,
		Email:      email,
		Photo:      user.AvatarURL,
	}, nil
}

// pickVerifiedEmail は検証済みのプライマリアドレスを優先し、
// なければ最初の検証済みアドレスを返す。検証済みがなければ空文字列を返す。
func pickVerifiedEmail(emails []githubEmail) string {
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email
		}
	}
	for _, e := range emails {
		if e.Verified {
			return e.Email
		}
	}
	return ""
}

// compile-time interface check
var _ Provider = (*GitHubOAuthProvider)(nil)
