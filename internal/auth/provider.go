package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"golang.org/x/oauth2"
)

// providerHTTPTimeout はIdPへの外部呼び出しのタイムアウト。
const providerHTTPTimeout = 10 * time.Second

// ProviderTokens はコード交換で得たプロバイダートークン。
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// ExternalProfile はプロバイダーごとのレスポンスを正規化したプロフィール。
type ExternalProfile struct {
	ExternalID string
	Name       string
	Email      string
	Photo      string
	Phone      string
}

// Provider は外部IdPごとの認可コードフローを抽象化する。
type Provider interface {
	// Name はURLパスと紐付けレコードで使うプロバイダー名を返す。
	Name() string
	// UsesPKCE はPKCE（code_verifier）を使用するかどうかを返す。
	UsesPKCE() bool
	// AuthCodeURL は認可画面のURLを返す。verifierはPKCE非対応の場合は無視される。
	AuthCodeURL(state, verifier string) string
	// ExchangeCode は認可コードをトークンに交換する。
	ExchangeCode(ctx context.Context, code, verifier string) (*ProviderTokens, error)
	// FetchProfile はアクセストークンでプロフィールを取得する。
	FetchProfile(ctx context.Context, tokens *ProviderTokens) (*ExternalProfile, error)
}

// Registry は起動時に構築されるプロバイダーのルックアップテーブル。
type Registry struct {
	providers map[string]Provider
}

// NewRegistry はRegistryを生成する。同名のプロバイダーは後勝ちで登録される。
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Lookup は名前に対応するプロバイダーを返す。
func (r *Registry) Lookup(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names は登録済みプロバイダー名を昇順で返す。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// oauthBase はoauth2.Configを使うプロバイダーの共通処理。
type oauthBase struct {
	config     *oauth2.Config
	httpClient *http.Client
}

func newOAuthBase(config *oauth2.Config, httpClient *http.Client) oauthBase {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: providerHTTPTimeout}
	}
	return oauthBase{config: config, httpClient: httpClient}
}

// clientContext はoauth2ライブラリが使用するHTTPクライアントをctxに設定する。
func (b oauthBase) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}

func (b oauthBase) exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*ProviderTokens, error) {
	tok, err := b.config.Exchange(b.clientContext(ctx), code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	return &ProviderTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}, nil
}

// getJSON はアクセストークン付きでGETし、2xxのJSONレスポンスをoutにデコードする。
func (b oauthBase) getJSON(ctx context.Context, tokens *ProviderTokens, endpoint string, out any) error {
	// config.Clientが返すクライアントはTimeoutを引き継がないため、ctxで制限する
	ctx, cancel := context.WithTimeout(ctx, providerHTTPTimeout)
	defer cancel()

	client := b.config.Client(b.clientContext(ctx), &oauth2.Token{
		AccessToken: tokens.AccessToken,
		TokenType:   "Bearer",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("request to %s failed with status %d", endpoint, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
