// Package auth は外部IdPによるログイン、アカウント紐付け、セッション管理を提供する。
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/hitoshi/allergyboard/internal/model"
	"github.com/hitoshi/allergyboard/internal/repository"
	"github.com/hitoshi/allergyboard/internal/security"
)

// CallbackOutcome はコールバック処理の結果の種別。
type CallbackOutcome int

const (
	// OutcomeLinked は既存の紐付けが見つかり、セッションを発行したことを示す。
	OutcomeLinked CallbackOutcome = iota + 1
	// OutcomeRegistrationPending は紐付けがなく、登録待ちCookieを発行したことを示す。
	OutcomeRegistrationPending
)

// String はメトリクスラベルとログ用の名前を返す。
func (o CallbackOutcome) String() string {
	switch o {
	case OutcomeLinked:
		return "linked"
	case OutcomeRegistrationPending:
		return "registration_pending"
	default:
		return "unknown"
	}
}

// LoginRequest は認可画面へのリダイレクトに必要な値。
// StateとCodeVerifierは呼び出し元が短命Cookieとして保持する。
type LoginRequest struct {
	URL          string
	State        string
	CodeVerifier string
}

// CallbackRequest はIdPからのコールバックと、ログイン開始時に保存した値。
type CallbackRequest struct {
	Provider       string
	Code           string
	State          string
	StoredState    string
	StoredVerifier string
}

// CallbackResult はコールバック処理の結果。
// OutcomeLinkedの場合はSessionTokenとSession、
// OutcomeRegistrationPendingの場合はPendingCookieのみが設定される。
type CallbackResult struct {
	Outcome       CallbackOutcome
	SessionToken  string
	Session       *model.Session
	PendingCookie string
}

// RegistrationForm は登録フォームの入力値。
type RegistrationForm struct {
	Name  string
	Phone string
	Role  string
}

// IssuedSession は新たに発行したセッション。
type IssuedSession struct {
	Token   string
	Session *model.Session
	User    *model.User
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// Metrics はnilの場合は計測を行わない。
	Metrics Metrics
	// Now は現在時刻の取得関数。nilの場合はtime.Nowを使用する。
	Now func() time.Time
}

// Service は外部IdPのコード交換、プロフィール取得、既存紐付けの検索、
// 初回登録時のアカウント作成を取りまとめる。
type Service struct {
	providers *Registry
	sessions  *SessionStore
	pending   *PendingRegistrationCodec
	replay    ReplayGuard
	userRepo  repository.UserRepository
	linkRepo  repository.OAuthAccountRepository
	sanitizer *security.ProfileSanitizer
	metrics   Metrics
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	providers *Registry,
	sessions *SessionStore,
	pending *PendingRegistrationCodec,
	replay ReplayGuard,
	userRepo repository.UserRepository,
	linkRepo repository.OAuthAccountRepository,
	config ServiceConfig,
) *Service {
	if config.Metrics == nil {
		config.Metrics = nopMetrics{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Service{
		providers: providers,
		sessions:  sessions,
		pending:   pending,
		replay:    replay,
		userRepo:  userRepo,
		linkRepo:  linkRepo,
		sanitizer: security.NewProfileSanitizer(),
		metrics:   config.Metrics,
		now:       config.Now,
	}
}

// SessionTTL はセッションCookieの有効期間を返す。
func (s *Service) SessionTTL() time.Duration {
	return s.sessions.TTL()
}

// PendingTTL は登録待ちCookieの有効期間を返す。
func (s *Service) PendingTTL() time.Duration {
	return s.pending.TTL()
}

// UsesPKCE は指定プロバイダーがcode_verifierを必要とするかどうかを返す。
func (s *Service) UsesPKCE(providerName string) (bool, error) {
	p, err := s.providers.Lookup(providerName)
	if err != nil {
		return false, err
	}
	return p.UsesPKCE(), nil
}

// BeginLogin はstate（とPKCEプロバイダーの場合はcode_verifier）を生成し、認可URLを返す。
func (s *Service) BeginLogin(providerName string) (*LoginRequest, error) {
	p, err := s.providers.Lookup(providerName)
	if err != nil {
		return nil, err
	}

	state, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	var verifier string
	if p.UsesPKCE() {
		verifier = oauth2.GenerateVerifier()
	}

	return &LoginRequest{
		URL:          p.AuthCodeURL(state, verifier),
		State:        state,
		CodeVerifier: verifier,
	}, nil
}

// HandleCallback はIdPからのコールバックを処理する。
//   - state不一致、code_verifier欠落、認可コード欠落・拒否はプロトコルエラー（IsProtocolError）。
//   - IdP APIの失敗は*ProviderError。
//   - 既存の紐付けがあればセッションを発行する（OutcomeLinked）。
//   - なければ登録待ちCookieを発行する（OutcomeRegistrationPending）。
func (s *Service) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	p, err := s.providers.Lookup(req.Provider)
	if err != nil {
		return nil, err
	}

	result, err := s.handleCallback(ctx, p, req)
	if err != nil {
		s.metrics.RecordCallback(p.Name(), callbackErrorLabel(err))
		return nil, err
	}
	s.metrics.RecordCallback(p.Name(), result.Outcome.String())
	return result, nil
}

func (s *Service) handleCallback(ctx context.Context, p Provider, req CallbackRequest) (*CallbackResult, error) {
	// 1. anti-forgery値の検証
	if req.State == "" || req.StoredState == "" ||
		subtle.ConstantTimeCompare([]byte(req.State), []byte(req.StoredState)) != 1 {
		return nil, ErrStateMismatch
	}
	if p.UsesPKCE() && req.StoredVerifier == "" {
		return nil, ErrMissingCodeVerifier
	}
	if req.Code == "" {
		return nil, ErrMissingCode
	}

	// 2. コード交換とプロフィール取得
	tokens, err := p.ExchangeCode(ctx, req.Code, req.StoredVerifier)
	if err != nil {
		if isRejectedCode(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCode, err)
		}
		return nil, &ProviderError{Provider: p.Name(), Op: "code exchange", Err: err}
	}

	profile, err := p.FetchProfile(ctx, tokens)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Op: "profile fetch", Err: err}
	}
	s.sanitizeProfile(profile)

	// 3. 既存の紐付けを検索
	link, err := s.linkRepo.FindByProviderAndExternalID(ctx, p.Name(), profile.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find oauth account: %w", err)
	}

	if link != nil {
		// 3a. 紐付け済み: トークンを更新してセッションを発行
		if err := s.linkRepo.UpdateTokens(ctx, p.Name(), profile.ExternalID, tokens.AccessToken, tokens.RefreshToken, s.now()); err != nil {
			return nil, fmt.Errorf("failed to update provider tokens: %w", err)
		}

		issued, err := s.mintSession(ctx, link.UserID)
		if err != nil {
			return nil, err
		}

		slog.Info("existing user logged in",
			slog.String("user_id", link.UserID),
			slog.String("provider", p.Name()),
		)
		return &CallbackResult{
			Outcome:      OutcomeLinked,
			SessionToken: issued.Token,
			Session:      issued.Session,
		}, nil
	}

	// 3b. 未紐付け: プロフィールを登録待ちCookieに詰める
	cookie, err := s.pending.Encode(&model.PendingRegistrationProfile{
		Provider:     p.Name(),
		ExternalID:   profile.ExternalID,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Name:         profile.Name,
		Phone:        profile.Phone,
		Email:        profile.Email,
		Photo:        profile.Photo,
		Role:         model.RoleUnset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode pending registration: %w", err)
	}

	slog.Info("registration pending",
		slog.String("provider", p.Name()),
	)
	return &CallbackResult{
		Outcome:       OutcomeRegistrationPending,
		PendingCookie: cookie,
	}, nil
}

// PendingProfile は登録フォームの初期表示用に登録待ちCookieをデコードする。
// 無効なCookieはErrPendingRegistrationInvalidになる。
func (s *Service) PendingProfile(cookie string) (*model.PendingRegistrationProfile, error) {
	decoded, err := s.pending.Decode(cookie)
	if err != nil {
		return nil, err
	}
	return decoded.Profile, nil
}

// CompleteRegistration は登録待ちCookieとフォーム入力からユーザーと紐付けを
// 同一トランザクションで作成し、セッションを発行する。
//   - Cookieが無効、期限切れ、使用済みの場合はErrPendingRegistrationInvalid。
//   - 同じ外部アカウントが既に登録済みの場合はErrAccountAlreadyExists。
//   - 選択できないロールの場合はErrInvalidRole。
func (s *Service) CompleteRegistration(ctx context.Context, cookie string, form RegistrationForm) (*IssuedSession, error) {
	issued, err := s.completeRegistration(ctx, cookie, form)
	s.metrics.RecordRegistration(registrationLabel(err))
	return issued, err
}

func (s *Service) completeRegistration(ctx context.Context, cookie string, form RegistrationForm) (*IssuedSession, error) {
	decoded, err := s.pending.Decode(cookie)
	if err != nil {
		return nil, err
	}
	profile := decoded.Profile

	role := profile.Role
	if form.Role != "" {
		role, err = model.ParseRole(form.Role)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRole, err)
		}
	}
	if !role.SelfAssignable() {
		return nil, fmt.Errorf("%w: %q cannot be self-assigned", ErrInvalidRole, role)
	}

	// 同じCookieによる登録は1回のみ
	now := s.now()
	fresh, err := s.replay.Consume(ctx, decoded.ID, decoded.ExpiresAt.Sub(now))
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending registration: %w", err)
	}
	if !fresh {
		link, err := s.linkRepo.FindByProviderAndExternalID(ctx, profile.Provider, profile.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("failed to find oauth account: %w", err)
		}
		if link != nil {
			return nil, ErrAccountAlreadyExists
		}
		return nil, fmt.Errorf("%w: already used", ErrPendingRegistrationInvalid)
	}

	user := &model.User{
		ID:        uuid.NewString(),
		Name:      firstNonEmpty(s.sanitizer.Text(form.Name), profile.Name),
		Phone:     firstNonEmpty(s.sanitizer.Text(form.Phone), profile.Phone),
		PhotoURL:  profile.Photo,
		Email:     profile.Email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	link := &model.OAuthAccountLink{
		Provider:     profile.Provider,
		ExternalID:   profile.ExternalID,
		UserID:       user.ID,
		AccessToken:  profile.AccessToken,
		RefreshToken: profile.RefreshToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.CreateWithLink(ctx, user, link); err != nil {
		if errors.Is(err, repository.ErrDuplicateLink) {
			slog.Warn("duplicate registration rejected",
				slog.String("provider", profile.Provider),
			)
			return nil, ErrAccountAlreadyExists
		}
		// 作成されていないので、同じCookieで再送信できるよう消費記録を戻す
		if relErr := s.replay.Release(ctx, decoded.ID); relErr != nil {
			slog.Warn("failed to release pending registration",
				slog.String("provider", profile.Provider),
				slog.String("error", relErr.Error()),
			)
		}
		return nil, fmt.Errorf("failed to create user and oauth account: %w", err)
	}

	issued, err := s.mintSession(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	issued.User = user

	slog.Info("new user registered",
		slog.String("user_id", user.ID),
		slog.String("provider", profile.Provider),
		slog.String("role", string(role)),
	)
	return issued, nil
}

// Authenticate はセッショントークンを検証する。
func (s *Service) Authenticate(ctx context.Context, token string) (SessionResult, error) {
	return s.sessions.Validate(ctx, token)
}

// Logout はトークンに対応するセッションを破棄する。
// 空トークンや存在しないセッションはエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Invalidate(ctx, SessionID(token))
}

// mintSession は新しいトークンを生成してセッションを作成する。
func (s *Service) mintSession(ctx context.Context, userID string) (*IssuedSession, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session token: %w", err)
	}
	session, err := s.sessions.Create(ctx, token, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &IssuedSession{Token: token, Session: session}, nil
}

func (s *Service) sanitizeProfile(p *ExternalProfile) {
	p.Name = s.sanitizer.Text(p.Name)
	p.Email = s.sanitizer.Text(p.Email)
	p.Phone = s.sanitizer.Text(p.Phone)
	p.Photo = s.sanitizer.PhotoURL(p.Photo)
}

// rejectedCodeErrors は認可コード自体が無効・期限切れ・使用済みであることを示すOAuthエラーコード。
// GitHubはこの場合もHTTP 200でerror=bad_verification_codeを返す。
var rejectedCodeErrors = map[string]bool{
	"invalid_grant":         true,
	"bad_verification_code": true,
}

// isRejectedCode はトークンエンドポイントが認可コードを拒否したかどうかを返す。
// エラーコードがあればそれで判定し、なければ400/401を拒否とみなす。
func isRejectedCode(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return false
	}
	if re.ErrorCode != "" {
		return rejectedCodeErrors[re.ErrorCode]
	}
	if re.Response == nil {
		return false
	}
	return re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized
}

func callbackErrorLabel(err error) string {
	var pe *ProviderError
	switch {
	case IsProtocolError(err):
		return "protocol_error"
	case errors.As(err, &pe):
		return "provider_error"
	default:
		return "error"
	}
}

func registrationLabel(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, ErrPendingRegistrationInvalid):
		return "invalid_pending"
	case errors.Is(err, ErrAccountAlreadyExists):
		return "duplicate"
	case errors.Is(err, ErrInvalidRole):
		return "invalid_role"
	default:
		return "error"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
