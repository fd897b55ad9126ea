package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/hitoshi/allergyboard/internal/model"
)

const (
	// DefaultPendingRegistrationTTL は登録待ちCookieの有効期間。
	DefaultPendingRegistrationTTL = 10 * time.Minute

	pendingIssuer       = "allergyboard"
	pendingSignInfo     = "allergyboard pending-registration signing v1"
	pendingSealInfo     = "allergyboard pending-registration sealing v1"
	pendingSignKeyBytes = 32
)

// pendingClaims は登録待ちトークンのクレーム。
// Sealedはプロフィールを暗号化したもので、平文のプロフィールはトークンに含めない。
type pendingClaims struct {
	jwt.RegisteredClaims
	Sealed string `json:"sealed"`
}

// PendingRegistration はデコード済みの登録待ちデータ。
type PendingRegistration struct {
	// ID はトークン固有のID（jti）。一度きりの消費判定に使用する。
	ID        string
	ExpiresAt time.Time
	Profile   *model.PendingRegistrationProfile
}

// PendingRegistrationCodec は未連携の外部プロフィールを、署名付きかつ暗号化された
// 短命のCookie値にエンコードする。サーバー側には何も保存しない。
type PendingRegistrationCodec struct {
	signKey []byte
	aead    cipher.AEAD
	ttl     time.Duration
	now     func() time.Time
}

// NewPendingRegistrationCodec はsecretから署名鍵と暗号鍵を導出してコーデックを生成する。
// ttlが0以下の場合はDefaultPendingRegistrationTTL、nowがnilの場合はtime.Nowを使用する。
func NewPendingRegistrationCodec(secret string, ttl time.Duration, now func() time.Time) (*PendingRegistrationCodec, error) {
	if secret == "" {
		return nil, fmt.Errorf("pending registration secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultPendingRegistrationTTL
	}
	if now == nil {
		now = time.Now
	}

	signKey, err := deriveKey([]byte(secret), pendingSignInfo, pendingSignKeyBytes)
	if err != nil {
		return nil, err
	}
	sealKey, err := deriveKey([]byte(secret), pendingSealInfo, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(sealKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &PendingRegistrationCodec{
		signKey: signKey,
		aead:    aead,
		ttl:     ttl,
		now:     now,
	}, nil
}

// TTL はCookieの有効期間を返す。
func (c *PendingRegistrationCodec) TTL() time.Duration {
	return c.ttl
}

// Encode はプロフィールを暗号化し、有効期限付きの署名トークンとして返す。
func (c *PendingRegistrationCodec) Encode(profile *model.PendingRegistrationProfile) (string, error) {
	plaintext, err := json.Marshal(profile)
	if err != nil {
		return "", fmt.Errorf("failed to marshal pending profile: %w", err)
	}

	id := uuid.NewString()
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, []byte(id))

	now := c.now()
	claims := pendingClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Issuer:    pendingIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
		Sealed: base64.RawURLEncoding.EncodeToString(sealed),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign pending registration: %w", err)
	}
	return signed, nil
}

// Decode はCookie値を検証・復号する。
// 改ざん、期限切れ、アルゴリズム不一致、復号失敗はすべてErrPendingRegistrationInvalidになる。
func (c *PendingRegistrationCodec) Decode(value string) (*PendingRegistration, error) {
	if value == "" {
		return nil, ErrPendingRegistrationInvalid
	}

	claims := &pendingClaims{}
	_, err := jwt.ParseWithClaims(value, claims,
		func(*jwt.Token) (any, error) { return c.signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(pendingIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPendingRegistrationInvalid, err)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing token id", ErrPendingRegistrationInvalid)
	}

	sealed, err := base64.RawURLEncoding.DecodeString(claims.Sealed)
	if err != nil || len(sealed) < c.aead.NonceSize() {
		return nil, fmt.Errorf("%w: malformed payload", ErrPendingRegistrationInvalid)
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(claims.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: payload authentication failed", ErrPendingRegistrationInvalid)
	}

	var profile model.PendingRegistrationProfile
	if err := json.Unmarshal(plaintext, &profile); err != nil {
		return nil, fmt.Errorf("%w: malformed profile", ErrPendingRegistrationInvalid)
	}
	if profile.Provider == "" || profile.ExternalID == "" {
		return nil, fmt.Errorf("%w: incomplete profile", ErrPendingRegistrationInvalid)
	}

	return &PendingRegistration{
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
		Profile:   &profile,
	}, nil
}

// deriveKey はHKDF-SHA256で用途ごとの鍵を導出する。
func deriveKey(secret []byte, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
