package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/config"
	"github.com/zhouzirui/pairchat/backend/pkg/utils"
)

// ErrUnauthenticated is returned when a request carries no usable identity.
var ErrUnauthenticated = errors.New("unauthenticated")

// Provider resolves the identity behind an HTTP request.
type Provider interface {
	Authenticate(r *http.Request) (string, error)
}

type ctxKey struct{}

// WithUser stores the authenticated identity in ctx.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// UserFromContext returns the identity set by Middleware.
func UserFromContext(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(ctxKey{}).(string)
	return user, ok && user != ""
}

// NewProvider 根据配置选择身份来源。
func NewProvider(cfg config.AuthConfig) (Provider, error) {
	switch cfg.Mode {
	case config.AuthModeJWT:
		return NewJWTProvider(cfg.JWTSecret, cfg.JWTIssuer)
	case config.AuthModeHeader:
		return HeaderProvider{Header: cfg.UserHeader}, nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
}

// Middleware rejects requests without an identity and stores it in the request context.
func Middleware(p Provider, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := p.Authenticate(r)
			if err != nil {
				log.Debug("rejecting unauthenticated request", zap.String("path", r.URL.Path), zap.Error(err))
				utils.RespondError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// Claims is the payload of an access token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTProvider validates HS256 tokens from the Authorization header or the token query parameter.
// Browsers cannot set headers on a websocket handshake, hence the query fallback.
type JWTProvider struct {
	secret []byte
	issuer string
}

// NewJWTProvider 创建 JWT 身份来源。
func NewJWTProvider(secret, issuer string) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTProvider{secret: []byte(secret), issuer: issuer}, nil
}

// GenerateToken signs a token for username valid for ttl.
func (p *JWTProvider) GenerateToken(username string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// ValidateToken checks signature, expiry and issuer and returns the claims.
func (p *JWTProvider) ValidateToken(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (p *JWTProvider) Authenticate(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", ErrUnauthenticated
	}
	claims, err := p.ValidateToken(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return claims.Username, nil
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// HeaderProvider trusts an identity header set by an upstream proxy.
type HeaderProvider struct {
	Header string
}

func (p HeaderProvider) Authenticate(r *http.Request) (string, error) {
	user := strings.TrimSpace(r.Header.Get(p.Header))
	if user == "" {
		return "", ErrUnauthenticated
	}
	return user, nil
}
