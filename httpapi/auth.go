package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goliatone/go-adconnect/core"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// SessionCookieName carries the session token on the provider redirect,
	// where no Authorization header is sent.
	SessionCookieName = "adconnect_session"
	userIDKey         = "adconnect.user_id"
	minSessionSecret  = 32
)

type planContextKey struct{}

// Session is the verified content of a session token.
type Session struct {
	UserID string
	Plan   string
}

type sessionClaims struct {
	Plan string `json:"plan,omitempty"`
	jwt.RegisteredClaims
}

// SessionAuthenticator verifies HS256 session tokens. The subject claim is
// the caller's user id.
type SessionAuthenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

type AuthOption func(*SessionAuthenticator)

func WithIssuer(issuer string) AuthOption {
	return func(a *SessionAuthenticator) {
		a.issuer = strings.TrimSpace(issuer)
	}
}

func WithAuthClock(now func() time.Time) AuthOption {
	return func(a *SessionAuthenticator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewSessionAuthenticator(secret []byte, opts ...AuthOption) (*SessionAuthenticator, error) {
	if len(secret) < minSessionSecret {
		return nil, fmt.Errorf("httpapi: session secret must be at least %d bytes", minSessionSecret)
	}
	auth := &SessionAuthenticator{
		secret: append([]byte(nil), secret...),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(auth)
		}
	}
	return auth, nil
}

// NewSessionAuthenticatorFromSource reads ADCONNECT_SESSION_SECRET.
func NewSessionAuthenticatorFromSource(source core.SecretSource, opts ...AuthOption) (*SessionAuthenticator, error) {
	if source == nil {
		return nil, core.NewFailure(core.ReasonConfigurationError, "secret source is required", nil)
	}
	secret, ok := source.Lookup(core.SessionSecretName)
	if !ok {
		return nil, core.NewFailure(
			core.ReasonConfigurationError,
			"missing required setting "+core.SessionSecretName,
			map[string]any{"missing_setting": core.SessionSecretName},
		)
	}
	return NewSessionAuthenticator([]byte(secret), opts...)
}

// Issue signs a session token for userID.
func (a *SessionAuthenticator) Issue(userID string, ttl time.Duration) (string, error) {
	return a.IssueSession(Session{UserID: userID}, ttl)
}

// IssueSession signs a session token. The plan claim is optional.
func (a *SessionAuthenticator) IssueSession(session Session, ttl time.Duration) (string, error) {
	userID := strings.TrimSpace(session.UserID)
	if userID == "" {
		return "", fmt.Errorf("httpapi: user id is required")
	}
	now := a.now()
	claims := sessionClaims{
		Plan: strings.TrimSpace(session.Plan),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify returns the user id carried by token.
func (a *SessionAuthenticator) Verify(token string) (string, error) {
	session, err := a.VerifySession(token)
	if err != nil {
		return "", err
	}
	return session.UserID, nil
}

func (a *SessionAuthenticator) VerifySession(token string) (Session, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Session{}, err
	}
	if !parsed.Valid {
		return Session{}, errors.New("httpapi: invalid session token")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return Session{}, errors.New("httpapi: session token has no subject")
	}
	return Session{UserID: subject, Plan: claims.Plan}, nil
}

// Middleware resolves the caller from the bearer header or the session
// cookie and aborts with 401 otherwise.
func (a *SessionAuthenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			if cookie, err := c.Cookie(SessionCookieName); err == nil {
				token = strings.TrimSpace(cookie)
			}
		}
		if token == "" {
			abortWithError(c, core.NewFailure(core.ReasonUnauthenticated, "session token is required", nil))
			return
		}
		session, err := a.VerifySession(token)
		if err != nil {
			abortWithError(c, core.WrapFailure(err, core.ReasonUnauthenticated, "invalid session token", nil))
			return
		}
		c.Set(userIDKey, session.UserID)
		if session.Plan != "" {
			c.Request = c.Request.WithContext(ContextWithPlan(c.Request.Context(), session.Plan))
		}
		c.Next()
	}
}

// UserID returns the caller resolved by the middleware.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

// ContextWithPlan attaches the caller's subscription plan to ctx.
func ContextWithPlan(ctx context.Context, plan string) context.Context {
	return context.WithValue(ctx, planContextKey{}, strings.TrimSpace(plan))
}

// PlanFromContext returns the plan set by the session middleware, if any.
func PlanFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	plan, _ := ctx.Value(planContextKey{}).(string)
	return plan
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), errorBody(err))
}

func statusFor(err error) int {
	status := core.HTTPStatus(err)
	if status < http.StatusBadRequest {
		return http.StatusInternalServerError
	}
	return status
}
