// Package auth stellt die Identität des Aufrufers bereit. Tokens werden vom externen
// Login-Dienst ausgestellt, hier nur geprüft.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Identity ist der authentifizierte Aufrufer. Ein nil-Pointer bedeutet anonym.
type Identity struct {
	UserID   uint
	Username string
	IsAdmin  bool
}

// Claims sind die erwarteten Token-Felder.
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	IsStaff  bool   `json:"is_staff"`
	jwt.RegisteredClaims
}

// Verifier prüft HS256-Tokens.
type Verifier struct {
	Secret []byte
	Issuer string
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{Secret: []byte(secret), Issuer: issuer}
}

// Sign stellt ein Token aus. Wird vom Login-Dienst und in Tests genutzt.
func (v *Verifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   id.UserID,
		Username: id.Username,
		IsStaff:  id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.Issuer,
			Subject:   fmt.Sprint(id.UserID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.Secret)
}

// Parse prüft Signatur, Ablauf und Aussteller und liefert die Identität.
func (v *Verifier) Parse(token string) (*Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.Issuer))
	}
	t, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.Secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token")
	}
	if c.UserID == 0 {
		return nil, errors.New("token without user_id")
	}
	return &Identity{UserID: c.UserID, Username: c.Username, IsAdmin: c.IsStaff}, nil
}

type ctxKey struct{}

// WithIdentity hängt die Identität an den Kontext.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext liefert die Identität oder nil für anonyme Aufrufer.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// Middleware setzt die Identität, falls ein gültiges Token mitgeschickt wurde.
// Ohne Token bleibt der Aufruf anonym, ein ungültiges Token wird mit 401 abgelehnt.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			c.Next()
			return
		}
		id, err := v.Parse(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// RequireAuth lehnt anonyme Aufrufer ab.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if FromContext(c.Request.Context()) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Next()
	}
}

// RequireAdmin lässt nur Administratoren durch.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := FromContext(c.Request.Context())
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if !id.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "administrator privileges required"})
			return
		}
		c.Next()
	}
}
