package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

var ErrUnauthenticated = errors.New("missing or invalid caller identity")

// Claims carry the caller identity issued by the session service.
type Claims struct {
	Role       string `json:"role"`
	LocationID string `json:"location_id,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator turns HS256 bearer tokens into domain callers. It trusts the
// issuer and only verifies signature, expiry and role.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Authenticate(token string) (domain.Caller, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Caller{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	role := domain.Role(claims.Role)
	if role != domain.RoleAdmin && role != domain.RoleManager {
		return domain.Caller{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, claims.Role)
	}
	if role == domain.RoleManager && claims.LocationID == "" {
		return domain.Caller{}, fmt.Errorf("%w: manager without location", ErrUnauthenticated)
	}

	return domain.Caller{Subject: claims.Subject, Role: role, LocationID: claims.LocationID}, nil
}

// Sign issues a token for caller. Used by tooling and tests.
func (a *Authenticator) Sign(caller domain.Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:       string(caller.Role),
		LocationID: caller.LocationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func bearerToken(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}

// Middleware rejects requests without a valid bearer token with 401.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Kind: "Unauthenticated", Message: ErrUnauthenticated.Error()})
			return
		}
		caller, err := a.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Kind: "Unauthenticated", Message: err.Error()})
			return
		}
		c.Request = c.Request.WithContext(domain.WithCaller(c.Request.Context(), caller))
		c.Next()
	}
}

// UnaryInterceptor authenticates every call except the health service.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if strings.HasPrefix(info.FullMethod, "/grpc.health.v1.Health/") {
			return handler(ctx, req)
		}

		md, _ := metadata.FromIncomingContext(ctx)
		var header string
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
		token, ok := bearerToken(header)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, ErrUnauthenticated.Error())
		}
		caller, err := a.Authenticate(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(domain.WithCaller(ctx, caller), req)
	}
}
