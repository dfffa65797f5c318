// Package middleware gin 中间件：鉴权、限流、访问日志
package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/d60-Lab/order-payments/pkg/response"
)

// RoleAdmin 管理员角色
const RoleAdmin = "admin"

const identityKey = "identity"

// Claims 身份服务签发的令牌载荷
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Identity 当前请求的调用者
type Identity struct {
	UserID string
	Role   string
	Email  string
}

// IsAdmin 是否管理员
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// CanAccess 本人或管理员
func (i Identity) CanAccess(ownerID string) bool { return i.IsAdmin() || i.UserID == ownerID }

// JWTAuth 校验 HMAC 签名的 Bearer 令牌，issuer 为空时不校验签发方
func JWTAuth(secret, issuer string) gin.HandlerFunc {
	key := []byte(secret)
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		parts := strings.Fields(auth)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			response.Unauthorized(c, "missing or invalid authorization header")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (any, error) {
			return key, nil
		}, opts...)
		if err != nil || !token.Valid {
			response.Unauthorized(c, "invalid token")
			return
		}
		if claims.Subject == "" {
			response.Unauthorized(c, "token has no subject")
			return
		}

		c.Set(identityKey, Identity{UserID: claims.Subject, Role: claims.Role, Email: claims.Email})
		c.Next()
	}
}

// RequireAdmin 仅管理员可访问，需挂在 JWTAuth 之后
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := CurrentIdentity(c)
		if !ok || !id.IsAdmin() {
			response.Forbidden(c, "admin role required")
			return
		}
		c.Next()
	}
}

// CurrentIdentity 读取 JWTAuth 写入的身份
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// SignToken 用同一密钥签发令牌，供本地调试和测试使用
func SignToken(secret string, claims Claims) (string, error) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return tok, nil
}
