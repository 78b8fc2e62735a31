package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
// 通知の宛先となるアイデンティティはこのクレームから導出する。
type JWTClaims struct {
	jwt.RegisteredClaims
	// EmpID は従業員ID。アイデンティティとして最優先で使用する。
	EmpID string `json:"empId,omitempty"`
	// Name は表示名。他のクレームが空の場合のみアイデンティティに使用する。
	Name string `json:"name,omitempty"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email,omitempty"`
	// Role は利用者の役割（admin, employee）。
	Role string `json:"role,omitempty"`
}

const (
	// headerKeyIdentity はサービス間でアイデンティティを伝播するためのHTTPヘッダーキー。
	headerKeyIdentity = "X-Identity"
	// queryKeyAccessToken はWebSocket接続時にトークンを渡すクエリパラメータ。
	// ブラウザはWebSocketのハンドシェイクにヘッダーを付与できないため用意している。
	queryKeyAccessToken = "access_token"

	contextKeyIdentity = "identity"
	contextKeyEmpID    = "emp_id"
	contextKeyEmail    = "email"
	contextKeyRole     = "role"
)

// ResolveIdentity はクレームから通知用のアイデンティティを決定する。
// 従業員ID、汎用のsubject、表示名の順に評価し、最初の空でない値を返す。
func ResolveIdentity(claims *JWTClaims) string {
	if claims == nil {
		return ""
	}
	for _, v := range []string{claims.EmpID, claims.Subject, claims.Name} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// GenerateJWT はクレームからJWTトークンを生成する。
// 有効期限と発行日時は呼び出し側で設定されていなければ補完する。
func GenerateJWT(secret string, claims JWTClaims) (string, error) {
	now := time.Now()
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwt.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(24 * time.Hour))
	}
	if claims.Issuer == "" {
		claims.Issuer = "workforce"
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ServiceToken はサービス間通信用のJWTトークンを生成する。
func ServiceToken(secret, service string) (string, error) {
	return GenerateJWT(secret, JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: service},
		Role:             "service",
	})
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// トークンはAuthorizationヘッダーから取得する。
// WebSocketのハンドシェイクに限りaccess_tokenクエリも受け付ける。
// 検証に成功した場合、コンテキストに "identity" などを設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, msg := extractToken(c)
		if msg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": msg,
			})
			return
		}

		claims := &JWTClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンが無効です",
			})
			return
		}

		identity := ResolveIdentity(claims)
		if identity == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "トークンから利用者を特定できません",
			})
			return
		}

		c.Set(contextKeyIdentity, identity)
		c.Set(contextKeyEmpID, claims.EmpID)
		c.Set(contextKeyEmail, claims.Email)
		c.Set(contextKeyRole, claims.Role)
		c.Header(headerKeyIdentity, identity)
		c.Next()
	}
}

// extractToken はリクエストからBearerトークンを取り出す。
// 取り出せない場合はクライアントへ返すエラーメッセージを返す。
func extractToken(c *gin.Context) (string, string) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found || tokenString == "" {
			return "", "Bearer トークン形式が不正です"
		}
		return tokenString, ""
	}
	if websocket.IsWebSocketUpgrade(c.Request) {
		if q := c.Query(queryKeyAccessToken); q != "" {
			return q, ""
		}
	}
	return "", "Authorizationヘッダーが必要です"
}

// GetIdentity はGinコンテキストからアイデンティティを取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetIdentity(c *gin.Context) string {
	return getString(c, contextKeyIdentity)
}

// GetRole はGinコンテキストから利用者の役割を取得する。
func GetRole(c *gin.Context) string {
	return getString(c, contextKeyRole)
}

// GetEmail はGinコンテキストから利用者のメールアドレスを取得する。
func GetEmail(c *gin.Context) string {
	return getString(c, contextKeyEmail)
}

// SetIdentity はテストや内部経路でアイデンティティを直接設定する。
func SetIdentity(c *gin.Context, identity string) {
	c.Set(contextKeyIdentity, identity)
}

func getString(c *gin.Context, key string) string {
	v, _ := c.Get(key)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
