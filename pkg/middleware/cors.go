package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// corsWildcard は全オリジンを許可する指定。
const corsWildcard = "*"

// originPolicy は許可オリジンの判定規則。
type originPolicy struct {
	any     bool
	allowed map[string]struct{}
}

// newOriginPolicy は設定値から判定規則を作る。
// 末尾のスラッシュと大文字小文字の違いは無視する。
func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = normalizeOrigin(o)
		switch o {
		case "":
		case corsWildcard:
			p.any = true
		default:
			p.allowed[o] = struct{}{}
		}
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}
	_, ok := p.allowed[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}

// CORS は許可オリジンからのブラウザリクエストにCORSヘッダーを付与するGinミドルウェアを返す。
// "*" を指定するとリクエストのOriginをそのまま許可する（資格情報付きのため "*" は返さない）。
// 許可の有無にかかわらずOPTIONSは204で終了する。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	policy := newOriginPolicy(allowedOrigins)

	return func(c *gin.Context) {
		c.Header("Vary", "Origin")
		if origin := c.GetHeader("Origin"); policy.allows(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Expose-Headers", headerKeyIdentity)
			h.Set("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
