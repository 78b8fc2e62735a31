package middleware

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// redacted はアクセスログ上で秘匿値を置き換える文字列。
const redacted = "REDACTED"

// AccessLog はアクセスログを出力するGinミドルウェアを返す。
// access_tokenクエリの値は伏せて出力する。outがnilの場合はgin.DefaultWriterへ書く。
func AccessLog(out io.Writer) gin.HandlerFunc {
	if out == nil {
		out = gin.DefaultWriter
	}
	return gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    out,
		Formatter: formatAccessLog,
	})
}

func formatAccessLog(p gin.LogFormatterParams) string {
	if p.Latency > time.Minute {
		p.Latency = p.Latency.Truncate(time.Second)
	}
	return fmt.Sprintf("[GIN] %v | %3d | %13v | %15s | %-7s %#v\n%s",
		p.TimeStamp.Format("2006/01/02 - 15:04:05"),
		p.StatusCode,
		p.Latency,
		p.ClientIP,
		p.Method,
		redactPath(p.Path),
		p.ErrorMessage,
	)
}

// redactPath はパスに含まれるaccess_tokenクエリの値を伏せる。
// クエリを解釈できない場合はクエリごと落とす。
func redactPath(path string) string {
	base, raw, found := strings.Cut(path, "?")
	if !found || !strings.Contains(raw, queryKeyAccessToken) {
		return path
	}
	q, err := url.ParseQuery(raw)
	if err != nil {
		return base
	}
	if q.Has(queryKeyAccessToken) {
		q.Set(queryKeyAccessToken, redacted)
	}
	return base + "?" + q.Encode()
}
