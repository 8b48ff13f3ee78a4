package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/praekelt/sideloader/internal/pkg/logger"
	pkgErrors "github.com/praekelt/sideloader/pkg/errors"
	"github.com/praekelt/sideloader/pkg/utils"
)

// AgentAuthMiddleware 代理签名校验中间件
//
// 代理用访问令牌和签名密钥对每个请求签名:
// base64(HMAC-SHA1(key, token + "\n" + METHOD + "\n" + path [+ "\n" + sha1hex(body)]))
// 令牌放 authorization 头, 签名放 sig 头。
func AgentAuthMiddleware(accessToken, signingKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("authorization")
		sig := c.GetHeader("sig")
		if token == "" || sig == "" || token != accessToken {
			logger.Warn("代理请求缺少凭证或令牌不匹配", zap.String("path", c.Request.URL.Path))
			utils.ErrorWithCode(c, pkgErrors.CodeUnauthorized, "未授权")
			c.Abort()
			return
		}

		parts := []string{token, c.Request.Method, c.Request.URL.Path}
		if c.Request.Body != nil {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				utils.ErrorWithCode(c, pkgErrors.CodeBadRequest, "读取请求体失败")
				c.Abort()
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
			if len(body) > 0 {
				sum := sha1.Sum(body)
				parts = append(parts, hex.EncodeToString(sum[:]))
			}
		}

		mac := hmac.New(sha1.New, []byte(signingKey))
		mac.Write([]byte(strings.Join(parts, "\n")))
		expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		if !hmac.Equal([]byte(expected), []byte(sig)) {
			logger.Warn("代理请求签名校验失败", zap.String("path", c.Request.URL.Path))
			utils.ErrorWithCode(c, pkgErrors.CodeUnauthorized, "签名无效")
			c.Abort()
			return
		}

		c.Next()
	}
}
