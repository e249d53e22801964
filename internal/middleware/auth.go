package middleware

import (
	"script-desk/internal/auth"
	"script-desk/internal/errors"
	"strings"

	"github.com/gin-gonic/gin"
)

type Auth struct {
	Secret []byte
}

func (m *Auth) AuthMiddleWare() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authHeader := ctx.GetHeader("Authorization")
		if authHeader == "" {
			ctx.Error(errors.Unauthorized("Authorization is not found!", nil))
			ctx.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		claims, err := auth.VerifyJWT(m.Secret, token)
		if err != nil {
			ctx.Error(errors.Unauthorized("Invalid token!", err))
			ctx.Abort()
			return
		}

		ctx.Set("user_id", claims.Subject)
		ctx.Set("user_name", claims.Name)
		ctx.Next()
	}
}
