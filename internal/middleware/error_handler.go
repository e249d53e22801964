package middleware

import (
	"errors"
	apiError "script-desk/internal/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next() // Execute the handler first

		// detect any errors
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err

			var apiErr *apiError.APIError

			// if it's our custom APIError
			if !errors.As(err, &apiErr) {
				// If it's a raw error we didn't wrap, treat as Internal
				apiErr = apiError.Internal(err)
			}

			if apiErr.Status >= 500 {
				logger.Error("request failed",
					zap.String("path", c.FullPath()),
					zap.String("code", apiErr.Code),
					zap.Error(apiErr.Internal))
			} else {
				logger.Info("request rejected",
					zap.String("path", c.FullPath()),
					zap.String("code", apiErr.Code),
					zap.String("message", apiErr.Message),
					zap.NamedError("cause", apiErr.Internal))
			}

			c.AbortWithStatusJSON(apiErr.Status, apiErr)
		}
	}
}
