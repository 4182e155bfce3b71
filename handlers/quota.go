package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ephemhq/ephem/internal/metrics"
	"github.com/ephemhq/ephem/internal/quota"
	"github.com/ephemhq/ephem/utils"
)

// QuotaMiddleware checks and consumes one unit of the client's budget in
// the given category before the handler runs. Denials are 429 with a
// Retry-After header so clients know when the window resets.
func QuotaMiddleware(ledger *quota.Ledger, category string) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := utils.ClientID(c.Request)
		result, err := ledger.CheckAndConsume(clientID, category)

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.WindowResetAt.Unix(), 10))

		var exceeded *quota.ExceededError
		if errors.As(err, &exceeded) {
			metrics.QuotaDenials.WithLabelValues(exceeded.Category).Inc()
			retryAfter := int64(exceeded.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"category":    category,
				"retry_after": retryAfter,
			})
			return
		}
		c.Next()
	}
}
