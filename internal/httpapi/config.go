package httpapi

import (
	"time"

	"golang.org/x/time/rate"
)

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// requestTimeout bounds streaming operations. Zero means no additional
// timeout beyond server/connection timeouts.
var requestTimeout time.Duration

// SetRequestTimeoutSeconds sets the operation timeout in seconds (0 disables).
func SetRequestTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	requestTimeout = time.Duration(sec) * time.Second
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// limiter admits operation requests. Nil disables rate limiting.
var limiter *rate.Limiter

// SetRateLimit allows rps operation requests per second with the given
// burst. rps <= 0 disables the limiter.
func SetRateLimit(rps float64, burst int) {
	if rps <= 0 {
		limiter = nil
		return
	}
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	limiter = rate.NewLimiter(rate.Limit(rps), burst)
}
