package handlers

import (
	"net/http"

	"github.com/sasta-kro/tmpool/config"
)

// CORSMiddleware emits the configured CORS headers on every response.
// each header is set only when its value is configured, so an unset
// configuration produces no CORS headers at all. preflight OPTIONS
// requests are answered immediately with 204 and no body.
func CORSMiddleware(appConfig *config.AppConfig) func(http.Handler) http.Handler {
	type corsHeader struct {
		name  string
		value string
	}
	headers := []corsHeader{
		{"Access-Control-Allow-Origin", appConfig.AllowOrigin},
		{"Access-Control-Expose-Headers", appConfig.ExposeHeaders},
		{"Access-Control-Max-Age", appConfig.MaxAge},
		{"Access-Control-Allow-Credentials", appConfig.AllowCredentials},
		{"Access-Control-Allow-Methods", appConfig.AllowMethods},
		{"Access-Control-Allow-Headers", appConfig.AllowHeaders},
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
			for _, header := range headers {
				if header.value != "" {
					responseWriter.Header().Set(header.name, header.value)
				}
			}

			if request.Method == http.MethodOptions {
				responseWriter.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(responseWriter, request)
		})
	}
}
