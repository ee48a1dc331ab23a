package http

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// NewShellProxy returns a handler serving the application shell from origin through
// transport. Navigation requests keep their Sec-Fetch-Mode header so the fetcher can
// apply the root-document fallback.
func NewShellProxy(origin string, transport http.RoundTripper, logger *zap.Logger) (http.Handler, error) {
	target, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("parse shell origin: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("shell origin %q must be absolute", origin)
	}
	logger = observability.OrNop(logger)
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			loggerFromRequest(r).Warn("shell unavailable",
				zap.String("path", r.URL.Path),
				zap.Error(err))
			writeError(w, r, http.StatusBadGateway, "SHELL_UNAVAILABLE", "Application shell unavailable")
		},
		ErrorLog: zap.NewStdLog(logger.Named("shell_proxy")),
	}, nil
}
