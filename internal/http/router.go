package httpserver

import (
	"log"
	"net/http"

	"github.com/dailyclearing/digest-back/internal/http/handlers"
	"github.com/dailyclearing/digest-back/internal/http/middleware"
)

const statusCallbackPath = "/v1/jobs/status-callback"

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/jobs/start", deps.API.StartJob)
	mux.HandleFunc(statusCallbackPath, deps.API.StatusCallback)
	mux.HandleFunc("/v1/jobs/", deps.API.Jobs)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken, statusCallbackPath)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
