package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/agileflow/realtime/internal/gateway"
)

func setupServer(config *Config, service *gateway.Service) *http.Server {
	mux := http.NewServeMux()
	service.RegisterRoutes(mux)

	var origins []string
	if config.CORSOrigin == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(config.CORSOrigin, ",")
	}

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: origins,
		AllowedHeaders: []string{"*"},
	})
	handler := c.Handler(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}
