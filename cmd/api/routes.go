package main

import (
	"net/http"

	"github.com/rs/cors"
)

// withCORS allows the operator dashboard origins to call the API.
func withCORS(h http.Handler, origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret"},
		AllowCredentials: true,
	}).Handler(h)
}
