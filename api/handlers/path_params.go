package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func pathParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
