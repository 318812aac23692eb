package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/maxsupermanhd/livemap/metrics"
)

// apiFunc returns status code and body, it may set extra headers on w
type apiFunc func(w http.ResponseWriter, r *http.Request) (int, string)

func apiHandle(f apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, content := f(w, r)
		h := w.Header()
		h.Set("Server", "Livemap "+CommitHash)
		h.Set("Cache-Control", "no-cache")
		if h.Get("Content-Type") == "" {
			h.Set("Content-Type", "text/plain; charset=utf-8")
		}
		metrics.APIRequests.WithLabelValues(routeTemplate(r), strconv.Itoa(code)).Inc()
		w.WriteHeader(code)
		io.WriteString(w, content)
	}
}

// routeTemplate keeps metric labels bounded by path variables
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// marshalOrFail encodes content without escaping html, the body always
// ends with a newline
func marshalOrFail(code int, content any) (int, string) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(content); err != nil {
		return http.StatusInternalServerError, "JSON serialization failed: " + err.Error()
	}
	return code, buf.String()
}

func setContentTypeJson(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
}
