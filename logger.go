package main

import (
	"io"
	"log"
	"log/slog"

	"github.com/gorilla/handlers"
	"github.com/natefinch/lumberjack"
)

func customLogger(_ io.Writer, params handlers.LogFormatterParams) {
	r := params.Request
	ip := r.Header.Get("CF-Connecting-IP")
	if ip == "" {
		ip = r.RemoteAddr
	}
	ua := r.Header.Get("user-agent")
	log.Println("["+ip+"]", r.Method, params.StatusCode, r.RequestURI, params.Size, "["+ua+"]")
}

func createLogger(path string) *lumberjack.Logger {
	if path == "" {
		path = "./logs/livemap.log"
	}
	return &lumberjack.Logger{
		Filename: path,
		MaxSize:  10,
		Compress: true,
	}
}

// taskLogger writes structured task logs to the same output as log
func taskLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
