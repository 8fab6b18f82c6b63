package utils

import (
	"log"
	"os"
	"strings"
)

type Logger struct {
	out   *log.Logger
	debug bool
}

func NewLogger() *Logger {
	debug := strings.EqualFold(os.Getenv("BG_LOG_DEBUG"), "1") || strings.EqualFold(os.Getenv("BG_LOG_DEBUG"), "true")
	return &Logger{
		out:   log.New(os.Stderr, "", log.LstdFlags|log.LUTC),
		debug: debug,
	}
}

func (l *Logger) Debugf(format string, args ...any) {
	if l == nil || !l.debug {
		return
	}
	l.out.Printf("DEBUG "+format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil {
		return
	}
	l.out.Printf("INFO  "+format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil {
		return
	}
	l.out.Printf("WARN  "+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil {
		return
	}
	l.out.Printf("ERROR "+format, args...)
}
