// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging provides structured logging for the parley application.
//
// It wraps a single logrus logger behind package-level helpers so that
// every package logs through the same sink without threading a logger
// value around. Init configures level and format from the loaded config;
// before Init the logger runs with info-level text output.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

var log = newDefault()

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// Init configures the shared logger. Level is one of "debug", "info",
// "warn", "error" (unknown values fall back to info). Format is "json"
// or "text".
func Init(level, format string) {
	switch level {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// SetOutput redirects log output. Used by tests to silence or capture logs.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

// WithField returns an entry with a single structured field attached.
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

// WithFields returns an entry with structured fields attached.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// WithError returns an entry with the error attached as a field.
func WithError(err error) *logrus.Entry {
	return log.WithError(err)
}

func Debug(args ...interface{}) { log.Debug(args...) }

func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }

func Info(args ...interface{}) { log.Info(args...) }

func Infof(format string, args ...interface{}) { log.Infof(format, args...) }

func Warn(args ...interface{}) { log.Warn(args...) }

func Warnf(format string, args ...interface{}) { log.Warnf(format, args...) }

func Error(args ...interface{}) { log.Error(args...) }

func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }

func Fatalf(format string, args ...interface{}) { log.Fatalf(format, args...) }
