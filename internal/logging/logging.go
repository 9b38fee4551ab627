/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package logging provides component-scoped structured logging for the
engine.

Usage:

	logger := logging.NewLogger("dispatch")
	logger.Info("batch started", "fragments", 3, "trace", traceID)
	logger.Error("fragment failed", "index", 1, "error", err)

The Logger/NewLogger(component)/Info/Warn/Error(msg, kv...) shape keeps
flydb's internal/logging API, but the formatting, level filtering, and
output are delegated to github.com/sirupsen/logrus rather than a
hand-rolled JSON encoder.
*/
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors flydb's DEBUG/INFO/WARN/ERROR level set, mapped onto
// logrus's richer level set at construction time.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case DEBUG:
		return logrus.DebugLevel
	case WARN:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel parses a string into a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch s {
	case "DEBUG", "debug":
		return DEBUG
	case "WARN", "warn", "WARNING", "warning":
		return WARN
	case "ERROR", "error":
		return ERROR
	default:
		return INFO
	}
}

var root = logrus.New()

func init() {
	root.SetOutput(os.Stdout)
	root.SetFormatter(&logrus.JSONFormatter{})
}

// SetGlobalLevel changes the level every Logger's underlying entry
// filters at. internal/engine's SetLogLevels opcode calls this.
func SetGlobalLevel(l Level) {
	root.SetLevel(l.logrusLevel())
}

// Logger logs structured entries tagged with a fixed component name.
type Logger struct {
	component string
	entry     *logrus.Entry
}

// NewLogger returns a Logger scoped to component.
func NewLogger(component string) *Logger {
	return &Logger{component: component, entry: root.WithField("component", component)}
}

func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

// Debug logs at DEBUG level with key/value pairs.
func (l *Logger) Debug(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Debug(msg) }

// Info logs at INFO level with key/value pairs.
func (l *Logger) Info(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Info(msg) }

// Warn logs at WARN level with key/value pairs.
func (l *Logger) Warn(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Warn(msg) }

// Error logs at ERROR level with key/value pairs.
func (l *Logger) Error(msg string, kv ...any) { l.entry.WithFields(fields(kv)).Error(msg) }
