package isul

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logMaxSizeMB  = 5
	logMaxBackups = 3
	logMaxAgeDays = 30
)

// severityLevel maps an SDK log severity onto a slog level.
func severityLevel(s LogSeverity) slog.Level {
	switch s {
	case Severe:
		return slog.LevelError
	case Medium:
		return slog.LevelWarn
	case Programflow:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// levelSeverity is the inverse of severityLevel.
func levelSeverity(l slog.Level) LogSeverity {
	switch {
	case l >= slog.LevelError:
		return Severe
	case l >= slog.LevelWarn:
		return Medium
	case l >= slog.LevelInfo:
		return Programflow
	default:
		return EachLine
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger builds the Manager's logger. Records go to base (if any) and to a
// size-rotated JSON file at product.LogFilePath (if set). The returned closer
// releases the file.
func newLogger(base *slog.Logger, product ProductInfo) (*slog.Logger, io.Closer, error) {
	var handlers []slog.Handler
	if base != nil {
		handlers = append(handlers, base.Handler())
	}

	var closer io.Closer = nopCloser{}
	if product.LogFilePath != "" {
		if err := os.MkdirAll(filepath.Dir(product.LogFilePath), 0o700); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   product.LogFilePath,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
		}
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{
			Level: severityLevel(product.LogSeverity),
		}))
		closer = file
	}

	if len(handlers) == 0 {
		return slog.New(slog.DiscardHandler), closer, nil
	}

	logger := slog.New(slogmulti.Fanout(handlers...)).With(
		slog.String("component", "isul"),
		slog.String("product_id", product.ID),
		slog.String("product_version", product.Version),
	)
	return logger, closer, nil
}

// logAction logs an SDK action with a fixed set of attributes.
func (m *Manager) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	all := make([]slog.Attr, 0, len(attrs)+3)
	all = append(all,
		slog.String("action", action),
		slog.String("result", result),
		slog.String("state", m.State().String()),
	)
	all = append(all, attrs...)
	m.logger.LogAttrs(ctx, level, action+": "+result, all...)
}

func (m *Manager) logInfo(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelInfo, action, result, attrs...)
}

func (m *Manager) logWarn(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelWarn, action, result, attrs...)
}

func (m *Manager) logError(ctx context.Context, action, result string, attrs ...slog.Attr) {
	m.logAction(ctx, slog.LevelError, action, result, attrs...)
}

// secretAttrs describes a license key or token without revealing it.
func secretAttrs(name, secret string) []slog.Attr {
	return []slog.Attr{
		slog.String(name+"_masked", maskSecret(secret)),
		slog.String(name+"_hash", hashSecret(secret)),
	}
}

// maskSecret keeps the first and last four characters of a secret.
func maskSecret(s string) string {
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// hashSecret returns a short SHA-256 digest for correlating log lines.
func hashSecret(s string) string {
	if s == "" {
		return ""
	}
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h)[:16]
}
