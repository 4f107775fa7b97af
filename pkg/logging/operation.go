package logging

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"
)

// Operation 统一的缓存操作日志
// 成功为 Info；远端不可用是环境问题，记 Warn；其他错误记 Error
func Operation(ctx context.Context, logger *slog.Logger, op, hash, outcome string, duration time.Duration, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	if err != nil {
		if errors.Is(err, storage.ErrUnavailable) {
			level = slog.LevelWarn
		} else {
			level = slog.LevelError
		}
	}

	logger.Log(ctx, level, "cache operation",
		slog.String("op", op),
		slog.String("hash", hash),
		slog.String("outcome", outcome),
		slog.Duration("dur", duration),
		slog.String("err", errToString(err)),
	)
}

func errToString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
