package util

import (
	"time"

	"go.uber.org/zap"
)

// Trace 记录耗时，用法: defer util.Trace("step")()
func Trace(msg string) func() {
	start := time.Now()
	return func() {
		zap.L().Info(msg, zap.Duration("elapsed", time.Since(start)))
	}
}
