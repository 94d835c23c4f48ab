//go:build nometrics

package obs

import (
	"context"
	"time"
)

func ObserveProxyRequest(string, time.Duration, string) {}

func RecordCacheLookup(string) {}

func IncCacheWriteError() {}

func RecordBackend(time.Duration, error) {}

func IncBudgetHit() {}

func IncBatch(string) {}

func IncFallback(string) {}

func InitTracer(string, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
