package service

import (
	"context"
	"errors"
	"time"
)

// retryBackoff 每次重试前的基础等待时间
const retryBackoff = 15 * time.Millisecond

// RetryOnConflict 在 ErrConcurrentModification 时整体重试 fn，最多 attempts 次重试。
// 其他错误（包括 InvalidTransition）立即返回。
func RetryOnConflict(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 0 {
		attempts = 0
	}
	var err error
	for i := 0; i <= attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(time.Duration(i) * retryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		err = fn()
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
	}
	return err
}
