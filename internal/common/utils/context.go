package utils

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// 指定されたタイムアウト時間内でバッチ処理を実行する
// タイムアウトを超えた場合は、コンテキストをキャンセルして context.DeadlineExceeded を包んだエラーを返す
// 親のコンテキストがキャンセルされた場合はその理由をそのまま返す
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- fn(ctx)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("batch process timed out after %v: %w", timeout, ctx.Err())
		}
		return ctx.Err()
	}
}
