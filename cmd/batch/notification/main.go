package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-parking/internal/common/config"
	"github.com/uma-arai/sbcntr-parking/internal/common/utils"
	"github.com/uma-arai/sbcntr-parking/internal/service/batch"
)

const (
	segmentName = "sbcntr-parking-notification-batch"
)

// 予約バッチの出力を受け取り、利用者ごとの通知を登録するバッチ
// 最後の引数は予約バッチが SendTaskSuccess で返したJSONです
func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatalf("Notification payload is required")
	}
	payload := flag.Arg(flag.NArg() - 1)

	notifications, err := batch.ParseNotifications([]byte(payload))
	if err != nil {
		log.Fatalf("Failed to parse notifications: %v", err)
	}

	cfg, err := config.LoadConfig(payload)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if cfg.EnableTracing {
		if err := xray.Configure(xray.Config{
			DaemonAddr:     "127.0.0.1:2000",
			ServiceVersion: "1.0.0",
		}); err != nil {
			log.Printf("Failed to configure X-Ray: %v", err)
		}
		os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service, err := batch.NewNotificationBatchService(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create notification batch service: %v", err)
	}
	defer service.Close()
	service.SetArgs(notifications)

	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, segmentName)
		defer seg.Close(nil)

		if err := seg.AddMetadata("notifications", len(notifications)); err != nil {
			log.Printf("Failed to add notifications metadata: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- utils.RunWithTimeout(ctx, *timeout, service.Run)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			log.Printf("Batch process failed: %v", err)
			service.Close()
			os.Exit(1)
		}
		log.Printf("Batch process completed successfully: %d notifications", len(notifications))
	}
}
