package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-parking/internal/common/config"
	"github.com/uma-arai/sbcntr-parking/internal/common/utils"
	"github.com/uma-arai/sbcntr-parking/internal/service/batch"
)

const (
	segmentName = "sbcntr-parking-reservation-batch"
)

// 保留中の予約を確定または取消し、結果の通知データを Step Functions に返すバッチ
func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	flag.Parse()

	// 最後の引数として渡されたタスクトークンを取得
	// ENV=LOCALの場合はタスクトークンを取得しない
	local := os.Getenv("ENV") == "LOCAL"
	taskToken := "DUMMY_TASK_TOKEN"
	if !local {
		if flag.NArg() == 0 || flag.Arg(flag.NArg()-1) == "" {
			log.Fatalf("Task token is required")
		}
		taskToken = flag.Arg(flag.NArg() - 1)
	}

	cfg, err := config.LoadConfig(taskToken)
	if err != nil {
		log.Fatalf("Failed to load config: %v\nStack trace:\n%s", err, debug.Stack())
	}
	configureXRay(cfg)

	// Step Functionsクライアントの初期化
	// ローカルでは nil の TaskReporter を渡して送信を行わない
	var sfnClient *sfn.Client
	var reporter batch.TaskReporter
	if !local {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v\nStack trace:\n%s", err, debug.Stack())
		}
		sfnClient = sfn.NewFromConfig(awsCfg)
		reporter = sfnClient
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	service, err := batch.NewReservationBatchService(ctx, cfg, reporter)
	if err != nil {
		log.Fatalf("Failed to create service: %v\nStack trace:\n%s", err, debug.Stack())
	}
	defer service.Close()

	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, segmentName)
		defer seg.Close(nil)

		if err := seg.AddMetadata("timeout", timeout.String()); err != nil {
			log.Printf("Failed to add timeout metadata: %v", err)
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

			// ローカル環境以外の場合のみStep Functionsのエラー通知を行う
			if sfnClient != nil {
				// 元のコンテキストはタイムアウト済みの可能性があるため新しく作る
				failCtx, failCancel := context.WithTimeout(context.Background(), 10*time.Second)
				_, sendErr := sfnClient.SendTaskFailure(failCtx, &sfn.SendTaskFailureInput{
					TaskToken: aws.String(taskToken),
					Error:     aws.String("ReservationBatchFailed"),
					Cause:     aws.String(err.Error()),
				})
				failCancel()
				if sendErr != nil {
					log.Printf("Failed to send task failure: %v", sendErr)
				}
			}

			service.Close()
			os.Exit(1)
		}
		log.Println("Batch process completed successfully")
	}
}

// configureXRay はトレースが有効な場合にX-Rayデーモンの接続先を設定します
func configureXRay(cfg *config.Config) {
	if !cfg.EnableTracing {
		return
	}
	if err := xray.Configure(xray.Config{
		DaemonAddr:     "127.0.0.1:2000",
		ServiceVersion: "1.0.0",
	}); err != nil {
		log.Printf("Failed to configure X-Ray: %v", err)
		if configErr := xray.Configure(xray.Config{}); configErr != nil {
			log.Fatalf("Failed to configure default X-Ray settings: %v", configErr)
		}
	}
	os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
}
