package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/maleckot/umrec-sub006/config"
	"github.com/maleckot/umrec-sub006/internal/notify"
	"github.com/maleckot/umrec-sub006/internal/repository"
	"github.com/maleckot/umrec-sub006/pkg/database"
	applogger "github.com/maleckot/umrec-sub006/pkg/logger"
)

// worker 消费通知队列，把审查分配、修订请求与发布通知写入站内通知表
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("UMREC_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger, err := applogger.NewLogger(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := database.NewDB(&cfg.Database, cfg.Log.Level, logger)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("获取底层 sql.DB 失败", zap.Error(err))
	}
	defer sqlDB.Close()

	repo := repository.NewRepository(db)
	processor := notify.NewProcessor(repo.Notification, logger)

	concurrency := cfg.Queue.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	server := asynq.NewServer(notify.RedisOpt(&cfg.Queue), asynq.Config{
		Concurrency: concurrency,
		// mail 队列由外部邮件服务消费
		Queues: map[string]int{notify.QueueDefault: 1},
		Logger: logger.Sugar(),
	})

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("通知 worker 已启动",
		zap.String("redis_addr", cfg.Queue.RedisAddr),
		zap.Int("concurrency", concurrency),
	)
	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker 异常退出", zap.Error(err))
		os.Exit(1)
	}
}
