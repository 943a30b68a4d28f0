// cmd/transaction-service/serve.go
package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"fraudguard/internal/pkg/bootstrap"
	"fraudguard/internal/pkg/config"
	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/metrics"
	"fraudguard/internal/pkg/mq"
	"fraudguard/internal/pkg/redis"
	"fraudguard/internal/service/transaction/application"
	"fraudguard/internal/service/transaction/infrastructure"
	"fraudguard/internal/service/transaction/interfaces"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the transaction HTTP API and the decision result consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, nacosClient, err := bootstrap.LoadConfig(serviceName, configPath)
	if err != nil {
		return err
	}
	logger.Init(logger.Options{ServiceName: serviceName, Level: cfg.Service.LogLevel, Pretty: cfg.Service.LogPretty})

	m := metrics.New(prometheus.DefaultRegisterer)
	tracer := otel.Tracer(serviceName)

	repo, closeRepo, err := infrastructure.NewRepository(ctx, cfg)
	if err != nil {
		return err
	}
	closers := []func() error{closeRepo}

	// 决策结果去重：内存存储只用于本地运行，其余情况使用 Redis
	var dedupe application.Deduplicator
	if cfg.Store.Driver == config.StoreMemory {
		dedupe = infrastructure.NewMemoryDeduplicator()
	} else {
		redisClient, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			_ = closeRepo()
			return err
		}
		closers = append(closers, redisClient.Close)
		dedupe = infrastructure.NewRedisDeduplicator(redisClient, cfg.Results.DedupeTTL)
	}

	checkWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topics.CheckRequest)
	closers = append(closers, checkWriter.Close)

	var dltWriter mq.MessageWriter
	if cfg.Kafka.Topics.DeadLetter != "" {
		w := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topics.DeadLetter)
		dltWriter = w
		closers = append(closers, w.Close)
	}

	svc := application.NewTransactionService(repo,
		infrastructure.NewCheckRequestProducer(checkWriter, cfg.Kafka.Topics.CheckRequest),
		dedupe, cfg.Pipeline.ProcessingTimeout, tracer, m)

	// 决策结果没有重试主题，失败直接进入死信
	resultConsumer := mq.NewConsumer(mq.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topics.DecisionResult,
		GroupID:     cfg.Kafka.GroupID,
		Concurrency: cfg.Consumer.Concurrency,
		DialTimeout: cfg.Kafka.DialTimeout,
	}, interfaces.NewDecisionResultConsumer(svc, m).Handle,
		mq.WithFailureHandler(mq.NewFailureHandler(nil, dltWriter, 0, m)))

	httpHandler := interfaces.NewTransactionHandler(svc)

	return bootstrap.StartService(ctx, bootstrap.AppInfo{
		Config: cfg,
		Nacos:  nacosClient,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			httpHandler.RegisterRoutes(appCtx.Router)
		},
		Components: []bootstrap.Component{resultConsumer},
		Closers:    closers,
	})
}
