// cmd/antifraud-service/serve.go
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
	"fraudguard/internal/service/antifraud/application"
	afdomain "fraudguard/internal/service/antifraud/domain"
	afinfra "fraudguard/internal/service/antifraud/infrastructure"
	"fraudguard/internal/service/antifraud/interfaces"
	txinfra "fraudguard/internal/service/transaction/infrastructure"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the check request consumers",
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

	// 1. 存储与决策引擎
	repo, closeRepo, err := txinfra.NewRepository(ctx, cfg)
	if err != nil {
		return err
	}
	engine, err := afinfra.NewRuleEngine(cfg.Decision)
	if err != nil {
		_ = closeRepo()
		return err
	}
	closers := []func() error{closeRepo}

	// 2. 出站主题
	decisionWriter := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topics.DecisionResult)
	closers = append(closers, decisionWriter.Close)

	var retryWriter, dltWriter mq.MessageWriter
	if cfg.Kafka.Topics.CheckRetry != "" {
		w := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topics.CheckRetry)
		retryWriter = w
		closers = append(closers, w.Close)
	}
	if cfg.Kafka.Topics.DeadLetter != "" {
		w := mq.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topics.DeadLetter)
		dltWriter = w
		closers = append(closers, w.Close)
	}
	failureHandler := mq.NewFailureHandler(retryWriter, dltWriter, cfg.Failure.MaxAttempts, m)

	// 3. 应用服务
	analysis := application.NewAnalysisService(repo, engine,
		afinfra.NewDecisionProducer(decisionWriter, cfg.Kafka.Topics.DecisionResult, tracer),
		application.Options{
			MaxAmount:         cfg.Business.MaxAmount,
			ConflictPolicy:    cfg.Pipeline.ConflictPolicy,
			ConflictRetries:   cfg.Pipeline.ConflictRetries,
			ProcessingTimeout: cfg.Pipeline.ProcessingTimeout,
		}, tracer, m)
	handler := interfaces.NewCheckRequestConsumer(analysis, m)

	// 4. 消费者：入站主题、重试主题（延迟投递）、死信监控
	components := []bootstrap.Component{
		mq.NewConsumer(consumerConfig(cfg, cfg.Kafka.Topics.CheckRequest, cfg.Kafka.GroupID), handler.Handle,
			mq.WithFailureHandler(failureHandler)),
	}
	if retryWriter != nil {
		retryCfg := consumerConfig(cfg, cfg.Kafka.Topics.CheckRetry, cfg.Kafka.GroupID)
		retryCfg.Delay = cfg.Failure.RetryDelay
		components = append(components, mq.NewConsumer(retryCfg, handler.Handle, mq.WithFailureHandler(failureHandler)))
	}
	if dltWriter != nil && cfg.Consumer.MonitorDLT {
		dltCfg := consumerConfig(cfg, cfg.Kafka.Topics.DeadLetter, cfg.Kafka.GroupID+"-dlt")
		dltCfg.Concurrency = 1
		components = append(components, mq.NewConsumer(dltCfg, interfaces.HandleDeadLetter))
	}

	if rule, ok := engine.(*afdomain.CELEngine); ok {
		logger.Ctx(ctx).Info().Str("reject_expression", rule.Expression()).Msg("📐 CEL rule engine compiled.")
	}
	logger.Ctx(ctx).Info().
		Str("max_amount", cfg.Business.MaxAmount.String()).
		Str("engine", cfg.Decision.Engine).
		Str("conflict_policy", cfg.Pipeline.ConflictPolicy).
		Str("store", cfg.Store.Driver).
		Msg("Starting antifraud service")

	return bootstrap.StartService(ctx, bootstrap.AppInfo{
		Config:     cfg,
		Nacos:      nacosClient,
		Components: components,
		Closers:    closers,
	})
}

func consumerConfig(cfg *config.Config, topic, groupID string) mq.ConsumerConfig {
	return mq.ConsumerConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		Concurrency: cfg.Consumer.Concurrency,
		DialTimeout: cfg.Kafka.DialTimeout,
	}
}
