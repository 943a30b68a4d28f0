// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fraudguard/internal/pkg/config"
	"fraudguard/internal/pkg/logger"
	"fraudguard/internal/pkg/nacos"
	"fraudguard/internal/pkg/tracing"
)

// ShutdownTimeout 是优雅关停的总时限
const ShutdownTimeout = 10 * time.Second

// Component 是一个有生命周期的后台组件，例如 Kafka 消费者。
type Component interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

type AppCtx struct {
	Router *mux.Router
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	Config           *config.Config
	Nacos            *nacos.Client       // 为空时不做服务注册
	RegisterHandlers func(appCtx AppCtx) // 允许每个服务注册自己独特的 HTTP 路由
	Components       []Component         // 按顺序启动，逆序停止
	Closers          []func() error      // 组件全部停止后按逆序执行，例如关闭 Kafka writer、数据库连接
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑，阻塞直到收到退出信号或 ctx 被取消。
func StartService(ctx context.Context, info AppInfo) error {
	cfg := info.Config
	log := logger.Ctx(ctx)

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(cfg.Service.Name, cfg.Jaeger.Endpoint)
	if err != nil {
		return errors.Wrap(err, "failed to initialize tracer provider")
	}

	// 2. HTTP Server
	var ready atomic.Bool
	router := NewOpsRouter(&ready)
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Router: router})
	}
	server := &http.Server{Addr: cfg.Service.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Msgf("%s listening on %s", cfg.Service.Name, cfg.Service.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 3. 启动组件
	started, err := startComponents(ctx, info.Components)
	if err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
		defer cancel()
		stopComponents(shutdownCtx, started)
		runClosers(shutdownCtx, info.Closers)
		_ = server.Shutdown(shutdownCtx)
		_ = tp.Shutdown(shutdownCtx)
		return err
	}
	ready.Store(true)

	// 4. 服务注册
	var ip string
	port := httpPort(cfg.Service.HTTPAddr)
	if info.Nacos != nil {
		ip, err = GetOutboundIP()
		if err != nil {
			log.Error().Err(err).Msg("failed to get outbound IP address, skipping nacos registration")
		} else if err := info.Nacos.RegisterServiceInstance(cfg.Service.Name, ip, port); err != nil {
			log.Error().Err(err).Msg("failed to register service with nacos")
			ip = ""
		}
	}

	// 5. 阻塞，直到接收到退出信号
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = nil
	select {
	case <-sigCtx.Done():
	case err = <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}
	log.Info().Msgf("Shutting down service %s...", cfg.Service.Name)
	ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()

	// 6. 按顺序执行清理操作 (后进先出)
	if info.Nacos != nil {
		if ip != "" {
			if derr := info.Nacos.DeregisterServiceInstance(cfg.Service.Name, ip, port); derr != nil {
				log.Error().Err(derr).Msg("Error deregistering from Nacos")
			}
		}
		info.Nacos.Close()
	}

	stopComponents(shutdownCtx, started)
	runClosers(shutdownCtx, info.Closers)

	if serr := server.Shutdown(shutdownCtx); serr != nil {
		log.Error().Err(serr).Msg("Error shutting down http server")
	} else {
		log.Info().Msg("HTTP server shut down.")
	}

	// 最后关闭 Tracer Provider，确保关停过程中的 span 也能被发送出去
	if terr := tp.Shutdown(shutdownCtx); terr != nil {
		log.Error().Err(terr).Msg("Error shutting down tracer provider")
	} else {
		log.Info().Msg("Tracer provider shut down.")
	}

	log.Info().Msgf("Service %s gracefully shut down.", cfg.Service.Name)
	return err
}

// NewOpsRouter 创建带有 /healthz、/readyz、/metrics 的路由器。
func NewOpsRouter(ready *atomic.Bool) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)
	router.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler())
	return router
}

// startComponents 依次启动组件。某个组件失败时返回已经启动的部分，由调用方负责停止。
func startComponents(ctx context.Context, components []Component) ([]Component, error) {
	started := make([]Component, 0, len(components))
	for _, c := range components {
		if err := c.Start(ctx); err != nil {
			return started, err
		}
		started = append(started, c)
	}
	return started, nil
}

func stopComponents(ctx context.Context, components []Component) {
	for i := len(components) - 1; i >= 0; i-- {
		components[i].Stop(ctx)
	}
}

func runClosers(ctx context.Context, closers []func() error) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			logger.Ctx(ctx).Error().Err(err).Msg("Error releasing resource")
		}
	}
}

func httpPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, _ := strconv.Atoi(p)
	return port
}

// GetOutboundIP 获取本机用于对外通信的 IP，不会真正发送数据。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", errors.Wrap(err, "dial udp")
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
