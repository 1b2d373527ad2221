package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/example/skinsight/internal/classifier"
	"github.com/example/skinsight/internal/grpcserver"
	"github.com/example/skinsight/internal/handlers"
	"github.com/example/skinsight/internal/logging"
	"github.com/example/skinsight/internal/usecase"
)

func main() {
	logger, err := logging.NewLogger(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
	redisClient := initRedis(redisCtx, logger)
	redisCancel()
	defer redisClient.Close()

	client, err := classifier.NewHTTPClient(classifier.DefaultEndpoint, nil, logger)
	if err != nil {
		logger.Fatal("failed to build classifier client", zap.Error(err))
	}

	cache := usecase.NewRedisCache(redisClient)
	uc := usecase.NewAnalysisUseCase(cache, client, logger)

	monitorCtx, stopMonitor := context.WithCancel(context.Background())
	defer stopMonitor()
	monitor := grpcserver.NewHealthMonitor(uc, getDuration("HEALTH_INTERVAL", 30*time.Second, logger), logger)
	go monitor.Run(monitorCtx)

	grpcAddr := getEnv("GRPC_ADDR", ":9090")
	grpcServer, err := startGRPCServer(grpcAddr, monitor, logger)
	if err != nil {
		logger.Fatal("failed to start grpc health server", zap.Error(err))
	}
	defer stopGRPCServer(grpcServer, 5*time.Second)

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, uc, logger)

	addr := getEnv("HTTP_ADDR", ":8080")
	server := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	logger.Info("SkinSight gateway listening",
		zap.String("addr", addr),
		zap.String("grpc_addr", grpcAddr),
		zap.String("classifier", classifier.DefaultEndpoint))
	if err := serveHTTPServer(server, 15*time.Second, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
	}
}

func initRedis(ctx context.Context, zapLogger *zap.Logger) *redis.Client {
	addr := getEnv("REDIS_ADDR", "redis:6379")
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		zapLogger.Fatal("redis connection failed", zap.String("addr", addr), zap.Error(err))
	}
	return client
}

func startGRPCServer(addr string, monitor *grpcserver.HealthMonitor, logger *zap.Logger) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := grpcserver.NewServer(monitor)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc server stopped", zap.Error(err))
		}
	}()
	return srv, nil
}

// stopGRPCServer drains in-flight RPCs, forcing the stop once timeout passes
// so open health watch streams cannot hold the process.
func stopGRPCServer(srv *grpc.Server, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		srv.Stop()
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	sigCh := signalCh
	if sigCh == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(ch)
		sigCh = ch
	}

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration, logger *zap.Logger) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logger.Warn("invalid duration, using default", zap.String("key", key), zap.String("value", raw))
		return fallback
	}
	return d
}
