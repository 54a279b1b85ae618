package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/tide/pkg/auth"
	"github.com/tokmz/tide/pkg/bridge"
	"github.com/tokmz/tide/pkg/bus"
	"github.com/tokmz/tide/pkg/config"
	"github.com/tokmz/tide/pkg/gateway"
	"github.com/tokmz/tide/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "", "config file path")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.LoggerConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("gateway exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	// 首个信号触发关闭，后续信号不再产生任何动作
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 准入认证
	verifier := auth.NewHTTPVerifier(
		cfg.Auth.VerifyScheme,
		cfg.Auth.VerifyPath,
		auth.WithTracing(true),
	)
	authenticator := auth.New(&auth.Config{
		DefaultSite:   cfg.Auth.DefaultSite,
		HintHeader:    cfg.Auth.HintHeader,
		AppPrefix:     cfg.App.Prefix,
		EnforceOrigin: cfg.Auth.EnforceOrigin,
		VerifyTimeout: cfg.Auth.VerifyTimeout,
	}, verifier, log)

	// 网关
	gw, err := gateway.New(authenticator, log,
		gateway.WithMaxConnections(cfg.Server.MaxConnections),
		gateway.WithAppPrefix(cfg.App.Prefix),
	)
	if err != nil {
		return err
	}

	// 消息总线与事件桥
	sub, err := bus.New(&bus.Config{
		Driver: bus.Driver(cfg.Bus.Driver),
		Redis: &bus.RedisConfig{
			Addr:     cfg.Bus.Redis.Addr,
			Username: cfg.Bus.Redis.Username,
			Password: cfg.Bus.Redis.Password,
			DB:       cfg.Bus.Redis.DB,
		},
		AMQP: &bus.AMQPConfig{URL: cfg.Bus.AMQP.URL},
	})
	if err != nil {
		return err
	}

	br := bridge.New(&bridge.Config{
		GlobalChannel: cfg.Bus.GlobalChannel,
		AppChannel:    cfg.Bus.AppChannel,
		AppPrefix:     cfg.App.Prefix,
	}, sub, gw, log)
	defer br.Close()

	// HTTP 入口
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": gw.Count()})
	})
	// 两套命名空间地址都是动态路径，升级入口挂在 NoRoute 上
	engine.NoRoute(gw.Handler())

	server := &http.Server{Handler: engine}

	eg, egCtx := errgroup.WithContext(ctx)

	// TCP 监听
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	tcpLn, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("gateway listening", zap.String("addr", addr))
	eg.Go(func() error {
		if err := server.Serve(tcpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// 可选 unix socket 监听
	if cfg.Server.UnixSocket != "" {
		_ = os.Remove(cfg.Server.UnixSocket)
		unixLn, err := net.Listen("unix", cfg.Server.UnixSocket)
		if err != nil {
			return err
		}
		log.Info("gateway listening", zap.String("socket", cfg.Server.UnixSocket))
		eg.Go(func() error {
			if err := server.Serve(unixLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// 事件桥
	eg.Go(func() error {
		if err := br.Run(egCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	// 等待退出信号
	<-egCtx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownWait)
	defer cancel()

	// 停止接受新连接
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}

	// 关闭已有连接
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Warn("gateway shutdown", zap.Error(err))
	}

	// 关闭总线订阅（幂等，与 defer 重复调用无害）
	if err := br.Close(); err != nil {
		log.Warn("bridge close", zap.Error(err))
	}

	waitErr := eg.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}

	log.Info("gateway stopped")
	return nil
}
