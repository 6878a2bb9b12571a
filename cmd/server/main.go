package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/taoyao-code/device-gateway/internal/app/bootstrap"
	cfgpkg "github.com/taoyao-code/device-gateway/internal/config"
	"github.com/taoyao-code/device-gateway/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: $IOT_CONFIG or configs/example.yaml)")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging, cfg.App.Name)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 启动并阻塞到收到退出信号
	if err := bootstrap.Run(cfg, logger); err != nil {
		logger.Error("device gateway exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}
