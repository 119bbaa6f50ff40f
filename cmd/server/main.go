package main

import (
	"context"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.ReleaseMode)
	if mode := os.Getenv("GIN_MODE"); mode != "" {
		gin.SetMode(mode)
	}
}

func main() {
	app := fx.New(
		Module,
		fx.NopLogger,
		fx.Invoke(startServer),
	)

	if err := app.Start(context.Background()); err != nil {
		zap.L().Error("start application", zap.Error(err))
		os.Exit(1)
	}

	<-app.Done()

	if err := app.Stop(context.Background()); err != nil {
		zap.L().Error("stop application", zap.Error(err))
	}
}
