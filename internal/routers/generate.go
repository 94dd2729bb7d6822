// Package routers
package routers

import (
	"trellis-api/internal/handlers/generate"
	"trellis-api/internal/workspace"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type GenerateRouterConfig struct {
	Model         generate.Model
	WorkspaceRoot string
}

func RegisterGenerateRoutes(e *echo.Group, config GenerateRouterConfig, log *zap.SugaredLogger) error {
	workspaces := workspace.NewManager(config.WorkspaceRoot, log)
	handler := generate.NewHandler(config.Model, workspaces, log)

	e.POST("/generate", handler.Generate)
	e.POST("/generate_zip", handler.GenerateZip)
	return nil
}
