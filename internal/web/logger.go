package web

import (
	"github.com/gofiber/fiber/v2/log"
	crmauth "github.com/goliatone/go-crmauth"
)

var _ crmauth.Logger = FiberLogger{}

// FiberLogger writes through fiber's default logger
type FiberLogger struct{}

func (FiberLogger) Debug(format string, args ...any) { log.Debugf(format, args...) }
func (FiberLogger) Info(format string, args ...any)  { log.Infof(format, args...) }
func (FiberLogger) Error(format string, args ...any) { log.Errorf(format, args...) }
