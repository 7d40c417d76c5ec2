package executor

import (
	logger "titrain-wrapper/internal/logger"
)

var (
	logInfoFn  = logger.LogInfo
	logWarnFn  = logger.LogWarn
	logErrorFn = logger.LogError
)

func logInfo(msg string)  { logInfoFn(msg) }
func logWarn(msg string)  { logWarnFn(msg) }
func logError(msg string) { logErrorFn(msg) }
