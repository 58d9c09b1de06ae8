package server

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log 全局 SugaredLogger；InitLogger 之前为 Nop，测试与库调用无需初始化
var Log = zap.NewNop().Sugar()

// InitLogger 初始化 zap 日志
// filePath: 日志文件（lumberjack 滚动），"-" 表示标准错误；level: debug/info/warn/error
func InitLogger(filePath, level string) error {
	lvl := zapcore.DebugLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
	}

	var sink zapcore.WriteSyncer
	if filePath == "-" {
		sink = zapcore.Lock(os.Stderr)
	} else {
		// 10MB 每文件，保留3个备份，保留7天
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		})
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), sink, lvl)

	Log = zap.New(core, zap.AddCaller(), zap.Fields(zap.String("app", "snakepay"))).Sugar()
	return nil
}

// SyncLogger 清理和同步缓冲
func SyncLogger() {
	_ = Log.Sync()
}
