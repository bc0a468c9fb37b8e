package log

import (
	"os"
	"sync"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = zap.NewNop()
)

// New builds a JSON zap logger writing to stdout and, when file is set, to
// that file as well.
func New(level, file string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(level); err != nil {
			return nil, err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "action"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if file != "" {
		f, err := os.OpenFile(file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.AddSync(f))
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.NewMultiWriteSyncer(sinks...), lvl)
	return zap.New(core), nil
}

// SetLogger replaces the process logger. Passing nil installs a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	logger = l
	mu.Unlock()
}

// L returns the process logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func write(level zapcore.Level, kind string, c *fiber.Ctx, action string, err error, fields map[string]any) {
	l := L()
	ce := l.Check(level, action)
	if ce == nil {
		return
	}
	zf := make([]zap.Field, 0, 9)
	zf = append(zf, zap.String("kind", kind))
	if c != nil {
		zf = append(zf,
			zap.String("ip", c.IP()),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
		)
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			zf = append(zf, zap.String("req_id", rid))
		}
		if uid, ok := c.Locals("user_id").(string); ok && uid != "" {
			zf = append(zf, zap.String("user_id", uid))
		}
	}
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	if len(fields) > 0 {
		zf = append(zf, zap.Any("fields", fields))
	}
	ce.Write(zf...)
}

func Info(c *fiber.Ctx, action string, fields map[string]any) {
	write(zapcore.InfoLevel, "info", c, action, nil, fields)
}

func Audit(c *fiber.Ctx, action string, fields map[string]any) {
	write(zapcore.InfoLevel, "audit", c, action, nil, fields)
}

func Security(c *fiber.Ctx, action string, fields map[string]any) {
	write(zapcore.WarnLevel, "security", c, action, nil, fields)
}

func Error(c *fiber.Ctx, action string, err error, fields map[string]any) {
	write(zapcore.ErrorLevel, "error", c, action, err, fields)
}
