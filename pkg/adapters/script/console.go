package script

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"
)

// newConsole exposes logger.{debug,info,warn,error} to scripts.
// Object arguments become attributes, everything else joins the message.
func newConsole(ctx context.Context, vm *goja.Runtime, logger *slog.Logger) *goja.Object {
	obj := vm.NewObject()
	levels := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}
	for name, level := range levels {
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			var parts []string
			var attrs []any
			for _, arg := range call.Arguments {
				if m, ok := arg.Export().(map[string]any); ok {
					for k, v := range m {
						attrs = append(attrs, k, v)
					}
					continue
				}
				parts = append(parts, fmt.Sprint(arg.Export()))
			}
			logger.Log(ctx, level, strings.Join(parts, " "), attrs...)
			return goja.Undefined()
		})
	}
	return obj
}
