package wsbridge

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

var traceEnabled = func() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("SNAPFILE_WSBRIDGE_TRACE")))
	return v == "1" || v == "true" || v == "yes"
}()

const maxTraced = 256

// trace logs routed envelopes when SNAPFILE_WSBRIDGE_TRACE is set.
func trace(logger *zap.Logger, dir, to, data string) {
	if !traceEnabled {
		return
	}
	if len(data) > maxTraced {
		data = data[:maxTraced] + "..."
	}
	logger.Info("envelope", zap.String("dir", dir), zap.String("to", to), zap.String("data", data))
}
