package metric

import (
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"storj.io/drpc"
	"storj.io/drpc/drpcerr"
)

type prometheusDRPC struct {
	drpc.Handler
	durations *prometheus.SummaryVec
	errors    *prometheus.CounterVec
}

func (ph *prometheusDRPC) HandleRPC(stream drpc.Stream, rpc string) (err error) {
	st := time.Now()
	defer func() {
		if !utf8.ValidString(rpc) {
			log.WarnCtx(stream.Context(), "invalid rpc string", zap.String("rpc", rpc))
			return
		}
		ph.durations.WithLabelValues(rpc).Observe(time.Since(st).Seconds())
		if err != nil {
			ph.errors.WithLabelValues(rpc, codeLabel(err)).Inc()
		}
	}()
	return ph.Handler.HandleRPC(stream, rpc)
}

func codeLabel(err error) string {
	if code := drpcerr.Code(err); code != 0 {
		return strconv.FormatUint(code, 10)
	}
	return "none"
}
