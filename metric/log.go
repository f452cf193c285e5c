package metric

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

func BundleId(val string) zap.Field {
	return zap.String("bundleId", val)
}

func Variant(val fmt.Stringer) zap.Field {
	return zap.Stringer("variant", val)
}

func Target(val fmt.Stringer) zap.Field {
	return zap.Stringer("target", val)
}

func Initiator(val fmt.Stringer) zap.Field {
	return zap.Stringer("initiator", val)
}

func Record(val fmt.Stringer) zap.Field {
	return zap.Stringer("record", val)
}

func TotalDur(val time.Duration) zap.Field {
	return zap.Int64("totalMs", val.Milliseconds())
}
