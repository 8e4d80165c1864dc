package zloop

import (
	"errors"
	"fmt"

	"github.com/zhihanii/zlog"
)

var ErrUnsupportedAddress = errors.New("zloop: unsupported address")

// logFatalf logs and panics. Used for broken invariants the runtime cannot recover from.
func logFatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	zlog.Errorf("%s", msg)
	panic(msg)
}
