package recovery

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/semihalev/zlog/v2"
)

// Recovery dummy type.
type Recovery struct{}

// New return recovery.
func New(cfg *config.Config) *Recovery {
	return &Recovery{}
}

// (*Recovery).Name return middleware name.
func (r *Recovery) Name() string { return name }

// (*Recovery).ServeDNS implements the Handler interface. A panic in a
// worker drops that datagram only, the client times out like on any other
// failed path.
func (r *Recovery) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	defer func() {
		if r := recover(); r != nil {
			ch.Cancel()

			zlog.Error("Recovered in ServeDNS", "recover", r)

			_, _ = os.Stderr.WriteString(fmt.Sprintf("panic: %v\n\n", r))
			debug.PrintStack()
		}
	}()

	ch.Next(ctx)
}

const name = "recovery"
