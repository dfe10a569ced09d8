package main

import (
	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/gali1/dohrelay/middleware/accesslog"
	"github.com/gali1/dohrelay/middleware/bogon"
	"github.com/gali1/dohrelay/middleware/forwarder"
	"github.com/gali1/dohrelay/middleware/metrics"
	"github.com/gali1/dohrelay/middleware/ratelimit"
	"github.com/gali1/dohrelay/middleware/recovery"
	"github.com/gali1/dohrelay/middleware/statichosts"
)

// registration order is the chain order: admission first, local answers
// next, the upstream last.
func init() {
	middleware.Register("recovery", func(cfg *config.Config) middleware.Handler { return recovery.New(cfg) })
	middleware.Register("metrics", func(cfg *config.Config) middleware.Handler { return metrics.New(cfg) })
	middleware.Register("accesslog", func(cfg *config.Config) middleware.Handler { return accesslog.New(cfg) })
	middleware.Register("ratelimit", func(cfg *config.Config) middleware.Handler { return ratelimit.New(cfg) })
	middleware.Register("bogon", func(cfg *config.Config) middleware.Handler { return bogon.New(cfg) })
	middleware.Register("statichosts", func(cfg *config.Config) middleware.Handler { return statichosts.New(cfg) })
	middleware.Register("forwarder", func(cfg *config.Config) middleware.Handler { return forwarder.New(cfg) })
}
