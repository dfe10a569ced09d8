package accesslog

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/miekg/dns"
	"github.com/semihalev/zlog/v2"
)

// AccessLog type.
type AccessLog struct {
	cfg     *config.Config
	logFile *os.File
}

// New returns a new AccessLog.
func New(cfg *config.Config) *AccessLog {
	var logFile *os.File
	var err error

	if cfg.AccessLog != "" {
		logFile, err = os.OpenFile(cfg.AccessLog, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			zlog.Error("Access log file open failed", "error", strings.Trim(err.Error(), "\n"))
		}
	}

	return &AccessLog{
		cfg:     cfg,
		logFile: logFile,
	}
}

// (*AccessLog).Name return middleware name.
func (a *AccessLog) Name() string { return name }

// (*AccessLog).ServeDNS implements the Handler interface.
func (a *AccessLog) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	w := ch.Writer

	zlog.Debug("Query received", "client", w.RemoteIP().String(), "query", formatQuery(ch.Query))

	ch.Next(ctx)

	if a.logFile != nil && w.Written() {
		record := []string{
			w.RemoteIP().String() + " -",
			"[" + time.Now().Format("02/Jan/2006:15:04:05 -0700") + "]",
			"\"" + formatQuery(ch.Query) + "\"",
			w.Proto(),
			dns.RcodeToString[w.Rcode()],
			strconv.Itoa(len(w.Reply())),
		}

		_, err := a.logFile.WriteString(strings.Join(record, " ") + "\n")
		if err != nil {
			zlog.Error("Access log write failed", "error", strings.Trim(err.Error(), "\n"))
		}
	}
}

// formatQuery decodes the raw query for the log line only, the serving
// path never depends on a full parse.
func formatQuery(query []byte) string {
	req := new(dns.Msg)
	if err := req.Unpack(query); err != nil || len(req.Question) == 0 {
		return "unparsed len=" + strconv.Itoa(len(query))
	}

	q := req.Question[0]

	return strings.ToLower(q.Name) + " " + dns.ClassToString[q.Qclass] + " " + dns.TypeToString[q.Qtype]
}

const name = "accesslog"
