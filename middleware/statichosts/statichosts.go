// Package statichosts answers configured names locally instead of
// forwarding them. The mapping is an immutable snapshot: lookups never
// take a lock, a changed hosts file swaps in a whole new snapshot.
package statichosts

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gali1/dohrelay/config"
	"github.com/gali1/dohrelay/middleware"
	"github.com/gali1/dohrelay/wire"
	"github.com/semihalev/zlog/v2"
)

// StaticHosts type.
type StaticHosts struct {
	snapshot atomic.Pointer[table]

	inline map[string]string
	path   string

	watcher *fsnotify.Watcher
}

// New return statichosts. Config entries were validated at load time, a
// hosts file is parsed here and re-parsed whenever it changes on disk.
func New(cfg *config.Config) *StaticHosts {
	s := &StaticHosts{
		inline: cfg.StaticHosts,
		path:   cfg.Hostsfile,
	}

	s.reload()

	if s.path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			zlog.Error("Hosts file watcher failed", "error", err.Error())
			return s
		}

		// watch the directory, editors replace the file instead of
		// writing it in place
		if err := watcher.Add(filepath.Dir(s.path)); err != nil {
			zlog.Error("Hosts file watch failed", "path", s.path, "error", err.Error())
			watcher.Close()
			return s
		}

		s.watcher = watcher
		go s.watch()
	}

	return s
}

// (*StaticHosts).Name return middleware name.
func (s *StaticHosts) Name() string { return name }

// (*StaticHosts).Lookup return the mapped IPv4 address for a name. The
// match is exact, case-insensitive and trailing-dot-insensitive; a miss
// returns false, not an error.
func (s *StaticHosts) Lookup(name string) (net.IP, bool) {
	ip, ok := s.snapshot.Load().entries[normalize(name)]
	return ip, ok
}

// (*StaticHosts).ServeDNS implements the Handler interface. This stage
// also extracts the question name, so an unparseable query is dropped
// here before anything is forwarded.
func (s *StaticHosts) ServeDNS(ctx context.Context, ch *middleware.Chain) {
	name, err := wire.QuestionName(ch.Query)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, wire.ErrUnsupportedMessage) {
			reason = "unsupported"
		}

		zlog.Info("Dropped unparseable query", "client", ch.Writer.RemoteIP().String(), "reason", reason)
		ch.Cancel()
		return
	}

	ip, ok := s.Lookup(name)
	if !ok {
		ch.Next(ctx)
		return
	}

	reply, err := wire.StaticAnswer(ch.Query, ip.String())
	if err != nil {
		zlog.Warn("Static answer failed", "name", name, "error", err.Error())
		ch.Cancel()
		return
	}

	zlog.Debug("Static answer", "name", name, "ip", ip.String())

	_ = ch.CancelWithReply(reply)
}

func (s *StaticHosts) reload() {
	next := newTable()

	for name, addr := range s.inline {
		// config load validated these
		if ip := net.ParseIP(addr); ip != nil {
			next.add(name, ip)
		}
	}

	if s.path != "" {
		if err := next.readFile(s.path); err != nil {
			zlog.Warn("Hosts file read failed", "path", s.path, "error", err.Error())
		}
	}

	zlog.Debug("Static hosts loaded", "entries", len(next.entries))

	s.snapshot.Store(next)
}

func (s *StaticHosts) watch() {
	defer s.watcher.Close()

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) == filepath.Base(s.path) &&
				event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				zlog.Info("Hosts file changed, reloading", "path", s.path)
				s.reload()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			zlog.Error("Hosts file watcher error", "error", err.Error())
		}
	}
}

const name = "statichosts"
