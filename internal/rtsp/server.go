package rtsp

import (
	"net"
	"strconv"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AdminServer is the lifecycle contract a Server expects from an optional
// administrative HTTP surface (internal/admin.Server satisfies it). Kept as
// an interface here, rather than importing internal/admin directly, so the
// core package never depends on the admin mux's own dependency (gin).
type AdminServer interface {
	Close() error
}

// Server is the RTSP listening endpoint: it owns the media-session registry,
// an optional credential store, and spawns one ClientSession goroutine per
// accepted connection (spec.md §3, §5 — this repo's per-goroutine model is
// the mechanical stand-in for the source's single-threaded scheduler).
type Server struct {
	listener net.Listener
	port     int

	registry *Registry
	userDB   *UserDatabase
	admin    AdminServer

	// TrustClientDestination enables honoring a client-supplied
	// destination= token in the Transport header. Off by default per
	// spec.md §4.2 ("ignore client-supplied destinations; they enable
	// reflection attacks").
	TrustClientDestination bool

	log *logrus.Entry

	nextSessionID int64 // atomic

	closing int32 // atomic, set by Shutdown to stop accept loop cleanly
}

// NewServer builds a Server bound to no listener yet; call Listen to bind.
func NewServer(log *logrus.Entry, registry *Registry, userDB *UserDatabase, admin AdminServer) *Server {
	return &Server{
		registry: registry,
		userDB:   userDB,
		admin:    admin,
		log:      log,
	}
}

// Listen binds the RTSP TCP listening socket on port.
func (s *Server) Listen(port int) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return errors.Wrapf(err, "listen on port %d", port)
	}
	s.port = port
	s.listener = ln
	return nil
}

// Port returns the bound listening port, for advertising registered URLs
// (spec.md §6.3).
func (s *Server) Port() int { return s.port }

// Serve accepts connections until the listener is closed by Shutdown. Each
// accepted connection gets its own goroutine running a ClientSession to
// completion; Serve itself never blocks on session traffic.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closing) == 1 {
				return nil
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}
		sessionID := atomic.AddInt64(&s.nextSessionID, 1)
		cs := newClientSession(s, conn, sessionID)
		go cs.run()
	}
}

// Shutdown closes the listener, the admin surface if any, and destroys
// every registered media session (spec.md §3: "destroyed on shutdown, at
// which point all registered media sessions are destroyed"). It does not
// forcibly close active ClientSession connections; each keeps running until
// its client disconnects, a read or write fails, or a handler ends it.
func (s *Server) Shutdown() error {
	atomic.StoreInt32(&s.closing, 1)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	if s.admin != nil {
		if e := s.admin.Close(); e != nil && err == nil {
			err = e
		}
	}
	if s.userDB != nil {
		s.userDB.Close()
	}
	s.registry.Shutdown()
	return err
}

// Registry exposes the media-session registry, for the admin surface and
// for wiring streams in at startup.
func (s *Server) Registry() *Registry { return s.registry }
