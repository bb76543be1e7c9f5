// Package admin exposes a small read-only HTTP surface for operators,
// separate from the RTSP wire protocol itself.
package admin

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kestrel-av/rtspd/internal/rtsp"
)

// streamInfo is the JSON shape returned by GET /streams.
type streamInfo struct {
	Name   string   `json:"name"`
	Tracks []string `json:"tracks"`
}

// Server is the administrative HTTP surface: liveness and a read-only
// listing of the media session registry. It never mutates the registry and
// is entirely optional (spec_full.md §4.9).
type Server struct {
	httpServer *http.Server
	registry   *rtsp.Registry
	log        *logrus.Entry
}

// New builds an admin Server bound to addr (typically 127.0.0.1:<port>).
func New(addr string, registry *rtsp.Registry, log *logrus.Entry) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{registry: registry, log: log}
	router.GET("/healthz", s.handleHealthz)
	router.GET("/streams", s.handleStreams)

	s.httpServer = &http.Server{Addr: addr, Handler: router}
	return s
}

// Serve starts the admin HTTP listener. It blocks until Close is called, at
// which point it returns http.ErrServerClosed.
func (s *Server) Serve() error {
	return s.httpServer.ListenAndServe()
}

// Close shuts the admin HTTP surface down.
func (s *Server) Close() error {
	return s.httpServer.Shutdown(context.Background())
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStreams(c *gin.Context) {
	sessions := s.registry.Snapshot()
	out := make([]streamInfo, 0, len(sessions))
	for _, media := range sessions {
		subs := media.Subsessions()
		tracks := make([]string, 0, len(subs))
		for _, sub := range subs {
			tracks = append(tracks, sub.TrackID())
		}
		out = append(out, streamInfo{Name: media.StreamName(), Tracks: tracks})
	}
	c.JSON(http.StatusOK, out)
}
