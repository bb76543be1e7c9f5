package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kestrel-av/rtspd/internal/admin"
	"github.com/kestrel-av/rtspd/internal/rtsp"
)

func main() {
	rtspPort := flag.Int("port", 8554, "RTSP listening port")
	adminAddr := flag.String("admin-addr", "127.0.0.1:8555", "administrative HTTP surface bind address, empty to disable")
	credentialsPath := flag.String("credentials", "", "htdigest-style credential file, empty to disable authentication")
	realm := flag.String("realm", "rtspd", "Digest authentication realm")
	trustClientDestination := flag.Bool("trust-client-destination", false, "honor client-supplied Transport destination= (off by default, enables reflection if turned on)")
	logPath := flag.String("log-file", "", "log file path, empty logs to stderr")
	verbose := flag.Bool("verbose", false, "debug-level logging")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	if *logPath != "" {
		logger.SetOutput(&lumberjack.Logger{
			Filename:   *logPath,
			MaxSize:    100, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	log := logrus.NewEntry(logger)

	disarmSIGPIPE()

	var userDB *rtsp.UserDatabase
	if *credentialsPath != "" {
		var err error
		userDB, err = rtsp.NewUserDatabaseFromFile(*credentialsPath, *realm)
		if err != nil {
			log.WithError(err).Fatal("failed to load credential file")
		}
		if err := userDB.Watch(log.WithField("component", "userdb")); err != nil {
			log.WithError(err).Fatal("failed to watch credential file")
		}
	}

	registry := rtsp.NewRegistry(log.WithField("component", "registry"))

	var adminServer *admin.Server
	if *adminAddr != "" {
		adminServer = admin.New(*adminAddr, registry, log.WithField("component", "admin"))
		go func() {
			if err := adminServer.Serve(); err != nil {
				log.WithError(err).Warn("admin server stopped")
			}
		}()
	}

	server := rtsp.NewServer(log.WithField("component", "rtsp"), registry, userDB, adminServerOrNil(adminServer))
	server.TrustClientDestination = *trustClientDestination

	if err := server.Listen(*rtspPort); err != nil {
		log.WithError(err).Fatal("failed to bind RTSP port")
	}
	log.WithField("port", *rtspPort).Info("rtspd listening")

	go func() {
		if err := server.Serve(); err != nil {
			log.WithError(err).Error("server stopped serving")
		}
	}()

	waitForShutdown(log)

	log.Info("shutting down")
	if err := server.Shutdown(); err != nil {
		log.WithError(err).Warn("error during shutdown")
	}
}

// adminServerOrNil returns a typed nil rtsp.AdminServer as an untyped nil
// interface when s is nil, so Server.Shutdown's `if s.admin != nil` check
// behaves correctly instead of holding a non-nil interface wrapping a nil
// pointer.
func adminServerOrNil(s *admin.Server) rtsp.AdminServer {
	if s == nil {
		return nil
	}
	return s
}

func waitForShutdown(log *logrus.Entry) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.WithField("signal", fmt.Sprint(s)).Info("received shutdown signal")
}

// disarmSIGPIPE is a process-global side effect and belongs in the binary
// entry point, not the core library, so the core stays embeddable
// (spec_full.md design notes). Writing to a connection the client already
// reset should surface as an EPIPE error return, not kill the process.
func disarmSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}
