// Package server implements the wsterm server: an HTTP endpoint that
// upgrades to a WebSocket, authenticates it against a configured bearer
// token, and hands the resulting transport.Session off to a per-connection
// command dispatcher backed by a shared shell-session registry.
package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/wsterm/wsterm/pkg/logging"
	"github.com/wsterm/wsterm/pkg/shell"
)

// Config holds the parameters a Server is constructed from, mirroring the
// `wsterm serve` flag set.
type Config struct {
	// WorkspaceRoot is the directory under which per-client workspace
	// subdirectories ($WSTERM_WORKSPACE/<identity>) are created.
	WorkspaceRoot string
	// Path is the HTTP path the WebSocket upgrade is served at.
	Path string
	// Token, if non-empty, must match the bearer token on every upgrade
	// request's Authorization header.
	Token string
}

// Server is the wsterm server: one shell-session registry shared by every
// connection, and an http.Handler that upgrades matching requests to
// WebSocket transport sessions.
type Server struct {
	config   Config
	registry *shell.Registry
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// New creates a Server. Call Handler to obtain the http.Handler to serve,
// and Close to shut down the shared shell-session registry.
func New(config Config, logger *logging.Logger) *Server {
	return &Server{
		config:   config,
		registry: shell.NewRegistry(logger.Sublogger("sessions")),
		logger:   logger,
		upgrader: websocket.Upgrader{},
	}
}

// Close shuts down the shell-session registry, closing every live session's
// shell.
func (s *Server) Close() {
	s.registry.Close()
}

// Handler returns the http.Handler to install: the configured WebSocket
// path, and a minimal landing page at "/" otherwise (spec.md §1 names this
// landing page as an external collaborator; this is the runnable stub of
// it, matching wsterm/server.py's MainHandler).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.config.Path, s.serveWebSocket)
	mux.HandleFunc("/", s.serveLandingPage)
	return mux
}

func (s *Server) serveLandingPage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(landingPageHTML))
}

const landingPageHTML = `<!DOCTYPE html>
<html>
<head><title>wsterm</title></head>
<body>
<p>wsterm server is running. Connect with the wsterm client.</p>
</body>
</html>
`

func (s *Server) authorize(r *http.Request) bool {
	if s.config.Token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Token "+s.config.Token
}

func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "invalid or missing token", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(err)
		return
	}

	d := newDispatcher(s, s.logger.Sublogger("dispatch"))
	session := d.bind(conn)

	if err := session.Run(); err != nil {
		s.logger.Debugf("connection closed: %v", err)
	}
	d.connectionClosed()
}
