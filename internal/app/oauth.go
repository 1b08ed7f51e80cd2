package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/semmidev/archivist/internal/adapter/storage"
	"github.com/semmidev/archivist/internal/infrastructure/logger"
)

// DriveAuthServer walks a user through the Google consent screen and stores
// the resulting token where the gdrive upload target reads it.
type DriveAuthServer struct {
	config    *oauth2.Config
	tokenFile string
	state     string
	logger    *logger.Logger
	server    *http.Server
	done      chan error
}

func NewDriveAuthServer(config *oauth2.Config, tokenFile string, log *logger.Logger) (*DriveAuthServer, error) {
	if config == nil {
		return nil, errors.New("oauth config cannot be nil")
	}
	if tokenFile == "" {
		return nil, errors.New("token file cannot be empty")
	}

	return &DriveAuthServer{
		config:    config,
		tokenFile: tokenFile,
		state:     uuid.NewString(),
		logger:    log,
		done:      make(chan error, 1),
	}, nil
}

func (s *DriveAuthServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /auth/google/drive", func(w http.ResponseWriter, r *http.Request) {
		authURL := s.config.AuthCodeURL(s.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET /auth/google/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != s.state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		token, err := s.config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("token exchange failed: %v", err), http.StatusInternalServerError)
			return
		}
		if token.RefreshToken == "" {
			fmt.Fprintln(w, "⚠️ No refresh token returned. Revoke app access & re-authorize.")
			return
		}

		if err := storage.WriteToken(s.tokenFile, token); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			s.finish(err)
			return
		}

		fmt.Fprintf(w, "✅ Token saved to %s. You can close this window.\n", s.tokenFile)
		s.finish(nil)
	})

	return mux
}

func (s *DriveAuthServer) finish(err error) {
	select {
	case s.done <- err:
	default:
	}
}

// Run serves the consent flow on addr until a token is stored or ctx ends.
func (s *DriveAuthServer) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Infof("Google Drive OAuth server listening on http://%s/auth/google/drive", listener.Addr())
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("OAuth server error: %v", err)
			s.finish(err)
		}
	}()

	var result error
	select {
	case result = <-s.done:
	case <-ctx.Done():
		result = ctx.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown OAuth server: %w", err)
	}
	s.logger.Infof("OAuth server stopped")
	return result
}
