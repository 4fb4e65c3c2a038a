// Package server assembles the backend: site auth, the credential vault,
// per-identity upstream sessions, the reconciliation engine, the local
// library mirror, and the HTTP API over all of them.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Tom6814/JM-Aura/server/auth"
	"github.com/Tom6814/JM-Aura/server/identity"
	"github.com/Tom6814/JM-Aura/server/jmapi"
	"github.com/Tom6814/JM-Aura/server/jmsession"
	"github.com/Tom6814/JM-Aura/server/librarydb"
	"github.com/Tom6814/JM-Aura/server/recon"
	"github.com/Tom6814/JM-Aura/server/vault"
	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

type Server struct {
	Log logs.Log

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	auth       *auth.AuthServer
	vault      *vault.Vault
	sessions   *jmsession.Registry
	jm         *jmapi.Client
	engine     *recon.Engine
	library    *librarydb.LibraryDB
}

func NewServer(configFile string) (*Server, error) {
	cfg := Config{}
	if configFile != "" {
		cfgB, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(cfgB, &cfg); err != nil {
			return nil, fmt.Errorf("Error parsing config file %v: %w", configFile, err)
		}
	}
	cfg.applyDefaults()
	logger, err := logs.NewLog()
	if err != nil {
		return nil, err
	}
	return newServerWithLog(logger, cfg)
}

func newServerWithLog(logger logs.Log, cfg Config) (*Server, error) {
	dataDir := cfg.DataDir
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("Failed to create data directory %v: %w", dataDir, err)
	}

	authServer := auth.NewAuthServer(logger,
		filepath.Join(dataDir, "site_users.json"),
		filepath.Join(dataDir, "site_sessions.json"))

	cryptor := vault.NewCryptor(logger, filepath.Join(dataDir, "secret.key"))
	credVault := vault.New(logger, filepath.Join(dataDir, "credentials.json"), cryptor)

	sessions, err := jmsession.NewRegistry(logger,
		filepath.Join(dataDir, "cookies"),
		filepath.Join(dataDir, "cookies.json"),
		cfg.JM.APIBase, cfg.JM.InsecureTLS)
	if err != nil {
		return nil, err
	}

	jmClient := jmapi.NewClient(logger, sessions, cfg.JM.APIBase, cfg.JM.AppVersion, cfg.JM.HeaderVer)

	library, err := librarydb.NewLibraryDB(logger, filepath.Join(dataDir, "library.sqlite"))
	if err != nil {
		return nil, err
	}

	s := &Server{
		Log:      logger,
		auth:     authServer,
		vault:    credVault,
		sessions: sessions,
		jm:       jmClient,
		library:  library,
	}
	s.engine = recon.NewEngine(logger, jmClient, s.reloginFromVault)
	s.setupHttpRoutes()
	return s, nil
}

// reloginFromVault re-authenticates an identity on the upstream using its
// stored credentials. Handed to the reconciliation engine for its one-shot
// 401 recovery.
func (s *Server) reloginFromVault(ctx context.Context, identityKey string) bool {
	siteUser, remoteUser := identity.Split(identityKey)
	username, password := s.vault.GetCredentials(siteUser, remoteUser)
	if username == "" || password == "" {
		return false
	}
	if _, err := s.jm.Login(ctx, identityKey, username, password); err != nil {
		s.Log.Warnf("Stored-credential relogin for %v failed: %v", identity.Sanitize(identityKey), err)
		return false
	}
	return true
}

// port example: ":8081"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v', shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	signal.Stop(s.signalIn)
	close(s.signalIn)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Log.Warnf("Shutdown complete, with error: %v", err)
	} else {
		s.Log.Infof("Shutdown complete")
	}
	s.Log.Close()
}
