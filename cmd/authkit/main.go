package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/mbrandt/authkit/pkg/config"
	"github.com/mbrandt/authkit/pkg/kratos"
	"github.com/mbrandt/authkit/pkg/oauth2"
	"github.com/mbrandt/authkit/pkg/storage"
	"github.com/mbrandt/authkit/pkg/web"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load(os.Getenv("AUTHKIT_CONFIG"))
	if err != nil {
		slog.Error("could not load configuration", "error", err)
		os.Exit(1)
	}

	var opts []web.Option
	if cfg.StorePath != "" {
		storePath := cfg.StorePath
		opts = append(opts, web.WithStoreFactory(func(sessionID string) (storage.Store, error) {
			return storage.OpenFileStore(filepath.Join(storePath, sessionID+".cbor"))
		}))
	}

	server, err := web.NewServer(
		kratos.Config{
			PublicURL: cfg.Kratos.PublicURL,
		},
		oauth2.Config{
			IssuerURL:       cfg.OAuth2.IssuerURL,
			ClientID:        cfg.OAuth2.ClientID,
			ClientSecret:    cfg.OAuth2.ClientSecret,
			RedirectURI:     cfg.OAuth2.RedirectURI,
			Scopes:          cfg.OAuth2.Scopes,
			ChallengeMethod: oauth2.ChallengeMethod(cfg.OAuth2.ChallengeMethod),
			JwksURL:         cfg.OAuth2.JwksURL,
		},
		opts...,
	)
	if err != nil {
		slog.Error("could not create server", "error", err)
		os.Exit(1)
	}
	defer server.Close()

	root := echo.New()
	root.HideBanner = true
	server.MountRoutes(root.Group(""))

	slog.Info("starting authkit", "listen", cfg.Listen, "flow_api", cfg.Kratos.PublicURL, "authorization_server", cfg.OAuth2.IssuerURL)
	if err := root.Start(cfg.Listen); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
