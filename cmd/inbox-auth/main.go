// Command inbox-auth runs the interactive OAuth grant and stores the
// credential used by inbox-agent.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/vipul43/inbox-agent/internal/config"
	"github.com/vipul43/inbox-agent/internal/credential"
)

func main() {
	if err := run(); err != nil {
		log.Fatal("Authorization failed", "error", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{Level: cfg.LogLevel})

	oauthCfg, err := credential.ConfigFromFile(cfg.GoogleCredentialsFile)
	if err != nil {
		return err
	}

	var persister credential.Persister = credential.NewFileStore(cfg.GoogleTokenFile)
	if cfg.CredentialBackend == config.CredentialBackendKeyring {
		ks, err := credential.NewKeyringStore(cfg.KeyringDir, cfg.KeyringPassword)
		if err != nil {
			return err
		}
		persister = ks
	}
	store := credential.NewStore(oauthCfg, persister, logger)

	fmt.Println("Open this URL in a browser and grant access for Gmail and Google Tasks:")
	fmt.Println()
	fmt.Println(store.AuthCodeURL(uuid.NewString()))
	fmt.Println()

	var code string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Authorization code").
				Description("Paste the code shown after granting access").
				Value(&code).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("code is required")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("failed to read authorization code: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cred, err := store.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return err
	}

	logger.Info("Credential stored", "backend", cfg.CredentialBackend, "expiry", cred.Expiry)
	if cred.RefreshToken == "" {
		logger.Warn("No refresh token issued, scheduled runs will need another grant once this token expires")
	}
	return nil
}
