package acmeclient

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/acme"
)

// Account is the persisted ACME account for one directory and contact email.
type Account struct {
	DirectoryURL string
	Email        string
	KeyPEM       []byte
	URL          string
}

// AccountStore gets and saves ACME account credentials.
type AccountStore interface {
	// Get returns nil, nil when no account is stored.
	Get(ctx context.Context, directoryURL, email string) (*Account, error)
	Save(ctx context.Context, acct Account) error
}

// Bootstrap loads the account for directoryURL/email, creating and
// registering it on first use, and returns a client bound to it. It is
// meant to run once at process start.
func Bootstrap(ctx context.Context, store AccountStore, directoryURL, email string, logger zerolog.Logger) (*Client, error) {
	acct, err := store.Get(ctx, directoryURL, email)
	if err != nil {
		return nil, fmt.Errorf("load acme account: %w", err)
	}

	if acct == nil {
		keyPEM, err := generateAccountKey()
		if err != nil {
			return nil, err
		}
		acct = &Account{DirectoryURL: directoryURL, Email: email, KeyPEM: keyPEM}
		// Persist the key before registering so a crash cannot orphan a
		// registered account.
		if err := store.Save(ctx, *acct); err != nil {
			return nil, fmt.Errorf("save acme account key: %w", err)
		}
		logger.Info().Str("directory", directoryURL).Msg("generated new acme account key")
	}

	key, err := parseECKey(acct.KeyPEM)
	if err != nil {
		return nil, err
	}

	ac := &acme.Client{
		Key:          key,
		DirectoryURL: directoryURL,
		UserAgent:    "certflow",
	}

	if acct.URL == "" {
		registered, err := ac.Register(ctx, &acme.Account{Contact: []string{"mailto:" + email}}, acme.AcceptTOS)
		if errors.Is(err, acme.ErrAccountAlreadyExists) {
			registered, err = ac.GetReg(ctx, "")
		}
		if err != nil {
			return nil, fmt.Errorf("register acme account: %w", err)
		}
		acct.URL = registered.URI
		if err := store.Save(ctx, *acct); err != nil {
			return nil, fmt.Errorf("save acme account: %w", err)
		}
		logger.Info().Str("directory", directoryURL).Str("account", acct.URL).Msg("registered acme account")
	}

	ac.KID = acme.KeyID(acct.URL)
	return newClient(ac), nil
}

func generateAccountKey() ([]byte, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal account key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

func parseECKey(keyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("failed to decode account key PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse EC key: %w", err)
	}
	return key, nil
}
