// Package accountstore persists ACME account credentials in the certflow
// database.
package accountstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edvin/certflow/internal/acmeclient"
	"github.com/edvin/certflow/internal/db"
)

type Store struct {
	db db.DB
}

var _ acmeclient.AccountStore = (*Store)(nil)

func New(db db.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, directoryURL, email string) (*acmeclient.Account, error) {
	acct := acmeclient.Account{DirectoryURL: directoryURL, Email: email}
	var keyPEM string
	err := s.db.QueryRow(ctx,
		`SELECT key_pem, account_url FROM acme_accounts WHERE directory_url = $1 AND email = $2`,
		directoryURL, email,
	).Scan(&keyPEM, &acct.URL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get acme account: %w", err)
	}
	acct.KeyPEM = []byte(keyPEM)
	return &acct, nil
}

func (s *Store) Save(ctx context.Context, acct acmeclient.Account) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO acme_accounts (directory_url, email, key_pem, account_url)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (directory_url, email)
		 DO UPDATE SET key_pem = EXCLUDED.key_pem, account_url = EXCLUDED.account_url, updated_at = now()`,
		acct.DirectoryURL, acct.Email, string(acct.KeyPEM), acct.URL,
	)
	if err != nil {
		return fmt.Errorf("save acme account: %w", err)
	}
	return nil
}
