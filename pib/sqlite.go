package pib

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/joncooperworks/ndnsec/certificate"
	"github.com/joncooperworks/ndnsec/crypto"
	"github.com/joncooperworks/ndnsec/ndn"
)

// SchemaVersion is the version of the sqlite schema written to user_version.
const SchemaVersion = 1

// Schema is the sqlite schema of the PIB. Names are stored in URI form,
// which is canonical.
const Schema = `
CREATE TABLE identities (
	identity   TEXT PRIMARY KEY,
	is_default INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE keys (
	key_name   TEXT PRIMARY KEY,
	identity   TEXT NOT NULL REFERENCES identities(identity) ON DELETE CASCADE,
	key_der    BLOB NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX keys_identity ON keys(identity);
CREATE TABLE certificates (
	cert_name  TEXT PRIMARY KEY,
	key_name   TEXT NOT NULL REFERENCES keys(key_name) ON DELETE CASCADE,
	wire       BLOB NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX certificates_key ON certificates(key_name);
`

// Sqlite is a Store backed by a sqlite database file.
type Sqlite struct {
	db *sql.DB
}

// NewSqlite opens (creating if needed) the PIB database at path.
func NewSqlite(path string) (*Sqlite, error) {
	if strings.Contains(path, ":memory:") {
		return nil, fmt.Errorf("use a named database file instead of :memory:")
	}
	noFile := strings.TrimPrefix(path, "file:")

	connParams := make(url.Values)
	// Start transactions as writers so busy_timeout applies to them.
	connParams.Add("_txlock", "immediate")
	connParams.Add("_pragma", "journal_mode(WAL)")
	connParams.Add("_pragma", "busy_timeout(1000)")
	connParams.Add("_pragma", "synchronous(NORMAL)")
	connParams.Add("_pragma", "foreign_keys(1)")

	connURL := "file:" + noFile + "?" + connParams.Encode()

	db, err := sql.Open("sqlite", connURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection serializes writers and keeps default-pointer
	// updates atomic without explicit locking.
	db.SetMaxOpenConns(1)

	s := &Sqlite{db: db}
	if err := s.setup(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sqlite) setup() error {
	var existingVersion int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&existingVersion); err != nil {
		return fmt.Errorf("checking database schema version: %w", err)
	}
	switch {
	case existingVersion == 0:
		if _, err := s.db.Exec(Schema); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
			return fmt.Errorf("writing schema version: %w", err)
		}
		return nil
	case existingVersion != SchemaVersion:
		return fmt.Errorf("database schema version mismatch: expected %d, have %d",
			SchemaVersion, existingVersion,
		)
	default:
		return nil
	}
}

func (s *Sqlite) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

func (s *Sqlite) inTx(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := f(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Sqlite) AddIdentity(ctx context.Context, identity ndn.Name) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (identity) VALUES (?) ON CONFLICT(identity) DO NOTHING`,
		identity.String(),
	)
	if err != nil {
		return fmt.Errorf("inserting identity: %w", err)
	}
	return nil
}

func (s *Sqlite) DeleteIdentity(ctx context.Context, identity ndn.Name) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE identity = ?`, identity.String()); err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}
	return nil
}

func (s *Sqlite) HasIdentity(ctx context.Context, identity ndn.Name) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM identities WHERE identity = ?`, identity.String())
}

func (s *Sqlite) Identities(ctx context.Context) ([]ndn.Name, error) {
	return s.names(ctx, `SELECT identity FROM identities`)
}

func (s *Sqlite) SetDefaultIdentity(ctx context.Context, identity ndn.Name) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return setDefault(ctx, tx,
			`UPDATE identities SET is_default = 0 WHERE is_default = 1`, nil,
			`UPDATE identities SET is_default = 1 WHERE identity = ?`, []any{identity.String()},
			"identity "+identity.String(),
		)
	})
}

func (s *Sqlite) DefaultIdentity(ctx context.Context) (ndn.Name, error) {
	return s.name(ctx, "default identity", `SELECT identity FROM identities WHERE is_default = 1`)
}

func (s *Sqlite) AddKey(ctx context.Context, identity, keyName ndn.Name, key crypto.PublicKey) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return addKey(ctx, tx, identity, keyName, key)
	})
}

func addKey(ctx context.Context, tx *sql.Tx, identity, keyName ndn.Name, key crypto.PublicKey) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO identities (identity) VALUES (?) ON CONFLICT(identity) DO NOTHING`,
		identity.String(),
	)
	if err != nil {
		return fmt.Errorf("inserting identity: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO keys (key_name, identity, key_der) VALUES (?, ?, ?)
		 ON CONFLICT(key_name) DO UPDATE SET key_der = excluded.key_der`,
		keyName.String(), identity.String(), key.DER(),
	)
	if err != nil {
		return fmt.Errorf("inserting key: %w", err)
	}
	return nil
}

func (s *Sqlite) DeleteKey(ctx context.Context, keyName ndn.Name) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM keys WHERE key_name = ?`, keyName.String()); err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	return nil
}

func (s *Sqlite) HasKey(ctx context.Context, keyName ndn.Name) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM keys WHERE key_name = ?`, keyName.String())
}

func (s *Sqlite) Key(ctx context.Context, keyName ndn.Name) (crypto.PublicKey, error) {
	var der []byte
	err := s.db.QueryRowContext(ctx, `SELECT key_der FROM keys WHERE key_name = ?`, keyName.String()).Scan(&der)
	if errors.Is(err, sql.ErrNoRows) {
		return crypto.PublicKey{}, fmt.Errorf("key %s: %w", keyName, ErrNotFound)
	}
	if err != nil {
		return crypto.PublicKey{}, fmt.Errorf("querying key: %w", err)
	}
	return crypto.ParsePublicKey(der)
}

func (s *Sqlite) Keys(ctx context.Context, identity ndn.Name) ([]ndn.Name, error) {
	return s.names(ctx, `SELECT key_name FROM keys WHERE identity = ?`, identity.String())
}

func (s *Sqlite) SetDefaultKey(ctx context.Context, identity, keyName ndn.Name) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return setDefault(ctx, tx,
			`UPDATE keys SET is_default = 0 WHERE identity = ? AND is_default = 1`, []any{identity.String()},
			`UPDATE keys SET is_default = 1 WHERE identity = ? AND key_name = ?`, []any{identity.String(), keyName.String()},
			"key "+keyName.String(),
		)
	})
}

func (s *Sqlite) DefaultKey(ctx context.Context, identity ndn.Name) (ndn.Name, error) {
	return s.name(ctx, "default key of "+identity.String(),
		`SELECT key_name FROM keys WHERE identity = ? AND is_default = 1`, identity.String())
}

func (s *Sqlite) AddCertificate(ctx context.Context, cert *certificate.Certificate) error {
	keyName := cert.KeyName()
	if keyName == nil {
		return fmt.Errorf("%s is not a certificate name", cert.Name())
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM keys WHERE key_name = ?`, keyName.String()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			if err := addKey(ctx, tx, keyName.Prefix(-1), keyName, cert.Key); err != nil {
				return err
			}
		} else if err != nil {
			return fmt.Errorf("querying key: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO certificates (cert_name, key_name, wire) VALUES (?, ?, ?)
			 ON CONFLICT(cert_name) DO UPDATE SET wire = excluded.wire`,
			cert.Name().String(), keyName.String(), cert.Wire(),
		)
		if err != nil {
			return fmt.Errorf("inserting certificate: %w", err)
		}
		return nil
	})
}

func (s *Sqlite) DeleteCertificate(ctx context.Context, certName ndn.Name) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM certificates WHERE cert_name = ?`, certName.String()); err != nil {
		return fmt.Errorf("deleting certificate: %w", err)
	}
	return nil
}

func (s *Sqlite) HasCertificate(ctx context.Context, certName ndn.Name) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM certificates WHERE cert_name = ?`, certName.String())
}

func (s *Sqlite) Certificate(ctx context.Context, certName ndn.Name) (*certificate.Certificate, error) {
	var wire []byte
	err := s.db.QueryRowContext(ctx, `SELECT wire FROM certificates WHERE cert_name = ?`, certName.String()).Scan(&wire)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("certificate %s: %w", certName, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying certificate: %w", err)
	}
	return certificate.Decode(wire)
}

func (s *Sqlite) Certificates(ctx context.Context, keyName ndn.Name) ([]ndn.Name, error) {
	return s.names(ctx, `SELECT cert_name FROM certificates WHERE key_name = ?`, keyName.String())
}

func (s *Sqlite) SetDefaultCertificate(ctx context.Context, keyName, certName ndn.Name) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return setDefault(ctx, tx,
			`UPDATE certificates SET is_default = 0 WHERE key_name = ? AND is_default = 1`, []any{keyName.String()},
			`UPDATE certificates SET is_default = 1 WHERE key_name = ? AND cert_name = ?`, []any{keyName.String(), certName.String()},
			"certificate "+certName.String(),
		)
	})
}

func (s *Sqlite) DefaultCertificate(ctx context.Context, keyName ndn.Name) (ndn.Name, error) {
	return s.name(ctx, "default certificate of "+keyName.String(),
		`SELECT cert_name FROM certificates WHERE key_name = ? AND is_default = 1`, keyName.String())
}

// setDefault clears the old default and sets the new one in tx. The target
// must exist, otherwise the transaction is rolled back.
func setDefault(ctx context.Context, tx *sql.Tx, clear string, clearArgs []any, set string, setArgs []any, what string) error {
	if _, err := tx.ExecContext(ctx, clear, clearArgs...); err != nil {
		return fmt.Errorf("clearing default: %w", err)
	}
	res, err := tx.ExecContext(ctx, set, setArgs...)
	if err != nil {
		return fmt.Errorf("setting default: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting default: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (s *Sqlite) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("querying database: %w", err)
	default:
		return true, nil
	}
}

func (s *Sqlite) name(ctx context.Context, what, query string, args ...any) (ndn.Name, error) {
	var uri string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&uri)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying database: %w", err)
	}
	return ndn.ParseName(uri)
}

func (s *Sqlite) names(ctx context.Context, query string, args ...any) ([]ndn.Name, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying database: %w", err)
	}
	defer rows.Close()

	var out []ndn.Name
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		n, err := ndn.ParseName(uri)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	sortNames(out)
	return out, nil
}
