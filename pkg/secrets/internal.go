package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/umputun/tablecrow/pkg/connect"
	"github.com/umputun/tablecrow/pkg/predicate"
	"github.com/umputun/tablecrow/pkg/schema"
	"github.com/umputun/tablecrow/pkg/table"
)

// InternalTable is the name of the table keeping encrypted secrets
const InternalTable = "tablecrow_secrets"

const (
	saltSize  = 16
	nonceSize = 24
)

// InternalProvider keeps secrets encrypted in a table of any supported database.
// Values are sealed with NaCl secretbox under a key derived from the master key by argon2id with a random salt.
type InternalProvider struct {
	tbl     *table.Table
	key     []byte
	timeout time.Duration
	log     lgr.L
}

// NewInternalProvider opens (or creates) the secrets table in the database of conn.
func NewInternalProvider(ctx context.Context, conn connect.Options, key []byte) (*InternalProvider, error) {
	if len(key) == 0 {
		return nil, errors.New("empty secrets key")
	}
	log := conn.Logger
	if log == nil {
		log = lgr.NoOp
	}
	fields, err := schema.NewFields("skey", "str", "sval", "str")
	if err != nil {
		return nil, err
	}
	tbl, err := connect.OpenTable(ctx, conn, table.Options{Name: InternalTable, Fields: fields,
		PrimaryKey: []string{"skey"}, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("can't open secrets table: %w", err)
	}
	log.Logf("[INFO] secrets provider: using %s", tbl)
	return &InternalProvider{tbl: tbl, key: key, timeout: 30 * time.Second, log: log}, nil
}

// Get returns decrypted secret
func (p *InternalProvider) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	rec, err := p.tbl.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("can't get secret %s: %w", key, err)
	}
	sealed, ok := rec["sval"].(string)
	if !ok {
		return "", fmt.Errorf("can't get secret %s: no value", key)
	}
	res, err := p.decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("can't decrypt secret %s: %w", key, err)
	}
	return res, nil
}

// Set encrypts and stores the secret, replacing existing one
func (p *InternalProvider) Set(key, value string) error {
	sealed, err := p.encrypt(value)
	if err != nil {
		return fmt.Errorf("can't encrypt secret %s: %w", key, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.tbl.Insert(ctx, schema.Record{"skey": key, "sval": sealed}); err != nil {
		return fmt.Errorf("can't set secret %s: %w", key, err)
	}
	p.log.Logf("[DEBUG] secret %s set", key)
	return nil
}

// Delete removes the secret, schema.ErrNotFound if there is no such key
func (p *InternalProvider) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.tbl.Delete(ctx, key); err != nil {
		return fmt.Errorf("can't delete secret %s: %w", key, err)
	}
	p.log.Logf("[DEBUG] secret %s deleted", key)
	return nil
}

// List returns sorted keys starting with prefix, all keys for empty or "*" prefix
func (p *InternalProvider) List(prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	var where predicate.Predicate = predicate.None{}
	if prefix != "" && prefix != "*" {
		where = predicate.Equalities{"skey": prefix + predicate.Wildcard}
	}
	recs, err := p.tbl.RecordsWhere(ctx, where)
	if err != nil {
		return nil, fmt.Errorf("can't list secrets: %w", err)
	}
	res := make([]string, 0, len(recs))
	for _, rec := range recs {
		if k, ok := rec["skey"].(string); ok {
			res = append(res, k)
		}
	}
	sort.Strings(res)
	return res, nil
}

// Close releases the database connection
func (p *InternalProvider) Close() error { return p.tbl.Close() }

// encrypt seals data and returns base64 of nonce|salt|box
func (p *InternalProvider) encrypt(data string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	naclKey := deriveKey(p.key, salt)

	nonce := new([nonceSize]byte)
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	out := make([]byte, nonceSize+saltSize)
	copy(out, nonce[:])
	copy(out[nonceSize:], salt)
	sealed := secretbox.Seal(out, []byte(data), nonce, naclKey)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (p *InternalProvider) decrypt(encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(sealed) < nonceSize+saltSize+secretbox.Overhead {
		return "", errors.New("sealed value is too short")
	}

	nonce := new([nonceSize]byte)
	copy(nonce[:], sealed[:nonceSize])
	naclKey := deriveKey(p.key, sealed[nonceSize:nonceSize+saltSize])

	res, ok := secretbox.Open(nil, sealed[nonceSize+saltSize:], nonce, naclKey)
	if !ok {
		return "", errors.New("failed to decrypt")
	}
	return string(res), nil
}

// deriveKey makes 32 bytes secretbox key with argon2id, 1 pass, 64MiB, 4 threads
func deriveKey(key, salt []byte) *[32]byte {
	res := new([32]byte)
	copy(res[:], argon2.IDKey(key, salt, 1, 64*1024, 4, 32))
	return res
}
