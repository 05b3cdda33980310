package kv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
)

// Keystore is the platform secure storage (iOS Keychain, Android Keystore,
// desktop credential manager) as exposed by the host application. Missing
// accounts are reported as ErrNotFound.
type Keystore interface {
	StoreCredential(account, value string) error
	GetCredential(account string) (string, error)
	DeleteCredential(account string) error
}

const keystoreProbeAccount = "toursync.probe"

// KeystoreBackend adapts a Keystore to the Backend interface. Values are
// base64 encoded because keystores store strings.
type KeystoreBackend struct {
	ks Keystore
}

// NewKeystoreBackend wraps ks. A nil keystore yields a backend whose probe
// always fails, so selection skips it.
func NewKeystoreBackend(ks Keystore) *KeystoreBackend {
	return &KeystoreBackend{ks: ks}
}

func (k *KeystoreBackend) Name() string { return "keystore" }

// Available writes, reads back and deletes a probe entry.
func (k *KeystoreBackend) Available(context.Context) error {
	if k.ks == nil {
		return errors.New("keystore: not provided by host")
	}
	if err := k.ks.StoreCredential(keystoreProbeAccount, "ok"); err != nil {
		return fmt.Errorf("keystore probe write: %w", err)
	}
	got, err := k.ks.GetCredential(keystoreProbeAccount)
	if err != nil {
		return fmt.Errorf("keystore probe read: %w", err)
	}
	if got != "ok" {
		return fmt.Errorf("keystore probe read back %q", got)
	}
	return k.ks.DeleteCredential(keystoreProbeAccount)
}

func (k *KeystoreBackend) Get(_ context.Context, key string) ([]byte, error) {
	encoded, err := k.ks.GetCredential(key)
	if err != nil {
		return nil, err
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("keystore decode %q: %w", key, err)
	}
	return value, nil
}

func (k *KeystoreBackend) Set(_ context.Context, key string, value []byte) error {
	return k.ks.StoreCredential(key, base64.StdEncoding.EncodeToString(value))
}

func (k *KeystoreBackend) Delete(_ context.Context, key string) error {
	err := k.ks.DeleteCredential(key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
