package cli

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "habitctl"
	keyringUser    = "default"
)

var (
	// ErrNoToken はトークンがフラグ・環境変数・キーリングのいずれにもない場合に返る。
	ErrNoToken = errors.New("no token configured: run 'habitctl login --token <token>' or set HABITCTL_TOKEN")
	// ErrKeyringUnavailable はOSのキーリングが利用できない場合に返る。
	ErrKeyringUnavailable = errors.New("OS keyring is not available")
)

// loadToken はキーリングに保存されたトークンを返す。
func loadToken() (string, error) {
	token, err := keyring.Get(keyringService, keyringUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}
	return token, nil
}

// saveToken はトークンをキーリングに保存する。
func saveToken(token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}
	if err := keyring.Set(keyringService, keyringUser, token); err != nil {
		return fmt.Errorf("failed to store token in keyring: %w", err)
	}
	return nil
}

// deleteToken はキーリングからトークンを削除する。未保存の場合はfalseを返す。
func deleteToken() (bool, error) {
	if err := keyring.Delete(keyringService, keyringUser); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to delete token from keyring: %w", err)
	}
	return true, nil
}
