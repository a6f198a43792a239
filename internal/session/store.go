// Package session persists the sign-in state: app tokens, the user's
// database descriptor and small UI preferences, in a single JSON key-value
// file modelled on browser local storage.
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aksanoble/hasu/internal/logger"
	"github.com/aksanoble/hasu/internal/model"
)

// Storage keys. They match the browser client so exported storage stays readable.
const (
	KeyTokens   = "hasu_supakey_tokens"
	KeyDatabase = "hasu_user_database_config"
	KeyTheme    = "hasu_theme"
	KeyVerifier = "hasu_pkce_verifier"
	keySalt     = "hasu_sealing_salt"
)

const sealedPrefix = "enc:v1:"

var (
	// ErrNoSession is returned when no complete token set is stored.
	ErrNoSession = errors.New("no stored session")
	// ErrSealed is returned when stored tokens are encrypted and no passphrase is set.
	ErrSealed = errors.New("stored session is encrypted; set HASU_SESSION_PASSPHRASE")
	// ErrBadPassphrase is returned when sealed tokens cannot be opened.
	ErrBadPassphrase = errors.New("cannot decrypt stored session: wrong passphrase")
)

// Theme is the UI color scheme preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Store is a file-backed key-value store. Safe for concurrent use within a process.
type Store struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// Open returns a store at path. A non-empty passphrase seals token values.
func Open(path, passphrase string) *Store {
	return &Store{path: path, passphrase: passphrase}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read storage: %w", err)
	}

	kv := map[string]string{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return kv, nil
	}
	if err := json.Unmarshal(data, &kv); err != nil {
		logger.Warn("Storage file is corrupt, starting empty", logger.F("path", s.path), logger.F("error", err))
		return map[string]string{}, nil
	}
	return kv, nil
}

func (s *Store) write(kv map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	data, err := json.MarshalIndent(kv, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Get returns the raw value stored under key.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := kv[key]
	return v, ok, nil
}

// Set stores value under key.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.read()
	if err != nil {
		return err
	}
	kv[key] = value
	return s.write(kv)
}

// Remove deletes keys. Missing keys are ignored.
func (s *Store) Remove(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.read()
	if err != nil {
		return err
	}
	for _, k := range keys {
		delete(kv, k)
	}
	return s.write(kv)
}

// Clear wipes the whole storage. This is sign-out.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear storage: %w", err)
	}
	return nil
}

// sealerFor returns the sealer for kv, creating the salt on first use.
// The caller holds s.mu.
func (s *Store) sealerFor(kv map[string]string) (*sealer, error) {
	raw, ok := kv[keySalt]
	if !ok {
		salt, err := generateSalt()
		if err != nil {
			return nil, err
		}
		kv[keySalt] = base64.StdEncoding.EncodeToString(salt)
		return newSealer(s.passphrase, salt), nil
	}
	salt, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid sealing salt: %w", err)
	}
	return newSealer(s.passphrase, salt), nil
}

func (s *Store) encode(kv map[string]string, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if s.passphrase == "" {
		return string(data), nil
	}
	sl, err := s.sealerFor(kv)
	if err != nil {
		return "", err
	}
	sealed, err := sl.Seal(data)
	if err != nil {
		return "", err
	}
	return sealedPrefix + sealed, nil
}

func (s *Store) decode(kv map[string]string, raw string, v interface{}) error {
	data := []byte(raw)
	if strings.HasPrefix(raw, sealedPrefix) {
		if s.passphrase == "" {
			return ErrSealed
		}
		sl, err := s.sealerFor(kv)
		if err != nil {
			return err
		}
		data, err = sl.Open(strings.TrimPrefix(raw, sealedPrefix))
		if err != nil {
			return ErrBadPassphrase
		}
	}
	return json.Unmarshal(data, v)
}

// Save persists tokens and the database descriptor together.
func (s *Store) Save(tokens model.Tokens, db model.DatabaseConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.read()
	if err != nil {
		return err
	}
	encTokens, err := s.encode(kv, tokens)
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}
	encDB, err := json.Marshal(db)
	if err != nil {
		return err
	}
	kv[KeyTokens] = encTokens
	kv[KeyDatabase] = string(encDB)
	return s.write(kv)
}

// Load returns the stored session. Corrupt token data is cleared and
// reported as ErrNoSession.
func (s *Store) Load() (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.read()
	if err != nil {
		return nil, err
	}
	rawTokens, okT := kv[KeyTokens]
	rawDB, okD := kv[KeyDatabase]
	if !okT || !okD {
		return nil, ErrNoSession
	}

	var sess model.Session
	if err := s.decode(kv, rawTokens, &sess.Tokens); err != nil {
		if errors.Is(err, ErrSealed) || errors.Is(err, ErrBadPassphrase) {
			return nil, err
		}
		logger.Error("Stored tokens are unreadable, clearing", logger.F("error", err))
		delete(kv, KeyTokens)
		delete(kv, KeyDatabase)
		_ = s.write(kv)
		return nil, ErrNoSession
	}
	if err := json.Unmarshal([]byte(rawDB), &sess.Database); err != nil {
		logger.Error("Stored database config is unreadable, clearing", logger.F("error", err))
		delete(kv, KeyTokens)
		delete(kv, KeyDatabase)
		_ = s.write(kv)
		return nil, ErrNoSession
	}
	if sess.AccessToken == "" || sess.Database.SupabaseURL == "" {
		return nil, ErrNoSession
	}
	return &sess, nil
}

// UpdateTokens replaces the access and refresh tokens of the stored session.
func (s *Store) UpdateTokens(accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv, err := s.read()
	if err != nil {
		return err
	}
	raw, ok := kv[KeyTokens]
	if !ok {
		return ErrNoSession
	}
	var tokens model.Tokens
	if err := s.decode(kv, raw, &tokens); err != nil {
		return fmt.Errorf("failed to read stored tokens: %w", err)
	}
	tokens.AccessToken = accessToken
	if refreshToken != "" {
		tokens.RefreshToken = refreshToken
	}
	enc, err := s.encode(kv, tokens)
	if err != nil {
		return err
	}
	kv[KeyTokens] = enc
	return s.write(kv)
}

// Theme returns the stored theme, light by default.
func (s *Store) Theme() Theme {
	v, ok, err := s.Get(KeyTheme)
	if err != nil || !ok || Theme(v) != ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}

// SetTheme stores the theme preference.
func (s *Store) SetTheme(t Theme) error {
	if t != ThemeLight && t != ThemeDark {
		return fmt.Errorf("unknown theme %q", t)
	}
	return s.Set(KeyTheme, string(t))
}

// SetVerifier stores the pending PKCE verifier.
func (s *Store) SetVerifier(v string) error {
	return s.Set(KeyVerifier, v)
}

// Verifier returns the pending PKCE verifier, if any.
func (s *Store) Verifier() (string, bool) {
	v, ok, err := s.Get(KeyVerifier)
	if err != nil || v == "" {
		return "", false
	}
	return v, ok
}

// ClearVerifier drops the pending PKCE verifier.
func (s *Store) ClearVerifier() error {
	return s.Remove(KeyVerifier)
}
