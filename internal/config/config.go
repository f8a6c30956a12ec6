// Package config loads the twelve-factor environment configuration of
// the search engine and manages the one encrypted secret (VLM_API_KEY)
// persisted across restarts, following the AES-256-GCM scheme the teacher
// codebase uses for its own API keys.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const encryptionKeyEnvVar = "IMAGESEARCH_ENCRYPTION_KEY"
const encryptedPrefix = "enc:"

// Config is the resolved runtime configuration, seeded from environment
// variables per the external interface contract.
type Config struct {
	DBURL        string `json:"db_url"`
	SourceRootID string `json:"source_root_id"`
	EmbedModelURL string `json:"embed_model_url"`
	VLMModelURL  string `json:"vlm_model_url"`
	VLMAPIKey    string `json:"vlm_api_key"`

	// SourceStoreURL and SourceStoreAPIKey address the externally-hosted
	// image collection's HTTP API (§1). Not in spec §6's starred required
	// list since that table only names the root folder id; both are
	// optional so a deployment can point SOURCE_ROOT_ID at a URL-less
	// mount and leave these blank in tests.
	SourceStoreURL    string `json:"source_store_url"`
	SourceStoreAPIKey string `json:"source_store_api_key"`

	TopK         int     `json:"top_k"`
	BatchSize    int     `json:"batch_size"`
	Cutoff       float64 `json:"cutoff"`
	FinalLimit   int     `json:"final_limit"`
	Alpha        float64 `json:"alpha"`
	CacheTTLDays int     `json:"cache_ttl_days"`
	MaxImagePx   int     `json:"max_image_px"`

	// AdminTokenHash is a bcrypt hash of the single operator bearer token
	// guarding the mutating /index endpoints. Empty means auth is disabled
	// (useful for local development).
	AdminTokenHash string `json:"admin_token_hash"`

	DataDir string `json:"-"`
}

// Manager guards Config with a RWMutex and persists an encrypted snapshot
// to <datadir>/config.json for operator convenience across restarts.
type Manager struct {
	mu            sync.RWMutex
	cfg           Config
	path          string
	encryptionKey []byte
}

// Load builds a Manager, seeding defaults from environment variables and
// then overlaying any previously persisted encrypted snapshot.
func Load(dataDir string) (*Manager, error) {
	key, err := getOrCreateEncryptionKey(dataDir)
	if err != nil {
		return nil, fmt.Errorf("encryption key error: %w", err)
	}
	m := &Manager{
		cfg:           defaultsFromEnv(dataDir),
		path:          filepath.Join(dataDir, "config.json"),
		encryptionKey: key,
	}
	if err := m.loadSnapshot(); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func defaultsFromEnv(dataDir string) Config {
	return Config{
		DBURL:         os.Getenv("DB_URL"),
		SourceRootID:  os.Getenv("SOURCE_ROOT_ID"),
		EmbedModelURL: os.Getenv("EMBED_MODEL_URL"),
		VLMModelURL:   os.Getenv("VLM_MODEL_URL"),
		VLMAPIKey:     os.Getenv("VLM_API_KEY"),
		SourceStoreURL:    os.Getenv("SOURCE_STORE_URL"),
		SourceStoreAPIKey: os.Getenv("SOURCE_STORE_API_KEY"),
		TopK:          envInt("TOP_K", 120),
		BatchSize:     envInt("BATCH_SIZE", 12),
		Cutoff:        envFloat("CUTOFF", 0.7),
		FinalLimit:    envInt("FINAL_LIMIT", 24),
		Alpha:         envFloat("ALPHA", 0.75),
		CacheTTLDays:  envInt("CACHE_TTL_DAYS", 7),
		MaxImagePx:    envInt("MAX_IMAGE_PX", 1024),
		DataDir:       dataDir,
	}
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(name string, def float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Validate checks the required environment variables (marked * in §6)
// are present.
func (m *Manager) Validate() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var missing []string
	if m.cfg.DBURL == "" {
		missing = append(missing, "DB_URL")
	}
	if m.cfg.SourceRootID == "" {
		missing = append(missing, "SOURCE_ROOT_ID")
	}
	if m.cfg.EmbedModelURL == "" {
		missing = append(missing, "EMBED_MODEL_URL")
	}
	if m.cfg.VLMModelURL == "" {
		missing = append(missing, "VLM_MODEL_URL")
	}
	if m.cfg.VLMAPIKey == "" {
		missing = append(missing, "VLM_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// SetAdminToken hashes token with bcrypt and stores it, persisting the
// snapshot. Pass an empty token to disable admin auth.
func (m *Manager) SetAdminToken(token string) error {
	m.mu.Lock()
	if token == "" {
		m.cfg.AdminTokenHash = ""
	} else {
		hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("hash admin token: %w", err)
		}
		m.cfg.AdminTokenHash = string(hash)
	}
	m.mu.Unlock()
	return m.Save()
}

// CheckAdminToken reports whether token matches the stored hash. If no
// hash is configured, auth is considered disabled and this returns true.
func (m *Manager) CheckAdminToken(token string) bool {
	m.mu.RLock()
	hash := m.cfg.AdminTokenHash
	m.mu.RUnlock()
	if hash == "" {
		return true
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}

// Save persists an encrypted snapshot of the current config to disk.
func (m *Manager) Save() error {
	m.mu.RLock()
	out := m.cfg
	out.VLMAPIKey = m.encryptIfNeeded(m.cfg.VLMAPIKey)
	m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(m.path, data, 0600)
}

func (m *Manager) loadSnapshot() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config snapshot: %w", err)
	}
	var snap Config
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("parse config snapshot: %w", err)
	}
	decrypted, err := m.decryptIfNeeded(snap.VLMAPIKey)
	if err != nil {
		return fmt.Errorf("decrypt vlm api key: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.AdminTokenHash == "" {
		m.cfg.AdminTokenHash = snap.AdminTokenHash
	}
	if m.cfg.VLMAPIKey == "" && decrypted != "" {
		m.cfg.VLMAPIKey = decrypted
	}
	return nil
}

// --- AES-256-GCM encryption helpers ---

func (m *Manager) encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	block, err := aes.NewCipher(m.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(ciphertext), nil
}

func (m *Manager) decrypt(ciphertextHex string) (string, error) {
	if ciphertextHex == "" {
		return "", nil
	}
	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("hex decode: %w", err)
	}
	block, err := aes.NewCipher(m.encryptionKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (m *Manager) encryptIfNeeded(value string) string {
	if value == "" {
		return ""
	}
	encrypted, err := m.encrypt(value)
	if err != nil {
		return value
	}
	return encryptedPrefix + encrypted
}

func (m *Manager) decryptIfNeeded(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if strings.HasPrefix(value, encryptedPrefix) {
		return m.decrypt(value[len(encryptedPrefix):])
	}
	return value, nil
}

func getOrCreateEncryptionKey(dataDir string) ([]byte, error) {
	if keyHex := os.Getenv(encryptionKeyEnvVar); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption key hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
		}
		return key, nil
	}

	keyFile := filepath.Join(dataDir, "encryption.key")
	if data, err := os.ReadFile(keyFile); err == nil {
		keyHex := strings.TrimSpace(string(data))
		if key, err := hex.DecodeString(keyHex); err == nil && len(key) == 32 {
			os.Chmod(keyFile, 0600)
			return key, nil
		}
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyFile, []byte(hex.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("save encryption key: %w", err)
	}
	return key, nil
}
