package persistence

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/m2mlink/m2m-go/pkg/security"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// ErrVersionMismatch is returned by Load for state files of another format.
var ErrVersionMismatch = errors.New("unsupported state file version")

// DeviceState contains the runtime state of a device client.
type DeviceState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Endpoint is the endpoint name the state belongs to.
	Endpoint string `json:"endpoint"`

	// Server holds the credentials received from the bootstrap server.
	Server *Credentials `json:"server,omitempty"`

	// BootstrappedAt is when Server was received.
	BootstrappedAt time.Time `json:"bootstrapped_at,omitempty"`
}

// Credentials mirrors security.Context for JSON serialization.
type Credentials struct {
	ServerURI       string `json:"server_uri"`
	Mode            string `json:"mode"`
	Identity        string `json:"identity,omitempty"`
	Key             []byte `json:"key,omitempty"`
	ServerPublicKey []byte `json:"server_public_key,omitempty"`
	PublicKey       []byte `json:"public_key,omitempty"`
	SecretKey       []byte `json:"secret_key,omitempty"`
}

// CredentialsFrom copies a security context.
func CredentialsFrom(sec *security.Context) *Credentials {
	return &Credentials{
		ServerURI:       sec.ServerURI,
		Mode:            sec.Mode.String(),
		Identity:        sec.Identity,
		Key:             sec.Key,
		ServerPublicKey: sec.ServerPublicKey,
		PublicKey:       sec.PublicKey,
		SecretKey:       sec.SecretKey,
	}
}

// Context rebuilds the security context and validates it.
func (c *Credentials) Context() (*security.Context, error) {
	mode, err := security.ParseMode(c.Mode)
	if err != nil {
		return nil, err
	}
	sec := &security.Context{
		ServerURI:       c.ServerURI,
		Mode:            mode,
		Identity:        c.Identity,
		Key:             c.Key,
		ServerPublicKey: c.ServerPublicKey,
		PublicKey:       c.PublicKey,
		SecretKey:       c.SecretKey,
	}
	if err := sec.Validate(); err != nil {
		return nil, err
	}
	return sec, nil
}

// DeviceStateStore manages persistence of device state to a JSON file.
type DeviceStateStore struct {
	mu   sync.Mutex
	path string
}

// NewDeviceStateStore creates a new device state store.
func NewDeviceStateStore(path string) *DeviceStateStore {
	return &DeviceStateStore{path: path}
}

// Path returns the state file path.
func (s *DeviceStateStore) Path() string {
	return s.path
}

// Save persists the device state to disk.
func (s *DeviceStateStore) Save(state *DeviceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write to a temporary file first so a crash never leaves half a file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the device state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *DeviceStateStore) Load() (*DeviceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &DeviceState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}
	if state.Version != StateVersion {
		return nil, ErrVersionMismatch
	}

	return state, nil
}

// Clear removes the state file.
func (s *DeviceStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// BootstrappedServer returns the saved server credentials for endpoint, or
// nil when there are none. Credentials of another endpoint are ignored.
func (s *DeviceStateStore) BootstrappedServer(endpoint string) (*security.Context, error) {
	state, err := s.Load()
	if err != nil || state == nil || state.Server == nil || state.Endpoint != endpoint {
		return nil, err
	}
	return state.Server.Context()
}

// SaveBootstrap records the credentials received by endpoint.
func (s *DeviceStateStore) SaveBootstrap(endpoint string, sec *security.Context) error {
	now := time.Now()
	return s.Save(&DeviceState{
		SavedAt:        now,
		Endpoint:       endpoint,
		Server:         CredentialsFrom(sec),
		BootstrappedAt: now,
	})
}
