package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/m2mlink/m2m-go/pkg/wire"
)

// Security errors.
var (
	ErrMissingServerURI = errors.New("server URI required")
	ErrMissingKey       = errors.New("pre-shared key required")
	ErrMissingIdentity  = errors.New("PSK identity required")
	ErrMissingCert      = errors.New("certificate and key required")
	ErrBadTag           = errors.New("authentication tag mismatch")
	ErrWrongMode        = errors.New("operation not available in this security mode")
)

// SessionKeySize is the size of derived session keys in bytes.
const SessionKeySize = 32

// HKDF info labels.
const (
	sessionInfo = "m2m session key"
	authInfo    = "m2m request auth"
)

// Mode is the security mode used towards the server.
type Mode uint8

const (
	// ModeNoSec sends everything in the clear.
	ModeNoSec Mode = 0

	// ModePSK authenticates with a pre-shared key.
	ModePSK Mode = 1

	// ModeCertificate authenticates with X.509 certificates over TLS.
	ModeCertificate Mode = 2
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeNoSec:
		return "NO_SEC"
	case ModePSK:
		return "PSK"
	case ModeCertificate:
		return "CERTIFICATE"
	default:
		return "UNKNOWN"
	}
}

// ParseMode parses "nosec", "psk" or "certificate", ignoring case. The
// names returned by Mode.String are accepted too.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "", "nosec", "no_sec", "none":
		return ModeNoSec, nil
	case "psk":
		return ModePSK, nil
	case "certificate", "cert":
		return ModeCertificate, nil
	default:
		return ModeNoSec, fmt.Errorf("unknown security mode %q", s)
	}
}

// Context is the security material for one server.
type Context struct {
	// ServerURI is the management server address, e.g. "tcp://host:5684".
	ServerURI string

	// Mode selects the security mode.
	Mode Mode

	// Identity is the PSK identity (usually the endpoint name).
	Identity string

	// Key is the pre-shared key.
	Key []byte

	// ServerPublicKey is the server certificate (DER) trusted in certificate mode.
	ServerPublicKey []byte

	// PublicKey is the client certificate (DER).
	PublicKey []byte

	// SecretKey is the client private key (PKCS#8 DER).
	SecretKey []byte
}

// Validate checks that the material required by Mode is present.
func (c *Context) Validate() error {
	if c.ServerURI == "" {
		return ErrMissingServerURI
	}
	switch c.Mode {
	case ModePSK:
		if c.Identity == "" {
			return ErrMissingIdentity
		}
		if len(c.Key) == 0 {
			return ErrMissingKey
		}
	case ModeCertificate:
		if len(c.PublicKey) == 0 || len(c.SecretKey) == 0 {
			return ErrMissingCert
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	return &Context{
		ServerURI:       c.ServerURI,
		Mode:            c.Mode,
		Identity:        c.Identity,
		Key:             bytes.Clone(c.Key),
		ServerPublicKey: bytes.Clone(c.ServerPublicKey),
		PublicKey:       bytes.Clone(c.PublicKey),
		SecretKey:       bytes.Clone(c.SecretKey),
	}
}

// SessionKey derives a session key from the pre-shared key and nonce.
func (c *Context) SessionKey(nonce []byte) ([]byte, error) {
	return c.derive(nonce, sessionInfo)
}

// Sign returns the authentication tag for payload.
// In NoSec and certificate mode it returns nil; TLS or nothing protects
// those requests.
func (c *Context) Sign(payload []byte) ([]byte, error) {
	if c.Mode != ModePSK {
		return nil, nil
	}
	key, err := c.derive([]byte(c.Identity), authInfo)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// Verify checks the tag produced by Sign.
func (c *Context) Verify(payload, tag []byte) error {
	if c.Mode != ModePSK {
		return nil
	}
	want, err := c.Sign(payload)
	if err != nil {
		return err
	}
	if !hmac.Equal(want, tag) {
		return ErrBadTag
	}
	return nil
}

// SignRequest sets req.Auth.
func (c *Context) SignRequest(req *wire.Request) error {
	data, err := wire.SigningBytes(req)
	if err != nil {
		return err
	}
	tag, err := c.Sign(data)
	if err != nil {
		return err
	}
	req.Auth = tag
	return nil
}

// VerifyRequest checks req.Auth.
func (c *Context) VerifyRequest(req *wire.Request) error {
	data, err := wire.SigningBytes(req)
	if err != nil {
		return err
	}
	return c.Verify(data, req.Auth)
}

func (c *Context) derive(salt []byte, info string) ([]byte, error) {
	if c.Mode != ModePSK {
		return nil, fmt.Errorf("%w: %s", ErrWrongMode, c.Mode)
	}
	if len(c.Key) == 0 {
		return nil, ErrMissingKey
	}
	r := hkdf.New(sha256.New, c.Key, salt, []byte(info))
	out := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return out, nil
}

// Certificate returns the client TLS certificate.
func (c *Context) Certificate() (tls.Certificate, error) {
	if c.Mode != ModeCertificate {
		return tls.Certificate{}, fmt.Errorf("%w: %s", ErrWrongMode, c.Mode)
	}
	if len(c.PublicKey) == 0 || len(c.SecretKey) == 0 {
		return tls.Certificate{}, ErrMissingCert
	}
	key, err := x509.ParsePKCS8PrivateKey(c.SecretKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse client key: %w", err)
	}
	leaf, err := x509.ParseCertificate(c.PublicKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse client certificate: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{bytes.Clone(c.PublicKey)},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// ServerPool returns a pool holding the trusted server certificate, or nil
// if none is configured.
func (c *Context) ServerPool() (*x509.CertPool, error) {
	if len(c.ServerPublicKey) == 0 {
		return nil, nil
	}
	cert, err := x509.ParseCertificate(c.ServerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("parse server certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return pool, nil
}

// BootstrapInfo converts the context to its wire form.
func (c *Context) BootstrapInfo() *wire.BootstrapInfo {
	return &wire.BootstrapInfo{
		ServerURI:       c.ServerURI,
		Mode:            uint8(c.Mode),
		Identity:        c.Identity,
		Key:             bytes.Clone(c.Key),
		ServerPublicKey: bytes.Clone(c.ServerPublicKey),
	}
}

// FromBootstrapInfo builds a context from bootstrap server credentials.
// Client certificate material is taken from base, if given.
func FromBootstrapInfo(info *wire.BootstrapInfo, base *Context) *Context {
	c := &Context{}
	if base != nil {
		c.PublicKey = bytes.Clone(base.PublicKey)
		c.SecretKey = bytes.Clone(base.SecretKey)
	}
	c.ServerURI = info.ServerURI
	c.Mode = Mode(info.Mode)
	c.Identity = info.Identity
	c.Key = bytes.Clone(info.Key)
	c.ServerPublicKey = bytes.Clone(info.ServerPublicKey)
	return c
}
