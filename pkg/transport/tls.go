package transport

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/m2mlink/m2m-go/pkg/security"
	"github.com/m2mlink/m2m-go/pkg/version"
)

// ALPNProtocol is the ALPN identifier negotiated on TLS bindings.
var ALPNProtocol = version.ALPNProtocol(version.CurrentMajor)

// Default ports.
const (
	// DefaultPort is the default plain (UDP or TCP) port.
	DefaultPort = 5683

	// DefaultSecurePort is the default TLS port.
	DefaultSecurePort = 5684
)

// TLS errors.
var (
	ErrNoServerTrust   = errors.New("no trusted server certificate")
	ErrServerKeyPinned = errors.New("server certificate does not match pinned key")
)

var curvePreferences = []tls.CurveID{tls.X25519, tls.CurveP256}

// ClientTLSConfig builds the client TLS configuration for a certificate mode
// security context. The server is authenticated by comparing its leaf
// certificate with sec.ServerPublicKey; host names are not checked.
func ClientTLSConfig(sec *security.Context, serverName string) (*tls.Config, error) {
	cert, err := sec.Certificate()
	if err != nil {
		return nil, err
	}
	if len(sec.ServerPublicKey) == 0 {
		return nil, ErrNoServerTrust
	}
	pinned := bytes.Clone(sec.ServerPublicKey)

	return &tls.Config{
		MinVersion:             tls.VersionTLS13,
		MaxVersion:             tls.VersionTLS13,
		Certificates:           []tls.Certificate{cert},
		ServerName:             serverName,
		NextProtos:             []string{ALPNProtocol},
		CurvePreferences:       curvePreferences,
		SessionTicketsDisabled: true,

		// Chain and host name verification are replaced by the pin check.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return fmt.Errorf("%w: no certificate presented", ErrServerKeyPinned)
			}
			if !bytes.Equal(rawCerts[0], pinned) {
				return ErrServerKeyPinned
			}
			return nil
		},
	}, nil
}

// ServerTLSConfig builds the management server TLS configuration. Clients
// must present a certificate; with a nil clientCAs pool any certificate is
// accepted.
func ServerTLSConfig(cert tls.Certificate, clientCAs *x509.CertPool) (*tls.Config, error) {
	if len(cert.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}
	cfg := &tls.Config{
		MinVersion:             tls.VersionTLS13,
		MaxVersion:             tls.VersionTLS13,
		Certificates:           []tls.Certificate{cert},
		ClientAuth:             tls.RequireAndVerifyClientCert,
		ClientCAs:              clientCAs,
		NextProtos:             version.SupportedALPNProtocols(),
		CurvePreferences:       curvePreferences,
		SessionTicketsDisabled: true,
	}
	if clientCAs == nil {
		cfg.ClientAuth = tls.RequireAnyClientCert
	}
	return cfg, nil
}

// VerifyConnection checks the negotiated TLS version and ALPN protocol.
func VerifyConnection(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3", state.Version)
	}
	major, err := version.MajorFromALPN(state.NegotiatedProtocol)
	if err != nil {
		return err
	}
	if major != version.CurrentMajor {
		return fmt.Errorf("ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}
