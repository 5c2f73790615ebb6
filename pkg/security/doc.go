// Package security holds the credentials a client uses to reach its
// management server.
//
// A Context is produced by bootstrapping (or loaded from configuration) and
// handed to registration. In pre-shared key mode it derives per-request
// authentication keys with HKDF-SHA256; in certificate mode it supplies the
// client certificate and the trusted server certificate for TLS.
package security
