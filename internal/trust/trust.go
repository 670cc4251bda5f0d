// Package trust implements TLS certificate fingerprint pinning for wss
// backends.
//
// Backends present self-signed certificates; instead of CA validation the
// client pins the certificate's SHA-256 fingerprint, which the backend
// advertises out of band (mDNS TXT record, or operator-supplied). A
// connection is trusted exactly when the presented leaf certificate hashes
// to the pinned value.
package trust

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"strings"

	apperrors "github.com/repowiki/console/internal/errors"
)

// Fingerprint computes the SHA-256 fingerprint of a certificate as
// colon-separated uppercase hex bytes, e.g. "AA:BB:CC:...". This is the
// format backends advertise.
func Fingerprint(cert *x509.Certificate) string {
	hash := sha256.Sum256(cert.Raw)
	hexStr := hex.EncodeToString(hash[:])

	var parts []string
	for i := 0; i < len(hexStr); i += 2 {
		parts = append(parts, strings.ToUpper(hexStr[i:i+2]))
	}
	return strings.Join(parts, ":")
}

// NormalizePin canonicalizes an operator-supplied pin to the Fingerprint
// format. It accepts colon-separated or bare hex in either case and
// returns a "trust.bad_pin" error for anything that is not a SHA-256
// digest.
func NormalizePin(pin string) (string, error) {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(pin), ":", ""))
	if len(cleaned) != sha256.Size*2 {
		return "", apperrors.BadPin(pin)
	}
	if _, err := hex.DecodeString(cleaned); err != nil {
		return "", apperrors.BadPin(pin)
	}

	var parts []string
	for i := 0; i < len(cleaned); i += 2 {
		parts = append(parts, cleaned[i:i+2])
	}
	return strings.Join(parts, ":"), nil
}

// ClientTLSConfig returns a TLS configuration that verifies the backend by
// fingerprint pin instead of CA chain. An empty pin returns (nil, nil):
// standard CA verification applies.
func ClientTLSConfig(pin string) (*tls.Config, error) {
	if pin == "" {
		return nil, nil
	}
	want, err := NormalizePin(pin)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,

		// Chain and hostname validation are disabled because backends use
		// self-signed certificates; VerifyPeerCertificate below is the
		// actual trust check and runs on every handshake.
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 {
				return apperrors.New(apperrors.CodeTrustPinMismatch, "backend presented no certificate")
			}
			cert, err := x509.ParseCertificate(rawCerts[0])
			if err != nil {
				return apperrors.Wrap(apperrors.CodeTrustPinMismatch, "parse backend certificate", err)
			}
			if got := Fingerprint(cert); got != want {
				return apperrors.PinMismatch(got)
			}
			return nil
		},
	}, nil
}
