package auth

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/pkcs12"
)

var ErrInvalidCertificate = errors.New("invalid certificate")

// KeyPair is a validated device client certificate and its private key.
type KeyPair struct {
	CertificatePEM []byte
	PrivateKeyPEM  []byte
	Fingerprint    string // hex SHA-256 of the leaf DER
	Subject        string
	NotAfter       time.Time
}

// ParseKeyPair checks that certPEM and keyPEM belong together and extracts the
// leaf certificate details.
func ParseKeyPair(certPEM, keyPEM []byte) (*KeyPair, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("%w: parse leaf: %v", ErrInvalidCertificate, err)
	}

	sum := sha256.Sum256(leaf.Raw)
	return &KeyPair{
		CertificatePEM: certPEM,
		PrivateKeyPEM:  keyPEM,
		Fingerprint:    hex.EncodeToString(sum[:]),
		Subject:        leaf.Subject.String(),
		NotAfter:       leaf.NotAfter,
	}, nil
}

// DecodePKCS12 unpacks a .p12/.pfx bundle as issued by some fiscal authorities.
func DecodePKCS12(bundle []byte, password string) (*KeyPair, error) {
	key, cert, err := pkcs12.Decode(bundle, password)
	if err != nil {
		return nil, fmt.Errorf("%w: decode pkcs12: %v", ErrInvalidCertificate, err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal private key: %v", ErrInvalidCertificate, err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	return ParseKeyPair(certPEM, keyPEM)
}
