package accesstoken

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"
)

// ErrInvalidKey is returned when PEM or key type is invalid.
var ErrInvalidKey = errors.New("access token: invalid key")

// loadPEM reads content from path if s does not look like inline PEM.
func loadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(s), nil
	}
	return os.ReadFile(s) // #nosec G304 -- operator-supplied key path.
}

func parsePrivateKey(s string) (crypto.Signer, error) {
	pemBytes, err := loadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	default:
		return nil, ErrInvalidKey
	}
}

func parsePublicKey(s string) (crypto.PublicKey, error) {
	pemBytes, err := loadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	default:
		return nil, ErrInvalidKey
	}
}

// asymmetricKeys loads the signing key for alg and the matching verification key.
func asymmetricKeys(alg, privatePEM, publicPEM string) (crypto.Signer, crypto.PublicKey, error) {
	signer, err := parsePrivateKey(privatePEM)
	if err != nil {
		return nil, nil, err
	}

	pub := signer.Public()
	if strings.TrimSpace(publicPEM) != "" {
		if pub, err = parsePublicKey(publicPEM); err != nil {
			return nil, nil, err
		}
	}

	switch alg {
	case AlgRS256:
		if _, ok := signer.(*rsa.PrivateKey); !ok {
			return nil, nil, ErrInvalidKey
		}
		if _, ok := pub.(*rsa.PublicKey); !ok {
			return nil, nil, ErrInvalidKey
		}
	case AlgES256:
		k, ok := signer.(*ecdsa.PrivateKey)
		if !ok || k.Curve != elliptic.P256() {
			return nil, nil, ErrInvalidKey
		}
		if _, ok := pub.(*ecdsa.PublicKey); !ok {
			return nil, nil, ErrInvalidKey
		}
	case AlgEdDSA:
		if _, ok := signer.(ed25519.PrivateKey); !ok {
			return nil, nil, ErrInvalidKey
		}
		if _, ok := pub.(ed25519.PublicKey); !ok {
			return nil, nil, ErrInvalidKey
		}
	default:
		return nil, nil, ErrInvalidKey
	}
	return signer, pub, nil
}
