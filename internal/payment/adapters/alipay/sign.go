package alipay

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"
)

const (
	SignTypeRSA  = "RSA"
	SignTypeRSA2 = "RSA2"
)

var errInvalidKey = errors.New("invalid_key")

// Sign produces the base64 RSA signature Alipay expects over content.
func Sign(params map[string]string, privateKey, signType string) (string, error) {
	key, err := parsePrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	hash, digest := hashFor(signType, signContent(params))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, hash, digest)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// VerifySignature checks a base64 RSA signature against content. It
// returns false on any decode or key error rather than surfacing why;
// callers treat every failure mode identically.
func VerifySignature(content, signature, publicKey, signType string) bool {
	key, err := parsePublicKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	hash, digest := hashFor(signType, content)
	return rsa.VerifyPKCS1v15(key, hash, digest, sig) == nil
}

func hashFor(signType, content string) (crypto.Hash, []byte) {
	if strings.EqualFold(signType, SignTypeRSA) {
		sum := sha1.Sum([]byte(content))
		return crypto.SHA1, sum[:]
	}
	sum := sha256.Sum256([]byte(content))
	return crypto.SHA256, sum[:]
}

// parsePrivateKey accepts PEM or the bare base64 blob the Alipay
// console hands out, in PKCS#8 or PKCS#1 form.
func parsePrivateKey(raw string) (*rsa.PrivateKey, error) {
	der, err := keyDER(raw)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errInvalidKey
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, errInvalidKey
	}
	return key, nil
}

func parsePublicKey(raw string) (*rsa.PublicKey, error) {
	der, err := keyDER(raw)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errInvalidKey
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errInvalidKey
	}
	return key, nil
}

func keyDER(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errInvalidKey
	}
	if strings.Contains(raw, "-----BEGIN") {
		block, _ := pem.Decode([]byte(raw))
		if block == nil {
			return nil, errInvalidKey
		}
		return block.Bytes, nil
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(raw), ""))
	if err != nil {
		return nil, errInvalidKey
	}
	return der, nil
}
