package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

type Algorithm string

const (
	AlgorithmSHA1   Algorithm = "sha_1"
	AlgorithmSHA256 Algorithm = "sha_256"
	AlgorithmSHA512 Algorithm = "sha_512"
)

func (a Algorithm) hash() (func() hash.Hash, string, error) {
	switch a {
	case AlgorithmSHA1:
		return sha1.New, "sha1=", nil
	case AlgorithmSHA256, "":
		return sha256.New, "sha256=", nil
	case AlgorithmSHA512:
		return sha512.New, "sha512=", nil
	default:
		return nil, "", fmt.Errorf("auth: unsupported hmac algorithm %q", a)
	}
}

type HMACStrategyConfig struct {
	Secret    string
	Header    string
	Algorithm Algorithm
	Encoding  string // hex | base64
	Prefix    string
}

// HMACStrategy recomputes the signature of the raw body and compares it with
// the signature header in constant time.
type HMACStrategy struct {
	secret     []byte
	header     string
	prefix     string
	encoding   string
	newHash    func() hash.Hash
	algoPrefix string
}

func NewHMACStrategy(cfg HMACStrategyConfig) (*HMACStrategy, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, fmt.Errorf("auth: hmac secret is required")
	}
	newHash, algoPrefix, err := cfg.Algorithm.hash()
	if err != nil {
		return nil, err
	}
	header := strings.TrimSpace(cfg.Header)
	if header == "" {
		header = defaultHMACHeader
	}
	encoding := strings.ToLower(strings.TrimSpace(cfg.Encoding))
	switch encoding {
	case "", "hex":
		encoding = "hex"
	case "base64":
	default:
		return nil, fmt.Errorf("auth: unsupported signature encoding %q", cfg.Encoding)
	}
	return &HMACStrategy{
		secret:     []byte(secret),
		header:     header,
		prefix:     strings.TrimSpace(cfg.Prefix),
		encoding:   encoding,
		newHash:    newHash,
		algoPrefix: algoPrefix,
	}, nil
}

func (s *HMACStrategy) Kind() Kind { return KindHMAC }

func (s *HMACStrategy) Verify(_ context.Context, req Request) error {
	signature := strings.TrimSpace(headerValue(req.Headers, s.header))
	if signature == "" {
		return fmt.Errorf("auth: %s signature header is required", s.header)
	}
	if s.prefix != "" {
		signature = strings.TrimPrefix(signature, s.prefix)
	} else if len(signature) > len(s.algoPrefix) && strings.EqualFold(signature[:len(s.algoPrefix)], s.algoPrefix) {
		signature = signature[len(s.algoPrefix):]
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return fmt.Errorf("auth: signature value is required")
	}

	var decoded []byte
	var err error
	if s.encoding == "base64" {
		decoded, err = base64.StdEncoding.DecodeString(signature)
	} else {
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return fmt.Errorf("auth: decode %s signature: %w", s.encoding, err)
	}
	if subtle.ConstantTimeCompare(decoded, s.Sign(req.RawBody)) != 1 {
		return fmt.Errorf("auth: signature verification failed")
	}
	return nil
}

// Sign returns the raw MAC of body.
func (s *HMACStrategy) Sign(body []byte) []byte {
	mac := hmac.New(s.newHash, s.secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
