// Package scoring implements the PolicyScoringVerifier: RSA-verifying a
// signed scoring payload a trusted Policy server may have injected into
// the message headers before handing it to the Content Filter
// (spec.md §4.3, §7's "Policy scoring forgery" edge case).
package scoring

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log/slog"

	"github.com/busybox42/decency/internal/filter"
	"github.com/busybox42/decency/internal/session"
)

const (
	headerPayload   = "X-Decency-Scoring"
	headerSignature = "X-Decency-Scoring-Signature"
)

// Payload is the JSON structure the Policy server signs and base64s
// into the X-Decency-Scoring header.
type Payload struct {
	QueueID string   `json:"queue_id"`
	Score   int64    `json:"score"`
	Details []string `json:"details,omitempty"`
}

// Config configures the verifier: a PEM-encoded RSA public key and
// whether to enforce verification at all (spec.md's accept_scoring).
type Config struct {
	Name      string
	Disable   bool
	PublicKey string // PEM-encoded RSA public key
}

// Verifier is a filter.Module: it never raises Spam/Virus/Drop, only
// merges an already-verified score (or logs and ignores a forged one).
type Verifier struct {
	cfg    Config
	key    *rsa.PublicKey
	logger *slog.Logger
}

// New parses cfg.PublicKey once at construction; per spec.md §6's exit
// codes, a configured-but-unparseable key is a startup error.
func New(cfg Config, logger *slog.Logger) (*Verifier, error) {
	v := &Verifier{cfg: cfg, logger: logger.With("module", cfg.Name)}
	if cfg.Disable || cfg.PublicKey == "" {
		return v, nil
	}
	key, err := parsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, &filter.ConfigError{Field: "scoring.public_key", Err: err}
	}
	v.key = key
	return v, nil
}

func parsePublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("scoring: no PEM block found in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("scoring: parse public key: %w", err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("scoring: public key is not RSA")
	}
	return rsaKey, nil
}

func (v *Verifier) Name() string    { return v.cfg.Name }
func (v *Verifier) Disabled() bool  { return v.cfg.Disable || v.key == nil }

// Handle verifies the signature over the raw (still-base64) payload
// bytes and, only on success, merges Payload.Score/Details into the
// session. A missing header pair is not an error — most messages were
// never touched by a Policy server. A present-but-unverifiable payload
// is logged and dropped, per spec.md §7's edge case 6.
func (v *Verifier) Handle(ctx context.Context, s *session.MessageSession) error {
	payloadB64, ok := s.MIME().Get(headerPayload)
	sigB64, sigOk := s.MIME().Get(headerSignature)
	if !ok || !sigOk || payloadB64 == "" || sigB64 == "" {
		return nil
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		v.logger.Warn("scoring header signature not valid base64", "queue_id", s.QueueID())
		return nil
	}

	hash := sha256.Sum256([]byte(payloadB64))
	if err := rsa.VerifyPKCS1v15(v.key, crypto.SHA256, hash[:], sig); err != nil {
		v.logger.Warn("scoring header signature verification failed", "queue_id", s.QueueID())
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		v.logger.Warn("scoring header payload not valid base64 despite valid signature", "queue_id", s.QueueID())
		return nil
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		v.logger.Warn("scoring header payload not valid JSON despite valid signature", "queue_id", s.QueueID())
		return nil
	}

	if payload.QueueID != "" && s.QueueID() != "" && payload.QueueID != s.QueueID() {
		v.logger.Warn("scoring header queue_id mismatch, ignoring",
			"queue_id", s.QueueID(), "payload_queue_id", payload.QueueID)
		return nil
	}

	detail := fmt.Sprintf("policy_scoring: verified signed score %d", payload.Score)
	s.AddScore(payload.Score, detail)
	for _, d := range payload.Details {
		s.AppendDetail(d)
	}
	return nil
}

// Sign is the Policy-server-side counterpart used by tests and by any
// future Policy server implementation sharing this package: it builds
// and signs a Payload, returning the two header values ready to stamp.
func Sign(privPEM []byte, payload Payload) (headerValue, sigValue string, err error) {
	block, _ := pem.Decode(privPEM)
	if block == nil {
		return "", "", fmt.Errorf("scoring: no PEM block found in private key")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return "", "", fmt.Errorf("scoring: parse private key: %w", err)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("scoring: marshal payload: %w", err)
	}
	payloadB64 := base64.StdEncoding.EncodeToString(raw)

	hash := sha256.Sum256([]byte(payloadB64))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
	if err != nil {
		return "", "", fmt.Errorf("scoring: sign: %w", err)
	}

	return payloadB64, base64.StdEncoding.EncodeToString(sig), nil
}
