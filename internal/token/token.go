package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalid = errors.New("invalid token")
	ErrExpired = errors.New("token expired")
)

// wirePayload is the signed encoding. A reviewer action token binds one
// reviewer to one decision on one submission, so a leaked token cannot be
// replayed against other submissions or upgraded to a different decision.
type wirePayload struct {
	SubmissionID string `json:"s"`
	ReviewerID   int64  `json:"r"`
	Decision     string `json:"d"`
	TS           int64  `json:"t"`
}

// Payload is the verified content of a token.
type Payload struct {
	SubmissionID string
	ReviewerID   int64
	Decision     string
}

// Generate creates a signed reviewer action token.
func Generate(submissionID string, reviewerID int64, decision string, secret []byte) (string, error) {
	pl := wirePayload{
		SubmissionID: submissionID,
		ReviewerID:   reviewerID,
		Decision:     decision,
		TS:           time.Now().Unix(),
	}
	data, err := json.Marshal(pl)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	sig := mac.Sum(nil)

	enc := base64.RawURLEncoding
	return enc.EncodeToString(data) + "." + enc.EncodeToString(sig), nil
}

// Verify checks the token integrity and expiry and returns the payload values.
func Verify(token string, secret []byte, ttl time.Duration) (Payload, error) {
	var out Payload
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return out, ErrInvalid
	}
	enc := base64.RawURLEncoding
	data, err := enc.DecodeString(parts[0])
	if err != nil {
		return out, ErrInvalid
	}
	sig, err := enc.DecodeString(parts[1])
	if err != nil {
		return out, ErrInvalid
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return out, ErrInvalid
	}

	var pl wirePayload
	if err := json.Unmarshal(data, &pl); err != nil {
		return out, ErrInvalid
	}
	if ttl > 0 && time.Since(time.Unix(pl.TS, 0)) > ttl {
		return out, ErrExpired
	}
	out.SubmissionID = pl.SubmissionID
	out.ReviewerID = pl.ReviewerID
	out.Decision = pl.Decision
	return out, nil
}
