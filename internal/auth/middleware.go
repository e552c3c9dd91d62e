package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/csai/cyborg-arviz-agent/internal/config"
)

const (
	HeaderTimestamp = "X-Arviz-Timestamp"
	HeaderNonce     = "X-Arviz-Nonce"
	HeaderSignature = "X-Arviz-Signature"
)

const maxSignedBody = 1 << 20

var (
	errMissingHeaders = errors.New("missing hmac headers")
	errBadTimestamp   = errors.New("invalid timestamp")
	errSkew           = errors.New("timestamp skew too large")
	errReplay         = errors.New("nonce replay detected")
)

// Authenticator guards the control API. Mode "none" disables it, which is
// the default for a loopback listener.
type Authenticator struct {
	cfg          config.AuthConfig
	healthPublic bool
	replay       *replayGuard
}

func NewAuthenticator(cfg config.AuthConfig, healthPublic bool) *Authenticator {
	ttl := time.Duration(cfg.NonceTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 360 * time.Second
	}
	return &Authenticator{cfg: cfg, healthPublic: healthPublic, replay: newReplayGuard(ttl)}
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	mode := strings.ToLower(a.cfg.Mode)
	if mode == "" || mode == "none" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.healthPublic && (r.URL.Path == "/healthz" || r.URL.Path == "/readyz") {
			next.ServeHTTP(w, r)
			return
		}

		var allowed bool
		switch mode {
		case "bearer":
			allowed = a.bearerOK(r)
		case "hmac":
			allowed = a.hmacOK(r)
		case "jwt":
			allowed = a.jwtOK(r)
		default:
			allowed = a.bearerOK(r) || a.jwtOK(r) || a.hmacOK(r)
		}
		if !allowed {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"Invalid API authentication.","details":null}}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) bearerOK(r *http.Request) bool {
	if a.cfg.BearerToken == "" {
		return false
	}
	provided, ok := bearerToken(r)
	return ok && hmac.Equal([]byte(provided), []byte(a.cfg.BearerToken))
}

// jwtOK accepts an HS256 bearer token that carries an expiry and, when an
// issuer is configured, that issuer.
func (a *Authenticator) jwtOK(r *http.Request) bool {
	if a.cfg.JWTSecret == "" {
		return false
	}
	raw, ok := bearerToken(r)
	if !ok {
		return false
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(5 * time.Second),
	}
	if a.cfg.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.JWTIssuer))
	}
	_, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	}, opts...)
	return err == nil
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	return token, token != ""
}

func (a *Authenticator) hmacOK(r *http.Request) bool {
	if a.cfg.HMACSecret == "" {
		return false
	}
	return a.verifyHMAC(r, time.Now().UTC()) == nil
}

func (a *Authenticator) verifyHMAC(r *http.Request, now time.Time) error {
	tsRaw := r.Header.Get(HeaderTimestamp)
	nonce := r.Header.Get(HeaderNonce)
	sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if tsRaw == "" || nonce == "" || sig == "" {
		return errMissingHeaders
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return errBadTimestamp
	}
	skew := time.Duration(a.cfg.HMACSkewSeconds) * time.Second
	if skew <= 0 {
		skew = 300 * time.Second
	}
	if d := now.Sub(time.Unix(ts, 0)); d > skew || d < -skew {
		return errSkew
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
		if err != nil {
			return err
		}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	expected := Sign(a.cfg.HMACSecret, r.Method, r.URL.Path, tsRaw, nonce, body)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return errors.New("signature mismatch")
	}
	if !a.replay.markIfNew(nonce, now.Add(skew+time.Minute)) {
		return errReplay
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 over the canonical request:
// method, path, timestamp, nonce and the hex SHA-256 of the body, newline
// separated.
func Sign(secret, method, path, timestamp, nonce string, body []byte) string {
	sum := sha256.Sum256(body)
	canonical := method + "\n" + path + "\n" + timestamp + "\n" + nonce + "\n" + hex.EncodeToString(sum[:])
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}
