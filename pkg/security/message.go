package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cuemby/beacon/pkg/types"
)

// DefaultTrackerPattern matches the provisioned fleet IDs tonw-0000..tonw-9999
const DefaultTrackerPattern = `^tonw-\d{4}$`

// Verdict is the outcome of authenticating one report
type Verdict int

const (
	Accepted Verdict = iota
	RejectedMalformed
	RejectedStale
	RejectedBadTag
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case RejectedMalformed:
		return "malformed"
	case RejectedStale:
		return "stale"
	case RejectedBadTag:
		return "bad_tag"
	default:
		return "unknown"
	}
}

// VerdictOf maps an error returned by Check onto a Verdict
func VerdictOf(err error) Verdict {
	switch {
	case err == nil:
		return Accepted
	case errors.Is(err, types.ErrStaleTimestamp):
		return RejectedStale
	case errors.Is(err, types.ErrAuthenticationFailed):
		return RejectedBadTag
	default:
		return RejectedMalformed
	}
}

// AuthenticatorConfig configures a MessageAuthenticator
type AuthenticatorConfig struct {
	Secret         []byte
	TrackerPattern string
	MaxAge         time.Duration
	Now            func() time.Time
}

// MessageAuthenticator validates shape, freshness and HMAC-SHA256 integrity
// tags of tracker reports against a process-wide shared secret.
type MessageAuthenticator struct {
	secret  []byte
	pattern *regexp.Regexp
	maxAge  time.Duration
	now     func() time.Time
}

// NewMessageAuthenticator creates an authenticator
func NewMessageAuthenticator(cfg AuthenticatorConfig) (*MessageAuthenticator, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("shared secret cannot be empty")
	}

	pattern := cfg.TrackerPattern
	if pattern == "" {
		pattern = DefaultTrackerPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid tracker pattern: %w", err)
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &MessageAuthenticator{
		secret:  secret,
		pattern: re,
		maxAge:  maxAge,
		now:     now,
	}, nil
}

// Authenticate returns the verdict for a report
func (a *MessageAuthenticator) Authenticate(report *types.TrackerReport) Verdict {
	_, err := a.Check(report)
	return VerdictOf(err)
}

// Check runs the three gates in order (shape, freshness, tag) and returns
// the parsed claimed time on success. Errors wrap ErrMalformedInput,
// ErrStaleTimestamp or ErrAuthenticationFailed.
func (a *MessageAuthenticator) Check(report *types.TrackerReport) (time.Time, error) {
	if report == nil {
		return time.Time{}, fmt.Errorf("%w: nil report", types.ErrMalformedInput)
	}

	if report.TrackerID == "" {
		return time.Time{}, fmt.Errorf("%w: missing tracker_uid", types.ErrMalformedInput)
	}
	if !a.pattern.MatchString(report.TrackerID) {
		return time.Time{}, fmt.Errorf("%w: tracker_uid %q does not match fleet pattern", types.ErrMalformedInput, report.TrackerID)
	}
	if !isJSONObject(report.Payload) {
		return time.Time{}, fmt.Errorf("%w: data must be a JSON object", types.ErrMalformedInput)
	}
	tag, err := decodeTag(report.IntegrityTag)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	claimedAt, err := ParseClaimedTime(report.ClaimedTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}

	if !WithinWindow(a.now(), claimedAt, a.maxAge) {
		return time.Time{}, fmt.Errorf("%w: %s is outside the %s window", types.ErrStaleTimestamp, claimedAt.Format(time.RFC3339), a.maxAge)
	}

	expected, err := a.mac(report.TrackerID, report.Payload, report.ClaimedTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", types.ErrMalformedInput, err)
	}
	if !hmac.Equal(expected, tag) {
		return time.Time{}, fmt.Errorf("%w: integrity tag mismatch", types.ErrAuthenticationFailed)
	}

	return claimedAt, nil
}

// Sign returns the hex integrity tag a producer holding the same secret
// would attach to the given fields.
func (a *MessageAuthenticator) Sign(trackerID string, payload, claimedTime json.RawMessage) (string, error) {
	sum, err := a.mac(trackerID, payload, claimedTime)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// MaxAge returns the configured replay window
func (a *MessageAuthenticator) MaxAge() time.Duration {
	return a.maxAge
}

func (a *MessageAuthenticator) mac(trackerID string, payload, claimedTime json.RawMessage) ([]byte, error) {
	msg, err := CanonicalMessage(trackerID, payload, claimedTime)
	if err != nil {
		return nil, err
	}
	h := hmac.New(sha256.New, a.secret)
	h.Write(msg)
	return h.Sum(nil), nil
}

// CanonicalMessage serializes the signed fields exactly as the fleet
// firmware does: {"tracker_uid":...,"data":...,"timestamp":...} with no
// insignificant whitespace and the payload's own key order preserved.
func CanonicalMessage(trackerID string, payload, claimedTime json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer

	id, err := marshalNoEscape(trackerID)
	if err != nil {
		return nil, err
	}

	buf.WriteString(`{"tracker_uid":`)
	buf.Write(id)
	buf.WriteString(`,"data":`)
	if err := json.Compact(&buf, payload); err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	buf.WriteString(`,"timestamp":`)
	if err := json.Compact(&buf, claimedTime); err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{' && json.Valid(raw)
}

func decodeTag(tag string) ([]byte, error) {
	if tag == "" {
		return nil, fmt.Errorf("missing hmac")
	}
	if len(tag) != sha256.Size*2 {
		return nil, fmt.Errorf("hmac must be %d hex characters, got %d", sha256.Size*2, len(tag))
	}
	b, err := hex.DecodeString(tag)
	if err != nil {
		return nil, fmt.Errorf("hmac is not hex: %w", err)
	}
	return b, nil
}
