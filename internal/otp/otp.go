package otp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"math/big"
	"strings"
	"time"
)

// Purpose scopes a passcode. A user holds at most one current record per purpose.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposeSMSVerification   Purpose = "sms_verification"
	PurposePasswordReset     Purpose = "password_reset"
	PurposeLoginVerification Purpose = "login_verification"
)

// Delivery channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// Purposes lists every supported purpose in a stable order.
var Purposes = []Purpose{
	PurposeEmailVerification,
	PurposeSMSVerification,
	PurposePasswordReset,
	PurposeLoginVerification,
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeEmailVerification, PurposeSMSVerification, PurposePasswordReset, PurposeLoginVerification:
		return true
	default:
		return false
	}
}

// Channel returns the delivery channel used for codes of this purpose.
func (p Purpose) Channel() string {
	if p == PurposeSMSVerification {
		return ChannelSMS
	}
	return ChannelEmail
}

// State is the lifecycle state of a stored record.
type State uint8

const (
	StatePending State = iota
	StateVerified
	StateExpired
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateVerified:
		return "verified"
	case StateExpired:
		return "expired"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s != StatePending
}

// Outcome is the result of a single verification attempt.
type Outcome uint8

const (
	OutcomeNotFound Outcome = iota
	OutcomeVerified
	OutcomeInvalidCode
	OutcomeExpired
	OutcomeAttemptsExhausted
	OutcomeAlreadyVerified
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeInvalidCode:
		return "invalid_code"
	case OutcomeExpired:
		return "expired"
	case OutcomeAttemptsExhausted:
		return "attempts_exhausted"
	case OutcomeAlreadyVerified:
		return "already_verified"
	default:
		return "not_found"
	}
}

// Record is the stored form of an issued passcode.
type Record struct {
	ID          string
	UserID      string
	Purpose     Purpose
	Destination string
	CodeHash    [32]byte
	State       State
	Attempts    uint16
	MaxAttempts uint16
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// AttemptsRemaining returns how many wrong submissions the record still tolerates.
func (r *Record) AttemptsRemaining() int {
	if r == nil || r.State != StatePending || r.Attempts >= r.MaxAttempts {
		return 0
	}
	return int(r.MaxAttempts - r.Attempts)
}

// Evaluate applies one verification attempt to rec at time now and reports
// the outcome and whether rec was modified. The caller persists rec when
// changed is true. A nil record yields OutcomeNotFound.
func Evaluate(rec *Record, provided [32]byte, now time.Time) (outcome Outcome, changed bool) {
	if rec == nil {
		return OutcomeNotFound, false
	}

	switch rec.State {
	case StateVerified:
		return OutcomeAlreadyVerified, false
	case StateExpired:
		return OutcomeExpired, false
	case StateExhausted:
		return OutcomeAttemptsExhausted, false
	}

	if now.After(rec.ExpiresAt) {
		rec.State = StateExpired
		return OutcomeExpired, true
	}

	if rec.Attempts >= rec.MaxAttempts {
		rec.State = StateExhausted
		return OutcomeAttemptsExhausted, true
	}

	if subtle.ConstantTimeCompare(rec.CodeHash[:], provided[:]) == 1 {
		rec.State = StateVerified
		return OutcomeVerified, true
	}

	rec.Attempts++
	if rec.Attempts >= rec.MaxAttempts {
		rec.State = StateExhausted
		return OutcomeAttemptsExhausted, true
	}
	return OutcomeInvalidCode, true
}

// NewCode returns a uniformly random numeric code of the given length.
func NewCode(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	ten := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NormalizeCode strips surrounding whitespace and folds case.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// HashCode binds a code to its owner and purpose. Length prefixes keep
// ("ab","c") and ("a","bc") apart.
func HashCode(userID string, p Purpose, code string) [32]byte {
	h := sha256.New()
	var n [4]byte
	for _, part := range []string{userID, string(p), code} {
		binary.BigEndian.PutUint32(n[:], uint32(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
