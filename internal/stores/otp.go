package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/storefront/authguard/internal/otp"
)

const (
	otpKeyPrefix       = "aotp"
	otpRecordVersionV1 = 1
	otpMaxRetries      = 8

	// DefaultRetention keeps terminal records answerable after expiry.
	DefaultRetention = 24 * time.Hour
)

var (
	ErrOTPRedisUnavailable = errors.New("otp redis unavailable")
	ErrOTPContention       = errors.New("otp record contention")
	errOTPRecordTooLarge   = errors.New("otp record field too long")
)

// OTPStore keeps the single current passcode record per (user, purpose).
type OTPStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewOTPStore returns a Redis-backed record store. A zero retention uses
// [DefaultRetention].
func NewOTPStore(redisClient redis.UniversalClient, prefix string, retention time.Duration) *OTPStore {
	if prefix == "" {
		prefix = otpKeyPrefix
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &OTPStore{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *OTPStore) key(userID string, purpose otp.Purpose) string {
	return s.prefix + ":" + string(purpose) + ":" + userID
}

// Replace overwrites whatever record exists for (rec.UserID, rec.Purpose).
// A single SET is atomic, so no reader can observe two current records.
func (s *OTPStore) Replace(ctx context.Context, rec *otp.Record) error {
	encoded, err := encodeOTPRecord(rec)
	if err != nil {
		return err
	}

	ttl := rec.ExpiresAt.Sub(rec.CreatedAt) + s.retention
	if err := s.redis.Set(ctx, s.key(rec.UserID, rec.Purpose), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

// Current returns the stored record, or nil when none exists.
func (s *OTPStore) Current(ctx context.Context, userID string, purpose otp.Purpose) (*otp.Record, error) {
	data, err := s.redis.Get(ctx, s.key(userID, purpose)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}

	rec, err := decodeOTPRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return rec, nil
}

// Attempt loads the current record, applies [otp.Evaluate] and writes the
// result back under WATCH, retrying when another writer wins the race.
func (s *OTPStore) Attempt(
	ctx context.Context,
	userID string,
	purpose otp.Purpose,
	provided [32]byte,
	now time.Time,
) (*otp.Record, otp.Outcome, error) {
	key := s.key(userID, purpose)

	for i := 0; i < otpMaxRetries; i++ {
		var (
			rec     *otp.Record
			outcome otp.Outcome
		)

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					outcome = otp.OutcomeNotFound
					return nil
				}
				return err
			}

			rec, err = decodeOTPRecord(data)
			if err != nil {
				return err
			}

			var changed bool
			outcome, changed = otp.Evaluate(rec, provided, now)
			if !changed {
				return nil
			}

			updated, err := encodeOTPRecord(rec)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, otp.OutcomeNotFound, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}
		return rec, outcome, nil
	}

	return nil, otp.OutcomeNotFound, ErrOTPContention
}

// Ping checks connectivity to the backing Redis.
func (s *OTPStore) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return nil
}

func encodeOTPRecord(rec *otp.Record) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(otpRecordVersionV1)
	buf.WriteByte(byte(rec.State))

	for _, v := range []any{
		rec.Attempts,
		rec.MaxAttempts,
		rec.CreatedAt.UnixNano(),
		rec.ExpiresAt.UnixNano(),
	} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	for _, field := range []string{rec.ID, rec.UserID, string(rec.Purpose), rec.Destination} {
		if len(field) > 65535 {
			return nil, errOTPRecordTooLarge
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}
	buf.Write(rec.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (*otp.Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersionV1 {
		return nil, errors.New("invalid otp record version")
	}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	rec := &otp.Record{State: otp.State(state)}

	var createdAt, expiresAt int64
	for _, v := range []any{&rec.Attempts, &rec.MaxAttempts, &createdAt, &expiresAt} {
		if err := binary.Read(reader, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	rec.ExpiresAt = time.Unix(0, expiresAt)

	fields := make([]string, 4)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		fields[i] = string(raw)
	}
	rec.ID = fields[0]
	rec.UserID = fields[1]
	rec.Purpose = otp.Purpose(fields[2])
	rec.Destination = fields[3]

	if _, err := io.ReadFull(reader, rec.CodeHash[:]); err != nil {
		return nil, err
	}

	return rec, nil
}
