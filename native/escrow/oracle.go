package escrow

import "math/big"

// OracleMaxAgeSeconds bounds the accepted age of an oracle attestation. The
// freshness window is inclusive at both ends: an attestation aged exactly 0 or
// exactly 300 seconds is accepted, 301 seconds or any future timestamp is not.
const OracleMaxAgeSeconds int64 = 300

// QualityFeed is the parsed form of a third-party oracle feed record. Value is
// the published quality score as a signed wide integer; UpdatedAt is the
// feed's last-update unix timestamp.
type QualityFeed struct {
	Feed      [20]byte
	Value     *big.Int
	UpdatedAt int64
}

const (
	feedValueLength  = 16
	feedRecordLength = feedValueLength + 8
)

// ParseQualityFeed decodes a raw oracle feed record. The layout is a signed
// 128-bit big-endian two's-complement value followed by a big-endian int64
// last-update timestamp.
func ParseQualityFeed(feed [20]byte, data []byte) (*QualityFeed, error) {
	if len(data) != feedRecordLength {
		return nil, ErrInvalidAttestation
	}
	value := new(big.Int).SetBytes(data[:feedValueLength])
	// Undo two's complement when the sign bit is set.
	if data[0]&0x80 != 0 {
		modulus := new(big.Int).Lsh(big.NewInt(1), feedValueLength*8)
		value.Sub(value, modulus)
	}
	updatedAt := int64(0)
	for _, b := range data[feedValueLength:] {
		updatedAt = updatedAt<<8 | int64(b)
	}
	return &QualityFeed{Feed: feed, Value: value, UpdatedAt: updatedAt}, nil
}

// CheckFreshness rejects attestations older than the freshness window as well
// as attestations timestamped in the future.
func (f *QualityFeed) CheckFreshness(now int64) error {
	if f == nil {
		return ErrInvalidAttestation
	}
	age := now - f.UpdatedAt
	if age < 0 || age > OracleMaxAgeSeconds {
		return ErrStaleAttestation
	}
	return nil
}

// MatchesScore requires the feed's published value to equal the submitted
// quality score exactly.
func (f *QualityFeed) MatchesScore(qualityScore uint8) error {
	if f == nil || f.Value == nil {
		return ErrInvalidAttestation
	}
	if f.Value.Cmp(big.NewInt(int64(qualityScore))) != 0 {
		return ErrQualityScoreMismatch
	}
	return nil
}
