package escrow

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

// FacilityEd25519 identifies the host environment's ed25519 signature
// verification facility. The engine never performs signature cryptography
// itself; it checks that a record already validated by that facility matches
// the expected signature, key and message byte for byte.
const FacilityEd25519 = "sigverify.ed25519"

const (
	// SignatureLength is the byte length of a verifier signature.
	SignatureLength = 64
	// VerifierKeyLength is the byte length of a verifier public key.
	VerifierKeyLength = 32

	recordHeaderLength = 16
)

// VerificationRecord is one raw entry of the verification bundle co-submitted
// with a resolve call. Data follows the facility's wire layout:
//
//	[0]      signature count (must be 1)
//	[1]      padding
//	[2:4]    signature offset (LE u16)
//	[6:8]    public key offset (LE u16)
//	[10:12]  message offset (LE u16)
//	[12:14]  message length (LE u16)
//	[16:]    signature + public key + message bytes
type VerificationRecord struct {
	Facility string
	Data     []byte
}

// CanonicalMessage renders the message a verifier signs for a transaction and
// quality score: "{transaction_id}:{quality_score}".
func CanonicalMessage(transactionID string, qualityScore uint8) []byte {
	return []byte(transactionID + ":" + strconv.FormatUint(uint64(qualityScore), 10))
}

// VerifySignatureRecord checks the record at index 0 of the bundle against the
// expected signature, verifier public key and canonical message. Equality is
// byte-exact; no hashing is involved. Any malformed header, signature count
// other than one, out-of-range offset or mismatched field fails with
// ErrInvalidSignature.
func VerifySignatureRecord(bundle []VerificationRecord, signature [SignatureLength]byte, verifierKey [VerifierKeyLength]byte, message []byte) error {
	if len(bundle) == 0 {
		return ErrInvalidSignature
	}
	record := bundle[0]
	if record.Facility != FacilityEd25519 {
		return ErrInvalidSignature
	}
	data := record.Data
	if len(data) < recordHeaderLength {
		return ErrInvalidSignature
	}
	if data[0] != 1 {
		return ErrInvalidSignature
	}
	sigOffset := int(binary.LittleEndian.Uint16(data[2:4]))
	keyOffset := int(binary.LittleEndian.Uint16(data[6:8]))
	msgOffset := int(binary.LittleEndian.Uint16(data[10:12]))
	msgSize := int(binary.LittleEndian.Uint16(data[12:14]))
	if sigOffset+SignatureLength > len(data) ||
		keyOffset+VerifierKeyLength > len(data) ||
		msgOffset+msgSize > len(data) {
		return ErrInvalidSignature
	}
	if !bytes.Equal(data[sigOffset:sigOffset+SignatureLength], signature[:]) {
		return ErrInvalidSignature
	}
	if !bytes.Equal(data[keyOffset:keyOffset+VerifierKeyLength], verifierKey[:]) {
		return ErrInvalidSignature
	}
	if !bytes.Equal(data[msgOffset:msgOffset+msgSize], message) {
		return ErrInvalidSignature
	}
	return nil
}

// BuildEd25519Record lays out a verification record in the facility wire
// format. Clients use it to assemble the bundle submitted alongside a
// signature resolution.
func BuildEd25519Record(signature [SignatureLength]byte, verifierKey [VerifierKeyLength]byte, message []byte) VerificationRecord {
	sigOffset := recordHeaderLength
	keyOffset := sigOffset + SignatureLength
	msgOffset := keyOffset + VerifierKeyLength

	data := make([]byte, msgOffset+len(message))
	data[0] = 1
	binary.LittleEndian.PutUint16(data[2:4], uint16(sigOffset))
	binary.LittleEndian.PutUint16(data[6:8], uint16(keyOffset))
	binary.LittleEndian.PutUint16(data[10:12], uint16(msgOffset))
	binary.LittleEndian.PutUint16(data[12:14], uint16(len(message)))
	copy(data[sigOffset:], signature[:])
	copy(data[keyOffset:], verifierKey[:])
	copy(data[msgOffset:], message)
	return VerificationRecord{Facility: FacilityEd25519, Data: data}
}
