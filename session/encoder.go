package session

import (
	"encoding/binary"
	"errors"

	"github.com/MrEthical07/lexguard/permission"
)

const sessionFormatVersion = 1

var (
	errUnsupportedVersion = errors.New("unsupported session version")
	errTruncated          = errors.New("session blob truncated")
	errTrailingBytes      = errors.New("session blob has trailing bytes")
	errInvalidRole        = errors.New("session role invalid")
	errUserIDTooLong      = errors.New("userID too long")
)

// Encode serializes s as:
//
//	version(1) | len(userID)(1) | userID | role(1) | createdAt(8) | expiresAt(8)
//
// The session ID is the storage key and is not part of the blob.
func Encode(s *Session) ([]byte, error) {
	if len(s.UserID) > 255 {
		return nil, errUserIDTooLong
	}
	if !s.Role.Valid() {
		return nil, errInvalidRole
	}

	buf := make([]byte, 0, 1+1+len(s.UserID)+1+16)
	buf = append(buf, sessionFormatVersion, byte(len(s.UserID)))
	buf = append(buf, s.UserID...)
	buf = append(buf, byte(s.Role))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.CreatedAt))
	buf = binary.BigEndian.AppendUint64(buf, uint64(s.ExpiresAt))

	return buf, nil
}

// Decode is the inverse of [Encode].
func Decode(data []byte) (*Session, error) {
	if len(data) < 2 {
		return nil, errTruncated
	}
	if data[0] != sessionFormatVersion {
		return nil, errUnsupportedVersion
	}

	idx := 1
	userLen := int(data[idx])
	idx++
	if len(data) < idx+userLen+1+16 {
		return nil, errTruncated
	}

	s := &Session{UserID: string(data[idx : idx+userLen])}
	idx += userLen

	s.Role = permission.Role(data[idx])
	if !s.Role.Valid() {
		return nil, errInvalidRole
	}
	idx++

	s.CreatedAt = int64(binary.BigEndian.Uint64(data[idx : idx+8]))
	idx += 8
	s.ExpiresAt = int64(binary.BigEndian.Uint64(data[idx : idx+8]))
	idx += 8

	if idx != len(data) {
		return nil, errTrailingBytes
	}
	return s, nil
}
