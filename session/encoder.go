package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/MrEthical07/goSession/permission"
)

// CurrentSchemaVersion is the version byte written by [Encode].
const CurrentSchemaVersion = 1

const maxEncodedString = math.MaxUint16

// Encode serializes s into the compact binary format. The session id and the
// plaintext token are not part of the blob.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}

	var buf bytes.Buffer
	buf.WriteByte(CurrentSchemaVersion)

	if err := writeString(&buf, s.UserID); err != nil {
		return nil, fmt.Errorf("userID: %w", err)
	}
	if err := writeString(&buf, s.Role); err != nil {
		return nil, fmt.Errorf("role: %w", err)
	}

	names := s.Permissions.Names()
	if len(names) > math.MaxUint16 {
		return nil, errors.New("too many permissions")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(names))); err != nil {
		return nil, err
	}
	for _, name := range names {
		if err := writeString(&buf, name); err != nil {
			return nil, fmt.Errorf("permission: %w", err)
		}
	}

	buf.Write(s.TokenHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}

	if err := writeString(&buf, s.Metadata.IP); err != nil {
		return nil, fmt.Errorf("ip: %w", err)
	}
	if err := writeString(&buf, s.Metadata.UserAgent); err != nil {
		return nil, fmt.Errorf("userAgent: %w", err)
	}
	if err := writeString(&buf, s.Metadata.DeviceID); err != nil {
		return nil, fmt.Errorf("deviceID: %w", err)
	}
	if err := binary.Write(&buf, binary.BigEndian, s.Metadata.LastActive.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.Revision); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a blob produced by [Encode]. The returned session has no ID;
// callers set it from the storage key.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	s := &Session{}

	if s.UserID, err = readString(reader); err != nil {
		return nil, err
	}
	if s.Role, err = readString(reader); err != nil {
		return nil, err
	}

	var count uint16
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return nil, err
	}
	names := make([]string, 0, count)
	for i := 0; i < int(count); i++ {
		name, err := readString(reader)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	s.Permissions = permission.NewSet(names...)

	if _, err := io.ReadFull(reader, s.TokenHash[:]); err != nil {
		return nil, err
	}

	var createdAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	s.CreatedAt = time.UnixMilli(createdAt)
	s.ExpiresAt = time.UnixMilli(expiresAt)

	if s.Metadata.IP, err = readString(reader); err != nil {
		return nil, err
	}
	if s.Metadata.UserAgent, err = readString(reader); err != nil {
		return nil, err
	}
	if s.Metadata.DeviceID, err = readString(reader); err != nil {
		return nil, err
	}

	var lastActive int64
	if err := binary.Read(reader, binary.BigEndian, &lastActive); err != nil {
		return nil, err
	}
	s.Metadata.LastActive = time.UnixMilli(lastActive)

	if err := binary.Read(reader, binary.BigEndian, &s.Revision); err != nil {
		return nil, err
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session blob")
	}

	return s, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > maxEncodedString {
		return errors.New("value too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > reader.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
