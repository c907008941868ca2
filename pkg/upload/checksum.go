package upload

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"hash/crc32"
	"strings"

	"github.com/nexuslabs/nexus/pkg/boundary"
)

// supportedChecksumAlgorithms lists the tus Upload-Checksum algorithms this
// service can verify, advertised verbatim in Capabilities.
const supportedChecksumAlgorithms = "sha256,md5,crc32"

// verifyChecksum validates data against a tus Upload-Checksum header of the
// form "<algorithm> <base64 digest>".
func verifyChecksum(uploadID string, data []byte, header string) *boundary.Error {
	fields := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(fields) != 2 {
		return boundary.NewValidation("invalid Upload-Checksum header format: " + header)
	}

	algorithm := strings.ToLower(fields[0])
	expected := fields[1]

	var actual string
	switch algorithm {
	case "sha256":
		sum := sha256.Sum256(data)
		actual = base64.StdEncoding.EncodeToString(sum[:])
	case "md5":
		sum := md5.Sum(data)
		actual = base64.StdEncoding.EncodeToString(sum[:])
	case "crc32":
		sum := crc32.ChecksumIEEE(data)
		b := []byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)}
		actual = base64.StdEncoding.EncodeToString(b)
	default:
		return boundary.NewValidation("unsupported checksum algorithm: " + algorithm + ". supported: " + supportedChecksumAlgorithms)
	}

	if actual != expected {
		return boundary.NewUploadChecksumMismatch(algorithm)
	}
	return nil
}

func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeMetadata(s string) map[string]string {
	if s == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
