package tor

import (
	"encoding/base32"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Onion address constants.
const (
	// onionV3Version is the version byte for v3 onion addresses.
	onionV3Version = 0x03

	// onionSuffix is the common suffix for all onion addresses.
	onionSuffix = ".onion"

	// onionV3DecodedLen is pubkey (32) + checksum (2) + version (1).
	onionV3DecodedLen = 35
)

// Onion host errors.
var (
	// ErrInvalidOnionAddress is returned for .onion hosts that are neither a
	// well-formed v3 address nor a v2 address.
	ErrInvalidOnionAddress = errors.New("invalid onion address")

	// ErrOnionV2Unsupported is returned for v2 (16 character) onion hosts.
	// V2 services were removed from the Tor network in October 2021.
	ErrOnionV2Unsupported = errors.New("v2 onion addresses are no longer reachable")
)

var (
	// onionV3Pattern matches v3 onion hosts, optionally with subdomains.
	// Base32 uses lowercase a-z and digits 2-7.
	onionV3Pattern = regexp.MustCompile(`(?:^|\.)([a-z2-7]{56})\.onion$`)

	// onionV2Pattern matches v2 onion hosts, optionally with subdomains.
	onionV2Pattern = regexp.MustCompile(`(?:^|\.)[a-z2-7]{16}\.onion$`)
)

// checksumPrefix is the prefix used in the v3 onion address checksum.
var checksumPrefix = []byte(".onion checksum")

// CheckOnionHost validates host when it is an onion service name.
// Clearnet hosts always pass. An onion host must be a v3 address whose
// checksum verifies; the checksum catches typos in task lists before a
// slot is spent on a descriptor lookup that cannot succeed.
func CheckOnionHost(host string) error {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if !strings.HasSuffix(host, onionSuffix) {
		return nil
	}
	if onionV2Pattern.MatchString(host) {
		return ErrOnionV2Unsupported
	}
	if !isValidV3Host(host) {
		return ErrInvalidOnionAddress
	}
	return nil
}

// isValidV3Host checks format and checksum of a v3 onion host.
func isValidV3Host(host string) bool {
	m := onionV3Pattern.FindStringSubmatch(host)
	if m == nil {
		return false
	}

	decoded, err := base32.StdEncoding.DecodeString(strings.ToUpper(m[1]))
	if err != nil || len(decoded) != onionV3DecodedLen {
		return false
	}

	pubkey := decoded[:32]
	checksum := decoded[32:34]
	version := decoded[34]
	if version != onionV3Version {
		return false
	}

	expected := computeV3Checksum(pubkey, version)
	return checksum[0] == expected[0] && checksum[1] == expected[1]
}

// computeV3Checksum returns the first 2 bytes of
// SHA3-256(".onion checksum" || pubkey || version).
func computeV3Checksum(pubkey []byte, version byte) []byte {
	data := make([]byte, 0, len(checksumPrefix)+len(pubkey)+1)
	data = append(data, checksumPrefix...)
	data = append(data, pubkey...)
	data = append(data, version)

	hash := sha3.Sum256(data)
	return hash[:2]
}

// OnionV3Host computes the v3 onion host name for an ed25519 public key.
func OnionV3Host(pubkey []byte) (string, error) {
	if len(pubkey) != 32 {
		return "", ErrInvalidOnionAddress
	}

	addressData := make([]byte, onionV3DecodedLen)
	copy(addressData[:32], pubkey)
	copy(addressData[32:34], computeV3Checksum(pubkey, onionV3Version))
	addressData[34] = onionV3Version

	return strings.ToLower(base32.StdEncoding.EncodeToString(addressData)) + onionSuffix, nil
}
