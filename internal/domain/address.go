package domain

import (
	"encoding/base32"
	"hash/crc32"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

const (
	principalGroupLen = 5
	principalMaxBytes = 29
	principalCRCBytes = 4
)

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// ValidateAccount checks a textual account (principal) identifier:
// dash-separated groups of five lowercase base32 characters whose decoded
// bytes start with a big-endian CRC32 of the remainder.
func ValidateAccount(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return NewValidationError("account", "empty")
	}

	groups := strings.Split(text, "-")
	for i, g := range groups {
		if g == "" || len(g) > principalGroupLen || (i < len(groups)-1 && len(g) != principalGroupLen) {
			return NewValidationError("account", "malformed grouping")
		}
	}

	raw, err := principalEncoding.DecodeString(strings.ToUpper(strings.Join(groups, "")))
	if err != nil {
		return NewValidationError("account", "not base32")
	}
	if len(raw) < principalCRCBytes || len(raw) > principalCRCBytes+principalMaxBytes {
		return NewValidationError("account", "wrong length")
	}

	body := raw[principalCRCBytes:]
	sum := crc32.ChecksumIEEE(body)
	got := uint32(raw[0])<<24 | uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])
	if sum != got {
		return NewValidationError("account", "checksum mismatch")
	}

	// canonical form is lowercase and regrouped
	if text != canonicalAccount(raw) {
		return NewValidationError("account", "not in canonical form")
	}

	return nil
}

func canonicalAccount(raw []byte) string {
	enc := strings.ToLower(principalEncoding.EncodeToString(raw))
	var b strings.Builder
	for i := 0; i < len(enc); i += principalGroupLen {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + principalGroupLen
		if end > len(enc) {
			end = len(enc)
		}
		b.WriteString(enc[i:end])
	}
	return b.String()
}

// AccountFromBytes renders raw principal bytes in textual form.
func AccountFromBytes(body []byte) string {
	sum := crc32.ChecksumIEEE(body)
	raw := make([]byte, 0, principalCRCBytes+len(body))
	raw = append(raw, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
	raw = append(raw, body...)
	return canonicalAccount(raw)
}

// ValidateBitcoinAddress accepts segwit addresses (bech32 for v0, bech32m for
// v1 and later) and legacy base58check addresses.
func ValidateBitcoinAddress(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return NewValidationError("bitcoin address", "empty")
	}

	lower := strings.ToLower(address)
	if strings.HasPrefix(lower, "bc1") || strings.HasPrefix(lower, "tb1") || strings.HasPrefix(lower, "bcrt1") {
		hrp, data, encoding, err := bech32.DecodeGeneric(address)
		if err != nil {
			return NewValidationError("bitcoin address", err.Error())
		}
		if hrp != "bc" && hrp != "tb" && hrp != "bcrt" {
			return NewValidationError("bitcoin address", "unknown network prefix "+hrp)
		}
		if len(data) < 1 || data[0] > 16 {
			return NewValidationError("bitcoin address", "bad witness version")
		}
		want := bech32.VersionM
		if data[0] == 0 {
			want = bech32.Version0
		}
		if encoding != want {
			return NewValidationError("bitcoin address", "wrong checksum variant for witness version")
		}
		return nil
	}

	_, version, err := base58.CheckDecode(address)
	if err != nil {
		return NewValidationError("bitcoin address", err.Error())
	}
	switch version {
	case 0x00, 0x05, 0x6f, 0xc4:
		return nil
	default:
		return NewValidationError("bitcoin address", "unknown version byte")
	}
}

// ValidateEvmAddress accepts a 0x-prefixed 20-byte hex address.
func ValidateEvmAddress(address string) error {
	address = strings.TrimSpace(address)
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return NewValidationError("evm address", "enter a valid 0x address")
	}
	return nil
}
