package node

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strings"
)

// Discovery capability bits advertised in the QR payload.
const (
	DiscoverySoftAP    uint8 = 0x01
	DiscoveryBLE       uint8 = 0x02
	DiscoveryOnNetwork uint8 = 0x04
)

// SetupPayload carries the commissioning identity the onboarding codes are
// derived from. Discriminator uses 12 bits, Passcode 27.
type SetupPayload struct {
	VendorID      uint16 `json:"vendor_id"`
	ProductID     uint16 `json:"product_id"`
	Discriminator uint16 `json:"discriminator"`
	Passcode      uint32 `json:"passcode"`
	DiscoveryCaps uint8  `json:"discovery_caps"`
}

// Setup passcodes a generated identity must never use.
var invalidPasscodes = map[uint32]bool{
	0:        true,
	11111111: true,
	22222222: true,
	33333333: true,
	44444444: true,
	55555555: true,
	66666666: true,
	77777777: true,
	88888888: true,
	99999999: true,
	12345678: true,
	87654321: true,
}

const maxPasscode = 99999998

// GenerateSetupPayload creates a random commissioning identity for a
// device that has none persisted yet.
func GenerateSetupPayload(vendorID, productID uint16) (SetupPayload, error) {
	p := SetupPayload{
		VendorID:      vendorID,
		ProductID:     productID,
		DiscoveryCaps: DiscoveryOnNetwork,
	}

	var buf [4]byte
	if _, err := rand.Read(buf[:2]); err != nil {
		return p, fmt.Errorf("node: generate discriminator: %w", err)
	}
	p.Discriminator = binary.LittleEndian.Uint16(buf[:2]) & 0x0FFF

	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return p, fmt.Errorf("node: generate passcode: %w", err)
		}
		p.Passcode = binary.LittleEndian.Uint32(buf[:])%maxPasscode + 1
		if !invalidPasscodes[p.Passcode] {
			break
		}
	}
	return p, nil
}

// ManualPairingCode renders the 11-digit manual pairing code: a 1-digit
// chunk carrying the short discriminator, a 5-digit and a 4-digit chunk
// carrying the passcode, and a Verhoeff check digit.
func (p SetupPayload) ManualPairingCode() string {
	shortDisc := p.Discriminator >> 8 // upper 4 of the 12 bits
	chunk1 := shortDisc >> 2          // vid/pid absent, flag bits zero
	chunk2 := uint32(shortDisc&0x03)<<14 | p.Passcode&0x3FFF
	chunk3 := p.Passcode >> 14

	digits := fmt.Sprintf("%d%05d%04d", chunk1, chunk2, chunk3)
	return digits + string(verhoeffCheckDigit(digits))
}

// QRCodePayload renders the "MT:" onboarding payload: the 88-bit packed
// setup payload encoded in base38.
func (p SetupPayload) QRCodePayload() string {
	var w bitWriter
	w.buf = make([]byte, 11)
	w.write(0, 3) // payload version
	w.write(uint64(p.VendorID), 16)
	w.write(uint64(p.ProductID), 16)
	w.write(0, 2) // standard commissioning flow
	w.write(uint64(p.DiscoveryCaps), 8)
	w.write(uint64(p.Discriminator&0x0FFF), 12)
	w.write(uint64(p.Passcode&0x07FFFFFF), 27)
	w.write(0, 4) // pad to 88 bits
	return "MT:" + base38Encode(w.buf)
}

// QRCodeURL returns a link that renders the QR code in a browser.
func (p SetupPayload) QRCodeURL() string {
	payload := strings.ReplaceAll(p.QRCodePayload(), ":", "%3A")
	return "https://project-chip.github.io/connectedhomeip/qrcode.html?data=" + payload
}

// bitWriter packs values LSB-first into a byte slice.
type bitWriter struct {
	buf []byte
	n   int
}

func (w *bitWriter) write(v uint64, count int) {
	for i := 0; i < count; i++ {
		if v&(1<<uint(i)) != 0 {
			w.buf[w.n/8] |= 1 << uint(w.n%8)
		}
		w.n++
	}
}

const base38Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-."

// base38Encode encodes bytes in 3-byte little-endian groups of 5 chars,
// with 4 chars for a trailing 2-byte group and 2 for a single byte.
func base38Encode(data []byte) string {
	var sb strings.Builder
	for i := 0; i < len(data); i += 3 {
		var value uint32
		var chars int
		switch len(data) - i {
		case 1:
			value = uint32(data[i])
			chars = 2
		case 2:
			value = uint32(data[i]) | uint32(data[i+1])<<8
			chars = 4
		default:
			value = uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16
			chars = 5
		}
		for c := 0; c < chars; c++ {
			sb.WriteByte(base38Alphabet[value%38])
			value /= 38
		}
	}
	return sb.String()
}

// Verhoeff dihedral group tables.
var verhoeffD = [10][10]uint8{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
	{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
	{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
	{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
	{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
	{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
	{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
	{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
	{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
}

var verhoeffP = [8][10]uint8{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
	{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
	{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
	{9, 4, 5, 3, 1, 2, 6, 8, 7, 0},
	{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
	{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
	{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
}

var verhoeffInv = [10]uint8{0, 4, 3, 2, 1, 5, 6, 7, 8, 9}

// verhoeffCheckDigit computes the check digit appended to a digit string.
// The check digit occupies position 0, so payload digits are processed
// right to left starting at position 1.
func verhoeffCheckDigit(digits string) byte {
	var c uint8
	n := len(digits)
	for i := 0; i < n; i++ {
		d := digits[n-1-i] - '0'
		c = verhoeffD[c][verhoeffP[(i+1)%8][d]]
	}
	return '0' + verhoeffInv[c]
}
