package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	TicketNumberPrefix = "TKT-"
	QRTokenPrefix      = "QR-"

	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 8
)

// CodeGenerator mints ticket numbers and QR tokens.
//
// Ticket numbers are derived from the purchase: a keyed BLAKE2b MAC over
// (purchase ID, ticket index, attempt) mapped onto [A-Z0-9].  The same
// inputs always give the same number, and without the key nobody can
// produce a number for a purchase.  QR tokens are independent random
// strings.  Uniqueness of either is established by the issuer against the
// store, not here.
type CodeGenerator struct {
	key  [32]byte
	rand io.Reader
	now  Clock
}

// NewCodeGenerator returns a generator keyed by secret.
func NewCodeGenerator(secret string) *CodeGenerator {
	return &CodeGenerator{key: blake2b.Sum256([]byte(secret)), rand: rand.Reader, now: utcNow}
}

// TicketNumber derives the ticket number for the index-th ticket of a
// purchase.  attempt selects an alternative number after a collision.
func (g *CodeGenerator) TicketNumber(purchaseID string, index, attempt int) string {
	mac, _ := blake2b.New256(g.key[:]) // key length is fixed at 32, never fails
	var buf [8]byte
	mac.Write([]byte(purchaseID))
	mac.Write([]byte{'|'})
	binary.BigEndian.PutUint32(buf[:4], uint32(index))
	binary.BigEndian.PutUint32(buf[4:], uint32(attempt))
	mac.Write(buf[:])
	return TicketNumberPrefix + encodeDigest(mac.Sum(nil))
}

// VerifyTicketNumber reports whether number was derived for the given
// purchase and index with any attempt below maxAttempts.
func (g *CodeGenerator) VerifyTicketNumber(purchaseID string, index int, number string, maxAttempts int) bool {
	number = strings.ToUpper(strings.TrimSpace(number))
	ok := 0
	for a := 0; a < maxAttempts; a++ {
		ok |= subtle.ConstantTimeCompare([]byte(g.TicketNumber(purchaseID, index, a)), []byte(number))
	}
	return ok == 1
}

// QRToken draws a random QR token.
func (g *CodeGenerator) QRToken() (string, error) {
	s, err := randomCode(g.rand)
	if err != nil {
		return "", fmt.Errorf("qr token: %w", err)
	}
	return QRTokenPrefix + s, nil
}

// Fallback derives a code from the clock and the ticket index.  It is the
// last candidate tried once the regular generator kept colliding.
func (g *CodeGenerator) Fallback(prefix string, index int) string {
	v := uint64(g.now().UnixNano()) + uint64(index)*7919
	s := strings.ToUpper(strconv.FormatUint(v, 36))
	if len(s) > codeLength {
		s = s[len(s)-codeLength:]
	}
	return prefix + strings.Repeat("0", codeLength-len(s)) + s
}

// encodeDigest maps the first codeLength bytes of a MAC onto the alphabet.
func encodeDigest(sum []byte) string {
	out := make([]byte, codeLength)
	for i := range out {
		out[i] = codeAlphabet[int(sum[i])%len(codeAlphabet)]
	}
	return string(out)
}

// randomCode draws codeLength uniform characters from the alphabet using
// rejection sampling.
func randomCode(r io.Reader) (string, error) {
	const limit = 256 - 256%len(codeAlphabet)
	out := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength*2)
	for tries := 0; len(out) < codeLength; tries++ {
		if tries > 16 {
			return "", fmt.Errorf("random source rejected too often")
		}
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) < limit && len(out) < codeLength {
				out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			}
		}
	}
	return string(out), nil
}
