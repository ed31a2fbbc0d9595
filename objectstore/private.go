package objectstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/crypto/scrypt"

	"github.com/refinio/one-core/onerr"
)

// scrypt parameters: interactive-login-class cost, in line with scrypt's own
// recommended interactive parameters (N=2^15).
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 16
)

// PrivateArea wraps a Store's private/ directory with passphrase-derived
// AES-256-GCM encryption (spec §1 "encryption-at-rest for... a dedicated
// private area"), grounded on mattcburns-shoal-provision/pkg/crypto's
// password-derived-key pattern, generalized here from "verify a login
// password" to "derive a symmetric key that encrypts opaque bytes".
type PrivateArea struct {
	store      *Store
	passphrase []byte
}

// NewPrivateArea binds a passphrase to a store's private/ directory.
func NewPrivateArea(store *Store, passphrase string) *PrivateArea {
	return &PrivateArea{store: store, passphrase: []byte(passphrase)}
}

// Write encrypts data under a fresh random salt/nonce and stores it as
// private/<name>.
func (p *PrivateArea) Write(name string, data []byte) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return onerr.Wrap(onerr.CodeWriteStream, "generate private-area salt", err)
	}
	key, err := scrypt.Key(p.passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return onerr.Wrap(onerr.CodeWriteStream, "derive private-area key", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return onerr.Wrap(onerr.CodeWriteStream, "init AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return onerr.Wrap(onerr.CodeWriteStream, "init AES-GCM", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return onerr.Wrap(onerr.CodeWriteStream, "generate private-area nonce", err)
	}

	ciphertext := gcm.Seal(nil, nonce, data, nil)

	// Envelope: saltLen(2) | salt | nonceLen(2) | nonce | ciphertext.
	out := make([]byte, 0, 2+len(salt)+2+len(nonce)+len(ciphertext))
	out = appendUint16Prefixed(out, salt)
	out = appendUint16Prefixed(out, nonce)
	out = append(out, ciphertext...)

	return p.store.WritePrivate(name, out)
}

// Read decrypts private/<name> written by Write.
func (p *PrivateArea) Read(name string) ([]byte, error) {
	raw, err := p.store.ReadPrivate(name)
	if err != nil {
		return nil, err
	}

	salt, rest, err := readUint16Prefixed(raw)
	if err != nil {
		return nil, onerr.New(onerr.CodeReadStream, "private file "+name+": malformed envelope")
	}
	nonce, ciphertext, err := readUint16Prefixed(rest)
	if err != nil {
		return nil, onerr.New(onerr.CodeReadStream, "private file "+name+": malformed envelope")
	}

	key, err := scrypt.Key(p.passphrase, salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, onerr.Wrap(onerr.CodeReadStream, "derive private-area key", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, onerr.Wrap(onerr.CodeReadStream, "init AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, onerr.Wrap(onerr.CodeReadStream, "init AES-GCM", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, onerr.New(onerr.CodeReadStream, "private file "+name+": nonce size mismatch")
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, onerr.Wrap(onerr.CodeReadStream, "decrypt private file "+name, err)
	}
	return plaintext, nil
}

func appendUint16Prefixed(dst []byte, payload []byte) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, payload...)
}

func readUint16Prefixed(src []byte) (payload []byte, rest []byte, err error) {
	if len(src) < 2 {
		return nil, nil, onerr.New(onerr.CodeReadStream, "truncated length prefix")
	}
	n := int(binary.BigEndian.Uint16(src[:2]))
	if len(src) < 2+n {
		return nil, nil, onerr.New(onerr.CodeReadStream, "truncated payload")
	}
	return src[2 : 2+n], src[2+n:], nil
}
