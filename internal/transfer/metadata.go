package transfer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/keys"
	"flyingcarpet/internal/wire"
)

const (
	// ChunkSize is the largest plaintext carried by one chunk.
	ChunkSize = 1_000_000
	// NonceSize is the GCM nonce prepended to every ciphertext.
	NonceSize = 12
	// TagSize is the GCM authentication tag appended by Seal.
	TagSize = 16
	// MaxRecordSize bounds a declared chunk length on the wire.
	MaxRecordSize = NonceSize + ChunkSize + TagSize
	// MaxNameLength bounds a declared file name length on the wire.
	MaxNameLength = 4096
)

// FileRecord is one file's metadata on the wire: 8-byte name length, name
// bytes, 8-byte size.
type FileRecord struct {
	Name string
	Size uint64
}

func writeFileRecord(w io.Writer, rec FileRecord) error {
	if err := wire.WriteUint64(w, uint64(len(rec.Name))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, rec.Name); err != nil {
		return err
	}
	return wire.WriteUint64(w, rec.Size)
}

func readFileRecord(r io.Reader) (FileRecord, error) {
	n, err := wire.ReadUint64(r)
	if err != nil {
		return FileRecord{}, err
	}
	if n == 0 || n > MaxNameLength {
		return FileRecord{}, fmt.Errorf("invalid file name length %d", n)
	}
	name := make([]byte, n)
	if _, err := io.ReadFull(r, name); err != nil {
		return FileRecord{}, err
	}
	size, err := wire.ReadUint64(r)
	if err != nil {
		return FileRecord{}, err
	}
	return FileRecord{Name: string(name), Size: size}, nil
}

func newAEAD(key [keys.KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// sealChunk returns nonce || ciphertext || tag under a fresh random nonce.
func sealChunk(aead cipher.AEAD, plain []byte) ([]byte, error) {
	record := make([]byte, NonceSize, NonceSize+len(plain)+TagSize)
	if _, err := rand.Read(record); err != nil {
		return nil, err
	}
	return aead.Seal(record, record[:NonceSize], plain, nil), nil
}

func openChunk(aead cipher.AEAD, record []byte) ([]byte, error) {
	if len(record) < NonceSize+TagSize {
		return nil, apperr.Fatal(apperr.ErrCrypto, "decrypt", fmt.Sprintf("chunk of %d bytes is too short", len(record)), nil)
	}
	nonce, ciphertext := record[:NonceSize], record[NonceSize:]
	plain, err := aead.Open(ciphertext[:0], nonce, ciphertext, nil)
	if err != nil {
		return nil, apperr.Fatal(apperr.ErrCrypto, "decrypt", "could not decrypt chunk", err)
	}
	return plain, nil
}

func writeChunk(w io.Writer, aead cipher.AEAD, plain []byte) error {
	record, err := sealChunk(aead, plain)
	if err != nil {
		return apperr.Fatal(apperr.ErrCrypto, "encrypt", "could not encrypt chunk", err)
	}
	if err := wire.WriteUint64(w, uint64(len(record))); err != nil {
		return err
	}
	_, err = w.Write(record)
	return err
}

// writeEOF writes the zero-length chunk that ends a file.
func writeEOF(w io.Writer) error {
	return wire.WriteUint64(w, 0)
}

// readChunk returns the next decrypted chunk, or eof once the zero-length
// sentinel arrives.
func readChunk(r io.Reader, aead cipher.AEAD) (plain []byte, eof bool, err error) {
	n, err := wire.ReadUint64(r)
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		return nil, true, nil
	}
	if n > MaxRecordSize {
		return nil, false, apperr.Fatal(apperr.ErrTransport, "receive", fmt.Sprintf("declared chunk length %d exceeds %d", n, MaxRecordSize), nil)
	}
	record := make([]byte, n)
	if _, err := io.ReadFull(r, record); err != nil {
		return nil, false, err
	}
	plain, err = openChunk(aead, record)
	return plain, false, err
}
