package archive

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/yungbote/neurobridge-successbundle/internal/domain/transfer"
)

// Encrypted archive layout:
//
//	magic "SBAX" | version byte | salt (16) | nonce prefix (19)
//	then chunks of: ciphertext length (uint32 BE) | ciphertext
//
// Chunk nonces are prefix | counter (uint32 BE) | last-flag byte, so a
// truncated, reordered or extended stream fails to authenticate. The
// header is bound to every chunk as additional data.
const (
	magic         = "SBAX"
	formatVersion = 1
	saltSize      = 16
	prefixSize    = chacha20poly1305.NonceSizeX - 5
	headerSize    = len(magic) + 1 + saltSize + prefixSize
	chunkSize     = 64 << 10

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// Password is the archive passphrase for one run. Binding the run id into
// it means an archive from one run never opens with another run's id.
func Password(runID, secret string) string {
	return runID + ":" + secret
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

func chunkNonce(prefix []byte, counter uint32, last bool) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	copy(nonce, prefix)
	binary.BigEndian.PutUint32(nonce[prefixSize:], counter)
	if last {
		nonce[len(nonce)-1] = 1
	}
	return nonce
}

// Encrypt streams src into dst under a key derived from password.
func Encrypt(dst io.Writer, src io.Reader, password string) error {
	if password == "" {
		return transfer.Errorf(transfer.CodeConfiguration, "archive.encrypt", "empty archive password")
	}
	header := make([]byte, 0, headerSize)
	header = append(header, magic...)
	header = append(header, formatVersion)
	random := make([]byte, saltSize+prefixSize)
	if _, err := rand.Read(random); err != nil {
		return fmt.Errorf("archive random: %w", err)
	}
	header = append(header, random...)
	salt, prefix := header[len(magic)+1:len(magic)+1+saltSize], header[len(magic)+1+saltSize:]

	aead, err := chacha20poly1305.NewX(deriveKey(password, salt))
	if err != nil {
		return err
	}
	if _, err := dst.Write(header); err != nil {
		return err
	}

	cur := make([]byte, chunkSize)
	next := make([]byte, chunkSize)
	n, err := io.ReadFull(src, cur)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return err
	}
	var sealed []byte
	lenBuf := make([]byte, 4)
	for counter := uint32(0); ; counter++ {
		// Read one chunk ahead so the final chunk can be flagged.
		m, rerr := io.ReadFull(src, next)
		if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
			return rerr
		}
		last := m == 0
		sealed = aead.Seal(sealed[:0], chunkNonce(prefix, counter, last), cur[:n], header)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(sealed)))
		if _, err := dst.Write(lenBuf); err != nil {
			return err
		}
		if _, err := dst.Write(sealed); err != nil {
			return err
		}
		if last {
			return nil
		}
		if counter == ^uint32(0) {
			return errors.New("archive too large for chunk counter")
		}
		cur, next, n = next, cur, m
	}
}

// Decrypt reverses Encrypt. Any authentication failure, truncation or
// trailing data is reported as an integrity error.
func Decrypt(dst io.Writer, src io.Reader, password string) error {
	const op = "archive.decrypt"
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(src, header); err != nil {
		return transfer.Wrap(transfer.CodeIntegrity, op, fmt.Errorf("read header: %w", err))
	}
	if !bytes.Equal(header[:len(magic)], []byte(magic)) {
		return transfer.Errorf(transfer.CodeIntegrity, op, "not an encrypted success-bundle archive")
	}
	if header[len(magic)] != formatVersion {
		return transfer.Errorf(transfer.CodeVersionMismatch, op, "unsupported archive format %d", header[len(magic)])
	}
	salt, prefix := header[len(magic)+1:len(magic)+1+saltSize], header[len(magic)+1+saltSize:]
	aead, err := chacha20poly1305.NewX(deriveKey(password, salt))
	if err != nil {
		return err
	}

	lenBuf := make([]byte, 4)
	var sealed, plain []byte
	for counter := uint32(0); ; counter++ {
		if _, err := io.ReadFull(src, lenBuf); err != nil {
			return transfer.Errorf(transfer.CodeIntegrity, op, "archive truncated at chunk %d", counter)
		}
		size := binary.BigEndian.Uint32(lenBuf)
		if size < uint32(aead.Overhead()) || size > chunkSize+uint32(aead.Overhead()) {
			return transfer.Errorf(transfer.CodeIntegrity, op, "chunk %d has invalid length %d", counter, size)
		}
		if cap(sealed) < int(size) {
			sealed = make([]byte, size)
		}
		sealed = sealed[:size]
		if _, err := io.ReadFull(src, sealed); err != nil {
			return transfer.Errorf(transfer.CodeIntegrity, op, "archive truncated in chunk %d", counter)
		}
		last := false
		plain, err = aead.Open(plain[:0], chunkNonce(prefix, counter, false), sealed, header)
		if err != nil {
			plain, err = aead.Open(plain[:0], chunkNonce(prefix, counter, true), sealed, header)
			if err != nil {
				return transfer.Errorf(transfer.CodeIntegrity, op, "chunk %d failed authentication (wrong run id or secret?)", counter)
			}
			last = true
		}
		if _, err := dst.Write(plain); err != nil {
			return err
		}
		if last {
			var probe [1]byte
			if n, _ := src.Read(probe[:]); n > 0 {
				return transfer.Errorf(transfer.CodeIntegrity, op, "trailing data after final chunk")
			}
			return nil
		}
	}
}
