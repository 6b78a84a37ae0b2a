package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/keys"
	"flyingcarpet/internal/ui"
	"flyingcarpet/internal/wire"
)

func newTestFileshare(t *testing.T, password string, rec *ui.Recorder) *Fileshare {
	t.Helper()
	key, _ := keys.Derive(password)
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})
	fs, err := NewFileshare(key, rec, logrus.NewEntry(logger))
	require.NoError(t, err)
	return fs
}

func writeRandomFile(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return data
}

// transferFiles runs a sender and a receiver over an in-memory pipe.
func transferFiles(t *testing.T, sender, receiver *Fileshare, files []string, dir string) (sendErr, recvErr error) {
	t.Helper()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ctx := context.Background()
	var g errgroup.Group
	g.Go(func() error {
		sendErr = sender.Send(ctx, a, files)
		if sendErr != nil {
			a.Close()
		}
		return nil
	})
	g.Go(func() error {
		recvErr = receiver.Receive(ctx, b, dir)
		if recvErr != nil {
			b.Close()
		}
		return nil
	})
	require.NoError(t, g.Wait())
	return sendErr, recvErr
}

func TestChunkRoundTrip(t *testing.T) {
	key, _ := keys.Derive("Ab3dEfGh")
	aead, err := newAEAD(key)
	require.NoError(t, err)

	plain := []byte("hello flying carpet")
	var buf bytes.Buffer
	require.NoError(t, writeChunk(&buf, aead, plain))
	assert.Equal(t, 8+NonceSize+len(plain)+TagSize, buf.Len())

	got, eof, err := readChunk(&buf, aead)
	require.NoError(t, err)
	assert.False(t, eof)
	assert.Equal(t, plain, got)

	require.NoError(t, writeEOF(&buf))
	_, eof, err = readChunk(&buf, aead)
	require.NoError(t, err)
	assert.True(t, eof)
}

func TestChunkNoncesDiffer(t *testing.T) {
	key, _ := keys.Derive("Ab3dEfGh")
	aead, err := newAEAD(key)
	require.NoError(t, err)

	r1, err := sealChunk(aead, []byte("same"))
	require.NoError(t, err)
	r2, err := sealChunk(aead, []byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, r1[:NonceSize], r2[:NonceSize])
}

func TestTamperedChunkFails(t *testing.T) {
	key, _ := keys.Derive("Ab3dEfGh")
	aead, err := newAEAD(key)
	require.NoError(t, err)

	record, err := sealChunk(aead, []byte("some file contents"))
	require.NoError(t, err)
	record[NonceSize+3] ^= 0x01

	_, err = openChunk(aead, record)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrCrypto))

	_, err = openChunk(aead, record[:NonceSize])
	assert.True(t, apperr.IsType(err, apperr.ErrCrypto))
}

func TestWrongKeyFails(t *testing.T) {
	k1, _ := keys.Derive("Ab3dEfGh")
	k2, _ := keys.Derive("Ab3dEfGi")
	a1, err := newAEAD(k1)
	require.NoError(t, err)
	a2, err := newAEAD(k2)
	require.NoError(t, err)

	record, err := sealChunk(a1, []byte("secret"))
	require.NoError(t, err)
	_, err = openChunk(a2, record)
	assert.True(t, apperr.IsType(err, apperr.ErrCrypto))
}

func TestOversizedChunkRejected(t *testing.T) {
	key, _ := keys.Derive("Ab3dEfGh")
	aead, err := newAEAD(key)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, wire.WriteUint64(&buf, MaxRecordSize+1))
	_, _, err = readChunk(&buf, aead)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrTransport))
}

func TestFileRecordRejectsBadNameLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteUint64(&buf, 0))
	_, err := readFileRecord(&buf)
	assert.Error(t, err)

	buf.Reset()
	require.NoError(t, writeFileRecord(&buf, FileRecord{Name: "dir/a.txt", Size: 42}))
	rec, err := readFileRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, FileRecord{Name: "dir/a.txt", Size: 42}, rec)
}

// TestChunkCount drives SendFile against a hand-written receiver that counts
// chunks including the end-of-file sentinel.
func TestChunkCount(t *testing.T) {
	sizes := []int{0, 1, ChunkSize, ChunkSize + 1, 2*ChunkSize + 500}
	for _, size := range sizes {
		src := filepath.Join(t.TempDir(), "data.bin")
		writeRandomFile(t, src, size)
		sender := newTestFileshare(t, "test1234", &ui.Recorder{})

		a, b := net.Pipe()
		var chunks int
		var received []byte
		var g errgroup.Group
		g.Go(func() error {
			return sender.SendFile(context.Background(), a, src, "data.bin")
		})
		g.Go(func() error {
			if _, err := readFileRecord(b); err != nil {
				return err
			}
			if err := wire.WriteUint64(b, 0); err != nil {
				return err
			}
			for {
				plain, eof, err := readChunk(b, sender.aead)
				if err != nil {
					return err
				}
				chunks++
				if eof {
					break
				}
				received = append(received, plain...)
			}
			if err := wire.WriteUint64(b, 1); err != nil {
				return err
			}
			_, err := wire.ReadUint64(b)
			return err
		})
		require.NoError(t, g.Wait(), "size %d", size)
		a.Close()
		b.Close()

		want := (size+ChunkSize-1)/ChunkSize + 1
		assert.Equal(t, want, chunks, "size %d", size)
		assert.Len(t, received, size)
	}
}

func TestSendReceiveRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	a := writeRandomFile(t, filepath.Join(srcDir, "a.txt"), 500_000)
	b := writeRandomFile(t, filepath.Join(srcDir, "sub", "b.bin"), ChunkSize+17)
	empty := writeRandomFile(t, filepath.Join(srcDir, "empty"), 0)

	dest := t.TempDir()
	sendUI, recvUI := &ui.Recorder{}, &ui.Recorder{}
	sender := newTestFileshare(t, "test1234", sendUI)
	receiver := newTestFileshare(t, "test1234", recvUI)

	files := []string{
		filepath.Join(srcDir, "a.txt"),
		filepath.Join(srcDir, "sub", "b.bin"),
		filepath.Join(srcDir, "empty"),
	}
	sendErr, recvErr := transferFiles(t, sender, receiver, files, dest)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	for name, want := range map[string][]byte{"a.txt": a, "sub/b.bin": b, "empty": empty} {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}

	assert.True(t, sendUI.Contains("Sending file 1 of 3. Filename: a.txt"))
	assert.True(t, sendUI.Contains("Sending file 2 of 3. Filename: sub/b.bin"))
	assert.True(t, recvUI.Contains("Receiving file 3 of 3."))
	assert.Contains(t, recvUI.Progress, 100)

	st, ok := receiver.Tracker().Get("receiving:a.txt")
	require.True(t, ok)
	assert.Equal(t, COMPLETED, st.Status)
	assert.EqualValues(t, 500_000, st.BytesTransferred)
}

func TestReceiverSkipsIdenticalFile(t *testing.T) {
	srcDir, dest := t.TempDir(), t.TempDir()
	data := writeRandomFile(t, filepath.Join(srcDir, "a.txt"), 300_000)
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), data, 0o644))

	sendUI, recvUI := &ui.Recorder{}, &ui.Recorder{}
	sender := newTestFileshare(t, "test1234", sendUI)
	receiver := newTestFileshare(t, "test1234", recvUI)

	sendErr, recvErr := transferFiles(t, sender, receiver, []string{filepath.Join(srcDir, "a.txt")}, dest)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	assert.True(t, sendUI.Contains("Recipient already has this file, skipping."))
	assert.True(t, recvUI.Contains("Recipient already has this file, skipping."))
	assert.Empty(t, recvUI.Progress)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	st, ok := receiver.Tracker().Get("receiving:a.txt")
	require.True(t, ok)
	assert.Equal(t, SKIPPED, st.Status)
}

func TestReceiverTransfersWhenHashDiffers(t *testing.T) {
	srcDir, dest := t.TempDir(), t.TempDir()
	data := writeRandomFile(t, filepath.Join(srcDir, "a.txt"), 4096)
	other := make([]byte, len(data))
	copy(other, data)
	other[0] ^= 0xff
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), other, 0o644))

	sender := newTestFileshare(t, "test1234", &ui.Recorder{})
	receiver := newTestFileshare(t, "test1234", &ui.Recorder{})

	sendErr, recvErr := transferFiles(t, sender, receiver, []string{filepath.Join(srcDir, "a.txt")}, dest)
	require.NoError(t, sendErr)
	require.NoError(t, recvErr)

	existing, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, other, existing)

	got, err := os.ReadFile(filepath.Join(dest, "(1) a.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestCollisionNamingCountsUp(t *testing.T) {
	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dest, "(1) a.txt"), []byte("y"), 0o644))

	assert.Equal(t, filepath.Join(dest, "(2) a.txt"), UniquePath(filepath.Join(dest, "a.txt")))
	assert.Equal(t, filepath.Join(dest, "b.txt"), UniquePath(filepath.Join(dest, "b.txt")))
}

func TestMismatchedKeysFailWithCryptoError(t *testing.T) {
	srcDir, dest := t.TempDir(), t.TempDir()
	writeRandomFile(t, filepath.Join(srcDir, "a.txt"), 1000)

	sender := newTestFileshare(t, "Ab3dEfGh", &ui.Recorder{})
	receiver := newTestFileshare(t, "Ab3dEfGi", &ui.Recorder{})

	_, recvErr := transferFiles(t, sender, receiver, []string{filepath.Join(srcDir, "a.txt")}, dest)
	require.Error(t, recvErr)
	assert.True(t, apperr.IsType(recvErr, apperr.ErrCrypto))
	assert.Contains(t, recvErr.Error(), "Error receiving file")
}

func TestReceiveRejectsMissingFolder(t *testing.T) {
	receiver := newTestFileshare(t, "test1234", &ui.Recorder{})
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	err := receiver.Receive(context.Background(), b, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrConfiguration))
}

func TestSendRejectsEmptyList(t *testing.T) {
	sender := newTestFileshare(t, "test1234", &ui.Recorder{})
	err := sender.Send(context.Background(), &bytes.Buffer{}, nil)
	assert.True(t, apperr.IsType(err, apperr.ErrConfiguration))
}

func TestReceiveRejectsEscapingName(t *testing.T) {
	receiver := newTestFileshare(t, "test1234", &ui.Recorder{})
	dest := t.TempDir()

	var in bytes.Buffer
	require.NoError(t, wire.WriteUint64(&in, 1))
	require.NoError(t, writeFileRecord(&in, FileRecord{Name: "../evil", Size: 1}))
	err := receiver.Receive(context.Background(), &readWriter{Reader: &in, Writer: &bytes.Buffer{}}, dest)
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrFilesystem))
}

// sendUnconfirmed plays the sender for one file up to and including the
// receiver's acknowledgement, then stops without confirming it.
func sendUnconfirmed(conn net.Conn, fs *Fileshare, name string, data []byte) error {
	if err := writeFileRecord(conn, FileRecord{Name: name, Size: uint64(len(data))}); err != nil {
		return err
	}
	if _, err := wire.ReadUint64(conn); err != nil {
		return err
	}
	if err := writeChunk(conn, fs.aead, data); err != nil {
		return err
	}
	if err := writeEOF(conn); err != nil {
		return err
	}
	_, err := wire.ReadUint64(conn)
	return err
}

func TestMissingFinalConfirmationOnlyWarns(t *testing.T) {
	rec := &ui.Recorder{}
	receiver := newTestFileshare(t, "test1234", rec)
	receiver.finalAckTimeout = 100 * time.Millisecond
	dest := t.TempDir()
	data := []byte("last file of the batch")

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	var g errgroup.Group
	g.Go(func() error {
		if err := wire.WriteUint64(a, 1); err != nil {
			return err
		}
		if err := sendUnconfirmed(a, receiver, "last.txt", data); err != nil {
			return err
		}
		// Hold the connection open so only the timeout can end the wait.
		<-done
		return nil
	})

	err := receiver.Receive(context.Background(), b, dest)
	close(done)
	require.NoError(t, g.Wait())
	require.NoError(t, err)

	assert.True(t, rec.Contains("Didn't receive confirmation"))
	got, err := os.ReadFile(filepath.Join(dest, "last.txt"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestMissingConfirmationBeforeLastFileFails(t *testing.T) {
	rec := &ui.Recorder{}
	receiver := newTestFileshare(t, "test1234", rec)
	receiver.finalAckTimeout = 100 * time.Millisecond

	a, b := net.Pipe()
	defer b.Close()

	var g errgroup.Group
	g.Go(func() error {
		defer a.Close()
		if err := wire.WriteUint64(a, 2); err != nil {
			return err
		}
		return sendUnconfirmed(a, receiver, "first.txt", []byte("first of two"))
	})

	err := receiver.Receive(context.Background(), b, t.TempDir())
	require.NoError(t, g.Wait())
	require.Error(t, err)
	assert.True(t, apperr.IsType(err, apperr.ErrTransport))
	assert.False(t, rec.Contains("Didn't receive confirmation"))
	assert.False(t, rec.Contains("Receiving file 2 of 2."))
}

type readWriter struct {
	Reader *bytes.Buffer
	Writer *bytes.Buffer
}

func (rw *readWriter) Read(p []byte) (int, error)  { return rw.Reader.Read(p) }
func (rw *readWriter) Write(p []byte) (int, error) { return rw.Writer.Write(p) }
