// Package transfer moves files over an already handshaken stream. Every
// chunk is sealed with AES-256-GCM under the session key, and files the
// receiver already holds byte for byte are skipped after a SHA-256
// comparison.
package transfer

import (
	"bytes"
	"context"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/keys"
	"flyingcarpet/internal/ui"
	"flyingcarpet/internal/wire"
)

// FinalAckTimeout bounds the receiver's wait for the sender's last
// double confirmation. The sender may already have closed its side.
const FinalAckTimeout = 2 * time.Second

const separator = "========================="

type Fileshare struct {
	aead            cipher.AEAD
	ui              ui.UI
	log             *logrus.Entry
	tracker         *Tracker
	finalAckTimeout time.Duration
}

func NewFileshare(key [keys.KeySize]byte, sink ui.UI, log *logrus.Entry) (*Fileshare, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, apperr.Fatal(apperr.ErrCrypto, "transfer", "could not initialise cipher", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Fileshare{
		aead:            aead,
		ui:              sink,
		log:             log,
		tracker:         NewTracker(log),
		finalAckTimeout: FinalAckTimeout,
	}, nil
}

// Tracker exposes per-file progress.
func (fs *Fileshare) Tracker() *Tracker {
	return fs.tracker
}

// Send writes the file count and then each file in order.
func (fs *Fileshare) Send(ctx context.Context, rw io.ReadWriter, files []string) error {
	if len(files) == 0 {
		return apperr.Fatal(apperr.ErrConfiguration, "send", "Send mode selected but no files present", nil)
	}
	base, err := CommonFolder(files)
	if err != nil {
		return apperr.Fatal(apperr.ErrFilesystem, "send", "could not resolve files", err)
	}
	if err := wire.WriteUint64(rw, uint64(len(files))); err != nil {
		return apperr.Fatal(apperr.ErrTransport, "send", "Error writing number of files", err)
	}

	for i, file := range files {
		name, err := RelativeName(base, file)
		if err != nil {
			return apperr.Fatal(apperr.ErrFilesystem, "send", "could not resolve file name", err)
		}
		fs.ui.Output(separator)
		fs.ui.Output(fmt.Sprintf("Sending file %d of %d. Filename: %s", i+1, len(files), name))
		if err := fs.SendFile(ctx, rw, file, name); err != nil {
			return apperr.Fatal(kindOf(err), "send", "Error sending file "+name, err)
		}
	}
	return nil
}

// SendFile sends one file under the given wire name.
func (fs *Fileshare) SendFile(ctx context.Context, rw io.ReadWriter, path, name string) error {
	file, err := os.Open(path)
	if err != nil {
		return apperr.Fatal(apperr.ErrFilesystem, "send", "could not open file", err)
	}
	defer file.Close()

	filestats, err := file.Stat()
	if err != nil {
		return apperr.Fatal(apperr.ErrFilesystem, "send", "could not stat file", err)
	}
	metadata := FileRecord{Name: name, Size: uint64(filestats.Size())}
	fs.ui.Output("File size: " + MakeSizeReadable(metadata.Size))

	if err := writeFileRecord(rw, metadata); err != nil {
		return transportErr("sending file details", err)
	}

	needTransfer, err := fs.offerHash(rw, path)
	if err != nil {
		return err
	}
	transferkey := fs.tracker.CreateTransfer(metadata, SENDING)
	if !needTransfer {
		fs.tracker.SkipTransfer(transferkey)
		fs.ui.Output("Recipient already has this file, skipping.")
		return nil
	}

	fs.ui.ShowProgress()
	tempfilebuffer := make([]byte, ChunkSize)
	reader := io.LimitReader(file, int64(metadata.Size))
	var totalbytesent uint64
	for {
		if err := ctx.Err(); err != nil {
			fs.tracker.FailTransfer(transferkey, err)
			return transportErr("sending file", err)
		}
		n, err := io.ReadFull(reader, tempfilebuffer)
		if n > 0 {
			if werr := writeChunk(rw, fs.aead, tempfilebuffer[:n]); werr != nil {
				fs.tracker.FailTransfer(transferkey, werr)
				return transportErr("sending chunk", werr)
			}
			totalbytesent += uint64(n)
			percentDone, _ := fs.tracker.UpdateTransferProgress(transferkey, totalbytesent)
			fs.ui.UpdateProgress(percentDone)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			fs.tracker.FailTransfer(transferkey, err)
			return apperr.Fatal(apperr.ErrFilesystem, "send", "could not read file", err)
		}
	}

	if err := writeEOF(rw); err != nil {
		return transportErr("sending end of file", err)
	}
	fs.ui.UpdateProgress(100)
	fs.tracker.CompleteTransfer(transferkey)
	fs.reportStats("Sending", transferkey)

	// receiver says it has everything, then we confirm once more
	if _, err := wire.ReadUint64(rw); err != nil {
		return transportErr("waiting for receiver confirmation", err)
	}
	if err := wire.WriteUint64(rw, 1); err != nil {
		return transportErr("sending double confirmation", err)
	}
	return nil
}

// offerHash answers the receiver's has-file flag. It returns false when the
// receiver already holds an identical copy.
func (fs *Fileshare) offerHash(rw io.ReadWriter, path string) (bool, error) {
	hasFile, err := wire.ReadUint64(rw)
	if err != nil {
		return false, transportErr("reading has-file flag", err)
	}
	if hasFile != 1 {
		return true, nil
	}
	hash, err := HashFile(path)
	if err != nil {
		return false, apperr.Fatal(apperr.ErrFilesystem, "send", "could not hash file", err)
	}
	if _, err := rw.Write(hash[:]); err != nil {
		return false, transportErr("sending hash", err)
	}
	hashesMatch, err := wire.ReadUint64(rw)
	if err != nil {
		return false, transportErr("reading hash verdict", err)
	}
	return hashesMatch != 1, nil
}

// Receive reads the file count and then each file into dir.
func (fs *Fileshare) Receive(ctx context.Context, rw io.ReadWriter, dir string) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		if err == nil {
			err = fmt.Errorf("%s is not a directory", dir)
		}
		return apperr.Fatal(apperr.ErrConfiguration, "receive", "Receive mode selected but destination folder is unusable", err)
	}

	numFiles, err := wire.ReadUint64(rw)
	if err != nil {
		return apperr.Fatal(apperr.ErrTransport, "receive", "Error reading number of files", err)
	}
	for i := uint64(0); i < numFiles; i++ {
		fs.ui.Output(separator)
		fs.ui.Output(fmt.Sprintf("Receiving file %d of %d.", i+1, numFiles))
		lastFile := i == numFiles-1
		if err := fs.ReceiveFile(ctx, rw, dir, lastFile); err != nil {
			return apperr.Fatal(kindOf(err), "receive", "Error receiving file", err)
		}
	}
	return nil
}

// ReceiveFile receives one file into dir.
func (fs *Fileshare) ReceiveFile(ctx context.Context, rw io.ReadWriter, dir string, lastFile bool) error {
	metadata, err := readFileRecord(rw)
	if err != nil {
		return transportErr("receiving file details", err)
	}
	fs.ui.Output("Filename: " + metadata.Name)
	fs.ui.Output("File size: " + MakeSizeReadable(metadata.Size))

	fullPath, err := SafeJoin(dir, metadata.Name)
	if err != nil {
		return apperr.Fatal(apperr.ErrFilesystem, "receive", "bad file name from peer", err)
	}

	needTransfer, err := fs.checkForFile(rw, fullPath, metadata.Size)
	if err != nil {
		return err
	}
	transferkey := fs.tracker.CreateTransfer(metadata, RECEIVING)
	if !needTransfer {
		fs.tracker.SkipTransfer(transferkey)
		fs.ui.Output("Recipient already has this file, skipping.")
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return apperr.Fatal(apperr.ErrFilesystem, "receive", "could not create parent directories", err)
	}
	file, err := fs.createFile(fullPath)
	if err != nil {
		return err
	}
	defer file.Close()

	fs.ui.ShowProgress()
	var totalbyterec uint64
	for {
		if err := ctx.Err(); err != nil {
			fs.tracker.FailTransfer(transferkey, err)
			return transportErr("receiving file", err)
		}
		plain, eof, err := readChunk(rw, fs.aead)
		if err != nil {
			fs.tracker.FailTransfer(transferkey, err)
			if _, ok := apperr.TypeOf(err); ok {
				return err
			}
			return transportErr("receiving chunk", err)
		}
		if eof {
			break
		}
		if _, err := file.Write(plain); err != nil {
			fs.tracker.FailTransfer(transferkey, err)
			return apperr.Fatal(apperr.ErrFilesystem, "receive", "could not write file", err)
		}
		totalbyterec += uint64(len(plain))
		percentDone, _ := fs.tracker.UpdateTransferProgress(transferkey, totalbyterec)
		fs.ui.UpdateProgress(percentDone)
	}

	if err := wire.WriteUint64(rw, 1); err != nil {
		return transportErr("confirming receipt", err)
	}
	fs.ui.UpdateProgress(100)
	fs.tracker.CompleteTransfer(transferkey)
	fs.ui.Output(fmt.Sprintf("Received file %s. Size: %s.", filepath.Base(file.Name()), MakeSizeReadable(totalbyterec)))
	fs.reportStats("Receiving", transferkey)

	if !lastFile {
		if _, err := wire.ReadUint64(rw); err != nil {
			return transportErr("waiting for double confirmation", err)
		}
		return nil
	}
	if _, err := wire.ReadUint64Timeout(rw, fs.finalAckTimeout); err != nil {
		if err != wire.ErrTimeout {
			return transportErr("waiting for double confirmation", err)
		}
		fs.ui.Output("Didn't receive confirmation")
		fs.log.WithField("file", metadata.Name).Warn("no double confirmation for last file")
	}
	return nil
}

// checkForFile tells the sender whether a same-named, same-sized file is
// already here and, if so, compares digests. It returns true when the file
// must be transferred.
func (fs *Fileshare) checkForFile(rw io.ReadWriter, path string, size uint64) (bool, error) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || uint64(info.Size()) != size {
		if err := wire.WriteUint64(rw, 0); err != nil {
			return false, transportErr("writing has-file flag", err)
		}
		return true, nil
	}

	if err := wire.WriteUint64(rw, 1); err != nil {
		return false, transportErr("writing has-file flag", err)
	}
	localHash, err := HashFile(path)
	if err != nil {
		return false, apperr.Fatal(apperr.ErrFilesystem, "receive", "could not hash existing file", err)
	}
	var peerHash [sha256.Size]byte
	if _, err := io.ReadFull(rw, peerHash[:]); err != nil {
		return false, transportErr("reading peer hash", err)
	}
	hashesMatch := bytes.Equal(localHash[:], peerHash[:])
	if err := wire.WriteBool(rw, hashesMatch); err != nil {
		return false, transportErr("writing hash verdict", err)
	}
	return !hashesMatch, nil
}

// createFile opens a fresh output file, picking "(N) name" when the name is
// already taken so nothing is overwritten.
func (fs *Fileshare) createFile(path string) (*os.File, error) {
	for retryCount := 3; ; retryCount-- {
		candidate := UniquePath(path)
		file, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			if candidate != path {
				fs.log.WithField("path", candidate).Info("file already exists, writing to new name")
			}
			return file, nil
		}
		if !os.IsExist(err) || retryCount == 0 {
			return nil, apperr.Fatal(apperr.ErrFilesystem, "receive", "could not create file", err)
		}
	}
}

func (fs *Fileshare) reportStats(verb, transferkey string) {
	elapsed, mbps, err := fs.tracker.Stats(transferkey)
	if err != nil {
		return
	}
	fs.ui.Output(fmt.Sprintf("%s took %s", verb, FormatTime(elapsed.Seconds())))
	fs.ui.Output(fmt.Sprintf("Speed: %.2fmbps", mbps))
}

func transportErr(what string, err error) error {
	return apperr.Fatal(apperr.ErrTransport, "transfer", "error "+what, err)
}

// kindOf keeps the innermost meaningful category when wrapping.
func kindOf(err error) apperr.ErrorType {
	if apperr.IsType(err, apperr.ErrCrypto) {
		return apperr.ErrCrypto
	}
	if t, ok := apperr.TypeOf(err); ok {
		return t
	}
	return apperr.ErrTransport
}
