// Package consent asks the local user yes/no questions, such as whether a
// Bluetooth pairing PIN matches the one shown on the other device.
package consent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type ConsentResponse struct {
	Accepted bool
}

// ConsentService reads answers line by line from In and writes prompts to
// Out. It is safe to share; questions are asked one at a time.
type ConsentService struct {
	In  io.Reader
	Out io.Writer
	Log *logrus.Entry

	mu     sync.Mutex
	reader *bufio.Reader
	// pending is an answer still being read for a question whose context
	// ended. The next question takes it over rather than racing it.
	pending chan answer
}

type answer struct {
	response ConsentResponse
	err      error
}

func NewConsentService(in io.Reader, out io.Writer, log *logrus.Entry) *ConsentService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &ConsentService{In: in, Out: out, Log: log}
}

// Confirm prints prompt and waits for an answer. Only "y" or "yes" accept.
// If ctx ends first the question counts as declined and ctx's error is
// returned.
func (cs *ConsentService) Confirm(ctx context.Context, prompt string) (bool, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.reader == nil {
		cs.reader = bufio.NewReader(cs.In)
	}

	if _, err := fmt.Fprintf(cs.Out, "%s (y/n): ", prompt); err != nil {
		return false, err
	}

	answerChan := cs.pending
	if answerChan == nil {
		answerChan = make(chan answer, 1)
		go func() {
			line, err := cs.reader.ReadString('\n')
			if err != nil && (err != io.EOF || line == "") {
				answerChan <- answer{err: err}
				return
			}
			answerChan <- answer{response: ConsentResponse{Accepted: accepted(line)}}
		}()
	}
	cs.pending = nil

	select {
	case a := <-answerChan:
		if a.err != nil {
			cs.Log.WithError(a.err).Warn("failed to read consent response")
			return false, a.err
		}
		if a.response.Accepted {
			cs.Log.Debug("consent granted")
		} else {
			cs.Log.Info("consent denied")
		}
		return a.response.Accepted, nil
	case <-ctx.Done():
		cs.pending = answerChan
		return false, ctx.Err()
	}
}

func accepted(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
