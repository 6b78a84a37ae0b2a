// Package ui defines the sink the transfer core reports to. Calls are
// fire-and-forget: the core never reads anything back and makes no
// assumption about which goroutine a call arrives on.
package ui

import (
	"sync"

	"github.com/sirupsen/logrus"
)

type UI interface {
	Output(msg string)
	ShowProgress()
	UpdateProgress(percent int)
	EnableUI()
	ShowPin(pin string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Output(string)      {}
func (Nop) ShowProgress()      {}
func (Nop) UpdateProgress(int) {}
func (Nop) EnableUI()          {}
func (Nop) ShowPin(string)     {}

// Log writes every call to a logrus entry. Useful headless and in tests.
type Log struct {
	Entry *logrus.Entry
}

func (l Log) Output(msg string)          { l.Entry.Info(msg) }
func (l Log) ShowProgress()              { l.Entry.Debug("progress started") }
func (l Log) UpdateProgress(percent int) { l.Entry.WithField("percent", percent).Debug("progress") }
func (l Log) EnableUI()                  { l.Entry.Debug("ui enabled") }
func (l Log) ShowPin(pin string)         { l.Entry.WithField("pin", pin).Info("confirm Bluetooth pairing PIN") }

// Recorder keeps every call so tests can assert on what the user saw.
type Recorder struct {
	mu       sync.Mutex
	Lines    []string
	Progress []int
	Pins     []string
	Enabled  int
}

func (r *Recorder) Output(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Lines = append(r.Lines, msg)
}

func (r *Recorder) ShowProgress() {}

func (r *Recorder) UpdateProgress(percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Progress = append(r.Progress, percent)
}

func (r *Recorder) EnableUI() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Enabled++
}

func (r *Recorder) ShowPin(pin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Pins = append(r.Pins, pin)
}

// Outputs returns a copy of the recorded lines.
func (r *Recorder) Outputs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Lines...)
}

// Contains reports whether some recorded line equals msg.
func (r *Recorder) Contains(msg string) bool {
	for _, l := range r.Outputs() {
		if l == msg {
			return true
		}
	}
	return false
}

// EnabledCount returns how many times EnableUI was called.
func (r *Recorder) EnabledCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Enabled
}
