package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"
)

// terminalUI prints session output as lines and file progress as a bar.
type terminalUI struct {
	out io.Writer

	mu  sync.Mutex
	bar *progressbar.ProgressBar
}

func newTerminalUI(out io.Writer) *terminalUI {
	return &terminalUI{out: out}
}

func (t *terminalUI) Output(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil {
		t.bar.Clear()
	}
	fmt.Fprintln(t.out, msg)
}

func (t *terminalUI) ShowProgress() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bar = progressbar.NewOptions(100,
		progressbar.OptionSetWriter(t.out),
		progressbar.OptionSetDescription("transferring"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)
}

func (t *terminalUI) UpdateProgress(percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar == nil {
		return
	}
	t.bar.Set(percent)
	if percent >= 100 {
		t.bar.Finish()
		t.bar = nil
	}
}

func (t *terminalUI) EnableUI() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bar != nil {
		t.bar.Exit()
		t.bar = nil
	}
}

func (t *terminalUI) ShowPin(pin string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, "Bluetooth pairing PIN: %s\n", pin)
}
