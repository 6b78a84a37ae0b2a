package ble

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	apperr "flyingcarpet/internal/errors"
	"flyingcarpet/internal/ui"
)

type State int

const (
	// peripheral
	AwaitAdvertising State = iota
	WaitPeerOS
	WaitPeerReadSSID
	WaitPeerReadPassword
	WaitPeerWritesSSID
	WaitPeerWritesPassword
	// central
	WaitPin
	WaitPairResult
	DiscoverService
	// both
	Done
)

var stateNames = [...]string{
	"AwaitAdvertising", "WaitPeerOS", "WaitPeerReadSSID", "WaitPeerReadPassword",
	"WaitPeerWritesSSID", "WaitPeerWritesPassword", "WaitPin", "WaitPairResult",
	"DiscoverService", "Done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// awaits is the message kind each event-driven state consumes.
var awaits = map[State]Kind{
	AwaitAdvertising:       StartedAdvertising,
	WaitPeerOS:             PeerOS,
	WaitPeerReadSSID:       PeerReadSSID,
	WaitPeerReadPassword:   PeerReadPassword,
	WaitPeerWritesSSID:     SSID,
	WaitPeerWritesPassword: Password,
	WaitPin:                Pin,
	WaitPairResult:         PairSuccess,
}

// classify decides what msg means to a state waiting for want. Terminal kinds
// fail from anywhere; AlreadyPaired only satisfies the pairing waits; any
// other mismatch is ignored.
func classify(want Kind, msg Message) (matched bool, err error) {
	switch {
	case msg.Kind.terminal():
		return false, negotiationError(msg)
	case msg.Kind == AlreadyPaired:
		return want == Pin || want == PairSuccess, nil
	default:
		return msg.Kind == want, nil
	}
}

func negotiationError(msg Message) error {
	var text string
	switch msg.Kind {
	case PairFailure:
		text = "Pairing failed."
	case UserCanceled:
		text = "User canceled."
	default:
		text = msg.Value
		if text == "" {
			text = "Bluetooth error"
		}
	}
	return apperr.Fatal(apperr.ErrNegotiation, "bluetooth", text, nil)
}

// announce shows the user what a message means. It runs for every message,
// matched or not.
func announce(sink ui.UI, msg Message) {
	switch msg.Kind {
	case Pin:
		sink.ShowPin(msg.Value)
	case PairApproved:
		sink.Output("Pairing approved.")
	case PairSuccess:
		sink.Output("Successfully paired")
	case AlreadyPaired:
		sink.Output("Already BLE paired with Bluetooth device")
	case StartedAdvertising:
		sink.Output("Started advertising Bluetooth service")
	case PeerOS:
		sink.Output(fmt.Sprintf("Peer's OS is %s", msg.Value))
	case SSID:
		sink.Output(fmt.Sprintf("Peer's SSID is %s", msg.Value))
	case Password:
		sink.Output("Received peer's password")
	case PeerReadSSID:
		sink.Output("Peer read our SSID")
	case PeerReadPassword:
		sink.Output("Peer read our password")
	}
}

// machine is the shared event loop: it feeds messages from events to step
// until the state reaches Done or step fails.
type machine struct {
	ui   ui.UI
	log  *logrus.Entry
	step func(State, Message) (State, error)
}

func (m *machine) run(ctx context.Context, events <-chan Message, st State, until State) (State, error) {
	for st != until && st != Done {
		var msg Message
		select {
		case <-ctx.Done():
			return st, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "Bluetooth negotiation canceled", ctx.Err())
		case in, ok := <-events:
			if !ok {
				return st, apperr.Fatal(apperr.ErrNegotiation, "bluetooth", "Bluetooth message channel unexpectedly closed", nil)
			}
			msg = in
		}
		m.log.WithFields(logrus.Fields{"state": st.String(), "message": msg.String()}).Debug("bluetooth message")
		announce(m.ui, msg)

		matched, err := classify(awaits[st], msg)
		if err != nil {
			return st, err
		}
		if !matched {
			m.log.WithFields(logrus.Fields{"state": st.String(), "message": msg.String()}).Debug("ignoring unexpected bluetooth message")
			continue
		}
		if st, err = m.step(st, msg); err != nil {
			return st, err
		}
	}
	return st, nil
}
