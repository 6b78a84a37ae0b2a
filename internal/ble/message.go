// Package ble negotiates connection credentials over Bluetooth Low Energy.
// The sending peer advertises a GATT service and the receiving peer scans
// for it; between them they exchange operating systems and then the
// network name and password chosen by whichever end will host.
package ble

import (
	"fmt"

	"github.com/google/uuid"
)

var (
	ServiceUUID                = uuid.MustParse("A70BF3CA-F708-4314-8A0E-5E37C259BE5C")
	OSCharacteristicUUID       = uuid.MustParse("BEE14848-CC55-4FDE-8E9D-2E0F9EC45946")
	SSIDCharacteristicUUID     = uuid.MustParse("0D820768-A329-4ED4-8F53-BDF364EDAC75")
	PasswordCharacteristicUUID = uuid.MustParse("E1FA8F66-CF88-4572-9527-D5125A2E0762")
)

// NoValue is served for the SSID and password characteristics until the
// hosting side has chosen them.
const NoValue = "NONE"

type Kind int

const (
	Pin Kind = iota
	PairApproved
	PairSuccess
	PairFailure
	AlreadyPaired
	UserCanceled
	StartedAdvertising
	PeerOS
	SSID
	Password
	PeerReadSSID
	PeerReadPassword
	OtherError
)

var kindNames = map[Kind]string{
	Pin:                "Pin",
	PairApproved:       "PairApproved",
	PairSuccess:        "PairSuccess",
	PairFailure:        "PairFailure",
	AlreadyPaired:      "AlreadyPaired",
	UserCanceled:       "UserCanceled",
	StartedAdvertising: "StartedAdvertising",
	PeerOS:             "PeerOS",
	SSID:               "SSID",
	Password:           "Password",
	PeerReadSSID:       "PeerReadSSID",
	PeerReadPassword:   "PeerReadPassword",
	OtherError:         "OtherError",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Message is one event published by a transport. Value carries the PIN,
// OS, SSID, password or error text for the kinds that have one.
type Message struct {
	Kind  Kind
	Value string
}

func (m Message) String() string {
	switch m.Kind {
	case Password:
		return "Password(***)"
	case Pin, PeerOS, SSID, OtherError:
		return fmt.Sprintf("%s(%s)", m.Kind, m.Value)
	default:
		return m.Kind.String()
	}
}

// terminal kinds abort negotiation whatever state it is in.
func (k Kind) terminal() bool {
	return k == PairFailure || k == UserCanceled || k == OtherError
}
