package model

import "time"

// CommissioningState is one of the five window states (spec §4.6).
type CommissioningState string

const (
	StateUncommissionedIdle        CommissioningState = "uncommissioned-idle"
	StateAdvertising                CommissioningState = "advertising"
	StateCommissionedIdle            CommissioningState = "commissioned-idle"
	StateAdvertisingAfterCommissioned CommissioningState = "advertising-after-commissioned"
	StateOffline                    CommissioningState = "offline"
)

// PairingCodes is the QR + manual pairing-code pair the Matter engine
// derives for an advertising server node.
type PairingCodes struct {
	QR     string
	Manual string
}

// CommissioningWindow is the per-server-node state the Commissioning
// Supervisor owns (spec §3 "Commissioning Window").
type CommissioningWindow struct {
	State     CommissioningState
	OpenedAt  time.Time
	ExpiresAt time.Time
	Codes     PairingCodes
}

// FabricRecord is the sanitised view of one Matter fabric (spec §3
// "Fabric Record").
type FabricRecord struct {
	FabricIndex   uint8
	FabricID      string
	NodeID        string
	RootNodeID    string
	RootVendorID  uint16
	RootVendorName string
	Label         string
}

// SessionRecord is the sanitised view of one Matter session (spec §3
// "Session Record").
type SessionRecord struct {
	Name           string
	NodeID         string
	PeerNodeID     string
	Secure         bool
	Active         bool
	CreatedAt      time.Time
	LastActivityAt time.Time
	Subscriptions  int
	FabricIndex    *uint8
}

// ServerNode is the identity and lifecycle record for one Matter server
// node (spec §3 "Server Node"). StoreID is "Matterbridge" in bridge mode
// or the plugin name in childbridge mode.
type ServerNode struct {
	StoreID       string
	Port          int
	Passcode      int
	Discriminator int

	IsReady       bool
	IsOnline      bool
	IsCommissioned bool

	Fabrics  map[uint8]FabricRecord
	Sessions map[string]SessionRecord

	Window CommissioningWindow
}

// NewServerNode constructs a ServerNode with empty fabric/session tables.
func NewServerNode(storeID string, port, passcode, discriminator int) *ServerNode {
	return &ServerNode{
		StoreID:       storeID,
		Port:          port,
		Passcode:      passcode,
		Discriminator: discriminator,
		Fabrics:       make(map[uint8]FabricRecord),
		Sessions:      make(map[string]SessionRecord),
		Window:        CommissioningWindow{State: StateUncommissionedIdle},
	}
}
