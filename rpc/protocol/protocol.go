// Package protocol defines the messages exchanged between farm peers.
package protocol

import (
	p2pprotocol "github.com/libp2p/go-libp2p/core/protocol"
	"github.com/pyropy/renderfarm/core/model"
)

const (
	IdentityTopic = "renderfarm/identity/1"
	StatusTopic   = "renderfarm/status/1"
	JobsTopic     = "renderfarm/jobs/1"

	FileProtocol p2pprotocol.ID = "/renderfarm/file/1.0.0"
	DHTPrefix    p2pprotocol.ID = "/renderfarm"
)

// IdentityMessage either announces the sender's spec or, with Request set,
// asks every announcing peer to announce again.
type IdentityMessage struct {
	Spec    *model.ComputerSpec `json:"spec,omitempty"`
	Request bool                `json:"request,omitempty"`
}

type StatusMessage struct {
	Text string `json:"text"`
}

// JobMessage carries a job event. Target holds the encoded peer id the event
// is meant for; an empty target addresses every peer.
type JobMessage struct {
	Target string         `json:"target,omitempty"`
	Event  model.JobEvent `json:"event"`
}

type FileRequest struct {
	FileName string `json:"file_name"`
}

// FileResponseHeader precedes Size raw bytes of file content when OK is set.
type FileResponseHeader struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Size     int64  `json:"size"`
	CheckSum int    `json:"checksum"`
}
