package model

import "github.com/libp2p/go-libp2p/core/peer"

// ComputerSpec describes the hardware of a peer at the time it announced itself.
type ComputerSpec struct {
	Host   string `json:"host"`
	OS     string `json:"os"`
	Arch   string `json:"arch"`
	Memory uint64 `json:"memory"`
	CPU    string `json:"cpu"`
	GPU    string `json:"gpu,omitempty"`
	Cores  int    `json:"cores"`
}

type Worker struct {
	ID   peer.ID      `json:"id"`
	Spec ComputerSpec `json:"spec"`
}
