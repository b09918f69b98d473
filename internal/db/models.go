package db

import (
	"time"
)

type Component struct {
	ID             string
	SerialNumber   string
	Type           string
	DateReceived   time.Time
	ArrivedFrom    string
	PrimaryFault   string
	SecondaryFault string
	Status         string
	UpdateDate     time.Time
}

type ComponentHist struct {
	ID          int64
	ComponentID string
	Version     int32
	Timestamp   time.Time
	UpdatedBy   string
	Changes     []byte
	FullState   []byte
}
