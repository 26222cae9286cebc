// Package store is the durable Relational Store: packets, adverts,
// noise-floor samples, and transport keys, backed by gorm.io/gorm +
// gorm.io/driver/sqlite. Table and column shapes are grounded on
// original_source/repeater/data_acquisition/sqlite_handler.py.
package store

import "time"

// PacketRecord is a persisted, immutable row for one received frame.
type PacketRecord struct {
	ID             uint64    `gorm:"primaryKey" json:"id"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
	Type           uint8     `gorm:"index" json:"type"`
	Route          string    `json:"route"`
	Length         int       `json:"length"`
	RSSI           int       `json:"rssi"`
	SNR            float64   `json:"snr"`
	Score          float64   `json:"score"`
	Transmitted    bool      `json:"transmitted"`
	IsDuplicate    bool      `json:"is_duplicate"`
	DropReason     string    `json:"drop_reason,omitempty"`
	SrcHash        string    `json:"src_hash,omitempty"`
	DstHash        string    `json:"dst_hash,omitempty"`
	PathHash       string    `json:"path_hash,omitempty"`
	Header         uint8     `json:"header"`
	TransportCodes string    `json:"transport_codes,omitempty"` // hex
	Payload        string    `json:"payload"`                   // hex
	PayloadLength  int       `json:"payload_length"`
	TxDelayMS      float64   `json:"tx_delay_ms"`
	PacketHash     string    `gorm:"index" json:"packet_hash"`   // 16-hex prefix
	OriginalPath   string    `json:"original_path,omitempty"`    // JSON array of path bytes
	ForwardedPath  string    `json:"forwarded_path,omitempty"`   // JSON array of path bytes
	RawPacket      string    `json:"raw_packet"`                 // hex
}

// TableName pins the table name rather than relying on gorm's pluralizer,
// matching the original sqlite_handler.py schema name.
func (PacketRecord) TableName() string { return "packets" }

// AdvertRecord is a persisted, upserted row per observed node, keyed by
// PubKey.
type AdvertRecord struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
	PubKey        string    `gorm:"uniqueIndex" json:"pubkey"`
	NodeName      string    `json:"node_name"`
	IsRepeater    bool      `json:"is_repeater"`
	RouteType     string    `json:"route_type"`
	ContactType   string    `json:"contact_type"`
	Latitude      *float64  `json:"latitude,omitempty"`
	Longitude     *float64  `json:"longitude,omitempty"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
	RSSI          int       `json:"rssi"`
	SNR           float64   `json:"snr"`
	AdvertCount   int       `json:"advert_count"`
	IsNewNeighbor bool      `json:"is_new_neighbor"`
}

func (AdvertRecord) TableName() string { return "adverts" }

// NoiseFloorSample is an append-only background noise-floor reading.
type NoiseFloorSample struct {
	ID            uint64    `gorm:"primaryKey" json:"id"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
	NoiseFloorDBM float64   `json:"noise_floor_dbm"`
}

func (NoiseFloorSample) TableName() string { return "noise_floor" }

// TransportKey gates forwarding under a global flood-deny policy.
type TransportKey struct {
	ID           uint64     `gorm:"primaryKey" json:"id"`
	Name         string     `gorm:"uniqueIndex" json:"name"`
	FloodPolicy  string     `gorm:"check:flood_policy IN ('allow','deny')" json:"flood_policy"`
	TransportKey string     `json:"transport_key"` // base64
	LastUsed     *time.Time `json:"last_used,omitempty"`
	ParentID     *uint64    `gorm:"index" json:"parent_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (TransportKey) TableName() string { return "transport_keys" }
