package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store wraps a gorm/sqlite connection with the queries the rest of the
// daemon needs.
type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

// Open opens (creating if necessary) the sqlite database at path and
// migrates the schema.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}
	if err := db.AutoMigrate(&PacketRecord{}, &AdvertRecord{}, &NoiseFloorSample{}, &TransportKey{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db, log: log.WithGroup("store")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StorePacket inserts a single packet record.
func (s *Store) StorePacket(ctx context.Context, rec *PacketRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("storing packet record: %w", err)
	}
	return nil
}

// StoreAdvert performs the neighbor upsert keyed on PubKey: first insertion
// creates with AdvertCount=1, IsNewNeighbor=true; subsequent observations
// update metrics and increment AdvertCount, clearing IsNewNeighbor.
//
// original_source/repeater/data_acquisition/sqlite_handler.py does this as a
// SELECT followed by an UPDATE or INSERT, which races under concurrent
// writers. This uses an atomic upsert via gorm's ON CONFLICT clause so
// AdvertCount stays correct even if two adverts for the same node are
// processed back to back.
func (s *Store) StoreAdvert(ctx context.Context, rec *AdvertRecord) (isNew bool, err error) {
	var existing AdvertRecord
	err = s.db.WithContext(ctx).Where("pub_key = ?", rec.PubKey).Take(&existing).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		rec.FirstSeen = rec.Timestamp
		rec.LastSeen = rec.Timestamp
		rec.AdvertCount = 1
		rec.IsNewNeighbor = true
		createErr := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pub_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"node_name", "is_repeater", "route_type", "contact_type", "latitude", "longitude", "last_seen", "rssi", "snr"}),
		}).Create(rec).Error
		if createErr != nil {
			return false, fmt.Errorf("inserting advert record: %w", createErr)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("looking up advert record: %w", err)
	}

	rec.ID = existing.ID
	rec.FirstSeen = existing.FirstSeen
	rec.AdvertCount = existing.AdvertCount + 1
	rec.IsNewNeighbor = false
	if err := s.db.WithContext(ctx).Model(&AdvertRecord{}).Where("id = ?", existing.ID).Updates(map[string]any{
		"timestamp":       rec.Timestamp,
		"node_name":       rec.NodeName,
		"is_repeater":     rec.IsRepeater,
		"route_type":      rec.RouteType,
		"contact_type":    rec.ContactType,
		"latitude":        rec.Latitude,
		"longitude":       rec.Longitude,
		"last_seen":       rec.Timestamp,
		"rssi":            rec.RSSI,
		"snr":             rec.SNR,
		"advert_count":    rec.AdvertCount,
		"is_new_neighbor": false,
	}).Error; err != nil {
		return false, fmt.Errorf("updating advert record: %w", err)
	}
	return false, nil
}

// StoreNoise appends a noise-floor sample.
func (s *Store) StoreNoise(ctx context.Context, dbm float64, at time.Time) error {
	if err := s.db.WithContext(ctx).Create(&NoiseFloorSample{Timestamp: at, NoiseFloorDBM: dbm}).Error; err != nil {
		return fmt.Errorf("storing noise floor sample: %w", err)
	}
	return nil
}

// PacketStats summarizes received/transmitted/dropped counts over a window.
type PacketStats struct {
	Total       int64
	Transmitted int64
	Dropped     int64
	Duplicate   int64
}

// PacketStatsSince returns aggregate counters for packets received since t.
func (s *Store) PacketStatsSince(ctx context.Context, since time.Time) (PacketStats, error) {
	var stats PacketStats
	q := s.db.WithContext(ctx).Model(&PacketRecord{}).Where("timestamp >= ?", since)
	if err := q.Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := q.Where("transmitted = ?", true).Count(&stats.Transmitted).Error; err != nil {
		return stats, err
	}
	if err := s.db.WithContext(ctx).Model(&PacketRecord{}).Where("timestamp >= ? AND drop_reason != ''", since).Count(&stats.Dropped).Error; err != nil {
		return stats, err
	}
	if err := s.db.WithContext(ctx).Model(&PacketRecord{}).Where("timestamp >= ? AND is_duplicate = ?", since, true).Count(&stats.Duplicate).Error; err != nil {
		return stats, err
	}
	return stats, nil
}

// PacketFilter bounds a FilteredPackets query.
type PacketFilter struct {
	Type           *uint8
	Route          string
	StartTimestamp *time.Time
	EndTimestamp   *time.Time
	Limit          int
}

// FilteredPackets returns packets matching the optional filters, newest
// first, bounded by limit.
func (s *Store) FilteredPackets(ctx context.Context, f PacketFilter) ([]PacketRecord, error) {
	q := s.db.WithContext(ctx).Model(&PacketRecord{}).Order("timestamp DESC")
	if f.Type != nil {
		q = q.Where("type = ?", *f.Type)
	}
	if f.Route != "" {
		q = q.Where("route = ?", f.Route)
	}
	if f.StartTimestamp != nil {
		q = q.Where("timestamp >= ?", *f.StartTimestamp)
	}
	if f.EndTimestamp != nil {
		q = q.Where("timestamp <= ?", *f.EndTimestamp)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	var recs []PacketRecord
	if err := q.Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("querying filtered packets: %w", err)
	}
	return recs, nil
}

// PacketByHash looks up a single packet record by its 16-hex packet hash.
func (s *Store) PacketByHash(ctx context.Context, hash string) (*PacketRecord, error) {
	var rec PacketRecord
	if err := s.db.WithContext(ctx).Where("packet_hash = ?", hash).Order("timestamp DESC").Take(&rec).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("querying packet by hash: %w", err)
	}
	return &rec, nil
}

// TypeCount is one row of a per-type or per-route breakdown.
type TypeCount struct {
	Key   string
	Count int64
}

// PacketTypeCounts returns per-payload-type counts since t.
func (s *Store) PacketTypeCounts(ctx context.Context, since time.Time) ([]TypeCount, error) {
	var rows []TypeCount
	if err := s.db.WithContext(ctx).Model(&PacketRecord{}).
		Select("type as key, count(*) as count").
		Where("timestamp >= ?", since).
		Group("type").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying packet type counts: %w", err)
	}
	return rows, nil
}

// RouteCounts returns per-route counts since t.
func (s *Store) RouteCounts(ctx context.Context, since time.Time) ([]TypeCount, error) {
	var rows []TypeCount
	if err := s.db.WithContext(ctx).Model(&PacketRecord{}).
		Select("route as key, count(*) as count").
		Where("timestamp >= ?", since).
		Group("route").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying route counts: %w", err)
	}
	return rows, nil
}

// Neighbors returns the most recently seen row per distinct pubkey.
func (s *Store) Neighbors(ctx context.Context) ([]AdvertRecord, error) {
	var recs []AdvertRecord
	if err := s.db.WithContext(ctx).Order("last_seen DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("querying neighbors: %w", err)
	}
	return recs, nil
}

// AdvertsByContactType returns recent adverts filtered by contact type.
func (s *Store) AdvertsByContactType(ctx context.Context, contactType string, since time.Time, limit int) ([]AdvertRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []AdvertRecord
	q := s.db.WithContext(ctx).Where("last_seen >= ?", since).Order("last_seen DESC").Limit(limit)
	if contactType != "" {
		q = q.Where("contact_type = ?", contactType)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("querying adverts by contact type: %w", err)
	}
	return recs, nil
}

// NoiseFloorHistory returns noise samples since t.
func (s *Store) NoiseFloorHistory(ctx context.Context, since time.Time) ([]NoiseFloorSample, error) {
	var recs []NoiseFloorSample
	if err := s.db.WithContext(ctx).Where("timestamp >= ?", since).Order("timestamp ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("querying noise floor history: %w", err)
	}
	return recs, nil
}

// NoiseFloorStats summarizes min/max/avg noise floor since t.
type NoiseFloorStats struct {
	Min, Max, Avg float64
}

func (s *Store) NoiseFloorStats(ctx context.Context, since time.Time) (NoiseFloorStats, error) {
	var stats NoiseFloorStats
	row := s.db.WithContext(ctx).Model(&NoiseFloorSample{}).
		Select("min(noise_floor_dbm), max(noise_floor_dbm), avg(noise_floor_dbm)").
		Where("timestamp >= ?", since).Row()
	if err := row.Scan(&stats.Min, &stats.Max, &stats.Avg); err != nil {
		return stats, fmt.Errorf("querying noise floor stats: %w", err)
	}
	return stats, nil
}

// --- Transport key CRUD ---

func (s *Store) ListTransportKeys(ctx context.Context) ([]TransportKey, error) {
	var keys []TransportKey
	if err := s.db.WithContext(ctx).Find(&keys).Error; err != nil {
		return nil, fmt.Errorf("listing transport keys: %w", err)
	}
	return keys, nil
}

func (s *Store) GetTransportKey(ctx context.Context, id uint64) (*TransportKey, error) {
	var key TransportKey
	if err := s.db.WithContext(ctx).First(&key, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting transport key: %w", err)
	}
	return &key, nil
}

func (s *Store) CreateTransportKey(ctx context.Context, key *TransportKey) error {
	now := time.Now()
	key.CreatedAt = now
	key.UpdatedAt = now
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return fmt.Errorf("creating transport key: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransportKey(ctx context.Context, key *TransportKey) error {
	key.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(key).Error; err != nil {
		return fmt.Errorf("updating transport key: %w", err)
	}
	return nil
}

func (s *Store) DeleteTransportKey(ctx context.Context, id uint64) error {
	if err := s.db.WithContext(ctx).Delete(&TransportKey{}, id).Error; err != nil {
		return fmt.Errorf("deleting transport key: %w", err)
	}
	return nil
}

// TouchTransportKey updates LastUsed to now. Called by the engine's
// transport-key cache on a successful code match.
func (s *Store) TouchTransportKey(ctx context.Context, id uint64) error {
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&TransportKey{}).Where("id = ?", id).Update("last_used", now).Error; err != nil {
		return fmt.Errorf("touching transport key: %w", err)
	}
	return nil
}

// CumulativeCounts feeds the time-series store's monotonic counters: total
// rx, tx, drop counts and per-payload-type counts, all-time.
type CumulativeCounts struct {
	Rx, Tx, Drop int64
	ByType       map[uint8]int64
}

func (s *Store) CumulativeCounts(ctx context.Context) (CumulativeCounts, error) {
	var cc CumulativeCounts
	cc.ByType = make(map[uint8]int64)

	if err := s.db.WithContext(ctx).Model(&PacketRecord{}).Count(&cc.Rx).Error; err != nil {
		return cc, err
	}
	if err := s.db.WithContext(ctx).Model(&PacketRecord{}).Where("transmitted = ?", true).Count(&cc.Tx).Error; err != nil {
		return cc, err
	}
	if err := s.db.WithContext(ctx).Model(&PacketRecord{}).Where("drop_reason != ''").Count(&cc.Drop).Error; err != nil {
		return cc, err
	}

	rows, err := s.PacketTypeCounts(ctx, time.Unix(0, 0))
	if err != nil {
		return cc, err
	}
	for _, r := range rows {
		var t uint8
		fmt.Sscanf(r.Key, "%d", &t)
		cc.ByType[t] = r.Count
	}
	return cc, nil
}
