package badger

import (
	"context"
	"encoding/json"
	"fmt"

	"commlink/internal/core/domain"
	"commlink/internal/core/ports"

	badgerdb "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const roomPrefix = "room:"

// BadgerRoomStore persists rooms in an embedded BadgerDB, one entry
// per room keyed by room id. It is the zero-dependency persistence
// backend for single-host deployments.
type BadgerRoomStore struct {
	db     *badgerdb.DB
	logger *zap.SugaredLogger
}

func NewBadgerRoomStore(path string, logger *zap.SugaredLogger) (ports.RoomStore, error) {
	opts := badgerdb.DefaultOptions(path)
	opts.Logger = nil

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", path, err)
	}

	logger.Infow("opened badger room store", "path", path)
	return &BadgerRoomStore{db: db, logger: logger}, nil
}

func roomKey(id domain.RoomID) []byte {
	return []byte(roomPrefix + string(id))
}

func (s *BadgerRoomStore) LoadRoomState(ctx context.Context) ([]*domain.Room, error) {
	var rooms []*domain.Room

	err := s.db.View(func(txn *badgerdb.Txn) error {
		options := badgerdb.DefaultIteratorOptions
		prefix := []byte(roomPrefix)
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var room domain.Room
				if err := json.Unmarshal(value, &room); err != nil {
					return fmt.Errorf("corrupt room entry %q: %w", it.Item().Key(), err)
				}
				rooms = append(rooms, &room)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return rooms, nil
}

// SaveRoomState rewrites the stored set to match the given rooms:
// rooms missing from the snapshot are dropped.
func (s *BadgerRoomStore) SaveRoomState(ctx context.Context, rooms []*domain.Room) error {
	keep := make(map[string]struct{}, len(rooms))

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		for _, room := range rooms {
			data, err := json.Marshal(room)
			if err != nil {
				return fmt.Errorf("failed to marshal room %s: %w", room.ID, err)
			}
			key := roomKey(room.ID)
			keep[string(key)] = struct{}{}
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Sweep entries for rooms no longer in the snapshot.
	var stale [][]byte
	err = s.db.View(func(txn *badgerdb.Txn) error {
		options := badgerdb.DefaultIteratorOptions
		options.PrefetchValues = false
		prefix := []byte(roomPrefix)
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, ok := keep[string(key)]; !ok {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(stale) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badgerdb.Txn) error {
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerRoomStore) Close() error {
	return s.db.Close()
}
