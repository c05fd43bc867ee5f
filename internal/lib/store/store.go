package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/encoding/msgpack"
	"github.com/holiman/uint256"
	"go.etcd.io/bbolt"

	"github.com/TxnLab/stakepool/internal/lib/misc"
	"github.com/TxnLab/stakepool/internal/lib/pool"
)

const (
	schemaVersion = "1"
	// how long Open waits for the file lock held by another process
	bboltTimeout = 2 * time.Second
)

var (
	bucketPool        = []byte("pool")
	bucketShares      = []byte("shares")
	bucketWithdrawals = []byte("withdrawals")
	bucketTransfers   = []byte("transfers")

	keyState   = []byte("state")
	keyVersion = []byte("version")
)

// ErrNoState is returned by Load when the database holds no pool yet.
var ErrNoState = errors.New("no pool state stored")

// Store persists a pool in a bbolt database. Each Save is one transaction, so a
// pool entry point is either fully on disk or not at all.
type Store struct {
	log *slog.Logger
	db  *bbolt.DB
}

// Open opens or creates the database at path, creating the parent directory if needed.
func Open(path string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: bboltTimeout})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketPool, bucketShares, bucketWithdrawals, bucketTransfers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		b := tx.Bucket(bucketPool)
		if v := b.Get(keyVersion); v != nil && string(v) != schemaVersion {
			return fmt.Errorf("unsupported schema version %s", v)
		}
		return b.Put(keyVersion, []byte(schemaVersion))
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init %s: %w", path, err)
	}
	misc.Debugf(log, "opened store at %s", path)
	return &Store{log: log, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the complete pool snapshot. Only pending withdrawals are included.
func (s *Store) Load() (pool.Snapshot, error) {
	snap := pool.Snapshot{Shares: map[string]*uint256.Int{}}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketPool).Get(keyState)
		if data == nil {
			return ErrNoState
		}
		var rec stateRecord
		if err := msgpack.Decode(data, &rec); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
		st, err := rec.toState()
		if err != nil {
			return err
		}
		snap.State = st

		err = tx.Bucket(bucketShares).ForEach(func(k, v []byte) error {
			balance, err := parseStored(string(v))
			if err != nil {
				return fmt.Errorf("shares of %s: %w", k, err)
			}
			snap.Shares[string(k)] = balance
			return nil
		})
		if err != nil {
			return err
		}

		return forEachWithdrawal(tx, func(w pool.Withdrawal) {
			if w.Status == pool.StatusTransferPending {
				snap.Withdrawals = append(snap.Withdrawals, w)
			}
		})
	})
	if err != nil {
		return pool.Snapshot{}, err
	}
	return snap, nil
}

// Save writes the changes of one or more entry points in a single transaction.
func (s *Store) Save(ch pool.Changes) error {
	if ch.Empty() {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ch.State != nil {
			if err := tx.Bucket(bucketPool).Put(keyState, msgpack.Encode(fromState(*ch.State))); err != nil {
				return fmt.Errorf("put state: %w", err)
			}
		}
		shares := tx.Bucket(bucketShares)
		for account, balance := range ch.Shares {
			var err error
			if balance == nil {
				err = shares.Delete([]byte(account))
			} else {
				err = shares.Put([]byte(account), []byte(balance.Dec()))
			}
			if err != nil {
				return fmt.Errorf("put shares of %s: %w", account, err)
			}
		}
		withdrawals := tx.Bucket(bucketWithdrawals)
		// later records for the same id overwrite earlier ones
		for _, w := range ch.Withdrawals {
			if err := withdrawals.Put([]byte(w.ID), msgpack.Encode(fromWithdrawal(w))); err != nil {
				return fmt.Errorf("put withdrawal %s: %w", w.ID, err)
			}
		}
		transfers := tx.Bucket(bucketTransfers)
		for _, r := range ch.Transfers {
			if err := transfers.Put([]byte(r.ID), msgpack.Encode(fromReceipt(r))); err != nil {
				return fmt.Errorf("put transfer %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// Withdrawals returns every stored withdrawal, settled ones included.
func (s *Store) Withdrawals() ([]pool.Withdrawal, error) {
	var ret []pool.Withdrawal
	err := s.db.View(func(tx *bbolt.Tx) error {
		return forEachWithdrawal(tx, func(w pool.Withdrawal) {
			ret = append(ret, w)
		})
	})
	return ret, err
}

// PruneWithdrawals deletes settled withdrawals settled before the given unix time.
func (s *Store) PruneWithdrawals(before uint32) (int, error) {
	var pruned int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var ids [][]byte
		err := forEachWithdrawal(tx, func(w pool.Withdrawal) {
			if w.Status != pool.StatusTransferPending && w.SettledAt < before {
				ids = append(ids, []byte(w.ID))
			}
		})
		if err != nil {
			return err
		}
		b := tx.Bucket(bucketWithdrawals)
		for _, id := range ids {
			if err := b.Delete(id); err != nil {
				return err
			}
		}
		pruned = len(ids)
		return nil
	})
	if err == nil && pruned > 0 {
		misc.Infof(s.log, "pruned %d settled withdrawals", pruned)
	}
	return pruned, err
}

// Transfer returns the receipt of an accepted deposit, if one is stored under id.
func (s *Store) Transfer(id string) (pool.TransferReceipt, bool, error) {
	var (
		receipt pool.TransferReceipt
		found   bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketTransfers).Get([]byte(id))
		if data == nil {
			return nil
		}
		var rec transferRecord
		if err := msgpack.Decode(data, &rec); err != nil {
			return fmt.Errorf("decode transfer %s: %w", id, err)
		}
		var err error
		receipt, err = rec.toReceipt()
		found = err == nil
		return err
	})
	return receipt, found, err
}

// PruneTransfers deletes deposit receipts received before the given unix time. A
// transfer redelivered after its receipt is gone is processed again.
func (s *Store) PruneTransfers(before uint32) (int, error) {
	var pruned int
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTransfers)
		var ids [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec transferRecord
			if err := msgpack.Decode(v, &rec); err != nil {
				return fmt.Errorf("decode transfer %s: %w", k, err)
			}
			if rec.ReceivedAt < before {
				ids = append(ids, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := b.Delete(id); err != nil {
				return err
			}
		}
		pruned = len(ids)
		return nil
	})
	if err == nil && pruned > 0 {
		misc.Infof(s.log, "pruned %d transfer receipts", pruned)
	}
	return pruned, err
}

func forEachWithdrawal(tx *bbolt.Tx, fn func(pool.Withdrawal)) error {
	return tx.Bucket(bucketWithdrawals).ForEach(func(k, v []byte) error {
		var rec withdrawalRecord
		if err := msgpack.Decode(v, &rec); err != nil {
			return fmt.Errorf("decode withdrawal %s: %w", k, err)
		}
		w, err := rec.toWithdrawal()
		if err != nil {
			return err
		}
		fn(w)
		return nil
	})
}
