// Package audit keeps the append-only audit trail of trading cycles in a WAL.
package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/sipbot/internal/domain"
)

const (
	DefaultDir   = "./wal/audit"
	segmentLimit = 1000
	maxSegments  = 20

	auditKeyPrefix       = "audit_"
	oracleKeyPrefix      = "oracle_"
	marketStateKeyPrefix = "market_state_"
	cycleKeyPrefix       = "cycle_"
)

// envelope carries the WAL index inside the payload so readers never depend
// on segment layout.
type envelope struct {
	Index   uint64          `json:"index"`
	Payload json.RawMessage `json:"payload"`
}

// WALStore persists audit records, oracle calls, market states and cycle reports.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "audit_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init audit WAL")
	}

	return &WALStore{wal: wal}, nil
}

// SaveAuditRecord appends the per-instrument cycle outcome.
func (s *WALStore) SaveAuditRecord(rec domain.AuditRecord) error {
	if rec.Symbol == "" {
		return fmt.Errorf("audit record symbol is required")
	}
	return s.append(auditKeyPrefix+rec.Symbol, rec)
}

// SaveOracleCall appends a prompt/response exchange.
func (s *WALStore) SaveOracleCall(call domain.OracleCall) error {
	if call.Symbol == "" {
		return fmt.Errorf("oracle call symbol is required")
	}
	return s.append(oracleKeyPrefix+call.Symbol, call)
}

// SaveMarketState appends a gate evaluation.
func (s *WALStore) SaveMarketState(rec domain.MarketStateRecord) error {
	return s.append(marketStateKeyPrefix+string(rec.State), rec)
}

// SaveCycleReport appends the summary of a finished or aborted cycle.
func (s *WALStore) SaveCycleReport(rep domain.CycleReport) error {
	if rep.CycleID == "" {
		return fmt.Errorf("cycle report id is required")
	}
	return s.append(cycleKeyPrefix+rep.CycleID, rep)
}

func (s *WALStore) append(key string, v interface{}) error {
	if s == nil || s.wal == nil {
		return errors.New("audit store is not initialized")
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "marshal %s", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	data, err := json.Marshal(envelope{Index: nextIndex, Payload: payload})
	if err != nil {
		return errors.Wrapf(err, "marshal %s envelope", key)
	}

	return s.wal.Write(nextIndex, key, data)
}

// AuditRecordsAfter returns audit records written after index.
func (s *WALStore) AuditRecordsAfter(index uint64) ([]domain.AuditRecordEntry, error) {
	var out []domain.AuditRecordEntry
	err := s.scan(auditKeyPrefix, index, func(idx uint64, payload []byte) error {
		var rec domain.AuditRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return errors.Wrap(err, "decode audit record")
		}
		out = append(out, domain.AuditRecordEntry{Index: idx, Record: rec})
		return nil
	})
	return out, err
}

// OracleCallsAfter returns oracle calls written after index.
func (s *WALStore) OracleCallsAfter(index uint64) ([]domain.OracleCallEntry, error) {
	var out []domain.OracleCallEntry
	err := s.scan(oracleKeyPrefix, index, func(idx uint64, payload []byte) error {
		var call domain.OracleCall
		if err := json.Unmarshal(payload, &call); err != nil {
			return errors.Wrap(err, "decode oracle call")
		}
		out = append(out, domain.OracleCallEntry{Index: idx, Call: call})
		return nil
	})
	return out, err
}

// CycleReportsAfter returns cycle reports written after index.
func (s *WALStore) CycleReportsAfter(index uint64) ([]domain.CycleReportEntry, error) {
	var out []domain.CycleReportEntry
	err := s.scan(cycleKeyPrefix, index, func(idx uint64, payload []byte) error {
		var rep domain.CycleReport
		if err := json.Unmarshal(payload, &rep); err != nil {
			return errors.Wrap(err, "decode cycle report")
		}
		out = append(out, domain.CycleReportEntry{Index: idx, Report: rep})
		return nil
	})
	return out, err
}

// LastMarketState returns the most recent gate evaluation, if any.
func (s *WALStore) LastMarketState() (*domain.MarketStateRecord, error) {
	var last *domain.MarketStateRecord
	err := s.scan(marketStateKeyPrefix, 0, func(_ uint64, payload []byte) error {
		var rec domain.MarketStateRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return errors.Wrap(err, "decode market state")
		}
		last = &rec
		return nil
	})
	return last, err
}

func (s *WALStore) scan(prefix string, after uint64, fn func(idx uint64, payload []byte) error) error {
	if s == nil || s.wal == nil {
		return errors.New("audit store is not initialized")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.wal.CurrentIndex() <= after {
		return nil
	}

	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, prefix) {
			continue
		}

		var env envelope
		if err := json.Unmarshal(msg.Value, &env); err != nil {
			return errors.Wrapf(err, "decode %s envelope", msg.Key)
		}
		if env.Index <= after {
			continue
		}
		if err := fn(env.Index, env.Payload); err != nil {
			return err
		}
	}

	return nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close releases WAL resources.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return nil
	}
	return s.wal.Close()
}
