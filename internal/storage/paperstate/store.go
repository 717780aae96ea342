// Package paperstate persists the paper trading account between restarts.
package paperstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const fileName = "paper_account.json"

// Store keeps the paper account in a single JSON file.
type Store struct {
	path string
}

func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "./data/paper"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create paper state dir")
	}

	return &Store{path: filepath.Join(dir, fileName)}, nil
}

// Position is a paper holding.
type Position struct {
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
}

// Fill is one simulated order.
type Fill struct {
	OrderID  string          `json:"order_id"`
	ClientID string          `json:"client_id"`
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	At       time.Time       `json:"at"`
}

// State is everything the paper account remembers.
type State struct {
	Cash      decimal.Decimal     `json:"cash"`
	Positions map[string]Position `json:"positions"`
	Fills     []Fill              `json:"fills,omitempty"`
}

// Load reads the state. A missing or empty file yields nil without error.
func (s *Store) Load() (*State, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read paper state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var st State
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, errors.Wrap(err, "decode paper state")
	}
	if st.Positions == nil {
		st.Positions = map[string]Position{}
	}

	return &st, nil
}

// Save replaces the state file atomically.
func (s *Store) Save(st State) error {
	payload, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode paper state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write paper state temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist paper state")
	}

	return nil
}
