package sqlite

import (
	"context"
	"database/sql"
	"sync"

	"github.com/novalabs/meterlink/domain/state"
	"github.com/novalabs/meterlink/pkg/apperr"
	"github.com/novalabs/meterlink/ports"
)

// Keys for scalar document fields in state_values.
const (
	keyMetricID        = "metric_id"
	keyProductID       = "product_id"
	keyRateCardID      = "rate_card_id"
	keyCustomerID      = "customer_id"
	keyCustomerName    = "customer_name"
	keyIngestAlias     = "ingest_alias"
	keyContractID      = "contract_id"
	keyContractStartAt = "contract_start_at"
)

// StateStore implements ports.StateStore using SQLite. The document is
// still handled wholesale: Update loads it, applies fn, and rewrites
// it inside one transaction, with a process mutex on top so in-flight
// updates never interleave.
type StateStore struct {
	mu sync.Mutex
	db *DB
}

// NewStateStore creates a new SQLite state store.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Load returns a copy of the current document.
func (s *StateStore) Load(ctx context.Context) (state.Document, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return state.Document{}, apperr.StateIO("begin state read", err)
	}
	defer tx.Rollback()

	return s.readDocument(ctx, tx)
}

// Update applies fn to the document and rewrites it transactionally.
func (s *StateStore) Update(ctx context.Context, fn func(doc *state.Document) error) (state.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return state.Document{}, apperr.StateIO("begin state update", err)
	}
	defer tx.Rollback()

	doc, err := s.readDocument(ctx, tx)
	if err != nil {
		return state.Document{}, err
	}

	if err := fn(&doc); err != nil {
		return state.Document{}, err
	}

	if err := s.writeDocument(ctx, tx, doc); err != nil {
		return state.Document{}, err
	}

	if err := tx.Commit(); err != nil {
		return state.Document{}, apperr.StateIO("commit state update", err)
	}
	return doc, nil
}

func (s *StateStore) readDocument(ctx context.Context, tx *sql.Tx) (state.Document, error) {
	var doc state.Document

	rows, err := tx.QueryContext(ctx, `SELECT key, value FROM state_values`)
	if err != nil {
		return doc, apperr.StateIO("read state values", err)
	}
	defer rows.Close()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return doc, apperr.StateIO("scan state value", err)
		}
		switch key {
		case keyMetricID:
			doc.MetricID = value
		case keyProductID:
			doc.ProductID = value
		case keyRateCardID:
			doc.RateCardID = value
		case keyCustomerID:
			doc.CustomerID = value
		case keyCustomerName:
			doc.CustomerName = value
		case keyIngestAlias:
			doc.IngestAlias = value
		case keyContractID:
			doc.ContractID = value
		case keyContractStartAt:
			doc.ContractStartAt = value
		}
	}
	if err := rows.Err(); err != nil {
		return doc, apperr.StateIO("iterate state values", err)
	}

	prices, err := tx.QueryContext(ctx, `SELECT tier, cents FROM tier_prices`)
	if err != nil {
		return doc, apperr.StateIO("read tier prices", err)
	}
	defer prices.Close()
	for prices.Next() {
		var tier string
		var cents int64
		if err := prices.Scan(&tier, &cents); err != nil {
			return doc, apperr.StateIO("scan tier price", err)
		}
		if doc.PricesByTier == nil {
			doc.PricesByTier = make(map[string]int64)
		}
		doc.PricesByTier[tier] = cents
	}
	if err := prices.Err(); err != nil {
		return doc, apperr.StateIO("iterate tier prices", err)
	}

	seqs, err := tx.QueryContext(ctx, `SELECT customer, day, tier, seq FROM tx_seq`)
	if err != nil {
		return doc, apperr.StateIO("read tx ledger", err)
	}
	defer seqs.Close()
	for seqs.Next() {
		var customer, day, tier string
		var seq int64
		if err := seqs.Scan(&customer, &day, &tier, &seq); err != nil {
			return doc, apperr.StateIO("scan tx ledger row", err)
		}
		if doc.TxSeq == nil {
			doc.TxSeq = make(map[string]map[string]map[string]int64)
		}
		if doc.TxSeq[customer] == nil {
			doc.TxSeq[customer] = make(map[string]map[string]int64)
		}
		if doc.TxSeq[customer][day] == nil {
			doc.TxSeq[customer][day] = make(map[string]int64)
		}
		doc.TxSeq[customer][day][tier] = seq
	}
	if err := seqs.Err(); err != nil {
		return doc, apperr.StateIO("iterate tx ledger", err)
	}

	return doc, nil
}

func (s *StateStore) writeDocument(ctx context.Context, tx *sql.Tx, doc state.Document) error {
	// Wholesale rewrite: the document is tiny and this keeps the
	// store's semantics identical to the file backend.
	for _, table := range []string{"state_values", "tier_prices", "tx_seq"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return apperr.StateIO("clear "+table, err)
		}
	}

	values := map[string]string{
		keyMetricID:        doc.MetricID,
		keyProductID:       doc.ProductID,
		keyRateCardID:      doc.RateCardID,
		keyCustomerID:      doc.CustomerID,
		keyCustomerName:    doc.CustomerName,
		keyIngestAlias:     doc.IngestAlias,
		keyContractID:      doc.ContractID,
		keyContractStartAt: doc.ContractStartAt,
	}
	for key, value := range values {
		if value == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state_values (key, value) VALUES (?, ?)`, key, value); err != nil {
			return apperr.StateIO("write state value "+key, err)
		}
	}

	for tier, cents := range doc.PricesByTier {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tier_prices (tier, cents) VALUES (?, ?)`, tier, cents); err != nil {
			return apperr.StateIO("write tier price", err)
		}
	}

	for customer, byDay := range doc.TxSeq {
		for day, byTier := range byDay {
			for tier, seq := range byTier {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO tx_seq (customer, day, tier, seq) VALUES (?, ?, ?, ?)`,
					customer, day, tier, seq); err != nil {
					return apperr.StateIO("write tx ledger row", err)
				}
			}
		}
	}

	return nil
}

// Ensure interface compliance.
var _ ports.StateStore = (*StateStore)(nil)
