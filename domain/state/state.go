// Package state defines the local state document: vendor object IDs
// provisioned so far, the cached tier price map, and the per-bucket
// transaction sequence ledger. The document is persisted wholesale by a
// StateStore; this package only defines the value type and its
// navigation helpers.
package state

// Document is the single process-wide state record. All fields are
// optional: a zero Document is the "no prior state" starting point.
type Document struct {
	MetricID        string `json:"metric_id,omitempty"`
	ProductID       string `json:"product_id,omitempty"`
	RateCardID      string `json:"rate_card_id,omitempty"`
	CustomerID      string `json:"customer_id,omitempty"`
	CustomerName    string `json:"customer_name,omitempty"`
	IngestAlias     string `json:"ingest_alias,omitempty"`
	ContractID      string `json:"contract_id,omitempty"`
	ContractStartAt string `json:"contract_start_at,omitempty"`

	// PricesByTier caches unit prices (integer cents) from the vendor
	// rate card. May be stale relative to vendor state.
	PricesByTier map[string]int64 `json:"prices_by_tier,omitempty"`

	// TxSeq is the transaction sequence ledger:
	// customer -> UTC day (YYYYMMDD) -> tier -> last issued sequence.
	TxSeq map[string]map[string]map[string]int64 `json:"tx_seq,omitempty"`
}

// CustomerIdentifier returns the identifier usage events are keyed by:
// the customer ID when present, else the ingest alias.
func (d *Document) CustomerIdentifier() string {
	if d.CustomerID != "" {
		return d.CustomerID
	}
	return d.IngestAlias
}

// NextSeq increments and returns the sequence counter for the
// (customer, day, tier) bucket, creating missing levels. Counters only
// ever increase for a live document; resetting requires discarding the
// backing store entirely.
func (d *Document) NextSeq(customerID, day, tierKey string) int64 {
	if d.TxSeq == nil {
		d.TxSeq = make(map[string]map[string]map[string]int64)
	}
	byCustomer := d.TxSeq[customerID]
	if byCustomer == nil {
		byCustomer = make(map[string]map[string]int64)
		d.TxSeq[customerID] = byCustomer
	}
	byDay := byCustomer[day]
	if byDay == nil {
		byDay = make(map[string]int64)
		byCustomer[day] = byDay
	}

	seq := byDay[tierKey] + 1
	byDay[tierKey] = seq
	return seq
}

// SetCustomer records a newly selected customer. Switching to a
// different customer drops the prior contract context so stale usage is
// not shown against the new customer.
func (d *Document) SetCustomer(id, name, alias string) {
	if id != d.CustomerID {
		d.ContractID = ""
		d.ContractStartAt = ""
	}
	d.CustomerID = id
	d.CustomerName = name
	d.IngestAlias = alias
}

// Clone returns a deep copy. Stores hand out clones so callers can
// never mutate shared state outside an Update.
func (d *Document) Clone() Document {
	out := *d

	if d.PricesByTier != nil {
		out.PricesByTier = make(map[string]int64, len(d.PricesByTier))
		for k, v := range d.PricesByTier {
			out.PricesByTier[k] = v
		}
	}

	if d.TxSeq != nil {
		out.TxSeq = make(map[string]map[string]map[string]int64, len(d.TxSeq))
		for cust, byDay := range d.TxSeq {
			days := make(map[string]map[string]int64, len(byDay))
			for day, byTier := range byDay {
				tiers := make(map[string]int64, len(byTier))
				for tier, seq := range byTier {
					tiers[tier] = seq
				}
				days[day] = tiers
			}
			out.TxSeq[cust] = days
		}
	}

	return out
}
