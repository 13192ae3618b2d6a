// Package txid formats deterministic transaction IDs used as idempotency
// keys for usage ingestion. Uniqueness within a (customer, tier, day)
// bucket comes from a persisted sequence counter, not from this package.
// All functions are pure.
package txid

import (
	"fmt"
	"time"
)

// DayBucket formats the UTC day an allocation is scoped to (YYYYMMDD).
func DayBucket(t time.Time) string {
	return t.UTC().Format("20060102")
}

// ShortSuffix extracts a short, greppable customer fragment: the last 5
// alphanumeric characters found in the last 8 characters of the customer
// identifier. It aids log searching and makes no uniqueness guarantee.
func ShortSuffix(customerID string) string {
	tail := customerID
	if len(tail) > 8 {
		tail = tail[len(tail)-8:]
	}

	var alnum []byte
	for i := 0; i < len(tail); i++ {
		c := tail[i]
		if c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' {
			alnum = append(alnum, c)
		}
	}
	if len(alnum) > 5 {
		alnum = alnum[len(alnum)-5:]
	}
	return string(alnum)
}

// Format renders the canonical transaction ID:
//
//	<namespace>-<tier>-<YYYYMMDD>-<shortCustomer>-<seq padded to 4 digits>
//
// e.g. nova-small-aws-20250928-ab0be-0001.
func Format(namespace, tierKey, day, customerID string, seq int64) string {
	return fmt.Sprintf("%s-%s-%s-%s-%04d", namespace, tierKey, day, ShortSuffix(customerID), seq)
}
