// Package repository holds the data access layer for downgrade records.
// Sentinel errors defined here let the service and handler layers tell
// failure scenarios apart with errors.Is.
package repository

import "errors"

// ErrDowngradeNotFound is returned when no row matches the requested id.
var ErrDowngradeNotFound = errors.New("downgrade not found")

// ErrInvalidDowngrade is returned by Create when an identifier is out of
// range.  No row is inserted.
var ErrInvalidDowngrade = errors.New("invalid downgrade identifiers")

// ErrDowngradeExists is returned by Create when the insert violates the
// unique key on downgrade_order_id.
var ErrDowngradeExists = errors.New("downgrade already exists for order")

// ErrUnsafeOrderBy is returned by List, together with an empty result,
// when the order-by clause contains characters outside the allow-list.
var ErrUnsafeOrderBy = errors.New("unsupported order by clause")
