package model

// Status is the lifecycle state of a downgrade record.  The set of
// values is closed; anything outside it is rejected by IsValid.
type Status string

const (
	// StatusPending means the downgrade has not yet occurred.
	StatusPending Status = "pending"
	// StatusDowngradedOnRenewal means the downgrade was completed on a
	// renewal payment.
	StatusDowngradedOnRenewal Status = "downgraded_on_renewal"
	// StatusDowngradedOnExpiration means the downgrade was completed when
	// the original level expired.
	StatusDowngradedOnExpiration Status = "downgraded_on_expiration"
	// StatusLostOriginalLevel means the member lost the original level
	// before the downgrade could be completed.
	StatusLostOriginalLevel Status = "lost_original_level"
	// StatusError means processing failed.  A later retry may still
	// move the record to any other non-pending state.
	StatusError Status = "error"
)

// Statuses lists every recognised status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusDowngradedOnRenewal,
	StatusDowngradedOnExpiration,
	StatusLostOriginalLevel,
	StatusError,
}

// IsValid reports whether s is one of the five recognised statuses.
func (s Status) IsValid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Processed reports whether the record has already reached a state from
// which processing must not run again.
func (s Status) Processed() bool {
	return s == StatusDowngradedOnRenewal || s == StatusDowngradedOnExpiration || s == StatusLostOriginalLevel
}

// Downgrade mirrors one row of the `pmprorate_downgrades` table.  A
// downgrade defers a member's move from OriginalLevelID to NewLevelID
// until the next renewal payment or the expiration of the original
// level.  Only Status changes after creation.
//
// Fields:
//  ID               – primary key assigned by the store.
//  UserID           – member being downgraded.
//  OriginalLevelID  – level the member is leaving.
//  NewLevelID       – level the member moves to; 0 means no level.
//  DowngradeOrderID – host order holding the asynchronous checkout data.
//  Status           – lifecycle state.
type Downgrade struct {
	ID               uint64 `json:"id"`                 // pmprorate_downgrades.id
	UserID           uint64 `json:"user_id"`            // pmprorate_downgrades.user_id
	OriginalLevelID  uint64 `json:"original_level_id"`  // pmprorate_downgrades.original_level_id
	NewLevelID       uint64 `json:"new_level_id"`       // pmprorate_downgrades.new_level_id
	DowngradeOrderID uint64 `json:"downgrade_order_id"` // pmprorate_downgrades.downgrade_order_id
	Status           Status `json:"status"`             // pmprorate_downgrades.status
}

// StatusText returns a human readable label for the record's status.
func (d Downgrade) StatusText() string {
	switch d.Status {
	case StatusPending:
		return "Pending"
	case StatusDowngradedOnRenewal:
		return "Downgraded on renewal"
	case StatusDowngradedOnExpiration:
		return "Downgraded on expiration"
	case StatusLostOriginalLevel:
		return "Lost original level"
	case StatusError:
		return "Error"
	}
	return string(d.Status)
}
