package models

import "time"

// Counter is a named integer, e.g. the genesis licenses sold so far.
type Counter struct {
	Name  string `gorm:"type:varchar(64);primary_key"`
	Value int
}

// PendingClaim holds a freshly minted API key until its buyer collects it.
type PendingClaim struct {
	PaymentHash string `gorm:"type:varchar(128);primary_key"`
	APIKey      string
	ExpiresAt   time.Time `gorm:"index"`
}

// Receipt outcomes. A receipt starts as OutcomeApplying while its holder
// applies the payment.
const (
	OutcomeApplying  = ""
	OutcomeConfirmed = "confirmed" // genesis unit counted, key not yet minted
	OutcomeMinted    = "minted"
	OutcomeSoldOut   = "sold_out"
)

// PaymentReceipt records that a paid invoice has been applied, so it is
// applied only once.
type PaymentReceipt struct {
	PaymentHash string `gorm:"type:varchar(128);primary_key"`
	Purpose     string `gorm:"type:varchar(32)"`
	Reference   string // room id or license type
	Outcome     string `gorm:"type:varchar(16);not null;default:''"`
	CreatedAt   time.Time
}
