package ledger

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DefaultLiabilityInterval is how many months back liabilities are accrued
// unless configured otherwise.
const DefaultLiabilityInterval = 36

// Settings names the accounts the engine books membership fees against.
// It is built once from configuration and handed to the engines.
type Settings struct {
	FeesAccountID           uint `validate:"required"`
	FeesReceivableAccountID uint `validate:"required,nefield=FeesAccountID"`
	DonationsAccountID      uint `validate:"required"`
	// LiabilityIntervalMonths bounds how far back accrual looks.
	LiabilityIntervalMonths int `validate:"gte=0,lte=1200"`
}

var settingsValidator = validator.New()

func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}
