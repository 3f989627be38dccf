package core

import "errors"

// ErrNotFound is returned by storage lookups for absent keys.
var ErrNotFound = errors.New("not found")

// Validation errors.
var (
	ErrInvalidPrice         = errors.New("invalid price")
	ErrInvalidPaymentUnit   = errors.New("invalid payment token")
	ErrInvalidPeriod        = errors.New("invalid period")
	ErrZeroAddress          = errors.New("0x00 not allowed")
	ErrZeroDenominator      = errors.New("denominator cannot be 0")
	ErrFeeTooHigh           = errors.New("protocol fee exceeds 100%")
	ErrFeeExceedsPrice      = errors.New("protocol fee plus royalty exceeds price")
	ErrAmountMustBePositive = errors.New("amount must be positive")
	ErrAssetKindUnsupported = errors.New("asset kind unsupported")
)

// Authorization errors.
var (
	ErrContractPaused         = errors.New("contract paused")
	ErrNotPaused              = errors.New("contract not paused")
	ErrNotAdministrator       = errors.New("caller is not the administrator")
	ErrMissingReserverRole    = errors.New("missing reserver role")
	ErrSenderNotOwner         = errors.New("sender not owner")
	ErrMarketplaceNotApproved = errors.New("marketplace not approved")
	ErrOnlyOwnerCanUnlist     = errors.New("only seller of asset can unlist")
	ErrOnlyRoyaltyReceiver    = errors.New("only royalty receiver")
	ErrTokenHasNoOwner        = errors.New("token has no owner")
)

// Consistency errors.
var (
	ErrNotListed                 = errors.New("asset not listed")
	ErrAlreadyListed             = errors.New("asset already listed")
	ErrNftReserved               = errors.New("asset reserved")
	ErrReservedForAnotherAccount = errors.New("asset reserved for another account")
	ErrNftNotOwnedAnymore        = errors.New("asset not owned by seller anymore")
	ErrNftNotApprovedAnymore     = errors.New("asset not approved anymore")
	ErrInsufficientFunds         = errors.New("insufficient funds")
	ErrPaymentTokenNotSupported  = errors.New("payment token not supported")
	ErrBalanceOverflow           = errors.New("balance overflow")
)

// Upgrade errors.
var (
	ErrUnknownImplementation = errors.New("unknown implementation")
	ErrSchemaDowngrade       = errors.New("implementation storage schema older than persisted state")
)
