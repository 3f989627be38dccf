package market

import (
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
)

// Split is the inclusive division of a sale price: the buyer pays Price and
// ProtocolFee + RoyaltyAmount + SellerAmount == Price.
type Split struct {
	Price         *uint256.Int `json:"price"`
	ProtocolFee   *uint256.Int `json:"protocol_fee"`
	RoyaltyAmount *uint256.Int `json:"royalty_amount"`
	SellerAmount  *uint256.Int `json:"seller_amount"`
	BuyerAmount   *uint256.Int `json:"buyer_amount"`
}

// ComputeSplit divides price. The protocol fee is floor(price*num/den) with a
// 512-bit intermediate product. Fee and royalty together may not exceed price.
func ComputeSplit(price, royalty, num, den *uint256.Int) (*Split, error) {
	if den == nil || den.IsZero() {
		return nil, core.ErrZeroDenominator
	}
	if price == nil {
		price = new(uint256.Int)
	}
	if royalty == nil {
		royalty = new(uint256.Int)
	}
	if num == nil {
		num = new(uint256.Int)
	}

	fee, overflow := new(uint256.Int).MulDivOverflow(price, num, den)
	if overflow {
		return nil, core.ErrFeeExceedsPrice
	}
	owed, overflow := new(uint256.Int).AddOverflow(fee, royalty)
	if overflow || owed.Gt(price) {
		return nil, core.ErrFeeExceedsPrice
	}
	return &Split{
		Price:         new(uint256.Int).Set(price),
		ProtocolFee:   fee,
		RoyaltyAmount: new(uint256.Int).Set(royalty),
		SellerAmount:  new(uint256.Int).Sub(price, owed),
		BuyerAmount:   new(uint256.Int).Set(price),
	}, nil
}

// checkSplit validates that a listing's royalty fits its price under params.
func checkSplit(price, royalty *uint256.Int, params *core.Params) error {
	_, err := ComputeSplit(price, royalty, params.FeeNumerator, params.FeeDenominator)
	return err
}
