package rpc

import (
	"github.com/holiman/uint256"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/oracle"
)

// DevOracles are the in-process asset and payment ledgers a dev node runs
// against. The dev_* methods drive them directly so a local market can be
// exercised end to end without external contracts.
type DevOracles struct {
	Assets   *oracle.AssetLedger
	Payments *oracle.PaymentLedger
}

func (d *DevOracles) methods() map[string]method {
	return map[string]method{
		"dev_deployCollection":  d.deployCollection,
		"dev_mintAsset":         d.mintAsset,
		"dev_setApprovalForAll": d.setApprovalForAll,
		"dev_approveAsset":      d.approveAsset,
		"dev_transferAsset":     d.transferAsset,
		"dev_mintPayment":       d.mintPayment,
		"dev_approvePayment":    d.approvePayment,
	}
}

func (d *DevOracles) deployCollection(req Request) Response {
	var p struct {
		Contract core.Address `json:"contract"`
		oracle.CollectionSpec
	}
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := d.Assets.Deploy(p.Contract, p.CollectionSpec); err != nil {
		return errResponse(req.ID, CodeCallRejected, err.Error())
	}
	return okResponse(req.ID, true)
}

func (d *DevOracles) mintAsset(req Request) Response {
	var p struct {
		Contract core.Address `json:"contract"`
		AssetID  *uint256.Int `json:"asset_id"`
		To       core.Address `json:"to"`
		Amount   uint64       `json:"amount"`
	}
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if p.AssetID == nil {
		return errResponse(req.ID, CodeInvalidParams, "asset_id required")
	}
	if p.Amount == 0 {
		p.Amount = 1
	}
	if err := d.Assets.Mint(p.Contract, p.AssetID, p.To, p.Amount); err != nil {
		return errResponse(req.ID, CodeCallRejected, err.Error())
	}
	return okResponse(req.ID, true)
}

func (d *DevOracles) setApprovalForAll(req Request) Response {
	var p struct {
		Contract core.Address `json:"contract"`
		Owner    core.Address `json:"owner"`
		Operator core.Address `json:"operator"`
		Approved bool         `json:"approved"`
	}
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := d.Assets.SetApprovalForAll(p.Contract, p.Owner, p.Operator, p.Approved); err != nil {
		return errResponse(req.ID, CodeCallRejected, err.Error())
	}
	return okResponse(req.ID, true)
}

func (d *DevOracles) approveAsset(req Request) Response {
	var p struct {
		Contract core.Address `json:"contract"`
		Owner    core.Address `json:"owner"`
		Spender  core.Address `json:"spender"`
		AssetID  *uint256.Int `json:"asset_id"`
	}
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if p.AssetID == nil {
		return errResponse(req.ID, CodeInvalidParams, "asset_id required")
	}
	if err := d.Assets.Approve(p.Contract, p.Owner, p.Spender, p.AssetID); err != nil {
		return errResponse(req.ID, CodeCallRejected, err.Error())
	}
	return okResponse(req.ID, true)
}

func (d *DevOracles) transferAsset(req Request) Response {
	var p struct {
		Contract core.Address `json:"contract"`
		From     core.Address `json:"from"`
		To       core.Address `json:"to"`
		AssetID  *uint256.Int `json:"asset_id"`
	}
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if p.AssetID == nil {
		return errResponse(req.ID, CodeInvalidParams, "asset_id required")
	}
	if err := d.Assets.TransferFrom(p.Contract, p.From, p.From, p.To, p.AssetID); err != nil {
		return errResponse(req.ID, CodeCallRejected, err.Error())
	}
	return okResponse(req.ID, true)
}

func (d *DevOracles) mintPayment(req Request) Response {
	var p struct {
		PaymentUnit core.Address `json:"payment_unit"`
		To          core.Address `json:"to"`
		Amount      *uint256.Int `json:"amount"`
	}
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if p.Amount == nil {
		return errResponse(req.ID, CodeInvalidParams, "amount required")
	}
	if err := d.Payments.Mint(p.PaymentUnit, p.To, p.Amount); err != nil {
		return errResponse(req.ID, CodeCallRejected, err.Error())
	}
	return okResponse(req.ID, true)
}

func (d *DevOracles) approvePayment(req Request) Response {
	var p struct {
		PaymentUnit core.Address `json:"payment_unit"`
		Owner       core.Address `json:"owner"`
		Spender     core.Address `json:"spender"`
		Amount      *uint256.Int `json:"amount"`
	}
	if err := parseParams(req, &p); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if p.Amount == nil {
		return errResponse(req.ID, CodeInvalidParams, "amount required")
	}
	if err := d.Payments.Approve(p.PaymentUnit, p.Owner, p.Spender, p.Amount); err != nil {
		return errResponse(req.ID, CodeCallRejected, err.Error())
	}
	return okResponse(req.ID, true)
}
