package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

// Bridge Bitcoin deposit and withdrawal calls plus the stablecoin bridge to EVM.
type Bridge struct {
	c *Client
	// usdLedgerID ledger whose tokens are burned by withdraw_erc20.
	usdLedgerID string
}

// Bridge returns the bridge adapter. usdLedgerID identifies the ckUSDC ledger
// to the EVM minter.
func (c *Client) Bridge(usdLedgerID string) *Bridge {
	return &Bridge{c: c, usdLedgerID: usdLedgerID}
}

type depositAccountArgs struct {
	Owner      Opt[string] `json:"owner"`
	Subaccount Opt[string] `json:"subaccount"`
}

func depositAccount(account string) depositAccountArgs {
	return depositAccountArgs{Owner: Some(account), Subaccount: None[string]()}
}

// GetDepositAddress Bitcoin address that credits account.
func (b *Bridge) GetDepositAddress(ctx context.Context, account string) (string, error) {
	var address string
	if err := b.c.call(ctx, serviceProtocol, "get_btc_address", depositAccount(account), &address); err != nil {
		return "", err
	}
	if address == "" {
		return "", &domain.TransportError{Op: serviceProtocol + ".get_btc_address", Err: errors.New("empty address")}
	}
	return address, nil
}

type minterInfoWire struct {
	MinConfirmations     uint32 `json:"min_confirmations"`
	RetrieveBtcMinAmount Nat    `json:"retrieve_btc_min_amount"`
}

// GetMinterInfo bridge parameters.
func (b *Bridge) GetMinterInfo(ctx context.Context) (domain.MinterInfo, error) {
	var w minterInfoWire
	if err := b.c.call(ctx, serviceProtocol, "get_minter_info", nil, &w); err != nil {
		return domain.MinterInfo{}, err
	}
	minAmount, _ := w.RetrieveBtcMinAmount.Uint64()
	return domain.MinterInfo{MinConfirmations: w.MinConfirmations, RetrieveBtcMinAmount: minAmount}, nil
}

type outpointWire struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

func (o *outpointWire) String() string {
	if o == nil || o.Txid == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", o.Txid, o.Vout)
}

type pendingUtxoWire struct {
	Outpoint      *outpointWire `json:"outpoint"`
	Value         *Nat          `json:"value"`
	Confirmations *uint32       `json:"confirmations"`
}

type noNewUtxosWire struct {
	RequiredConfirmations *uint32                `json:"required_confirmations"`
	PendingUtxos          Opt[[]pendingUtxoWire] `json:"pending_utxos"`
	CurrentConfirmations  Opt[uint32]            `json:"current_confirmations"`
}

type genericErrorWire struct {
	ErrorMessage string `json:"error_message"`
	ErrorCode    Nat    `json:"error_code"`
}

type mintedWire struct {
	BlockIndex   Nat `json:"block_index"`
	MintedAmount Nat `json:"minted_amount"`
}

// RefreshDeposits asks the bridge to mint confirmed deposits of account.
// A decoded Err is returned in the outcome, not as an error.
func (b *Bridge) RefreshDeposits(ctx context.Context, account string) (domain.RefreshOutcome, error) {
	const op = serviceProtocol + ".update_balance"

	var res Result[[]map[string]json.RawMessage]
	if err := b.c.call(ctx, serviceProtocol, "update_balance", depositAccount(account), &res); err != nil {
		return domain.RefreshOutcome{}, err
	}

	if res.IsErr() {
		refreshErr, err := decodeRefreshError(res.err)
		if err != nil {
			return domain.RefreshOutcome{}, &domain.TransportError{Op: op, Err: err}
		}
		return domain.RefreshOutcome{Err: refreshErr}, nil
	}

	statuses, _ := res.Unwrap(op)
	outcome := domain.RefreshOutcome{Minted: []domain.MintedUtxo{}}
	for _, status := range statuses {
		raw, ok := status["Minted"]
		if !ok {
			continue
		}
		var m mintedWire
		if err := json.Unmarshal(raw, &m); err != nil {
			return domain.RefreshOutcome{}, &domain.TransportError{Op: op, Err: errors.Wrap(err, "decode minted utxo")}
		}
		idx, _ := m.BlockIndex.Uint64()
		amount, _ := m.MintedAmount.Uint64()
		outcome.Minted = append(outcome.Minted, domain.MintedUtxo{BlockIndex: idx, Amount: amount})
	}

	return outcome, nil
}

// decodeRefreshError maps the single-key Err variant onto domain.RefreshError.
// Unknown variants are an error: the set is closed.
func decodeRefreshError(raw json.RawMessage) (*domain.RefreshError, error) {
	var variant map[string]json.RawMessage
	if err := json.Unmarshal(raw, &variant); err != nil {
		return nil, errors.Wrap(err, "decode update_balance error")
	}
	if len(variant) != 1 {
		return nil, errors.Errorf("update_balance error must have exactly one variant, got %d", len(variant))
	}

	for tag, payload := range variant {
		switch tag {
		case "NoNewUtxos":
			var w noNewUtxosWire
			if err := json.Unmarshal(payload, &w); err != nil {
				return nil, errors.Wrap(err, "decode NoNewUtxos")
			}
			data := &domain.NoNewUtxos{
				RequiredConfirmations: w.RequiredConfirmations,
				CurrentConfirmations:  w.CurrentConfirmations.Ptr(),
			}
			if pending, ok := w.PendingUtxos.Get(); ok {
				data.PendingUtxos = make([]domain.UtxoReport, 0, len(pending))
				for _, u := range pending {
					report := domain.UtxoReport{Outpoint: u.Outpoint.String(), Confirmations: u.Confirmations}
					if u.Value != nil {
						if v, ok := u.Value.Uint64(); ok {
							report.Value = &v
						}
					}
					data.PendingUtxos = append(data.PendingUtxos, report)
				}
			}
			return &domain.RefreshError{Kind: domain.RefreshNoNewUtxos, NoNewUtxos: data}, nil
		case "AlreadyProcessing":
			return &domain.RefreshError{Kind: domain.RefreshAlreadyProcessing}, nil
		case "TemporarilyUnavailable":
			var msg string
			if err := json.Unmarshal(payload, &msg); err != nil {
				return nil, errors.Wrap(err, "decode TemporarilyUnavailable")
			}
			return &domain.RefreshError{Kind: domain.RefreshTemporarilyUnavailable, Message: msg}, nil
		case "GenericError":
			var w genericErrorWire
			if err := json.Unmarshal(payload, &w); err != nil {
				return nil, errors.Wrap(err, "decode GenericError")
			}
			code, _ := w.ErrorCode.Uint64()
			return &domain.RefreshError{Kind: domain.RefreshGenericError, Message: w.ErrorMessage, Code: code}, nil
		default:
			return nil, errors.Errorf("unknown update_balance error variant %q", tag)
		}
	}

	return nil, errors.New("unreachable")
}

type feeArgs struct {
	Amount Opt[Nat] `json:"amount"`
}

type feeWire struct {
	MinterFee  Nat `json:"minter_fee"`
	BitcoinFee Nat `json:"bitcoin_fee"`
}

// EstimateWithdrawalFee fees of an on-chain withdrawal. A nil amount asks for
// the generic estimate.
func (b *Bridge) EstimateWithdrawalFee(ctx context.Context, amount *uint256.Int) (domain.FeeEstimate, error) {
	args := feeArgs{Amount: None[Nat]()}
	if amount != nil {
		args.Amount = Some(NatFrom(amount))
	}

	var w feeWire
	if err := b.c.call(ctx, serviceBtcMinter, "estimate_withdrawal_fee", args, &w); err != nil {
		return domain.FeeEstimate{}, err
	}
	return domain.FeeEstimate{ServiceFee: w.MinterFee.v, NetworkFee: w.BitcoinFee.v}, nil
}

type retrieveArgs struct {
	Address        string      `json:"address"`
	Amount         Nat         `json:"amount"`
	FromSubaccount Opt[string] `json:"from_subaccount"`
}

type retrieveWire struct {
	BlockIndex Nat `json:"block_index"`
}

// WithdrawOnChain burns approved ckBTC and sends BTC to address.
func (b *Bridge) WithdrawOnChain(ctx context.Context, address string, amount *uint256.Int) (uint64, error) {
	const method = "retrieve_btc_with_approval"
	op := serviceBtcMinter + "." + method
	args := retrieveArgs{Address: address, Amount: NatFrom(amount), FromSubaccount: None[string]()}

	var res Result[retrieveWire]
	if err := b.c.call(ctx, serviceBtcMinter, method, args, &res); err != nil {
		return 0, err
	}
	w, err := res.Unwrap(op)
	if err != nil {
		return 0, err
	}
	return blockIndex(op, w.BlockIndex)
}

type erc20Args struct {
	Recipient      string      `json:"recipient"`
	Amount         Nat         `json:"amount"`
	LedgerID       string      `json:"ckerc20_ledger_id"`
	FromSubaccount Opt[string] `json:"from_ckerc20_subaccount"`
}

type erc20Wire struct {
	Ckerc20BlockIndex Nat `json:"ckerc20_block_index"`
	CkethBlockIndex   Nat `json:"cketh_block_index"`
}

// WithdrawErc20 burns approved ckUSDC and releases USDC to the EVM address.
func (b *Bridge) WithdrawErc20(ctx context.Context, address string, amount *uint256.Int) (domain.Erc20Withdrawal, error) {
	const method = "withdraw_erc20"
	op := serviceEthMinter + "." + method
	args := erc20Args{
		Recipient:      address,
		Amount:         NatFrom(amount),
		LedgerID:       b.usdLedgerID,
		FromSubaccount: None[string](),
	}

	var res Result[erc20Wire]
	if err := b.c.call(ctx, serviceEthMinter, method, args, &res); err != nil {
		return domain.Erc20Withdrawal{}, err
	}
	w, err := res.Unwrap(op)
	if err != nil {
		return domain.Erc20Withdrawal{}, err
	}

	burn, err := blockIndex(op, w.Ckerc20BlockIndex)
	if err != nil {
		return domain.Erc20Withdrawal{}, err
	}
	withdrawal, _ := w.CkethBlockIndex.Uint64()
	return domain.Erc20Withdrawal{BurnBlockIndex: burn, WithdrawalID: withdrawal}, nil
}
