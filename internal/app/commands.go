package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/events"
	"github.com/vadiminshakov/ckvault/internal/services/orchestrator"
	"github.com/vadiminshakov/ckvault/internal/services/risk"
	"github.com/vadiminshakov/ckvault/internal/web"
)

// FlowError a flow ended in PhaseFailed.
type FlowError struct {
	Flow orchestrator.Flow
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s failed at %s: %s", e.Flow.Action, e.Flow.FailedAt, e.Flow.Error)
}

func requireSetting(name, value string) error {
	if value == "" {
		return domain.NewValidationError(name, "not configured")
	}
	return nil
}

// runFlow passes the flow through the gate and prints its transitions as
// they are published.
func (a *App) runFlow(action orchestrator.Action, run func() orchestrator.Flow) (orchestrator.Flow, error) {
	sub := events.Flows.Subscribe()
	defer events.Flows.Unsubscribe(sub)

	type outcome struct {
		flow orchestrator.Flow
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		f, err := a.gate.Run(action, run)
		done <- outcome{flow: f, err: err}
	}()

	for {
		select {
		case e := <-sub:
			if e.Action == string(action) {
				printTransition(a.out, e)
			}
		case res := <-done:
			if res.err != nil {
				return orchestrator.Flow{}, res.err
			}
			a.drain(sub, res.flow.ID)
			if !res.flow.Succeeded() {
				return res.flow, &FlowError{Flow: res.flow}
			}
			return res.flow, nil
		}
	}
}

func (a *App) drain(sub chan events.Flow, id string) {
	for {
		select {
		case e := <-sub:
			if e.ID == id {
				printTransition(a.out, e)
			}
		default:
			return
		}
	}
}

// Status prints wallet balances, the position and its risk.
func (a *App) Status(ctx context.Context) error {
	s, err := a.cache.Refresh(ctx)
	if err != nil {
		return errors.Wrap(err, "load account state")
	}
	summary := s.Risk()

	title(a.out, "Account "+s.Account)
	row(a.out, "Wallet ckBTC", amount(domain.AssetBTC, &s.Portfolio.CkBTC))
	row(a.out, "Wallet ckUSDC", amount(domain.AssetUSD, &s.Portfolio.CkUSDC))
	row(a.out, "Wallet total", usdE8(&s.Portfolio.TotalUsdE8s))

	title(a.out, "Position")
	row(a.out, "Collateral", fmt.Sprintf("%s (%s)", amount(domain.AssetBTC, &s.Position.CollateralRaw), usd(summary.CollateralUsd)))
	row(a.out, "Debt", fmt.Sprintf("%s (%s)", amount(domain.AssetUSD, &s.Position.DebtRaw), usd(summary.DebtUsd)))
	row(a.out, "LTV", fmt.Sprintf("%s of max %s", percent(summary.LTV), percent(s.Rates.MaxLTV)))
	if summary.HealthFactor != nil {
		row(a.out, "Health factor", summary.HealthFactor.StringFixed(2))
	} else {
		row(a.out, "Health factor", "∞")
	}
	row(a.out, "Status", statusText(summary.Status))
	row(a.out, "Available to borrow", usd(summary.Available))
	if summary.LiquidationPrice != nil {
		row(a.out, "Liquidation price", usd(*summary.LiquidationPrice))
	}
	row(a.out, "Monthly interest", usd(summary.MonthlyInterest))

	title(a.out, "Protocol")
	row(a.out, "BTC price", usdE8(&s.Prices.BtcUsdE8s))
	row(a.out, "TVL", usdE8(&s.Stats.TvlUsdE8s))
	row(a.out, "Borrowed", usdE8(&s.Stats.TotalBorrowUsdE8s))
	row(a.out, "Utilization", bpsPercent(s.Stats.UtilizationBps))
	row(a.out, "Interest rate", percent(s.Rates.InterestRate))

	return nil
}

func statusText(s risk.Status) string {
	switch s {
	case risk.StatusLiquidatable:
		return failStyle.Render(string(s))
	case risk.StatusWarning:
		return warnStyle.Render(string(s))
	default:
		return okStyle.Render(string(s))
	}
}

// History prints the account activity, newest first.
func (a *App) History(ctx context.Context) error {
	activity, err := a.clients.Protocol.GetActivity(ctx, a.cfg.Account)
	if err != nil {
		return errors.Wrap(err, "load activity")
	}
	if len(activity) == 0 {
		fmt.Fprintln(a.out, "no activity yet")
		return nil
	}

	for _, act := range activity {
		value := act.Amount.Dec() + " " + act.Token
		if asset, err := domain.AssetBySymbol(act.Token); err == nil {
			value = amount(asset, &act.Amount)
		}
		fmt.Fprintf(a.out, "%s  %-10s %-24s block %d\n",
			act.Timestamp().UTC().Format(time.DateTime), act.Label(), value, act.BlockIndex)
	}
	return nil
}

// Supply deposits ckBTC as collateral.
func (a *App) Supply(ctx context.Context, input string) error {
	if err := requireSetting("protocol_spender", a.cfg.ProtocolSpender); err != nil {
		return err
	}
	amt, err := domain.ParseAmount(domain.AssetBTC, input)
	if err != nil {
		return err
	}
	_, err = a.runFlow(orchestrator.ActionSupply, func() orchestrator.Flow {
		return a.orch.Supply(ctx, amt)
	})
	return err
}

// Borrow draws ckUSDC against the supplied collateral.
func (a *App) Borrow(ctx context.Context, input string) error {
	amt, err := domain.ParseAmount(domain.AssetUSD, input)
	if err != nil {
		return err
	}
	_, err = a.runFlow(orchestrator.ActionBorrow, func() orchestrator.Flow {
		return a.orch.Borrow(ctx, amt)
	})
	return err
}

// BorrowWithSwap supplies ckBTC and receives ckUSDC in one bundle.
func (a *App) BorrowWithSwap(ctx context.Context, input string) error {
	amt, err := domain.ParseAmount(domain.AssetBTC, input)
	if err != nil {
		return err
	}
	f, err := a.runFlow(orchestrator.ActionBorrowWithSwap, func() orchestrator.Flow {
		return a.orch.BorrowWithSwap(ctx, amt)
	})
	if f.Result.MinOut != nil {
		row(a.out, "Minimum output", amount(domain.AssetUSD, f.Result.MinOut))
	}
	if err != nil {
		return err
	}
	if swap := f.Result.Swap; swap != nil {
		row(a.out, "Swapped", amount(domain.AssetBTC, &swap.SwapAmount))
		row(a.out, "Received", amount(domain.AssetUSD, &swap.Received))
	}
	return nil
}

// WithdrawCollateral moves collateral back to the wallet.
func (a *App) WithdrawCollateral(ctx context.Context, input string) error {
	amt, err := domain.ParseAmount(domain.AssetBTC, input)
	if err != nil {
		return err
	}
	_, err = a.runFlow(orchestrator.ActionWithdrawCollateral, func() orchestrator.Flow {
		return a.orch.WithdrawCollateral(ctx, amt)
	})
	return err
}

// WithdrawBTC sends ckBTC out as native Bitcoin.
func (a *App) WithdrawBTC(ctx context.Context, address, input string) error {
	if err := requireSetting("btc_minter_spender", a.cfg.BtcMinterSpender); err != nil {
		return err
	}
	amt, err := domain.ParseAmount(domain.AssetBTC, input)
	if err != nil {
		return err
	}
	f, err := a.runFlow(orchestrator.ActionWithdrawOnChain, func() orchestrator.Flow {
		return a.orch.WithdrawOnChain(ctx, address, amt)
	})
	if fee := f.Result.Fee; fee != nil {
		row(a.out, "Estimated fee", amount(domain.AssetBTC, fee.Total()))
	}
	return err
}

// WithdrawUSDC sends ckUSDC out as USDC on the EVM chain.
func (a *App) WithdrawUSDC(ctx context.Context, address, input string) error {
	if err := requireSetting("eth_minter_spender", a.cfg.EthMinterSpender); err != nil {
		return err
	}
	if err := requireSetting("usdc_ledger_id", a.cfg.UsdcLedgerID); err != nil {
		return err
	}
	amt, err := domain.ParseAmount(domain.AssetUSD, input)
	if err != nil {
		return err
	}
	f, err := a.runFlow(orchestrator.ActionWithdrawStable, func() orchestrator.Flow {
		return a.orch.WithdrawStable(ctx, address, amt)
	})
	if err != nil {
		return err
	}
	if w := f.Result.Withdrawal; w != nil {
		row(a.out, "Withdrawal id", fmt.Sprintf("%d", w.WithdrawalID))
	}
	return nil
}

// Send transfers a token to another account.
func (a *App) Send(ctx context.Context, token, to, input string) error {
	asset, err := domain.AssetBySymbol(token)
	if err != nil {
		return domain.NewValidationError("token", err.Error())
	}
	amt, err := domain.ParseAmount(asset, input)
	if err != nil {
		return err
	}
	_, err = a.runFlow(orchestrator.ActionSend, func() orchestrator.Flow {
		return a.orch.Send(ctx, to, amt)
	})
	return err
}

// Preview projects borrowing ltvPercent of the max LTV. An empty input
// uses the collateral currently supplied.
func (a *App) Preview(ctx context.Context, input string, ltvPercent int) error {
	s, err := a.cache.Refresh(ctx)
	if err != nil {
		return errors.Wrap(err, "load account state")
	}

	collateral := s.Position.CollateralRaw
	if input != "" {
		amt, err := domain.ParseAmount(domain.AssetBTC, input)
		if err != nil {
			return err
		}
		collateral = amt.Raw
	}

	p, err := risk.PreviewBorrow(&collateral, ltvPercent, &s.Prices.BtcUsdE8s, s.Rates)
	if err != nil {
		return err
	}

	title(a.out, fmt.Sprintf("Borrow preview at %d%% of max LTV", ltvPercent))
	row(a.out, "Collateral", fmt.Sprintf("%s (%s)", amount(domain.AssetBTC, &collateral), usd(p.CollateralUsd)))
	row(a.out, "Borrow", usd(p.BorrowUsd))
	row(a.out, "LTV", percent(p.LTV))
	if p.HealthFactor != nil {
		row(a.out, "Health factor", p.HealthFactor.StringFixed(2))
	}
	if p.LiquidationPrice != nil {
		row(a.out, "Liquidation price", usd(*p.LiquidationPrice))
	}
	row(a.out, "Monthly interest", usd(p.MonthlyInterest))
	return nil
}

// Track polls deposit confirmations of account (the configured account
// when empty) until the deposit is credited or ctx is done.
func (a *App) Track(ctx context.Context, account string) error {
	if account == "" {
		account = a.cfg.Account
	}

	sub := events.Confirmations.Subscribe()
	defer events.Confirmations.Unsubscribe(sub)

	task, err := a.tracker.Start(ctx, account)
	if err != nil {
		return err
	}
	defer task.Stop()

	row(a.out, "Deposit address", task.Address())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-task.Done():
			return nil
		case c := <-sub:
			if c.Account != account {
				continue
			}
			if c.Credited {
				fmt.Fprintln(a.out, okStyle.Render("✓ deposit credited"))
				return nil
			}
			fmt.Fprintf(a.out, "confirmations %d/%d, %d pending utxo(s), %s expected\n",
				c.Confirmations, c.Required, c.PendingUtxos,
				amount(domain.AssetBTC, uint256FromUint64(c.ExpectedSats)))
		}
	}
}

// Serve runs the status server with deposit tracking for the configured
// account until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if _, err := a.tracker.Start(ctx, a.cfg.Account); err != nil {
		a.l.Warn("deposit tracking disabled", zap.Error(err))
	}
	go a.refreshLoop(ctx)

	srv := web.NewServer(a.l, a.cfg.WebAddr, a.confirmations, a.journal, a.cache)
	if a.cfg.WebTLSDomain != "" {
		return srv.StartWithAutoTLS(ctx, a.cfg.WebTLSDomain, filepath.Join(a.cfg.WalDir, "certs"))
	}
	return srv.Start(ctx)
}

// refreshLoop keeps the cached snapshot fresh for the risk endpoint.
func (a *App) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := a.cache.Refresh(ctx); err != nil && ctx.Err() == nil {
			a.l.Warn("snapshot refresh failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
