package app

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/events"
	"github.com/vadiminshakov/ckvault/internal/services/orchestrator"
	"github.com/vadiminshakov/ckvault/pkg/fixedpoint"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6C6C6C", Dark: "#9B9B9B"})
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"})
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func title(w io.Writer, text string) {
	fmt.Fprintln(w, titleStyle.Render(text))
}

func row(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-20s", label)), value)
}

func usd(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func usdE8(raw *uint256.Int) string {
	return usd(fixedpoint.ToDecimal(raw, 8))
}

func percent(fraction decimal.Decimal) string {
	return fraction.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func bpsPercent(bps uint64) string {
	return decimal.New(int64(bps), -2).StringFixed(2) + "%"
}

func amount(asset domain.Asset, raw *uint256.Int) string {
	return domain.NewTokenAmount(asset, raw).Display()
}

func printTransition(w io.Writer, e events.Flow) {
	switch orchestrator.Phase(e.Phase) {
	case orchestrator.PhaseIdle:
	case orchestrator.PhaseDone:
		msg := e.Action + " done"
		if e.BlockIndex != nil {
			msg += fmt.Sprintf(" (block %d)", *e.BlockIndex)
		}
		fmt.Fprintln(w, okStyle.Render("✓ "+msg))
	case orchestrator.PhaseFailed:
		fmt.Fprintln(w, failStyle.Render("✗ "+e.Action+" failed: "+e.Error))
	default:
		fmt.Fprintf(w, "→ %s\n", e.Phase)
	}
}

func uint256FromUint64(v uint64) *uint256.Int {
	return new(uint256.Int).SetUint64(v)
}
