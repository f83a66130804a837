// Command ckvault is a client of the Bitcoin-collateralized lending protocol.
// It supplies ckBTC as collateral, borrows ckUSDC, withdraws or sends funds
// and tracks Bitcoin deposit confirmations.
//
// Usage:
//
//	ckvault setup [--out config.gen.yaml]
//	ckvault <command> [--config config.yaml] [flags] [args]
//
// The gateway token is read from CKVAULT_API_TOKEN (a .env file in the
// working directory is loaded if present).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/vadiminshakov/ckvault/config"
	"github.com/vadiminshakov/ckvault/internal/app"
	"github.com/vadiminshakov/ckvault/internal/logging"
	"github.com/vadiminshakov/ckvault/internal/services/orchestrator"
	"github.com/vadiminshakov/ckvault/internal/setup"
)

const usage = `usage: ckvault <command> [flags] [args]

commands:
  status                         balances, position and risk
  history                        account activity, newest first
  preview [amount] --ltv 50      project a borrow against collateral
  supply <amount>                deposit ckBTC as collateral
  borrow <amount>                borrow ckUSDC
  borrow-swap <amount>           supply ckBTC and receive ckUSDC in one step
  withdraw <amount>              withdraw ckBTC collateral to the wallet
  withdraw-btc <address> <amount>  withdraw ckBTC as native Bitcoin
  withdraw-usdc <address> <amount> withdraw ckUSDC as USDC on the EVM chain
  send <to> <amount> --token ckBTC transfer tokens to another account
  track [--account id]           follow deposit confirmations
  serve                          run the status server
  setup [--out file]             interactive configuration wizard
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	if cmd == "setup" {
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", setup.DefaultOutput, "file to write the configuration to")
		_ = fs.Parse(args)
		if err := setup.RunTUI(*out); err != nil {
			fmt.Fprintln(os.Stderr, "setup:", err)
			os.Exit(1)
		}
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "path to yaml config")
	ltv := fs.Int("ltv", 50, "percent of the max LTV used by preview (25-70)")
	token := fs.String("token", "ckBTC", "token sent by send: ckBTC or ckUSDC")
	account := fs.String("account", "", "account tracked by track, defaults to the configured one")
	_ = fs.Parse(args)

	cfg, err := config.Get(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := app.NewGatewayClients(logger, cfg)
	if err != nil {
		logger.Fatal("failed to create clients", zap.Error(err))
	}
	a, err := app.New(logger, cfg, clients, os.Stdout)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}

	err = run(ctx, a, cmd, fs.Args(), *ltv, *token, *account)
	if cerr := a.Close(); cerr != nil {
		logger.Warn("close", zap.Error(cerr))
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", orchestrator.Normalize(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, a *app.App, cmd string, args []string, ltv int, token, account string) error {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch cmd {
	case "status":
		return a.Status(ctx)
	case "history":
		return a.History(ctx)
	case "preview":
		return a.Preview(ctx, arg(0), ltv)
	case "supply":
		return a.Supply(ctx, arg(0))
	case "borrow":
		return a.Borrow(ctx, arg(0))
	case "borrow-swap":
		return a.BorrowWithSwap(ctx, arg(0))
	case "withdraw":
		return a.WithdrawCollateral(ctx, arg(0))
	case "withdraw-btc":
		return a.WithdrawBTC(ctx, arg(0), arg(1))
	case "withdraw-usdc":
		return a.WithdrawUSDC(ctx, arg(0), arg(1))
	case "send":
		return a.Send(ctx, token, arg(0), arg(1))
	case "track":
		return a.Track(ctx, account)
	case "serve":
		return a.Serve(ctx)
	default:
		return fmt.Errorf("unknown command %s\n\n%s", strconv.Quote(cmd), usage)
	}
}
