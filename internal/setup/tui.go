package setup

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/vadiminshakov/ckvault/config"
	"github.com/vadiminshakov/ckvault/internal/domain"
)

// DefaultOutput file written by the wizard.
const DefaultOutput = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

type answers struct {
	gatewayURL       string
	account          string
	protocolSpender  string
	btcMinterSpender string
	ethMinterSpender string
	usdcLedgerID     string
	pollInterval     string
	slippageBps      string
	walDir           string
	webAddr          string
	webTLSDomain     string
	logLevel         string
}

func defaultAnswers() answers {
	return answers{
		pollInterval: config.DefaultPollInterval.String(),
		slippageBps:  strconv.Itoa(config.DefaultSlippageBps),
		walDir:       config.DefaultWalDir,
		webAddr:      config.DefaultWebAddr,
		logLevel:     "info",
	}
}

func header(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("CKVAULT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the terminal configuration wizard and writes the result to output.
func RunTUI(output string) error {
	if output == "" {
		output = DefaultOutput
	}
	a := defaultAnswers()
	var confirm bool

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("CKVAULT CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Connect your account to the lending protocol.\n"))

	fmt.Println(stepStyle.Render("STEP 1: GATEWAY"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Gateway URL").
				Description("HTTP endpoint forwarding ledger, protocol and bridge calls").
				Value(&a.gatewayURL).
				Validate(validateURL),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 2: IDENTITIES")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Your account").
				Description("Textual principal, e.g. mxzaz-hqaaa-aaaar-qaada-cai").
				Value(&a.account).
				Validate(domain.ValidateAccount),
			huh.NewInput().
				Title("Protocol spender").
				Description("Principal allowed to pull collateral on supply").
				Value(&a.protocolSpender).
				Validate(optionalAccount),
			huh.NewInput().
				Title("Bitcoin minter").
				Description("Spender approved for on-chain BTC withdrawals (optional)").
				Value(&a.btcMinterSpender).
				Validate(optionalAccount),
			huh.NewInput().
				Title("EVM minter").
				Description("Spender approved for USDC withdrawals to EVM (optional)").
				Value(&a.ethMinterSpender).
				Validate(optionalAccount),
			huh.NewInput().
				Title("ckUSDC ledger id").
				Description("Ledger burned by the EVM minter (optional)").
				Value(&a.usdcLedgerID).
				Validate(optionalAccount),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 3: TUNING")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Deposit poll interval").
				Description("Duration string (e.g. 30s, 1m)").
				Value(&a.pollInterval).
				Validate(validateInterval),
			huh.NewInput().
				Title("Swap slippage").
				Description("Basis points below the oracle quote (100 = 1%)").
				Value(&a.slippageBps).
				Validate(validateSlippage),
			huh.NewSelect[string]().
				Title("Log level").
				Options(
					huh.NewOption("Info", "info"),
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Warn", "warn"),
				).
				Value(&a.logLevel),
		),
	).Run()
	if err != nil {
		return err
	}

	header("STEP 4: STORAGE AND WEB")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("WAL directory").
				Value(&a.walDir),
			huh.NewInput().
				Title("Status server address").
				Value(&a.webAddr),
			huh.NewInput().
				Title("TLS domain").
				Description("Leave empty to serve plain HTTP").
				Value(&a.webTLSDomain),
		),
	).Run()
	if err != nil {
		return err
	}

	cfg, err := a.config()
	if err != nil {
		return err
	}

	header("FINAL CONFIRMATION")
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary(cfg)))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	if err := config.Write(output, cfg); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nSet %s in your environment or .env file if the gateway needs a token.", output, "CKVAULT_API_TOKEN")))
	return nil
}

func (a answers) config() (config.Config, error) {
	interval, err := time.ParseDuration(a.pollInterval)
	if err != nil {
		return config.Config{}, err
	}
	bps, err := strconv.ParseUint(a.slippageBps, 10, 64)
	if err != nil {
		return config.Config{}, err
	}
	cfg := config.Config{
		GatewayURL:       a.gatewayURL,
		Account:          a.account,
		ProtocolSpender:  a.protocolSpender,
		BtcMinterSpender: a.btcMinterSpender,
		EthMinterSpender: a.ethMinterSpender,
		UsdcLedgerID:     a.usdcLedgerID,
		PollInterval:     interval,
		RequestTimeout:   config.DefaultRequestTimeout,
		SlippageBps:      bps,
		WalDir:           a.walDir,
		WebAddr:          a.webAddr,
		WebTLSDomain:     a.webTLSDomain,
		LogLevel:         a.logLevel,
	}
	return cfg, cfg.Validate()
}

func summary(cfg config.Config) string {
	return fmt.Sprintf(
		"Gateway: %s\nAccount: %s\nProtocol spender: %s\nPoll interval: %s\nSlippage: %d bps\nWAL: %s\n",
		cfg.GatewayURL, cfg.Account, cfg.ProtocolSpender, cfg.PollInterval, cfg.SlippageBps, cfg.WalDir,
	)
}

func validateURL(s string) error {
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("must be an http(s) URL")
	}
	return nil
}

func optionalAccount(s string) error {
	if s == "" {
		return nil
	}
	return domain.ValidateAccount(s)
}

func validateInterval(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("must be a duration like 60s")
	}
	if d < time.Second {
		return fmt.Errorf("must be at least 1s")
	}
	return nil
}

func validateSlippage(s string) error {
	bps, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("must be a whole number")
	}
	if bps >= 10000 {
		return fmt.Errorf("must be below 10000")
	}
	return nil
}
