// Package setup is the interactive configuration wizard.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/sipbot/config"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFile = "config.gen.yaml"
	EnvFile    = ".env"
)

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

// Answers holds everything the wizard asks for.
type Answers struct {
	Platform    string
	AutoExecute bool
	MinBalance  string

	Provider string
	APIURL   string
	Model    string
	APIKey   string

	ScheduleMode string
	Interval     string
	DailyAt      string

	Symbol    string
	Token     string
	Mode      string
	SIPAmount string

	NotifyEnabled bool
	ChatIDs       string
	BotToken      string
}

// DefaultAnswers are the prefilled wizard values.
func DefaultAnswers() Answers {
	return Answers{
		Platform:     config.PlatformPaper,
		MinBalance:   "1000",
		Provider:     config.ProviderOpenAI,
		APIURL:       "https://openrouter.ai/api/v1/chat/completions",
		Model:        "deepseek/deepseek-chat",
		ScheduleMode: "interval",
		Interval:     "30m",
		DailyAt:      "09:30",
		Symbol:       "NIFTYBEES",
		Mode:         "sip",
		SIPAmount:    "5000",
	}
}

func stepHeader(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("SIPBOT CONFIG WIZARD"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI launches the wizard and writes config.gen.yaml and .env into the working directory.
func RunTUI() error {
	a := DefaultAnswers()

	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("SIPBOT CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's get your SIP automated.\n"))

	fmt.Println(stepStyle.Render("STEP 1: BROKER"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select broker").
				Options(
					huh.NewOption("Paper trading", config.PlatformPaper),
					huh.NewOption("Angel One (NSE/BSE)", config.PlatformAngelOne),
					huh.NewOption("Binance", config.PlatformBinance),
					huh.NewOption("Bybit", config.PlatformBybit),
					huh.NewOption("Hyperliquid", config.PlatformHyperliquid),
				).
				Value(&a.Platform),
			huh.NewConfirm().
				Title("Place orders automatically?").
				Description("When off, the bot only sends trading signals").
				Value(&a.AutoExecute),
			huh.NewInput().
				Title("Minimum balance").
				Description("Cycles are skipped when spendable cash falls below it").
				Value(&a.MinBalance).
				Validate(validateAmount),
		),
	).Run()
	if err != nil {
		return err
	}

	stepHeader("STEP 2: DECISION ORACLE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("LLM client").
				Options(
					huh.NewOption("OpenAI-compatible HTTP", config.ProviderOpenAI),
					huh.NewOption("Eino ChatModel", config.ProviderEino),
				).
				Value(&a.Provider),
			huh.NewInput().
				Title("LLM API URL").
				Value(&a.APIURL),
			huh.NewInput().
				Title("LLM API Key").
				Value(&a.APIKey).
				EchoMode(huh.EchoModePassword),
			huh.NewInput().
				Title("Model Name").
				Value(&a.Model),
		),
	).Run()
	if err != nil {
		return err
	}

	stepHeader("STEP 3: SCHEDULE")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Run cycles").
				Options(
					huh.NewOption("Every interval", "interval"),
					huh.NewOption("Once a day", "daily"),
				).
				Value(&a.ScheduleMode),
		),
	).Run()
	if err != nil {
		return err
	}
	if a.ScheduleMode == "daily" {
		err = huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Daily time (HH:MM, Asia/Kolkata)").
				Value(&a.DailyAt).
				Validate(func(s string) error {
					_, err := time.Parse("15:04", s)
					return err
				}),
		)).Run()
	} else {
		err = huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Interval").
				Description("Duration string (e.g. 30m, 1h)").
				Value(&a.Interval).
				Validate(func(s string) error {
					_, err := time.ParseDuration(s)
					return err
				}),
		)).Run()
	}
	if err != nil {
		return err
	}

	stepHeader("STEP 4: FIRST INSTRUMENT")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Symbol").
				Value(&a.Symbol).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("symbol cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Broker token").
				Description("Angel One symbol token, leave empty for other brokers").
				Value(&a.Token),
			huh.NewSelect[string]().
				Title("Mode").
				Options(
					huh.NewOption("SIP", "sip"),
					huh.NewOption("Buy once", "buy"),
					huh.NewOption("Sell", "sell"),
					huh.NewOption("Hold", "hold"),
				).
				Value(&a.Mode),
			huh.NewInput().
				Title("SIP amount").
				Value(&a.SIPAmount).
				Validate(validateAmount),
		),
	).Run()
	if err != nil {
		return err
	}

	stepHeader("STEP 5: TELEGRAM")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Send Telegram notifications?").
				Value(&a.NotifyEnabled),
		),
	).Run()
	if err != nil {
		return err
	}
	if a.NotifyEnabled {
		err = huh.NewForm(huh.NewGroup(
			huh.NewInput().
				Title("Bot token").
				Value(&a.BotToken).
				EchoMode(huh.EchoModePassword),
			huh.NewInput().
				Title("Chat IDs").
				Description("Comma separated").
				Value(&a.ChatIDs),
		)).Run()
		if err != nil {
			return err
		}
	}

	stepHeader("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Broker: %s\nAuto-execute: %v\nOracle: %s (%s)\nSchedule: %s\nInstrument: %s (%s)\nTelegram: %v\n",
		a.Platform, a.AutoExecute, a.Provider, a.Model, describeSchedule(a), strings.ToUpper(a.Symbol), a.Mode, a.NotifyEnabled,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	var confirm bool
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

	if err := Write(".", a); err != nil {
		return err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(
		fmt.Sprintf("\n✓ Configuration saved to %s, secrets to %s\nRun: sipbot run --config %s", ConfigFile, EnvFile, ConfigFile)))
	return nil
}

// BuildConfig turns wizard answers into the raw YAML config.
func BuildConfig(a Answers) (config.ConfigTmp, error) {
	cfg := config.ConfigTmp{
		AutoExecute: a.AutoExecute,
		MinBalance:  a.MinBalance,
		Broker:      config.BrokerTmp{Platform: a.Platform},
		Oracle: config.OracleTmp{
			Provider: a.Provider,
			APIURL:   a.APIURL,
			Model:    a.Model,
		},
		Schedule: config.ScheduleTmp{Mode: a.ScheduleMode},
		Instruments: []config.InstrumentTmp{{
			Symbol: strings.ToUpper(strings.TrimSpace(a.Symbol)),
			Token:  strings.TrimSpace(a.Token),
			Mode:   a.Mode,
		}},
	}

	if a.Mode == "sip" {
		cfg.Instruments[0].SIPAmount = a.SIPAmount
	}

	if a.ScheduleMode == "daily" {
		cfg.Schedule.DailyAt = a.DailyAt
		cfg.Schedule.Weekdays = true
	} else {
		d, err := time.ParseDuration(a.Interval)
		if err != nil {
			return config.ConfigTmp{}, errors.Wrap(err, "invalid interval")
		}
		cfg.Schedule.Interval = d
	}

	if a.NotifyEnabled {
		cfg.Notify.Enabled = true
		for _, id := range strings.Split(a.ChatIDs, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Notify.ChatIDs = append(cfg.Notify.ChatIDs, id)
			}
		}
	}

	// reject what the bot would refuse to start with
	if _, err := cfg.Build(); err != nil {
		return config.ConfigTmp{}, err
	}

	return cfg, nil
}

// Write saves the YAML config and merges the secrets into the .env file in dir.
func Write(dir string, a Answers) error {
	cfg, err := BuildConfig(a)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), data, 0o644); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}

	envPath := filepath.Join(dir, EnvFile)
	env, err := godotenv.Read(envPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to read .env")
		}
		env = map[string]string{}
	}
	if a.APIKey != "" {
		env["LLM_API_KEY"] = a.APIKey
	}
	if a.BotToken != "" {
		env["TELEGRAM_BOT_TOKEN"] = a.BotToken
	}
	if len(env) == 0 {
		return nil
	}
	if err := godotenv.Write(env, envPath); err != nil {
		return errors.Wrap(err, "failed to save .env")
	}
	return os.Chmod(envPath, 0o600)
}

func describeSchedule(a Answers) string {
	if a.ScheduleMode == "daily" {
		return "daily at " + a.DailyAt
	}
	return "every " + a.Interval
}

func validateAmount(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative, got %s", strconv.Quote(s))
	}
	return nil
}
