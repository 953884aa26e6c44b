package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pairsbot-go/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== PairsBot Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit z-score bands")
		fmt.Println("3) Edit live pair and sizing")
		fmt.Println("4) Edit costs and paper account")
		fmt.Println("5) Save config")
		fmt.Println("6) Run backtest")
		fmt.Println("7) Launch paper bot")
		fmt.Println("8) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editBands(reader, cfg)
		case "3":
			editLive(reader, cfg)
		case "4":
			editCosts(reader, cfg)
		case "5":
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(os.Stderr, "not saved: %v\n", err)
			} else if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "6":
			runChild(reader, "./cmd/backtest", false)
		case "7":
			runChild(reader, "./cmd/paper", true)
		case "8":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Data: %s every %s (pairs %s)\n", cfg.Data.Dir, cfg.Data.Interval, cfg.Data.PairsFile)
	fmt.Printf("Mode: %s | entry %.2f exit %.2f stop %.2f | lockout on stop: %v\n",
		cfg.Strategy.Mode, cfg.Strategy.Entry, cfg.Strategy.Exit, cfg.Strategy.Stop, cfg.Strategy.LockoutOnStop)
	fmt.Printf("Costs: fee %.4f slippage %.4f per leg\n", cfg.Backtest.Fee, cfg.Backtest.Slippage)
	fmt.Printf("Live pair: %s/%s in %s | hedge %.4f mean %.4f std %.4f\n",
		cfg.Live.Crypto1, cfg.Live.Crypto2, cfg.Live.Quote, cfg.Live.Spread.HedgeRatio, cfg.Live.Spread.Mean, cfg.Live.Spread.Std)
	fmt.Printf("Notional per leg: $%.2f | per-trade cap: $%.2f\n", cfg.Live.Notional, cfg.Risk.MaxNotionalPerTrade)
	fmt.Printf("Paper cash: $%.2f | slippage %.1f bps\n", cfg.Paper.StartingCash, cfg.Paper.SlippageBps)
	fmt.Printf("Exchange: %s (testnet %v)\n", cfg.Exchange.Name, cfg.Exchange.Testnet)
}

func editBands(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Bands ---")
	cfg.Strategy.Entry = promptFloat(reader, "Entry z", cfg.Strategy.Entry)
	cfg.Strategy.Exit = promptFloat(reader, "Exit z", cfg.Strategy.Exit)
	cfg.Strategy.Stop = promptFloat(reader, "Stop z", cfg.Strategy.Stop)
	cfg.Strategy.LockoutOnStop = promptBool(reader, "Lock out after stop", cfg.Strategy.LockoutOnStop)
	if err := cfg.Strategy.Thresholds().Validate(); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
}

func editLive(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Live Pair ---")
	cfg.Live.Crypto1 = promptString(reader, "Crypto 1", cfg.Live.Crypto1)
	cfg.Live.Crypto2 = promptString(reader, "Crypto 2", cfg.Live.Crypto2)
	cfg.Live.Spread.HedgeRatio = promptFloat(reader, "Hedge ratio", cfg.Live.Spread.HedgeRatio)
	cfg.Live.Spread.Mean = promptFloat(reader, "Spread mean", cfg.Live.Spread.Mean)
	cfg.Live.Spread.Std = promptFloat(reader, "Spread std", cfg.Live.Spread.Std)
	cfg.Live.Notional = promptFloat(reader, "Notional per leg (USD)", cfg.Live.Notional)
	cfg.Risk.MaxNotionalPerTrade = promptFloat(reader, "Max notional per trade (USD)", cfg.Risk.MaxNotionalPerTrade)
}

func editCosts(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Costs / Paper ---")
	cfg.Backtest.Fee = promptPercent(reader, "Fee per leg (%)", cfg.Backtest.Fee)
	cfg.Backtest.Slippage = promptPercent(reader, "Slippage per leg (%)", cfg.Backtest.Slippage)
	cfg.Paper.StartingCash = promptFloat(reader, "Paper starting cash", cfg.Paper.StartingCash)
	cfg.Paper.SlippageBps = promptFloat(reader, "Paper slippage (bps)", cfg.Paper.SlippageBps)
}

func runChild(reader *bufio.Reader, pkg string, interactive bool) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := exec.CommandContext(ctx, "go", "run", pkg, "-config", locateConfig())
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if !interactive {
		if err := cmd.Run(); err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", pkg, err)
		}
		return
	}

	fmt.Println("Launching paper bot (Ctrl+C to stop)...")
	cmd.Stdin = os.Stdin
	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start bot: %v\n", err)
		return
	}

	go func() {
		_ = cmd.Wait()
		cancel()
	}()

	fmt.Print("\nPress ENTER to stop the bot and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func promptString(reader *bufio.Reader, label, current string) string {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	if line = strings.TrimSpace(line); line == "" {
		return current
	}
	return strings.ToUpper(line)
}

func promptBool(reader *bufio.Reader, label string, current bool) bool {
	fmt.Printf("%s [%v]: ", label, current)
	line, _ := reader.ReadString('\n')
	v, err := strconv.ParseBool(strings.TrimSpace(line))
	if err != nil {
		return current
	}
	return v
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.4f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.4f\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if path := os.Getenv("PAIRSBOT_CONFIG"); path != "" {
		return path
	}
	return filepath.Clean(defaultConfigPath)
}
