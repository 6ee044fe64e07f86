package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/WangYihang/News-Crawler/pkg/common"
	"github.com/WangYihang/News-Crawler/pkg/infrastructure/monitoring"
	"github.com/WangYihang/News-Crawler/pkg/interface/cli"
	"github.com/WangYihang/News-Crawler/pkg/interface/presenter"
)

func main() {
	os.Exit(run())
}

func run() int {
	config, err := cli.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if config.Version {
		fmt.Println(common.PV.String())
		return 0
	}

	assembler := cli.NewAssembler(config)
	app, err := assembler.Assemble()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer app.Close()

	if config.MetricsAddr != "" {
		monitoring.StartExporter(config.MetricsAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down gracefully...")
		cancel()
	}()

	if config.ShowDashboard {
		return runWithDashboard(ctx, app)
	}
	return runPlain(ctx, app)
}

func runPlain(ctx context.Context, app *cli.App) int {
	err := app.UseCase.Execute(ctx)
	switch {
	case err == nil:
		fmt.Fprintln(os.Stderr, "Crawl pass completed")
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "Crawl pass interrupted")
		return 130
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
}

func runWithDashboard(ctx context.Context, app *cli.App) int {
	dashboard := presenter.NewDashboard()
	app.UseCase.RegisterMetricsObserver(dashboard)

	p := tea.NewProgram(dashboard, tea.WithAltScreen())

	execErr := make(chan error, 1)
	go func() {
		err := app.UseCase.Execute(ctx)
		execErr <- err
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}

	select {
	case err := <-execErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	default:
		// Dashboard quit before the pass finished (user pressed q).
	}
	return 0
}
