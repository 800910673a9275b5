package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/gh-myio/gcdr-sync/config"
	"github.com/gh-myio/gcdr-sync/debugctx"
	"github.com/gh-myio/gcdr-sync/internal/bundle"
	"github.com/gh-myio/gcdr-sync/internal/diff"
	"github.com/gh-myio/gcdr-sync/internal/orchestrator"
	gcdrhttp "github.com/gh-myio/gcdr-sync/internal/providers/gcdr/http"
	"github.com/gh-myio/gcdr-sync/internal/providers/history/sqlite"
	"github.com/gh-myio/gcdr-sync/internal/providers/source/thingsboard"
	"github.com/gh-myio/gcdr-sync/observability"
)

type handledError struct {
	msg string
}

func (handledError) handledMarker() {}

func (e handledError) Error() string {
	return e.msg
}

type handled interface {
	handledMarker()
}

func IsHandledError(err error) bool {
	if err == nil {
		return false
	}
	var h handled
	return errors.As(err, &h)
}

// engine bundles everything one sync command needs, wired from the selected
// context.
type engine struct {
	context  config.Context
	fetcher  *bundle.Fetcher
	planner  diff.Planner
	executor *orchestrator.Orchestrator
	metrics  *observability.Metrics
	// history is nil when the context does not configure a history path.
	history *sqlite.Store
}

func loadEngine() (*engine, func(), error) {
	catalogPath, err := config.CatalogPath()
	if err != nil {
		return nil, nil, err
	}
	catalog, err := config.Load(catalogPath)
	if err != nil {
		return nil, nil, err
	}
	selected, err := catalog.Resolve(contextName)
	if err != nil {
		return nil, nil, err
	}

	sourceClient, err := thingsboard.NewClient(thingsboard.Config{
		BaseURL:  selected.Source.BaseURL,
		Username: selected.Source.Username,
		Password: selected.Source.Password,
	})
	if err != nil {
		return nil, nil, err
	}

	metrics := observability.NewMetrics()
	registry, err := gcdrhttp.NewClient(gcdrhttp.Config{
		BaseURL:           selected.GCDR.BaseURL,
		APIKey:            selected.GCDR.APIKey,
		TenantID:          selected.GCDR.TenantID,
		ListJQ:            selected.GCDR.ListJQ,
		RequestsPerSecond: selected.Sync.RequestsPerSecond,
		OnRequest:         metrics.RecordRequest,
	})
	if err != nil {
		return nil, nil, err
	}

	var history *sqlite.Store
	if path := strings.TrimSpace(selected.Sync.HistoryPath); path != "" {
		history, err = sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
	}

	built := &engine{
		context: selected,
		fetcher: &bundle.Fetcher{
			Source:      sourceClient,
			Registry:    registry,
			Concurrency: selected.Sync.FetchConcurrency,
		},
		executor: &orchestrator.Orchestrator{
			Registry: registry,
			Writer:   sourceClient,
			Metrics:  metrics,
		},
		metrics: metrics,
		history: history,
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			_ = built.history.Close()
		})
	}
	return built, cleanup, nil
}

// loadHistory opens only the history store of the selected context.
func loadHistory() (*sqlite.Store, func(), error) {
	catalogPath, err := config.CatalogPath()
	if err != nil {
		return nil, nil, err
	}
	catalog, err := config.Load(catalogPath)
	if err != nil {
		return nil, nil, err
	}
	selected, err := catalog.Resolve(contextName)
	if err != nil {
		return nil, nil, err
	}

	path := strings.TrimSpace(selected.Sync.HistoryPath)
	if path == "" {
		return nil, nil, fmt.Errorf("context %q does not configure sync.history-path", selected.Name)
	}
	history, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			_ = history.Close()
		})
	}
	return history, cleanup, nil
}

// commandContext attaches the debug writer when --debug is set.
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if debugOutput {
		ctx = debugctx.With(ctx, cmd.ErrOrStderr())
	}
	return ctx
}

func usageError(cmd *cobra.Command, message string) error {
	msg := strings.TrimSpace(message)
	if msg == "" {
		msg = "invalid command usage"
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())

	return handledError{msg: msg}
}

func successf(cmd *cobra.Command, format string, args ...any) {
	if noStatusOutput {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "[OK] "+format+"\n", args...)
}

func statusf(cmd *cobra.Command, format string, args ...any) {
	if noStatusOutput {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}

func infof(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
}

func confirmAction(cmd *cobra.Command, skipPrompt bool, message string) error {
	if skipPrompt {
		return nil
	}
	confirmed, err := confirm(cmd, message)
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Fprintln(cmd.ErrOrStderr(), "Aborted.")
		return handledError{msg: "operation cancelled"}
	}
	return nil
}
