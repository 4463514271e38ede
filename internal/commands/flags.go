package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/kartik102005/ecolearn/internal/core/config"
	"github.com/kartik102005/ecolearn/internal/core/fault"
	"github.com/kartik102005/ecolearn/internal/ecolearn"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string
	Backend    string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// App is built in the Before hook and closed in After
	App *ecolearn.App
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "ecolearn", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
// On macOS it falls back to ~/Library/Application Support/ecolearn.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome != "" {
		return filepath.Join(dataHome, "ecolearn")
	}

	home, _ := os.UserHomeDir()
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", "ecolearn")
	}
	return filepath.Join(home, ".local", "share", "ecolearn")
}

// ready starts the app and waits until the session is restored or the hard
// ceiling passes.
func (f *Flags) ready(ctx context.Context) (*ecolearn.App, error) {
	if f.App == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	if err := f.App.Start(ctx); err != nil {
		return nil, err
	}

	select {
	case <-f.App.Sessions.Ready():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return f.App, nil
}

// signedIn is ready plus a check that someone is signed in.
func (f *Flags) signedIn(ctx context.Context) (*ecolearn.App, error) {
	app, err := f.ready(ctx)
	if err != nil {
		return nil, err
	}
	st := app.Sessions.Snapshot()
	if !st.Authenticated() {
		return nil, fmt.Errorf("%w. Run 'ecolearn signin' first", fault.ErrNoUser)
	}
	// A session restored after the soft timeout may still be activating.
	if err := app.Inbox.Activate(ctx, st.UserID()); err != nil {
		return nil, fmt.Errorf("load inbox: %w", err)
	}
	return app, nil
}
