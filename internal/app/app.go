package app

import (
	"io"
	"os"
	"path/filepath"
)

// Application wires the store, usage ledger, completion client and
// coordinator together. Everything downstream takes these by reference;
// there is no package-level state, so tests construct their own.
type Application struct {
	Config      Config
	Logger      *Logger
	Files       *FileStore
	Store       *Store
	Usage       *UsageAccumulator
	Coordinator *Coordinator

	logFile *os.File
}

func NewApplication(cfg Config, mock bool) (*Application, error) {
	var logOut io.Writer
	var logFile *os.File
	if f, err := openLogFile(); err == nil {
		logOut = f
		logFile = f
	} else {
		logOut = io.Discard
	}
	logger := NewLogger(logOut)

	files := NewFileStore(cfg.StorageRoot, logger)
	store, err := NewStore(files, logger)
	if err != nil {
		files.Close()
		return nil, err
	}
	usage, err := NewUsageAccumulator(files)
	if err != nil {
		files.Close()
		return nil, err
	}

	var client CompletionClient
	if mock {
		client = &MockClient{}
	} else {
		client = NewHTTPClient(cfg.APIKey, cfg.BaseURL, cfg.ModelMaxTokens)
	}

	return &Application{
		Config:      cfg,
		Logger:      logger,
		Files:       files,
		Store:       store,
		Usage:       usage,
		Coordinator: NewCoordinator(store, usage, client, logger, cfg.Model, cfg.ModelMaxTokens),
		logFile:     logFile,
	}, nil
}

// Close cancels outstanding flights and flushes pending writes.
func (a *Application) Close() {
	a.Coordinator.Close()
	a.Files.Close()
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

func openLogFile() (*os.File, error) {
	dir := filepath.Join(os.TempDir(), "chatwin")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, "chatwin.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
