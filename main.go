// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/danielhkuo/faceattend/apiclient"
	"github.com/danielhkuo/faceattend/auth"
	"github.com/danielhkuo/faceattend/capture"
	"github.com/danielhkuo/faceattend/cliparse"
	"github.com/danielhkuo/faceattend/db"
	"github.com/danielhkuo/faceattend/screens"
)

func main() {
	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(2)
	}
	setupLogging(cfg.LogLevel)

	// signal.Notify requires the channel to be buffered
	ctx, cancel := context.WithCancel(context.Background())
	ctrlc := make(chan os.Signal, 1)
	signal.Notify(ctrlc, os.Interrupt, syscall.SIGTERM)
	go func() {
		// Wait for Ctrl-C signal
		<-ctrlc
		slog.Info("Shutting down")
		cancel()
	}()

	err = run(ctx, cfg)
	cancel()
	if err != nil && !errors.Is(err, screens.ErrQuit) {
		slog.Error("Command failed", "command", cfg.Command, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cliparse.Config) error {
	if cfg.Command == "hashpw" {
		return hashPassword(cfg.CommandArgs)
	}

	api := apiclient.New(cfg.APIBaseURL, apiclient.WithTimeout(cfg.RequestTimeout))
	deps := screens.Deps{
		Config: cfg,
		API:    api,
		In:     os.Stdin,
		Out:    os.Stdout,
	}

	switch cfg.Command {
	case "student":
		args, err := cliparse.ParseStudentArgs(cfg.CommandArgs)
		if err != nil {
			return err
		}
		if deps.Camera, err = capture.NewCamera(cfg.CameraBackend, cfg.FrontCamera, cfg.BackCamera); err != nil {
			return err
		}
		journal, closeDB, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer closeDB()
		deps.Journal = journal
		return screens.New(deps).Student(ctx, args)

	case "teacher":
		args, err := cliparse.ParseTeacherArgs(cfg.CommandArgs)
		if err != nil {
			return err
		}
		return screens.New(deps).Teacher(ctx, args)

	case "admin":
		args, err := cliparse.ParseAdminArgs(cfg.CommandArgs)
		if err != nil {
			return err
		}
		gate, err := auth.NewAdminGate(cfg.AdminUsername, cfg.AdminPasswordHash)
		if err != nil {
			return err
		}
		if cfg.AdminPasswordHash == "" {
			slog.Warn("ADMIN_PASSWORD_HASH not set, using the default admin password")
		}
		return screens.New(deps).Admin(ctx, gate, args)

	case "register":
		args, err := cliparse.ParseRegisterArgs(cfg.CommandArgs)
		if err != nil {
			return err
		}
		if deps.Camera, err = capture.NewCamera(cfg.CameraBackend, cfg.FrontCamera, cfg.BackCamera); err != nil {
			return err
		}
		return screens.New(deps).Register(ctx, args)

	case "history":
		args, err := cliparse.ParseHistoryArgs(cfg.CommandArgs)
		if err != nil {
			return err
		}
		journal, closeDB, err := openJournal(cfg)
		if err != nil {
			return err
		}
		defer closeDB()
		deps.Journal = journal
		return screens.New(deps).History(ctx, args)
	}

	return fmt.Errorf("unknown command %q: %w", cfg.Command, cliparse.ErrNoCommand)
}

func openJournal(cfg cliparse.Config) (*db.Journal, func(), error) {
	conn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("journal: %w", err)
	}
	if err := db.CreateSchema(conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("journal schema: %w", err)
	}
	slog.Debug("Journal ready", "type", cfg.DatabaseType)
	return db.NewJournal(conn), func() { conn.Close() }, nil
}

// hashPassword prints a bcrypt hash for ADMIN_PASSWORD_HASH.
func hashPassword(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: faceattend hashpw <password>")
	}
	hash, err := auth.HashPassword(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		h = slog.NewTextHandler(os.Stderr, opts)
	} else {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}
