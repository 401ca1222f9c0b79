package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	flushmanager "github.com/sushant-115/gojocache/core/write_engine/flush_manager"
	"github.com/sushant-115/gojocache/core/write_engine/pagecache"
	"github.com/sushant-115/gojocache/pkg/config"
	"github.com/sushant-115/gojocache/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	dataDir := flag.String("data", "", "directory holding mapped files (overrides data_dir)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	factory := flushmanager.NewFileSwapperFactory(cfg.DataDir, log)
	cache, err := pagecache.New(cfg.PageCache, factory, pagecache.NewLoggingMonitor(log), log)
	if err != nil {
		log.Fatal("Failed to create page cache", zap.Error(err))
	}
	sh := newShell(cache, os.Stdout)
	defer func() {
		if err := sh.close(); err != nil {
			log.Error("Failed to close page cache cleanly", zap.Error(err))
		}
	}()

	if args := flag.Args(); len(args) > 0 {
		sh.processCommand(args)
		return
	}
	if err := sh.interactive(filepath.Join(cfg.DataDir, ".gojocache_history")); err != nil {
		log.Error("Interactive shell failed", zap.Error(err))
	}
}

// interactive reads commands with line editing until exit or EOF.
func (s *shell) interactive(historyFile string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "gojocache> ",
		HistoryFile:     historyFile,
		AutoComplete:    completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Fprintln(s.out, "GojoCache CLI (interactive mode). Type 'help' for commands, 'exit' or 'quit' to leave.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if quit := s.processCommand(strings.Fields(line)); quit {
			return nil
		}
	}
}

func completer() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem("map"),
		readline.PcItem("unmap"),
		readline.PcItem("files"),
		readline.PcItem("write"),
		readline.PcItem("read"),
		readline.PcItem("putlong"),
		readline.PcItem("getlong"),
		readline.PcItem("flush"),
		readline.PcItem("stats"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

