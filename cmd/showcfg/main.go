package main

import (
	"fmt"
	"os"

	"snapkey/internal/config"
	"snapkey/internal/hotkey"
)

func main() {
	cfg, err := config.Load(config.ResolvePath(""))
	if cfg == nil {
		panic(err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	fmt.Printf("config=%s ipc=%s backend=%s\n", cfg.Paths.ConfigPath, cfg.IPCAddr(), cfg.Hotkeys.Backend)
	for _, a := range hotkey.Actions() {
		k, perr := hotkey.ParseKey(hotkey.KeyFor(cfg, a))
		fmt.Printf("%-12s raw=%q parsed=%s err=%v\n", a, hotkey.KeyFor(cfg, a), k, perr)
	}
	fmt.Printf("screenshot_path=%s logs_path=%s\n", config.ExpandPath(cfg.ScreenshotPath), config.ExpandPath(cfg.LogsPath))
}
