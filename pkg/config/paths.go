package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// dataRoot is ./data on Linux and the per-user config directory elsewhere.
func dataRoot() string {
	switch runtime.GOOS {
	case "windows", "darwin":
		if dir, err := os.UserConfigDir(); err == nil {
			return filepath.Join(dir, "ChainPulse")
		}
	}
	return "data"
}

func (c *Config) applyPlatformDirs() {
	root := dataRoot()
	if c.Storage.SnapshotDir == "" {
		c.Storage.SnapshotDir = filepath.Join(root, "snapshots")
	}
	if c.Storage.EODDir == "" {
		c.Storage.EODDir = filepath.Join(root, "eod")
	}
	if c.Storage.PacketDir == "" {
		c.Storage.PacketDir = filepath.Join(root, "packets")
	}
}

// DBPath is the SQLite file backing the snapshot store and discovery ledger.
func (c *Config) DBPath() string {
	return filepath.Join(c.Storage.SnapshotDir, c.Storage.DBFile)
}

// DefaultTopStocks are the ten heaviest NIFTY constituents with approximate weights.
func DefaultTopStocks() []StockConfig {
	return []StockConfig{
		{Symbol: "HDFCBANK", DisplayName: "HDFC Bank", Weight: 0.130},
		{Symbol: "ICICIBANK", DisplayName: "ICICI Bank", Weight: 0.090},
		{Symbol: "RELIANCE", DisplayName: "Reliance Industries", Weight: 0.085},
		{Symbol: "INFY", DisplayName: "Infosys", Weight: 0.050},
		{Symbol: "BHARTIARTL", DisplayName: "Bharti Airtel", Weight: 0.045},
		{Symbol: "LT", DisplayName: "Larsen & Toubro", Weight: 0.040},
		{Symbol: "ITC", DisplayName: "ITC", Weight: 0.035},
		{Symbol: "TCS", DisplayName: "Tata Consultancy Services", Weight: 0.030},
		{Symbol: "AXISBANK", DisplayName: "Axis Bank", Weight: 0.030},
		{Symbol: "KOTAKBANK", DisplayName: "Kotak Mahindra Bank", Weight: 0.028},
	}
}
