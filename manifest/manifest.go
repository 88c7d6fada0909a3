// Package manifest handles dexflow.toml configuration.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "dexflow.toml"

// Default values applied after decoding.
const (
	DefaultBatch     = 256
	DefaultDriver    = "sqlite"
	DefaultAddr      = "127.0.0.1:7420"
	DefaultCacheSize = 512
)

// Manifest represents a dexflow.toml configuration.
type Manifest struct {
	Analysis Analysis `toml:"analysis" json:"analysis"`
	Log      Log      `toml:"log" json:"log"`
	Store    Store    `toml:"store" json:"store"`
	Server   Server   `toml:"server" json:"server"`

	// Dir is the directory containing the dexflow.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Analysis configures the analysis index.
type Analysis struct {
	Workers int `toml:"workers" json:"workers"` // 0 means GOMAXPROCS
	Batch   int `toml:"batch" json:"batch"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Store configures analysis persistence. An empty DSN disables it.
type Store struct {
	Driver string `toml:"driver" json:"driver"`
	DSN    string `toml:"dsn" json:"dsn"`
}

// Server configures the query service listeners.
type Server struct {
	Addr      string `toml:"addr" json:"addr"`
	GRPC      string `toml:"grpc" json:"grpc"`
	CacheSize int    `toml:"cache-size" json:"cache-size"`
}

// Default returns a manifest with every default applied.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

func (m *Manifest) applyDefaults() {
	if m.Analysis.Batch == 0 {
		m.Analysis.Batch = DefaultBatch
	}
	if m.Store.Driver == "" {
		m.Store.Driver = DefaultDriver
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultAddr
	}
	if m.Server.CacheSize == 0 {
		m.Server.CacheSize = DefaultCacheSize
	}
}

// Load parses the dexflow.toml file in the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses a configuration file at any path. Relative paths inside
// it resolve against the file's directory.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	dir := filepath.Dir(path)
	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates configuration text. Unknown keys are errors.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	m.applyDefaults()
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a dexflow.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// Write encodes m as TOML to path.
func Write(path string, m *Manifest) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// StoreDSN returns the store DSN, resolving a relative sqlite or duckdb
// file path against the manifest directory.
func (m *Manifest) StoreDSN() string {
	return m.resolve(m.Store.DSN)
}

// LogFile returns the log file path, or "" for stderr.
func (m *Manifest) LogFile() string {
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) || strings.Contains(p, "://") || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}
