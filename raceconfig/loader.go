// Package raceconfig loads the hierarchical `[worker]` configuration
// described in §6 into race.WorkerConfig values, trying file extensions
// in order the way the teacher's feeders package does, and coercing
// scalars (durations, numeric widening) with golobby/cast.
package raceconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"

	"github.com/racecore/race"
)

// castString/castBool/castFloat64/castInt wrap golobby/cast.FromType the
// way the teacher's setFieldValue does, but against a concrete Go type
// rather than a reflect.Value field, since config blocks here are plain
// maps rather than struct fields.
func castString(v any) (string, error) {
	out, err := cast.FromType(v, reflect.TypeOf(""))
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func castBool(v any) (bool, error) {
	out, err := cast.FromType(v, reflect.TypeOf(false))
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}

func castFloat64(v any) (float64, error) {
	out, err := cast.FromType(v, reflect.TypeOf(float64(0)))
	if err != nil {
		return 0, err
	}
	return out.(float64), nil
}

func castInt(v any) (int, error) {
	out, err := cast.FromType(v, reflect.TypeOf(int(0)))
	if err != nil {
		return 0, err
	}
	return out.(int), nil
}

func castInt64(v any) (int64, error) {
	out, err := cast.FromType(v, reflect.TypeOf(int64(0)))
	if err != nil {
		return 0, err
	}
	return out.(int64), nil
}

// candidateExtensions is the order feeders/base_config.go tries when a
// config path is given without an extension.
var candidateExtensions = []string{".yaml", ".yml", ".json", ".toml"}

// ErrAmbiguousFile is returned when more than one candidate file exists
// for an extensionless path.
var ErrAmbiguousFile = race.ErrConfigAmbiguousFile

// document is the generic decoded shape of a config file: a top-level
// "system" block of System-wide settings and a "workers" list of
// hierarchical key/value blocks, one per §6 `[worker]`.
type document struct {
	System  map[string]any   `yaml:"system" json:"system" toml:"system"`
	Workers []map[string]any `yaml:"workers" json:"workers" toml:"workers"`
}

// SystemConfig carries the top-level settings a System needs before any
// worker is admitted: the simulation clock's starting point and pace, and
// where to bind the ops HTTP surface (see cmd/racectl).
type SystemConfig struct {
	BaseDate    time.Time
	TimeScale   float64
	MetricsAddr string
}

// Document is the fully decoded configuration file: system settings plus
// every worker block.
type Document struct {
	System  SystemConfig
	Workers []race.WorkerConfig
}

// Load resolves path (trying candidateExtensions if it has none), parses
// it by format, and decodes every worker block into a race.WorkerConfig.
// It discards the top-level system block; use LoadDocument to read it.
func Load(path string) ([]race.WorkerConfig, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return doc.Workers, nil
}

// LoadDocument resolves path the same way Load does and decodes the full
// document: system settings and every worker block.
func LoadDocument(path string) (Document, error) {
	resolved, err := resolve(path)
	if err != nil {
		return Document{}, err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", race.ErrConfigParse, err)
	}

	var doc document
	switch ext := filepath.Ext(resolved); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &doc)
	case ".json":
		err = yamlCompatibleJSON(raw, &doc)
	case ".toml":
		err = toml.Unmarshal(raw, &doc)
	default:
		return Document{}, fmt.Errorf("%w: unsupported extension %q", race.ErrConfigParse, ext)
	}
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", race.ErrConfigParse, err)
	}

	sysBlock := substituteMap(doc.System)
	sysCfg := SystemConfig{TimeScale: 1}
	if v, ok := sysBlock["base-date"]; ok {
		sysCfg.BaseDate = parseTime(v)
	}
	if v, ok := sysBlock["time-scale"]; ok {
		sysCfg.TimeScale, _ = castFloat64(v)
	}
	sysCfg.MetricsAddr, _ = castString(sysBlock["metrics-addr"])

	out := make([]race.WorkerConfig, 0, len(doc.Workers))
	for _, block := range doc.Workers {
		wc, err := decodeWorker(substituteMap(block))
		if err != nil {
			return Document{}, err
		}
		out = append(out, wc)
	}
	return Document{System: sysCfg, Workers: out}, nil
}

// resolve returns path unchanged if it names an existing file; otherwise
// it tries path+ext for each candidateExtensions entry in order and
// returns the first (and only) match, erroring on zero or multiple
// matches.
func resolve(path string) (string, error) {
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if ext := filepath.Ext(path); ext != "" {
		return "", fmt.Errorf("%w: %s", race.ErrConfigMissingRequired, path)
	}

	var matches []string
	for _, ext := range candidateExtensions {
		candidate := path + ext
		if _, err := os.Stat(candidate); err == nil {
			matches = append(matches, candidate)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: no config file found for %s (tried %v)", race.ErrConfigMissingRequired, path, candidateExtensions)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %v", ErrAmbiguousFile, matches)
	}
}

// decodeWorker maps a generic key/value block onto race.WorkerConfig,
// promoting the §6 named fields and leaving everything else in Extra.
func decodeWorker(block map[string]any) (race.WorkerConfig, error) {
	wc := race.WorkerConfig{Extra: make(map[string]any)}

	name, _ := castString(block["name"])
	if name == "" {
		return wc, fmt.Errorf("%w: worker name", race.ErrConfigMissingRequired)
	}
	wc.Name = name
	wc.Class, _ = castString(block["class"])
	wc.ReadFrom = stringList(block["read-from"])
	wc.WriteTo = stringList(block["write-to"])

	if v, ok := block["start-time"]; ok {
		wc.StartTime = parseTime(v)
	}
	if v, ok := block["time-scale"]; ok {
		wc.TimeScale, _ = castFloat64(v)
	}
	wc.RebaseDates, _ = castBool(block["rebase-dates"])
	wc.RebaseOffset = parseDuration(block["rebase-offset"])

	wc.BreakAfter = intOr(block["break-after"], 1000)
	wc.SkipMillis = intOr(block["skip-millis"], 1000)
	wc.MaxSkip = intOr(block["max-skip"], 1000)
	if v, ok := block["end-time"]; ok {
		wc.EndTime = parseTime(v)
	}
	wc.Flatten, _ = castBool(block["flatten"])

	wc.OwnIPAddress, _ = castString(block["own-ip-address"])
	wc.OwnPort = intOr(block["own-port"], 0)
	wc.RemoteIPAddress, _ = castString(block["remote-ip-address"])
	wc.RemotePort = intOr(block["remote-port"], 0)
	wc.Schema, _ = castString(block["schema"])
	wc.SocketTimeout = parseDuration(block["socket-timeout"])
	wc.DataInterval = parseDuration(block["data-interval"])
	wc.MaxFailures = intOr(block["max-failures"], 0)

	wc.BufferSize = intOr(block["buffer-size"], 64)
	policy, _ := castString(block["mailbox-policy"])
	if policy == "" {
		policy = "drop"
	}
	wc.MailboxPolicy = race.MailboxPolicy(policy)

	known := map[string]bool{
		"name": true, "class": true, "read-from": true, "write-to": true,
		"start-time": true, "time-scale": true, "rebase-dates": true, "rebase-offset": true,
		"break-after": true, "skip-millis": true, "max-skip": true, "end-time": true, "flatten": true,
		"own-ip-address": true, "own-port": true, "remote-ip-address": true, "remote-port": true,
		"schema": true, "socket-timeout": true, "data-interval": true, "max-failures": true,
		"buffer-size": true, "mailbox-policy": true,
	}
	for k, v := range block {
		if !known[k] {
			wc.Extra[k] = v
		}
	}
	return wc, nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		return nil
	}
}

func intOr(v any, fallback int) int {
	if v == nil {
		return fallback
	}
	i, err := castInt(v)
	if err != nil {
		return fallback
	}
	return i
}

func parseDuration(v any) time.Duration {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		d, err := time.ParseDuration(t)
		if err != nil {
			return 0
		}
		return d
	default:
		ms, err := castInt64(v)
		if err != nil {
			return 0
		}
		return time.Duration(ms) * time.Millisecond
	}
}

func parseTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// yamlCompatibleJSON lets the yaml.v3 decoder also serve JSON, since JSON
// is a subset of YAML; this avoids a second dependency for the `.json`
// extension.
func yamlCompatibleJSON(raw []byte, doc *document) error {
	return yaml.Unmarshal(raw, doc)
}
