package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"
)

// ConfigSource reports which YAML file, if any, backs the process config.
type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

type runtimeConfig struct {
	once   sync.Once
	err    error
	values map[string]string
	source ConfigSource
}

var loaded = &runtimeConfig{}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return loaded.source, nil
}

func ensureRuntimeConfigLoaded() error {
	loaded.once.Do(func() {
		loaded.values, loaded.source, loaded.err = loadRuntimeFile()
	})
	return loaded.err
}

// resetRuntimeConfig forgets the cached file so the next lookup reloads it.
func resetRuntimeConfig() {
	loaded = &runtimeConfig{}
}

func loadRuntimeFile() (map[string]string, ConfigSource, error) {
	source := ConfigSource{Phase: strings.TrimSpace(os.Getenv("CONFIG_PHASE"))}
	if source.Phase == "" {
		source.Phase = "local"
	}

	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	explicit := path != ""
	if !explicit {
		path = filepath.Join("config", "config-"+source.Phase+".yaml")
	}

	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return map[string]string{}, source, nil
		}
		return nil, source, fmt.Errorf("read config file %q: %w", path, err)
	}

	raw := make(map[string]any)
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, source, fmt.Errorf("parse config file %q: %w", path, err)
	}

	values := make(map[string]string)
	if err := flattenConfigValue("", raw, values); err != nil {
		return nil, source, fmt.Errorf("flatten config file %q: %w", path, err)
	}

	source.Loaded = true
	source.Path = path
	if abs, err := filepath.Abs(path); err == nil {
		source.Path = abs
	}
	return values, source, nil
}

// flattenConfigValue turns nested YAML into env style keys, so
// indexer.poll_interval becomes INDEXER_POLL_INTERVAL. Lists join with commas.
func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			if err := flattenConfigChild(prefix, key, child, out); err != nil {
				return err
			}
		}
	case map[any]any:
		for key, child := range typed {
			text, ok := key.(string)
			if !ok {
				return fmt.Errorf("unsupported map key type %T under %q", key, prefix)
			}
			if err := flattenConfigChild(prefix, text, child, out); err != nil {
				return err
			}
		}
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if s := strings.TrimSpace(scalar); s != "" {
					parts = append(parts, s)
				}
			case bool, int, int64, uint64, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
	case nil:
	default:
		if prefix == "" {
			return fmt.Errorf("config root must be a mapping, got %T", value)
		}
		out[prefix] = fmt.Sprint(typed)
	}
	return nil
}

func flattenConfigChild(prefix, key string, child any, out map[string]string) error {
	segment := normalizeKeySegment(key)
	if segment == "" {
		return nil
	}
	if prefix != "" {
		segment = prefix + "_" + segment
	}
	return flattenConfigValue(segment, child, out)
}

func normalizeKeySegment(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	pending := false
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending {
				b.WriteByte('_')
				pending = false
			}
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		pending = b.Len() > 0
	}
	return b.String()
}

// valueForKey prefers the process environment over the YAML file.
func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	if ensureRuntimeConfigLoaded() != nil {
		return ""
	}
	return strings.TrimSpace(loaded.values[key])
}

func envOrDefault(key, fallback string) string {
	if value := valueForKey(key); value != "" {
		return value
	}
	return fallback
}

func envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	raw := valueForKey(key)
	if raw == "" {
		return fallback, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return pk, nil
}

func envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	raw := valueForKey(key)
	if raw == "" {
		return fallback, nil
	}
	switch commitment := rpc.CommitmentType(strings.ToLower(raw)); commitment {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
		return commitment, nil
	default:
		return "", fmt.Errorf("invalid %s: %q (expected processed|confirmed|finalized)", key, raw)
	}
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := valueForKey(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return d, nil
}

func envInt(key string, fallback int) (int, error) {
	raw := valueForKey(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return v, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := valueForKey(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseCSVEnv(raw string, fallback []string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), fallback...)
	}
	return out
}
