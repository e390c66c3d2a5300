package laju

import (
	"fmt"

	"github.com/spf13/viper"
)

// endpointsFile mirrors the on-disk layout: a top-level "endpoints" list.
type endpointsFile struct {
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
}

// LoadEndpointConfigs reads an endpoint list from a YAML/JSON/TOML file, e.g.:
//
//	endpoints:
//	  - name: dexscreener
//	    base_url: https://api.dexscreener.com
//	    rate_limit: 5
//	    rate_interval: 1s
//	    timeout: 10s
//	    retry_count: 2
//	    priority: 10
//	    health_check_path: /latest/dex/tokens/ping
//
// Durations accept Go syntax ("10s", "1m").
func LoadEndpointConfigs(path string) ([]EndpointConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("laju: read endpoint config: %w", err)
	}

	var file endpointsFile
	if err := v.Unmarshal(&file); err != nil {
		return nil, fmt.Errorf("laju: parse endpoint config: %w", err)
	}

	if len(file.Endpoints) == 0 {
		return nil, fmt.Errorf("laju: endpoint config %s declares no endpoints", path)
	}

	seen := make(map[string]struct{}, len(file.Endpoints))
	for i, cfg := range file.Endpoints {
		if cfg.Name == "" {
			return nil, fmt.Errorf("laju: endpoint config %s: entry %d has no name", path, i)
		}
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("laju: endpoint config %s: endpoint %q has no base_url", path, cfg.Name)
		}
		if _, dup := seen[cfg.Name]; dup {
			return nil, fmt.Errorf("laju: endpoint config %s: duplicate endpoint name %q", path, cfg.Name)
		}
		seen[cfg.Name] = struct{}{}
	}

	return file.Endpoints, nil
}
