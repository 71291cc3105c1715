// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"forwardkit.dev/smartforward/internal/errors"
	"forwardkit.dev/smartforward/internal/logging"
)

// LoadFile loads a configuration file, dispatching on extension: ".json"
// decodes with encoding/json, anything else (".hcl" or no extension) decodes
// with HCL. Defaults are applied and the result is validated before return.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindConfig, "config: read %s", path)
	}

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".json") {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrapf(err, errors.KindConfig, "config: parse JSON %s", path)
		}
	} else {
		// hclsimple picks its parser from the file extension and rejects
		// anything but .hcl/.json, so other names are decoded as ".hcl".
		name := path
		if !strings.EqualFold(filepath.Ext(path), ".hcl") {
			name = path + ".hcl"
		}
		if err := hclsimple.Decode(name, data, nil, &cfg); err != nil {
			return nil, errors.Wrapf(err, errors.KindConfig, "config: parse HCL %s", path)
		}
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if len(cfg.Network.ListenAddrs) > 0 && cfg.Network.ListenAddrs[0] == "0.0.0.0" {
		logging.Warn("network.listen_addrs starts with 0.0.0.0: kernel-mode DNAT without a bound daddr can capture unrelated traffic")
	}

	return &cfg, nil
}
