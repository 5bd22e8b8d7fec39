/*
 * Copyright 2018 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package conf loads the node configuration for the group 0 runtime.
package conf

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/margdoc/scylla/proto"
	"github.com/margdoc/scylla/utils/log"
)

// Group0Info holds the group 0 runtime knobs.
type Group0Info struct {
	// Enabled selects the full linearization protocol; without it guards own
	// no locks (legacy path).
	Enabled bool `yaml:"Enabled"`
	// HistoryGCDuration is how long reclaimed history entries live, as a
	// duration string such as "168h".
	HistoryGCDuration string `yaml:"HistoryGCDuration"`

	parsedGCDuration time.Duration
}

// GCDuration returns the parsed history gc duration.
func (g *Group0Info) GCDuration() time.Duration {
	return g.parsedGCDuration
}

// Config holds the node runtime configuration.
type Config struct {
	NodeID        proto.NodeID   `yaml:"NodeID"`
	ServerID      proto.ServerID `yaml:"ServerID"`
	ListenAddr    string         `yaml:"ListenAddr"`
	BroadcastAddr proto.NodeAddr `yaml:"BroadcastAddr"`
	DataDir       string         `yaml:"DataDir"`

	Group0 *Group0Info `yaml:"Group0"`
}

// GConf is the global config pointer, filled by LoadConfig.
var GConf *Config

// defaultHistoryGCDuration keeps a week of group 0 history.
const defaultHistoryGCDuration = 7 * 24 * time.Hour

// LoadConfig parses the yaml config file at path.
func LoadConfig(configPath string) (config *Config, err error) {
	configBytes, err := ioutil.ReadFile(configPath)
	if err != nil {
		err = errors.Wrap(err, "read config file")
		return
	}

	config = &Config{}
	if err = yaml.Unmarshal(configBytes, config); err != nil {
		err = errors.Wrap(err, "unmarshal config file")
		config = nil
		return
	}

	if config.Group0 == nil {
		config.Group0 = &Group0Info{}
	}
	if config.Group0.HistoryGCDuration == "" {
		config.Group0.parsedGCDuration = defaultHistoryGCDuration
	} else {
		config.Group0.parsedGCDuration, err = time.ParseDuration(config.Group0.HistoryGCDuration)
		if err != nil {
			err = errors.Wrap(err, "parse history gc duration")
			config = nil
			return
		}
	}

	log.WithFields(log.Fields{
		"node": config.NodeID,
		"data": config.DataDir,
	}).Debug("config loaded")
	return
}
