package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/dependency-scanner/internal/model"
	"github.com/yourorg/dependency-scanner/internal/notify"
)

// RunConfig is the content of the repos file.
type RunConfig struct {
	Repositories []model.Repository `yaml:"repositories"`
	// Notifications is optional. Without it, job events are reported for the
	// job type being run only.
	Notifications *notify.Config `yaml:"notifications"`
}

// NotificationsFor returns the configured notification settings, or the
// default for jobType.
func (rc RunConfig) NotificationsFor(jobType model.ScanJobType) notify.Config {
	if rc.Notifications != nil {
		return *rc.Notifications
	}
	return notify.ConfigForJobType(jobType)
}

// LoadRunConfig reads a RunConfig from path. Unknown fields are rejected.
func LoadRunConfig(path string) (RunConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, err
	}
	return ParseRunConfig(buf)
}

func ParseRunConfig(buf []byte) (RunConfig, error) {
	var rc RunConfig
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&rc); err != nil {
		return RunConfig{}, fmt.Errorf("cannot parse repos file: %w", err)
	}
	if len(rc.Repositories) == 0 {
		return RunConfig{}, fmt.Errorf("repos file lists no repositories")
	}
	return rc, nil
}
