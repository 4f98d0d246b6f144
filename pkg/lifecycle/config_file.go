package lifecycle

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"
)

const configComment = "# Configuration applied by zapret manager"

// ApplyConfig overwrites the external config file with the ipset and game filter lines.
// A missing config file is left alone: nothing is written and false is returned.
// The external tool may need a restart to observe the change.
func (m *Manager) ApplyConfig(ipset IpsetMode, gameFilter bool) bool {
	return m.ApplyConfigOperation(ipset, gameFilter).Success
}

func (m *Manager) ApplyConfigOperation(ipset IpsetMode, gameFilter bool) OperationRecord {
	record := m.begin("apply config")
	err := m.applyConfig(ipset, gameFilter)
	return m.finish(record, err)
}

// ConfigPath returns the location of the external config file
func (m *Manager) ConfigPath() string {
	return m.installation.Join(m.options.ConfigFile)
}

func (m *Manager) applyConfig(ipset IpsetMode, gameFilter bool) error {
	if ipset == "" {
		ipset = DefaultIpsetMode
	}
	if !ipset.Valid() {
		_, err := ParseIpsetMode(string(ipset))
		return err
	}

	m.configMutex.Lock()
	defer m.configMutex.Unlock()

	filter := "0"
	if gameFilter {
		filter = "1"
	}
	m.publishInfo("", fmt.Sprintf("Applying configuration: ipset=%s, game_filter=%s", ipset, filter))

	path := m.ConfigPath()
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("config file does not exist", err).WithContext("path", path)
		}
		return errors.NewIOError("failed to stat config file", err).WithContext("path", path)
	}
	if !info.Mode().IsRegular() {
		return errors.NewIOError("config path is not a regular file", nil).WithContext("path", path)
	}

	content := renderConfig(ipset, filter)
	if err := os.WriteFile(path, []byte(content), info.Mode().Perm()); err != nil {
		return errors.NewIOError("failed to write config file", err).WithContext("path", path)
	}

	m.logger.Infof("Config file written, path: %s, ipset: %s, game_filter: %s", path, ipset, filter)
	m.publishInfo("", fmt.Sprintf("Configuration saved to %s, a restart may be required to apply it", path))
	return nil
}

func renderConfig(ipset IpsetMode, filter string) string {
	lines := []string{
		"IPSET=" + string(ipset),
		"GAME_FILTER=" + filter,
		configComment,
	}
	newline := "\n"
	if runtime.GOOS == "windows" {
		newline = "\r\n"
	}
	return strings.Join(lines, newline) + newline
}
