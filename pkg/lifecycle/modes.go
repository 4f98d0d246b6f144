package lifecycle

import (
	"fmt"
	"strings"

	"github.com/core-tools/hsu-zapret-go/pkg/errors"
)

// Mode selects the start entry point, <mode><ext> in the installation directory
type Mode string

const (
	ModeGeneral    Mode = "general"
	ModeGeneralAlt Mode = "general_alt"
	ModeDiscord    Mode = "discord"
)

var allModes = []Mode{ModeGeneral, ModeGeneralAlt, ModeDiscord}

func Modes() []Mode {
	result := make([]Mode, len(allModes))
	copy(result, allModes)
	return result
}

func (m Mode) Valid() bool {
	for _, mode := range allModes {
		if m == mode {
			return true
		}
	}
	return false
}

func ParseMode(value string) (Mode, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(value)))
	if !mode.Valid() {
		return "", errors.NewValidationError(fmt.Sprintf("unknown mode: %s", value), nil).
			WithContext("known", joinModes())
	}
	return mode, nil
}

func joinModes() string {
	names := make([]string, len(allModes))
	for i, mode := range allModes {
		names[i] = string(mode)
	}
	return strings.Join(names, ",")
}

// IpsetMode is the IPSET value written to the external config file
type IpsetMode string

const (
	IpsetNone   IpsetMode = "none"
	IpsetLoaded IpsetMode = "loaded"
	IpsetAny    IpsetMode = "any"
)

// DefaultIpsetMode is used when no ipset mode is given
const DefaultIpsetMode = IpsetLoaded

func (m IpsetMode) Valid() bool {
	switch m {
	case IpsetNone, IpsetLoaded, IpsetAny:
		return true
	}
	return false
}

// ParseIpsetMode accepts none, loaded or any; empty means DefaultIpsetMode
func ParseIpsetMode(value string) (IpsetMode, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return DefaultIpsetMode, nil
	}
	mode := IpsetMode(value)
	if !mode.Valid() {
		return "", errors.NewValidationError(fmt.Sprintf("unknown ipset mode: %s", value), nil).
			WithContext("known", "none,loaded,any")
	}
	return mode, nil
}
