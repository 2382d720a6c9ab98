package selftest

import (
	"fmt"
	"time"

	"github.com/sawpanic/gatewatch/internal/config"
	"github.com/sawpanic/gatewatch/internal/phase"
)

// ConfigValidator checks that the loaded configuration is internally
// consistent and that a phase clock can be built from it.
type ConfigValidator struct {
	cfg *config.Config
}

// NewConfigValidator wraps the configuration under test.
func NewConfigValidator(cfg *config.Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// Name returns the validator name.
func (v *ConfigValidator) Name() string { return "Configuration" }

// Validate runs the config checks.
func (v *ConfigValidator) Validate() TestResult {
	start := time.Now()
	result := TestResult{Name: v.Name(), Timestamp: start, Details: []string{}}

	if v.cfg == nil {
		return result.fail(start, "no configuration supplied")
	}
	if err := v.cfg.Validate(); err != nil {
		return result.fail(start, "configuration invalid: %v", err)
	}
	result.Details = append(result.Details,
		fmt.Sprintf("camera %s, gate mode %s", v.cfg.Camera.ID, v.cfg.Gate.Mode))

	clock, err := phase.NewClock(v.cfg.Phases)
	if err != nil {
		return result.fail(start, "phase clock rejected the phases section: %v", err)
	}
	result.Details = append(result.Details, "timezone "+clock.Location().String())
	result.Details = append(result.Details,
		fmt.Sprintf("alerts enabled=%v interval=%s", v.cfg.Alerts.Enabled, v.cfg.Alerts.Interval()))
	result.Details = append(result.Details,
		fmt.Sprintf("exports every %s, retention %d days", v.cfg.Exports.Interval(), v.cfg.Exports.RetentionDays))

	return result.pass(start, "configuration valid")
}
