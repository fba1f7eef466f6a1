package strategy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/replicator/pkg/types"
)

// Name identifies a tree-building strategy
type Name string

const (
	Simple            Name = "Simple"
	Swarm             Name = "Swarm"
	DynamicThroughput Name = "DynamicThroughput"
	MinimiseTotalWait Name = "MinimiseTotalWait"
)

// Supported returns every strategy the handler implements
func Supported() []Name {
	return []Name{Simple, DynamicThroughput, Swarm, MinimiseTotalWait}
}

// IsSupported reports whether n is an implemented strategy
func IsSupported(n Name) bool {
	for _, s := range Supported() {
		if s == n {
			return true
		}
	}
	return false
}

func (n Name) multiHop() bool {
	return n == DynamicThroughput || n == MinimiseTotalWait
}

// Spec is a parsed strategy identifier.
// SigmaOverride replaces the configured hop sigma for one call.
type Spec struct {
	Name          Name
	SigmaOverride *float64
}

func (s Spec) String() string {
	if s.SigmaOverride == nil {
		return string(s.Name)
	}
	return string(s.Name) + "_" + strconv.FormatFloat(*s.SigmaOverride, 'f', -1, 64)
}

// Sigma returns the hop penalty for this strategy
func (s Spec) Sigma(configured float64) float64 {
	if s.SigmaOverride != nil {
		return *s.SigmaOverride
	}
	return configured
}

// Parse converts a strategy identifier such as "MinimiseTotalWait_2.5" into a Spec
func Parse(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if IsSupported(Name(raw)) {
		return Spec{Name: Name(raw)}, nil
	}

	if i := strings.LastIndex(raw, "_"); i > 0 {
		base := Name(raw[:i])
		if base.multiHop() {
			sigma, err := strconv.ParseFloat(raw[i+1:], 64)
			if err != nil {
				return Spec{}, types.Errorf(types.KindConfiguration, "parse strategy", raw, "invalid sigma suffix: %v", err)
			}
			if sigma < 0 {
				return Spec{}, types.Errorf(types.KindConfiguration, "parse strategy", raw, "sigma must not be negative")
			}
			return Spec{Name: base, SigmaOverride: &sigma}, nil
		}
	}

	return Spec{}, types.Errorf(types.KindConfiguration, "parse strategy", raw, "unsupported strategy")
}

// MustParse is Parse for identifiers known to be valid
func MustParse(raw string) Spec {
	spec, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return spec
}

// SchedulingType selects which observed rate feeds the time-to-start heuristic
type SchedulingType string

const (
	SchedulingFile       SchedulingType = "File"
	SchedulingThroughput SchedulingType = "Throughput"
)

// Config holds the handler's tunables
type Config struct {
	HopSigma              float64
	SchedulingType        SchedulingType
	ActiveStrategies      []Spec
	AcceptableFailureRate float64
}

// DefaultConfig returns the stock handler configuration
func DefaultConfig() Config {
	return Config{
		HopSigma:              0,
		SchedulingType:        SchedulingFile,
		ActiveStrategies:      []Spec{{Name: MinimiseTotalWait}},
		AcceptableFailureRate: 75,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.SchedulingType != SchedulingFile && c.SchedulingType != SchedulingThroughput {
		return fmt.Errorf("unknown scheduling type %q", c.SchedulingType)
	}
	if len(c.ActiveStrategies) == 0 {
		return fmt.Errorf("at least one active strategy is required")
	}
	for _, s := range c.ActiveStrategies {
		if !IsSupported(s.Name) {
			return fmt.Errorf("unsupported active strategy %q", s.Name)
		}
	}
	if c.HopSigma < 0 {
		return fmt.Errorf("hop sigma must not be negative")
	}
	if c.AcceptableFailureRate < 0 || c.AcceptableFailureRate > 100 {
		return fmt.Errorf("acceptable failure rate must be between 0 and 100")
	}
	return nil
}
