package qrnes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ErrInvalidConfig is wrapped by every configuration validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrProcCountMismatch reports a parallel process count that differs from the group count
var ErrProcCountMismatch = errors.New("parallel process count must equal the number of groups")

// Default cooling temperatures used when a step count is given without temperatures
const (
	DefaultAnnealTmax = 25000.0
	DefaultAnnealTmin = 2.5
)

// ParallelCfg describes the parallel execution of the emitted topology
type ParallelCfg struct {
	// IP and Port locate the synchronization server
	IP   string `json:"ip" yaml:"ip" validate:"required,ip|hostname"`
	Port int    `json:"port" yaml:"port" validate:"min=1,max=65535"`

	// ProcNum is the number of simulation processes, one per group
	ProcNum int `json:"process_num" yaml:"process_num" validate:"min=1"`

	// Sync selects synchronous execution for every group
	Sync bool `json:"sync" yaml:"sync"`

	Lookahead int `json:"lookahead" yaml:"lookahead" validate:"min=0"`
}

// PlanConfig holds every parameter of a planning run
type PlanConfig struct {
	NetSize int   `json:"net_size" yaml:"net_size" validate:"min=2"`
	Seed    int64 `json:"seed" yaml:"seed"`
	Groups  int   `json:"group_n" yaml:"group_n" validate:"min=1,ltefield=NetSize"`

	// Alpha is the rate of the exponential demand curve over hop counts
	Alpha float64 `json:"alpha" yaml:"alpha" validate:"gt=0"`

	// MemoSize is the number of memories one flow needs at each end of a link
	MemoSize int `json:"memo_size" yaml:"memo_size" validate:"min=1"`

	// QCLength is the router-to-router distance in km, QCAtten the attenuation in dB/m,
	// CCDelay the classical channel delay in ms
	QCLength float64 `json:"qc_length" yaml:"qc_length" validate:"gte=0"`
	QCAtten  float64 `json:"qc_atten" yaml:"qc_atten" validate:"gte=0"`
	CCDelay  float64 `json:"cc_delay" yaml:"cc_delay" validate:"gte=0"`

	Output string `json:"output" yaml:"output" validate:"required"`

	// Stop is the simulated stop time in seconds; zero or +Inf runs without limit
	Stop float64 `json:"stop" yaml:"stop" validate:"gte=0"`

	Parallel *ParallelCfg `json:"parallel,omitempty" yaml:"parallel,omitempty" validate:"omitempty"`

	// NodesCSV names a name,group file assigning routers to groups, bypassing the partitioner
	NodesCSV string `json:"nodes,omitempty" yaml:"nodes,omitempty"`

	// TotalFlows is the number of flows to distribute; zero means one per router
	TotalFlows int `json:"total_flows" yaml:"total_flows" validate:"min=0"`

	// Attach is the number of links each router brings into the generated graph
	Attach int `json:"attach" yaml:"attach" validate:"min=1"`

	// AnnealSeconds is the time budget of the automatic schedule
	AnnealSeconds float64 `json:"anneal_seconds" yaml:"anneal_seconds" validate:"gte=0"`

	// AnnealSteps, when positive, fixes the cooling schedule instead of tuning it
	AnnealSteps int     `json:"anneal_steps" yaml:"anneal_steps" validate:"min=0"`
	AnnealTmax  float64 `json:"anneal_tmax" yaml:"anneal_tmax" validate:"gte=0"`
	AnnealTmin  float64 `json:"anneal_tmin" yaml:"anneal_tmin" validate:"gte=0"`
}

// DefaultPlanConfig returns a configuration with the defaults of the command line filled in
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{
		Groups:        1,
		Alpha:         1.0,
		MemoSize:      1,
		Output:        "out.json",
		Attach:        DefaultAttach,
		AnnealSeconds: DefaultAnnealBudget.Seconds(),
	}
}

// Validate checks the field constraints and the cross-field rules
func (pc *PlanConfig) Validate() error {
	if err := formatValidationError(validate.Struct(pc)); err != nil {
		return err
	}
	if pc.Parallel != nil && pc.Parallel.ProcNum != pc.Groups {
		return fmt.Errorf("%w: %w: %d processes, %d groups", ErrInvalidConfig, ErrProcCountMismatch,
			pc.Parallel.ProcNum, pc.Groups)
	}
	if pc.AnnealSteps > 0 && pc.AnnealTmax > 0 && pc.AnnealTmin > 0 && pc.AnnealTmin >= pc.AnnealTmax {
		return fmt.Errorf("%w: anneal_tmin %g must be below anneal_tmax %g", ErrInvalidConfig,
			pc.AnnealTmin, pc.AnnealTmax)
	}
	return nil
}

// StopSeconds is the stop time, +Inf when there is no limit
func (pc *PlanConfig) StopSeconds() float64 {
	if pc.Stop == 0 {
		return math.Inf(1)
	}
	return pc.Stop
}

// FlowCount is the number of flows the demand curve distributes
func (pc *PlanConfig) FlowCount() int {
	if pc.TotalFlows > 0 {
		return pc.TotalFlows
	}
	return pc.NetSize
}

// PartitionOpts turns the annealing parameters into partitioner options
func (pc *PlanConfig) PartitionOpts() PartitionOpts {
	if pc.AnnealSteps > 0 {
		sched := AnnealSchedule{Tmax: pc.AnnealTmax, Tmin: pc.AnnealTmin, Steps: pc.AnnealSteps}
		if sched.Tmax <= 0 {
			sched.Tmax = DefaultAnnealTmax
		}
		if sched.Tmin <= 0 {
			sched.Tmin = DefaultAnnealTmin
		}
		return PartitionOpts{Schedule: &sched}
	}
	budget := time.Duration(pc.AnnealSeconds * float64(time.Second))
	if budget <= 0 {
		budget = DefaultAnnealBudget
	}
	return PartitionOpts{Budget: budget}
}

// SimConfig holds the parameters of a routing harness run
type SimConfig struct {
	// LinkProb is the chance a router holds entanglement with a given neighbour
	LinkProb float64 `json:"link_prob" yaml:"link_prob" validate:"gte=0,lte=1"`

	// Seed drives the order and start times of injected requests
	Seed int64 `json:"seed" yaml:"seed"`

	// MaxHops bounds the hops a request may take before it is dropped
	MaxHops int `json:"max_hops" yaml:"max_hops" validate:"min=1"`

	// Trace names the hop trace file; empty disables tracing
	Trace string `json:"trace,omitempty" yaml:"trace,omitempty"`
}

// DefaultSimConfig returns the harness defaults
func DefaultSimConfig() SimConfig {
	return SimConfig{LinkProb: 0.5, MaxHops: 64}
}

// Validate checks the field constraints
func (sc *SimConfig) Validate() error {
	return formatValidationError(validate.Struct(sc))
}

// formatValidationError reports the first failed constraint by field name
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for _, e := range validationErrs {
		switch e.Tag() {
		case "required":
			return fmt.Errorf("%w: %s is required", ErrInvalidConfig, e.Field())
		case "min", "gte":
			return fmt.Errorf("%w: %s must be at least %s", ErrInvalidConfig, e.Field(), e.Param())
		case "max", "lte":
			return fmt.Errorf("%w: %s must not exceed %s", ErrInvalidConfig, e.Field(), e.Param())
		case "gt":
			return fmt.Errorf("%w: %s must be greater than %s", ErrInvalidConfig, e.Field(), e.Param())
		case "ltefield":
			return fmt.Errorf("%w: %s must not exceed %s", ErrInvalidConfig, e.Field(), e.Param())
		default:
			return fmt.Errorf("%w: %s failed %s", ErrInvalidConfig, e.Field(), e.Tag())
		}
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
}

// WriteToFile stores the PlanConfig struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (pc *PlanConfig) WriteToFile(filename string) error {
	return writeByExt(filename, pc)
}

// ReadPlanConfig deserializes a byte slice holding a representation of a PlanConfig.
// If dict is empty the file whose name is given is read to acquire the bytes.
// Fields absent from the input keep their defaults.
func ReadPlanConfig(filename string, useYAML bool, dict []byte) (*PlanConfig, error) {
	pc := DefaultPlanConfig()
	if err := readDict(filename, useYAML, dict, &pc); err != nil {
		return nil, err
	}
	return &pc, nil
}

// writeByExt serializes v to filename, as yaml when the extension says so and as json otherwise
func writeByExt(filename string, v any) error {
	var bytes []byte
	var merr error

	if isYAMLFile(filename) {
		bytes, merr = yaml.Marshal(v)
	} else {
		bytes, merr = json.MarshalIndent(v, "", "\t")
	}
	if merr != nil {
		return fmt.Errorf("serializing %s: %w", filename, merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		return cerr
	}
	if _, werr := f.Write(bytes); werr != nil {
		f.Close()
		return werr
	}
	return f.Close()
}

// readDict deserializes dict, or the contents of filename when dict is empty, into v
func readDict(filename string, useYAML bool, dict []byte, v any) error {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return err
		}
	}
	if useYAML {
		err = yaml.Unmarshal(dict, v)
	} else {
		err = json.Unmarshal(dict, v)
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", filename, err)
	}
	return nil
}

// isYAMLFile reports whether the extension of filename names a yaml file
func isYAMLFile(filename string) bool {
	switch path.Ext(filename) {
	case ".yaml", ".YAML", ".yml":
		return true
	}
	return false
}
