package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/swipematch/internal/model"
)

// Scenario is one end-to-end run of the vote pipeline.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Policy      string      `yaml:"policy,omitempty"`
	Rooms       []RoomSetup `yaml:"rooms"`
	Steps       []Step      `yaml:"steps"`
	Assertions  []Assertion `yaml:"assertions"`
}

// RoomSetup creates a room before the first step.
type RoomSetup struct {
	ID      string `yaml:"id"`
	Members int64  `yaml:"members"`
	Status  string `yaml:"status,omitempty"`
	// Matched starts the room MATCHED on this item, without a publish.
	Matched string `yaml:"matched,omitempty"`
}

// Step holds exactly one action.
type Step struct {
	Vote       *VoteStep   `yaml:"vote,omitempty"`
	Submit     *VoteStep   `yaml:"submit,omitempty"`
	Dispatch   bool        `yaml:"dispatch,omitempty"`
	Status     *StatusStep `yaml:"status,omitempty"`
	SinkOutage int         `yaml:"sink_outage,omitempty"`
	Relay      bool        `yaml:"relay,omitempty"`

	// Expect is the outcome a vote step must produce.
	Expect string `yaml:"expect,omitempty"`
}

type VoteStep struct {
	Room string `yaml:"room"`
	Item string `yaml:"item"`
	User string `yaml:"user"`
	Type string `yaml:"type"`
}

type StatusStep struct {
	Room string `yaml:"room"`
	To   string `yaml:"to"`
}

// Assertion checks the final state or the trace.
type Assertion struct {
	Type        string `yaml:"type"`
	Room        string `yaml:"room,omitempty"`
	Item        string `yaml:"item,omitempty"`
	Status      string `yaml:"status,omitempty"`
	MatchedItem string `yaml:"matched_item,omitempty"`
	Event       string `yaml:"event,omitempty"`
	Outcome     string `yaml:"outcome,omitempty"`
	Count       *int   `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertRoom       = "room"
	AssertCounter    = "counter"
	AssertVotes      = "votes"
	AssertPublished  = "published"
	AssertTraceCount = "trace_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, r := range s.Rooms {
		if r.ID == "" {
			return fmt.Errorf("rooms[%d]: id is required", i)
		}
		if r.Status != "" && !model.RoomStatus(r.Status).Valid() {
			return fmt.Errorf("rooms[%d]: unknown status %q", i, r.Status)
		}
	}

	for i, step := range s.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one action is required, found %d", i, n)
		}
		if step.Expect != "" && step.Vote == nil {
			return fmt.Errorf("steps[%d]: expect is only valid on vote steps", i)
		}
		if step.Status != nil && step.Status.To == "" {
			return fmt.Errorf("steps[%d]: status.to is required", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{
		s.Vote != nil, s.Submit != nil, s.Dispatch, s.Status != nil, s.SinkOutage > 0, s.Relay,
	} {
		if set {
			n++
		}
	}
	return n
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertRoom:
		if a.Room == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: room and status are required for room", index)
		}
	case AssertCounter:
		if a.Room == "" || a.Item == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: room, item and count are required for counter", index)
		}
	case AssertVotes:
		if a.Room == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: room and count are required for votes", index)
		}
	case AssertPublished:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for published", index)
		}
	case AssertTraceCount:
		if a.Event == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: event and count are required for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count != nil && *a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
