package domain

// StatesDocument is the root of a state machine configuration.
type StatesDocument struct {
	InitialState string                 `json:"initial_state" yaml:"initial_state" mapstructure:"initial_state"`
	States       map[string]StateConfig `json:"states" yaml:"states" mapstructure:"states"`
}

// StateConfig describes one state of the conversation.
type StateConfig struct {
	ID               string         `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	Description      string         `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Parameters       ParameterSpec  `json:"parameters,omitempty" yaml:"parameters,omitempty" mapstructure:"parameters"`
	Transitions      []Transition   `json:"transitions,omitempty" yaml:"transitions,omitempty" mapstructure:"transitions"`
	DefaultNextState string         `json:"default_next_state,omitempty" yaml:"default_next_state,omitempty" mapstructure:"default_next_state"`
	OnEntry          []ActionSpec   `json:"on_entry,omitempty" yaml:"on_entry,omitempty" mapstructure:"on_entry"`
	PayloadResponse  map[string]any `json:"payload_response,omitempty" yaml:"payload_response,omitempty" mapstructure:"payload_response"`
}

// ParameterSpec lists the parameters a state wants collected.
type ParameterSpec struct {
	Required []string `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`
	Optional []string `json:"optional,omitempty" yaml:"optional,omitempty" mapstructure:"optional"`
}

// Transition moves the session to NextState when Condition holds.
type Transition struct {
	NextState string    `json:"next_state" yaml:"next_state" mapstructure:"next_state"`
	Condition Condition `json:"condition,omitempty" yaml:"condition,omitempty" mapstructure:"condition"`
}

// Condition guards a transition. An empty Intent with a nil AllParametersMet
// behaves like AllParametersMet == true.
type Condition struct {
	Intent           string `json:"intent,omitempty" yaml:"intent,omitempty" mapstructure:"intent"`
	AllParametersMet *bool  `json:"all_parameters_met,omitempty" yaml:"all_parameters_met,omitempty" mapstructure:"all_parameters_met"`
}

// Targets returns every state id reachable in one hop, transitions first.
func (s StateConfig) Targets() []string {
	out := make([]string, 0, len(s.Transitions)+1)
	for _, t := range s.Transitions {
		out = append(out, t.NextState)
	}
	if s.DefaultNextState != "" {
		out = append(out, s.DefaultNextState)
	}
	return out
}

// ActionSpec declares an API or script invocation owed when a state is entered.
type ActionSpec struct {
	Type                  ActionKind        `json:"type" yaml:"type" mapstructure:"type"`
	ID                    string            `json:"id" yaml:"id" mapstructure:"id"`
	Mode                  ExecutionMode     `json:"mode,omitempty" yaml:"mode,omitempty" mapstructure:"mode"`
	Consumes              []Binding         `json:"consumes,omitempty" yaml:"consumes,omitempty" mapstructure:"consumes"`
	Produces              map[string]string `json:"produces,omitempty" yaml:"produces,omitempty" mapstructure:"produces"`
	AssignTo              string            `json:"assign_to,omitempty" yaml:"assign_to,omitempty" mapstructure:"assign_to"`
	Script                *ScriptRef        `json:"script,omitempty" yaml:"script,omitempty" mapstructure:"script"`
	WaitPolicy            *WaitPolicy       `json:"wait_policy,omitempty" yaml:"wait_policy,omitempty" mapstructure:"wait_policy"`
	AllowForceTransition  bool              `json:"allow_force_transition,omitempty" yaml:"allow_force_transition,omitempty" mapstructure:"allow_force_transition"`
	AssignCorrelationIDTo string            `json:"assign_correlation_id_to,omitempty" yaml:"assign_correlation_id_to,omitempty" mapstructure:"assign_correlation_id_to"`
}

// ScriptRef points at an exported function of a script file.
type ScriptRef struct {
	File     string `json:"file" yaml:"file" mapstructure:"file"`
	Function string `json:"function" yaml:"function" mapstructure:"function"`
}

// BindingSource names where a consumed value comes from.
type BindingSource string

const (
	SourceUser         BindingSource = "user"
	SourceActionOutput BindingSource = "action_output"
	SourceStatic       BindingSource = "static"
	SourceSession      BindingSource = "session"
	SourceParameter    BindingSource = "parameter"
)

// Binding declares one input of an action.
type Binding struct {
	// Name is the key under which the value is handed to the call.
	Name string        `json:"name" yaml:"name" mapstructure:"name"`
	From BindingSource `json:"from,omitempty" yaml:"from,omitempty" mapstructure:"from"`
	// Ref is the source key (or $-path for session bindings). Defaults to Name.
	Ref      string `json:"ref,omitempty" yaml:"ref,omitempty" mapstructure:"ref"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty" mapstructure:"value"`
	Optional bool   `json:"optional,omitempty" yaml:"optional,omitempty" mapstructure:"optional"`
}

// SourceKey returns the key the binding reads from.
func (b Binding) SourceKey() string {
	if b.Ref != "" {
		return b.Ref
	}
	return b.Name
}

// Source returns the binding source, defaulting to parameter.
func (b Binding) Source() BindingSource {
	if b.From == "" {
		return SourceParameter
	}
	return b.From
}

// APIDefinition describes an external API.
type APIDefinition struct {
	ID          string            `json:"id" yaml:"id" mapstructure:"id"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Method      string            `json:"method,omitempty" yaml:"method,omitempty" mapstructure:"method"`
	URL         string            `json:"url" yaml:"url" mapstructure:"url"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" mapstructure:"headers"`
	// BodyTemplate is rendered against the bound parameters and sent as JSON.
	BodyTemplate any `json:"body_template,omitempty" yaml:"body_template,omitempty" mapstructure:"body_template"`
	// QueryTemplate is rendered and appended to the URL.
	QueryTemplate map[string]any `json:"query_params_template,omitempty" yaml:"query_params_template,omitempty" mapstructure:"query_params_template"`
	TimeoutMs     int            `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty" mapstructure:"timeout_ms"`
	Retries       int            `json:"retries,omitempty" yaml:"retries,omitempty" mapstructure:"retries"`
	Consumes      []Binding      `json:"consumes,omitempty" yaml:"consumes,omitempty" mapstructure:"consumes"`
	// Produces maps a standard output name to a JSON path inside the call result.
	Produces                map[string]string `json:"produces,omitempty" yaml:"produces,omitempty" mapstructure:"produces"`
	ResponseChannelTemplate string            `json:"response_channel_template,omitempty" yaml:"response_channel_template,omitempty" mapstructure:"response_channel_template"`
}

// DefaultAPITimeoutMs applies when a definition leaves TimeoutMs unset.
const DefaultAPITimeoutMs = 10000

// Timeout returns the effective call timeout in milliseconds.
func (d APIDefinition) Timeout() int {
	if d.TimeoutMs <= 0 {
		return DefaultAPITimeoutMs
	}
	return d.TimeoutMs
}
