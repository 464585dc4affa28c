// Package routing classifies a free-text request into a non-binding plan: an
// intent, a suggested action sequence and parameter hints.
package routing

import "github.com/Strob0t/ForgeBot/internal/domain/action"

// Intent is the coarse meaning of a request.
type Intent string

const (
	IntentChat   Intent = "chat"
	IntentEdit   Intent = "edit"
	IntentCreate Intent = "create"
	IntentCommit Intent = "commit"
	IntentRead   Intent = "read"
	IntentSearch Intent = "search"
	IntentConfig Intent = "config"
)

// Plan is the router's output. ActionSequence is advisory; the agent loop
// never enforces it.
type Plan struct {
	Intent             Intent                       `json:"intent"`
	ActionSequence     []string                     `json:"action_sequence"`
	ParameterHints     map[string]map[string]string `json:"parameter_hints,omitempty"`
	Confidence         float64                      `json:"confidence"`
	Reasoning          string                       `json:"reasoning"`
	ClarifyFirst       bool                         `json:"clarify_first"`
	ClarifyQuestion    string                       `json:"clarify_question,omitempty"`
	ExpectedIterations int                          `json:"expected_iterations"`
	// TargetPath is the primary file the request refers to, if any.
	TargetPath string `json:"target_path,omitempty"`
	// PreferredType is the kind of content a create request asks for.
	PreferredType string `json:"preferred_type,omitempty"`
	// Rule names the rule that produced the plan.
	Rule string `json:"rule"`
}

// Context carries caller-supplied state consulted during classification.
type Context struct {
	// RecentFiles is most-recent-first.
	RecentFiles []string
}

// Confidences are the fixed per-branch confidence values. They are not
// calibrated against outcomes; callers may only use them to gate the fast
// conversational path.
type Confidences struct {
	Structural    float64 `yaml:"structural"`
	ExplicitEdit  float64 `yaml:"explicit_edit"`
	PronounEdit   float64 `yaml:"pronoun_edit"`
	Create        float64 `yaml:"create"`
	CreateVague   float64 `yaml:"create_vague"`
	Commit        float64 `yaml:"commit"`
	ModelSwitch   float64 `yaml:"model_switch"`
	ReadPath      float64 `yaml:"read_path"`
	Browse        float64 `yaml:"browse"`
	TimeSensitive float64 `yaml:"time_sensitive"`
	Default       float64 `yaml:"default"`
}

// DefaultConfidences returns the built-in confidence table.
func DefaultConfidences() Confidences {
	return Confidences{
		Structural:    0.95,
		ExplicitEdit:  0.9,
		PronounEdit:   0.8,
		Create:        0.85,
		CreateVague:   0.3,
		Commit:        0.85,
		ModelSwitch:   0.9,
		ReadPath:      0.85,
		Browse:        0.7,
		TimeSensitive: 0.75,
		Default:       0.5,
	}
}

// Config tunes the router.
type Config struct {
	// ContentDir prefixes bare filenames, e.g. "src/".
	ContentDir string `yaml:"content_dir"`
	// FastPathThreshold is the minimum chat confidence for answering without
	// tool access.
	FastPathThreshold float64     `yaml:"fast_path_threshold"`
	Confidences       Confidences `yaml:"confidences"`
}

// DefaultConfig returns the router defaults.
func DefaultConfig() Config {
	return Config{
		ContentDir:        "src/",
		FastPathThreshold: 0.75,
		Confidences:       DefaultConfidences(),
	}
}

// Router evaluates an ordered rule cascade; the first matching rule wins.
type Router struct {
	cfg   Config
	rules []Rule
}

// NewRouter creates a router with the standard rule order.
func NewRouter(cfg Config) *Router {
	if cfg.ContentDir == "" {
		cfg.ContentDir = "src/"
	}
	if cfg.ContentDir[len(cfg.ContentDir)-1] != '/' {
		cfg.ContentDir += "/"
	}
	return &Router{cfg: cfg, rules: StandardRules()}
}

// Classify maps a request onto a plan. It never fails; unmatched requests
// fall through to the default chat plan.
func (r *Router) Classify(msg string, ctx Context) Plan {
	in := newInput(msg, ctx, r.cfg.ContentDir)
	for _, rule := range r.rules {
		if p, ok := rule.Match(&r.cfg, in); ok {
			p.Rule = rule.Name
			return p
		}
	}
	return defaultPlan(&r.cfg)
}

// FastPath reports whether p may be answered without tool access.
func (r *Router) FastPath(p Plan) bool {
	return p.Intent == IntentChat && !p.ClarifyFirst && p.Confidence >= r.cfg.FastPathThreshold
}

func defaultPlan(cfg *Config) Plan {
	return Plan{
		Intent:             IntentChat,
		ActionSequence:     []string{},
		Confidence:         cfg.Confidences.Default,
		Reasoning:          "no specific rule matched; the general loop decides",
		ExpectedIterations: 1,
		Rule:               "default",
	}
}

func pathHint(path string) map[string]string {
	return map[string]string{"path": path}
}

// readOnlyActions lists router-suggested actions that never mutate.
var readOnlyActions = map[string]bool{
	action.FileExists:  true,
	action.ReadFile:    true,
	action.ListFiles:   true,
	action.SearchFiles: true,
	action.WebSearch:   true,
}

// Mutates reports whether the plan suggests any mutating action.
func (p Plan) Mutates() bool {
	for _, a := range p.ActionSequence {
		if !readOnlyActions[a] {
			return true
		}
	}
	return false
}
