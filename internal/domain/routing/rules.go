package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Strob0t/ForgeBot/internal/domain/action"
)

// Rule is one predicate+action pair in the cascade. Match returns the plan
// and true when the rule applies.
type Rule struct {
	Name  string
	Match func(cfg *Config, in *input) (Plan, bool)
}

// input is the pre-processed request shared by all rules.
type input struct {
	raw         string
	lower       string
	words       []string
	paths       []string
	recentFiles []string
}

func newInput(msg string, ctx Context, contentDir string) *input {
	return &input{
		raw:         msg,
		lower:       strings.ToLower(msg),
		words:       strings.Fields(msg),
		paths:       extractPaths(msg, contentDir),
		recentFiles: ctx.RecentFiles,
	}
}

func (in *input) path() string {
	if len(in.paths) == 0 {
		return ""
	}
	return in.paths[0]
}

// StandardRules returns the rule cascade in priority order.
func StandardRules() []Rule {
	return []Rule{
		{Name: "structural_transform", Match: matchStructural},
		{Name: "explicit_edit", Match: matchExplicitEdit},
		{Name: "pronoun_edit", Match: matchPronounEdit},
		{Name: "create", Match: matchCreate},
		{Name: "commit", Match: matchCommit},
		{Name: "model_switch", Match: matchModelSwitch},
		{Name: "browse", Match: matchBrowse},
		{Name: "time_sensitive", Match: matchTimeSensitive},
	}
}

var structuralRe = regexp.MustCompile(`\b(?:match|mirror|copy|follow|use)\s+(?:the\s+)?(?:structure|layout|format|template|skeleton)\s+(?:of|from)\b|\bsame\s+(?:structure|layout|format)\s+as\b|\brestructure\b`)

func matchStructural(cfg *Config, in *input) (Plan, bool) {
	if !structuralRe.MatchString(in.lower) || len(in.paths) == 0 {
		return Plan{}, false
	}
	target := in.paths[0]
	readHint := pathHint(target)
	seq := []string{action.ReadFile}
	iterations := 2
	reasoning := fmt.Sprintf("structural rewrite of %s: read then overwrite in full", target)
	if len(in.paths) > 1 {
		readHint["reference_path"] = in.paths[1]
		seq = append(seq, action.ReadFile)
		iterations++
		reasoning = fmt.Sprintf("structural rewrite of %s to match %s: read both then overwrite in full", target, in.paths[1])
	}
	seq = append(seq, action.WriteFile)
	return Plan{
		Intent:         IntentEdit,
		ActionSequence: seq,
		ParameterHints: map[string]map[string]string{
			action.ReadFile:  readHint,
			action.WriteFile: {"path": target, "mode": "overwrite"},
		},
		Confidence:         cfg.Confidences.Structural,
		Reasoning:          reasoning,
		ExpectedIterations: iterations,
		TargetPath:         target,
	}, true
}

var editVerbRe = regexp.MustCompile(`\b(?:fix|edit|update|change|modify|tweak|adjust|refactor|improve|restyle|style|patch|correct|rename|replace|add|remove|delete|clean\s+up)\b`)

func matchExplicitEdit(cfg *Config, in *input) (Plan, bool) {
	p := in.path()
	if p == "" || !editVerbRe.MatchString(in.lower) {
		return Plan{}, false
	}
	return Plan{
		Intent:         IntentEdit,
		ActionSequence: []string{action.FileExists, action.ReadFile, action.EditFile},
		ParameterHints: map[string]map[string]string{
			action.FileExists: pathHint(p),
			action.ReadFile:   pathHint(p),
			action.EditFile:   pathHint(p),
		},
		Confidence:         cfg.Confidences.ExplicitEdit,
		Reasoning:          "edit verb with explicit path " + p,
		ExpectedIterations: 3,
		TargetPath:         p,
	}, true
}

var (
	pronounRe     = regexp.MustCompile(`\b(?:it|its|that|this|the\s+(?:game|page|site|app))\b`)
	pronounVerbRe = regexp.MustCompile(`\b(?:fix|repair|debug|improve|enhance|polish|upgrade|optimi[sz]e|make|resize|bigger|smaller|larger|wider|taller|shorter|shrink|grow|scale|remove|delete|hide|drop|get\s+rid\s+of|move|cent(?:er|re)|align|reposition|shift|swap|change|update|add|tweak|adjust|speed\s+up|slow\s+down|faster|slower|colou?r|restyle|redo)\b`)
)

func matchPronounEdit(cfg *Config, in *input) (Plan, bool) {
	if len(in.recentFiles) == 0 || !pronounRe.MatchString(in.lower) || !pronounVerbRe.MatchString(in.lower) {
		return Plan{}, false
	}
	target := in.recentFiles[0]
	return Plan{
		Intent:         IntentEdit,
		ActionSequence: []string{action.ReadFile, action.EditFile},
		ParameterHints: map[string]map[string]string{
			action.ReadFile: pathHint(target),
			action.EditFile: pathHint(target),
		},
		Confidence:         cfg.Confidences.PronounEdit,
		Reasoning:          "pronoun resolved to most recent file " + target,
		ExpectedIterations: 2,
		TargetPath:         target,
	}, true
}

var (
	createVerbRe = regexp.MustCompile(`\b(?:create|make|build|generate|write|design|code|develop|craft)\b`)
	namedRe      = regexp.MustCompile(`\b(?:called|named|titled)\s+["'\x60]?([A-Za-z0-9][\w-]*)`)
	gameTypes    = []string{
		"snake", "tetris", "pong", "breakout", "platformer", "puzzle", "quiz", "trivia",
		"memory", "flappy", "shooter", "racing", "runner", "chess", "checkers",
		"tic-tac-toe", "tictactoe", "sudoku", "minesweeper", "2048", "pacman", "pac-man",
		"asteroids", "invaders", "clicker", "maze", "solitaire", "wordle", "hangman",
	}
	pageTypes = []string{
		"landing", "portfolio", "blog", "calculator", "todo", "timer", "stopwatch",
		"clock", "dashboard", "form", "gallery", "resume", "homepage",
	}
)

// clarifyQuestion is asked instead of starting a costly generation run for
// an underspecified create request.
const clarifyQuestion = "What should I build? Give me a type or a name, for example: \"a snake game called retro-snake\"."

func matchCreate(cfg *Config, in *input) (Plan, bool) {
	if !createVerbRe.MatchString(in.lower) {
		return Plan{}, false
	}

	name := ""
	if m := namedRe.FindStringSubmatch(in.raw); m != nil {
		name = strings.ToLower(m[1])
	}
	typeWord, contentType := detectType(in.lower)

	if name == "" && typeWord == "" && len(in.words) <= 8 {
		return Plan{
			Intent:             IntentChat,
			ActionSequence:     []string{},
			Confidence:         cfg.Confidences.CreateVague,
			Reasoning:          "creation request without a name or type; asking before generating",
			ClarifyFirst:       true,
			ClarifyQuestion:    clarifyQuestion,
			ExpectedIterations: 0,
		}, true
	}

	slug := name
	if slug == "" && typeWord != "" {
		slug = typeWord + "-" + contentType
	}
	if contentType == "" {
		contentType = "game"
		if strings.Contains(in.lower, "page") || strings.Contains(in.lower, "site") {
			contentType = "page"
		}
	}

	target := in.path()
	if target == "" && slug != "" {
		target = cfg.ContentDir + slug + ".html"
	}
	hints := map[string]map[string]string{}
	if target != "" {
		hints[action.WriteFile] = pathHint(target)
	}
	return Plan{
		Intent:             IntentCreate,
		ActionSequence:     []string{action.WriteFile},
		ParameterHints:     hints,
		Confidence:         cfg.Confidences.Create,
		Reasoning:          fmt.Sprintf("creation request for a %s (name=%q, type=%q)", contentType, name, typeWord),
		ExpectedIterations: 1,
		TargetPath:         target,
		PreferredType:      contentType,
	}, true
}

var (
	gameTypeRe = wordListRe(gameTypes)
	pageTypeRe = wordListRe(pageTypes)
)

func wordListRe(words []string) *regexp.Regexp {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?:^|[^\w-])(` + strings.Join(quoted, "|") + `)(?:$|[^\w-])`)
}

func detectType(lower string) (word, contentType string) {
	if m := gameTypeRe.FindStringSubmatch(lower); m != nil {
		return m[1], "game"
	}
	if m := pageTypeRe.FindStringSubmatch(lower); m != nil {
		return m[1], "page"
	}
	return "", ""
}

var commitRe = regexp.MustCompile(`\b(?:commit|push|deploy|publish)\b|\bsave\s+(?:my\s+|the\s+|all\s+)?(?:changes|work|progress|it|this|everything)\b|\bship\s+it\b`)

func matchCommit(cfg *Config, in *input) (Plan, bool) {
	if !commitRe.MatchString(in.lower) {
		return Plan{}, false
	}
	return Plan{
		Intent:             IntentCommit,
		ActionSequence:     []string{action.CommitPush},
		ParameterHints:     map[string]map[string]string{action.CommitPush: {"message": strings.TrimSpace(in.raw)}},
		Confidence:         cfg.Confidences.Commit,
		Reasoning:          "commit/save/push phrasing",
		ExpectedIterations: 1,
	}, true
}

var (
	modelSwitchRe = regexp.MustCompile(`\b(?:switch|change|swap|set)\s+(?:the\s+)?(?:model|llm)\s+to\s+([\w./:-]+)`)
	modelUseRe    = regexp.MustCompile(`\b(?:use|switch\s+to|try)\s+(?:the\s+)?(?:model\s+)?([\w./:-]*(?:gpt|claude|gemini|llama|mistral|deepseek|qwen|grok)[\w./:-]*)`)
)

func matchModelSwitch(cfg *Config, in *input) (Plan, bool) {
	m := modelSwitchRe.FindStringSubmatch(in.lower)
	if m == nil {
		m = modelUseRe.FindStringSubmatch(in.lower)
	}
	if m == nil {
		return Plan{}, false
	}
	model := strings.TrimRight(m[1], ".,;:!?")
	return Plan{
		Intent:             IntentConfig,
		ActionSequence:     []string{action.SwitchModel},
		ParameterHints:     map[string]map[string]string{action.SwitchModel: {"model": model}},
		Confidence:         cfg.Confidences.ModelSwitch,
		Reasoning:          "explicit model switch to " + model,
		ExpectedIterations: 1,
	}, true
}

var (
	browseRe = regexp.MustCompile(`\b(?:list|show|display|find|search|look\s+for|locate|grep|open|view|read|cat)\b|\b(?:what|which)\s+files\b`)
	searchRe = regexp.MustCompile(`\b(?:find|search|look\s+for|locate|grep)\b`)
)

func matchBrowse(cfg *Config, in *input) (Plan, bool) {
	if !browseRe.MatchString(in.lower) {
		return Plan{}, false
	}
	if p := in.path(); p != "" {
		return Plan{
			Intent:         IntentRead,
			ActionSequence: []string{action.FileExists, action.ReadFile},
			ParameterHints: map[string]map[string]string{
				action.FileExists: pathHint(p),
				action.ReadFile:   pathHint(p),
			},
			Confidence:         cfg.Confidences.ReadPath,
			Reasoning:          "read request for " + p,
			ExpectedIterations: 2,
			TargetPath:         p,
		}, true
	}
	if searchRe.MatchString(in.lower) {
		return Plan{
			Intent:             IntentSearch,
			ActionSequence:     []string{action.SearchFiles},
			ParameterHints:     map[string]map[string]string{action.SearchFiles: {"query": strings.TrimSpace(in.raw)}},
			Confidence:         cfg.Confidences.Browse,
			Reasoning:          "search without a path",
			ExpectedIterations: 2,
		}, true
	}
	return Plan{
		Intent:             IntentRead,
		ActionSequence:     []string{action.ListFiles},
		ParameterHints:     map[string]map[string]string{action.ListFiles: {"dir": strings.TrimSuffix(cfg.ContentDir, "/")}},
		Confidence:         cfg.Confidences.Browse,
		Reasoning:          "listing without a path",
		ExpectedIterations: 1,
	}, true
}

var timeSensitiveRe = regexp.MustCompile(`\b(?:latest|current|currently|today|tonight|this\s+week|news|recent|recently|right\s+now|up[- ]to[- ]date|trending)\b`)

func matchTimeSensitive(cfg *Config, in *input) (Plan, bool) {
	if !timeSensitiveRe.MatchString(in.lower) {
		return Plan{}, false
	}
	return Plan{
		Intent:             IntentSearch,
		ActionSequence:     []string{action.WebSearch},
		ParameterHints:     map[string]map[string]string{action.WebSearch: {"query": strings.TrimSpace(in.raw)}},
		Confidence:         cfg.Confidences.TimeSensitive,
		Reasoning:          "time-sensitive phrasing needs external search",
		ExpectedIterations: 2,
	}, true
}
