package routing

import (
	"slices"
	"testing"

	"github.com/Strob0t/ForgeBot/internal/domain/action"
)

func TestClassify(t *testing.T) {
	r := NewRouter(DefaultConfig())

	tests := []struct {
		name       string
		msg        string
		recent     []string
		wantIntent Intent
		wantSeq    []string
		wantPath   string
		wantRule   string
		clarify    bool
	}{
		{
			name:       "explicit edit",
			msg:        "fix the CSS on src/game.html",
			wantIntent: IntentEdit,
			wantSeq:    []string{action.FileExists, action.ReadFile, action.EditFile},
			wantPath:   "src/game.html",
			wantRule:   "explicit_edit",
		},
		{
			name:       "greeting",
			msg:        "hey what's up",
			wantIntent: IntentChat,
			wantSeq:    []string{},
			wantRule:   "default",
		},
		{
			name:       "vague create",
			msg:        "make a game",
			wantIntent: IntentChat,
			wantSeq:    []string{},
			wantRule:   "create",
			clarify:    true,
		},
		{
			name:       "named create",
			msg:        "build a snake game called retro-snake",
			wantIntent: IntentCreate,
			wantSeq:    []string{action.WriteFile},
			wantPath:   "src/retro-snake.html",
			wantRule:   "create",
		},
		{
			name:       "long create without name",
			msg:        "please make me something fun that my kids can play after school today",
			wantIntent: IntentCreate,
			wantSeq:    []string{action.WriteFile},
			wantRule:   "create",
		},
		{
			name:       "structural with reference",
			msg:        "make src/about.html match the structure of src/index.html",
			wantIntent: IntentEdit,
			wantSeq:    []string{action.ReadFile, action.ReadFile, action.WriteFile},
			wantPath:   "src/about.html",
			wantRule:   "structural_transform",
		},
		{
			name:       "pronoun edit",
			msg:        "make it bigger",
			recent:     []string{"src/pong.html", "src/old.html"},
			wantIntent: IntentEdit,
			wantSeq:    []string{action.ReadFile, action.EditFile},
			wantPath:   "src/pong.html",
			wantRule:   "pronoun_edit",
		},
		{
			name:       "pronoun without recent files",
			msg:        "fix it",
			wantIntent: IntentChat,
			wantSeq:    []string{},
			wantRule:   "default",
		},
		{
			name:       "commit",
			msg:        "save my changes",
			wantIntent: IntentCommit,
			wantSeq:    []string{action.CommitPush},
			wantRule:   "commit",
		},
		{
			name:       "model switch",
			msg:        "switch the model to gpt-4o",
			wantIntent: IntentConfig,
			wantSeq:    []string{action.SwitchModel},
			wantRule:   "model_switch",
		},
		{
			name:       "read with path",
			msg:        "show me game.html",
			wantIntent: IntentRead,
			wantSeq:    []string{action.FileExists, action.ReadFile},
			wantPath:   "src/game.html",
			wantRule:   "browse",
		},
		{
			name:       "search without path",
			msg:        "find the file with the score counter",
			wantIntent: IntentSearch,
			wantSeq:    []string{action.SearchFiles},
			wantRule:   "browse",
		},
		{
			name:       "list without path",
			msg:        "list everything",
			wantIntent: IntentRead,
			wantSeq:    []string{action.ListFiles},
			wantRule:   "browse",
		},
		{
			name:       "time sensitive",
			msg:        "what is the latest version of firefox",
			wantIntent: IntentSearch,
			wantSeq:    []string{action.WebSearch},
			wantRule:   "time_sensitive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.Classify(tt.msg, Context{RecentFiles: tt.recent})
			if p.Intent != tt.wantIntent {
				t.Errorf("intent = %q, want %q", p.Intent, tt.wantIntent)
			}
			if !slices.Equal(p.ActionSequence, tt.wantSeq) {
				t.Errorf("sequence = %v, want %v", p.ActionSequence, tt.wantSeq)
			}
			if tt.wantPath != "" && p.TargetPath != tt.wantPath {
				t.Errorf("target = %q, want %q", p.TargetPath, tt.wantPath)
			}
			if p.Rule != tt.wantRule {
				t.Errorf("rule = %q, want %q", p.Rule, tt.wantRule)
			}
			if p.ClarifyFirst != tt.clarify {
				t.Errorf("clarifyFirst = %v, want %v", p.ClarifyFirst, tt.clarify)
			}
			if p.ClarifyFirst && p.ClarifyQuestion == "" {
				t.Error("clarifyFirst without a question")
			}
		})
	}
}

func TestClassify_ExplicitEditHints(t *testing.T) {
	p := NewRouter(DefaultConfig()).Classify("fix the CSS on src/game.html", Context{})
	for _, a := range p.ActionSequence {
		if got := p.ParameterHints[a]["path"]; got != "src/game.html" {
			t.Errorf("hint for %s = %q", a, got)
		}
	}
	if p.Confidence != DefaultConfidences().ExplicitEdit {
		t.Errorf("confidence = %v", p.Confidence)
	}
}

func TestClassify_StructuralNeverPatches(t *testing.T) {
	p := NewRouter(DefaultConfig()).Classify("restructure pages/b.html like pages/a.html", Context{})
	if slices.Contains(p.ActionSequence, action.EditFile) {
		t.Fatalf("structural rewrite must overwrite, got %v", p.ActionSequence)
	}
	if p.ParameterHints[action.WriteFile]["mode"] != "overwrite" {
		t.Fatalf("write hint = %v", p.ParameterHints[action.WriteFile])
	}
	if p.ParameterHints[action.ReadFile]["reference_path"] != "pages/a.html" {
		t.Fatalf("read hint = %v", p.ParameterHints[action.ReadFile])
	}
}

func TestClassify_VagueCreateConfidenceBelowFastPath(t *testing.T) {
	r := NewRouter(DefaultConfig())
	p := r.Classify("make a game", Context{})
	if p.Confidence >= DefaultConfidences().Create {
		t.Fatalf("vague create should lower confidence, got %v", p.Confidence)
	}
	if r.FastPath(p) {
		t.Fatal("clarifying plan must not take the fast path")
	}
}

func TestFastPath(t *testing.T) {
	cfg := DefaultConfig()
	r := NewRouter(cfg)
	if r.FastPath(r.Classify("hey what's up", Context{})) {
		t.Fatal("default chat confidence is below the default threshold")
	}

	cfg.FastPathThreshold = 0.4
	r = NewRouter(cfg)
	if !r.FastPath(r.Classify("hey what's up", Context{})) {
		t.Fatal("lowered threshold should admit the default chat plan")
	}
	if r.FastPath(r.Classify("fix src/a.html", Context{})) {
		t.Fatal("non-chat intent must never take the fast path")
	}
}

func TestNewRouter_NormalizesContentDir(t *testing.T) {
	r := NewRouter(Config{ContentDir: "site", Confidences: DefaultConfidences()})
	p := r.Classify("open index.html", Context{})
	if p.TargetPath != "site/index.html" {
		t.Fatalf("target = %q", p.TargetPath)
	}
}

func TestStandardRules_Order(t *testing.T) {
	want := []string{
		"structural_transform", "explicit_edit", "pronoun_edit", "create",
		"commit", "model_switch", "browse", "time_sensitive",
	}
	rules := StandardRules()
	got := make([]string, len(rules))
	for i, r := range rules {
		got[i] = r.Name
	}
	if !slices.Equal(got, want) {
		t.Fatalf("rule order = %v", got)
	}
}

func TestExtractPaths_Precedence(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want []string
	}{
		{"prefixed", "look at src/app.js please", []string{"src/app.js"}},
		{"dot slash", "open ./lib/util.ts", []string{"lib/util.ts"}},
		{"url", "see https://example.com/site/src/page.html", []string{"src/page.html"}},
		{"url without content dir", "see https://example.com/a/b/page.html", []string{"src/page.html"}},
		{"bare", "update style.css", []string{"src/style.css"}},
		{"order", "copy style.css into https://x.io/src/b.html from assets/a.css", []string{"assets/a.css", "src/b.html", "src/style.css"}},
		{"trailing punctuation", "is src/a.html, src/b.html fine?", []string{"src/a.html", "src/b.html"}},
		{"unknown extension", "read notes.docx", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractPaths(tt.msg, "src/")
			if !slices.Equal(got, tt.want) {
				t.Fatalf("extractPaths(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestPlan_Mutates(t *testing.T) {
	if (Plan{ActionSequence: []string{action.ReadFile, action.ListFiles}}).Mutates() {
		t.Fatal("read-only plan reported as mutating")
	}
	if !(Plan{ActionSequence: []string{action.ReadFile, action.EditFile}}).Mutates() {
		t.Fatal("edit plan reported as read-only")
	}
}
