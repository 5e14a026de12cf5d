// Package safety classifies commands and evaluates per-platform policies.
// Unknown commands classify as write and unknown platforms evaluate
// read-only: the layer fails secure in both directions.
package safety

import (
	"regexp"
	"strings"
)

// Class is the risk classification of a command.
type Class string

const (
	ClassRead      Class = "read"
	ClassWrite     Class = "write"
	ClassDelete    Class = "delete"
	ClassDangerous Class = "dangerous"
)

// Source records which rule produced a classification.
type Source string

const (
	SourceToolSpecific   Source = "tool-specific"
	SourceGenericPattern Source = "generic-pattern"
	SourceDefault        Source = "default"
)

// Classification is the classifier's verdict for one command.
type Classification struct {
	Class      Class   `json:"class"`
	Tool       string  `json:"tool"`
	Verb       string  `json:"verb"`
	Confidence float64 `json:"confidence"`
	Source     Source  `json:"source"`
}

// dangerousPatterns match anywhere in the command and short-circuit
// everything else.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*\s+)*-?[rR][fF]?\s+/(\s|$)`),
	regexp.MustCompile(`rm\s+-rf\s+`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd[a-z]`),
	regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
	regexp.MustCompile(`(?i)\bdrop\s+(database|table)\b`),
	regexp.MustCompile(`(?i)\btruncate\s+table\b`),
	regexp.MustCompile(`--all\s+.*--force`),
	regexp.MustCompile(`\bchmod\s+(-R\s+)?777\s+/`),
	regexp.MustCompile(`curl[^|]*\|\s*(ba)?sh`),
	regexp.MustCompile(`wget[^|]*\|\s*(ba)?sh`),
}

// toolRule holds per-tool verb prefixes, checked against the verb portion in
// order dangerous, delete, write, read.
type toolRule struct {
	dangerous []string
	delete    []string
	write     []string
	read      []string
}

var toolRules = map[string]toolRule{
	"kubectl": {
		dangerous: []string{"delete namespace", "delete node", "drain"},
		delete:    []string{"delete"},
		write:     []string{"apply", "create", "patch", "edit", "scale", "rollout", "label", "annotate", "cordon", "uncordon", "taint", "set", "expose", "run", "exec"},
		read:      []string{"get", "describe", "logs", "top", "explain", "api-resources", "api-versions", "version", "cluster-info", "config view", "diff", "wait", "auth can-i"},
	},
	"docker": {
		dangerous: []string{"system prune", "volume prune"},
		delete:    []string{"rm", "rmi", "image rm", "container rm", "volume rm", "network rm"},
		write:     []string{"run", "start", "stop", "restart", "build", "push", "pull", "tag", "exec", "create", "update", "kill", "pause", "unpause"},
		read:      []string{"ps", "images", "logs", "inspect", "stats", "top", "version", "info", "port", "diff", "history"},
	},
	"helm": {
		delete: []string{"uninstall", "delete"},
		write:  []string{"install", "upgrade", "rollback", "repo add", "repo update", "push"},
		read:   []string{"list", "status", "get", "history", "show", "search", "repo list", "template", "lint", "version"},
	},
	"terraform": {
		dangerous: []string{"destroy"},
		write:     []string{"apply", "import", "taint", "untaint", "state mv", "state rm"},
		read:      []string{"plan", "show", "output", "state list", "state show", "validate", "fmt", "version", "graph"},
	},
	"git": {
		dangerous: []string{"push --force", "push -f", "reset --hard"},
		delete:    []string{"branch -d", "branch -D", "tag -d", "remote remove"},
		write:     []string{"commit", "push", "merge", "rebase", "checkout", "switch", "add", "stash", "cherry-pick", "revert", "fetch", "pull", "clone", "tag"},
		read:      []string{"status", "log", "diff", "show", "branch", "remote", "blame", "describe", "ls-files", "rev-parse"},
	},
	"aws": {
		delete: []string{"delete", "terminate", "remove"},
		write:  []string{"create", "update", "put", "run", "start", "stop", "modify", "attach", "detach"},
		read:   []string{"describe", "get", "list", "ls"},
	},
}

// genericPatterns apply when no tool-specific rule exists, checked in order
// delete, write, read.
var genericPatterns = []struct {
	class   Class
	pattern *regexp.Regexp
}{
	{ClassDelete, regexp.MustCompile(`(?i)\b(delete|remove|destroy|purge|erase|unlink|rm|rmdir|del)\b`)},
	{ClassWrite, regexp.MustCompile(`(?i)\b(create|update|apply|set|put|post|patch|write|modify|insert|add|install|deploy|restart|start|stop|scale|exec|chmod|chown|mv|move|copy|cp|mkdir|touch|push)\b`)},
	{ClassRead, regexp.MustCompile(`(?i)\b(get|list|show|describe|read|view|cat|ls|status|log|logs|head|tail|fetch|query|select|search|find|watch|top|inspect|diff|check)\b`)},
}

// Classify assigns a risk class to a "tool verb args..." command string.
// Classification is deterministic; unknown commands classify as write.
func Classify(command string) Classification {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Classification{Class: ClassRead, Confidence: 1.0, Source: SourceDefault}
	}

	fields := strings.Fields(trimmed)
	tool := fields[0]
	verb := strings.Join(fields[1:], " ")

	for _, p := range dangerousPatterns {
		if p.MatchString(trimmed) {
			return Classification{
				Class:      ClassDangerous,
				Tool:       tool,
				Verb:       verb,
				Confidence: 0.95,
				Source:     SourceGenericPattern,
			}
		}
	}

	if rule, ok := toolRules[tool]; ok {
		if class, matched := rule.match(verb); matched {
			return Classification{
				Class:      class,
				Tool:       tool,
				Verb:       verb,
				Confidence: 0.9,
				Source:     SourceToolSpecific,
			}
		}
	}

	for _, gp := range genericPatterns {
		if gp.pattern.MatchString(trimmed) {
			return Classification{
				Class:      gp.class,
				Tool:       tool,
				Verb:       verb,
				Confidence: 0.7,
				Source:     SourceGenericPattern,
			}
		}
	}

	// Fail secure: treat unknowns as mutating.
	return Classification{
		Class:      ClassWrite,
		Tool:       tool,
		Verb:       verb,
		Confidence: 0.3,
		Source:     SourceDefault,
	}
}

func (r toolRule) match(verb string) (Class, bool) {
	for _, prefix := range r.dangerous {
		if hasVerbPrefix(verb, prefix) {
			return ClassDangerous, true
		}
	}
	for _, prefix := range r.delete {
		if hasVerbPrefix(verb, prefix) {
			return ClassDelete, true
		}
	}
	for _, prefix := range r.write {
		if hasVerbPrefix(verb, prefix) {
			return ClassWrite, true
		}
	}
	for _, prefix := range r.read {
		if hasVerbPrefix(verb, prefix) {
			return ClassRead, true
		}
	}
	return "", false
}

// hasVerbPrefix matches whole words: "delete" matches "delete pod" but not
// "deletecollection".
func hasVerbPrefix(verb, prefix string) bool {
	if !strings.HasPrefix(verb, prefix) {
		return false
	}
	rest := verb[len(prefix):]
	return rest == "" || rest[0] == ' '
}
